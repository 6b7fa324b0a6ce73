package cli

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/harun/olmchat/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigureCommand(t *testing.T) {
	t.Run("help text", func(t *testing.T) {
		output, err := executeCLI(t, "", "configure", "--help")
		require.NoError(t, err)
		assert.Contains(t, output, "interactive configuration wizard")
	})

	t.Run("saves answers", func(t *testing.T) {
		home := t.TempDir()
		t.Setenv("HOME", home)
		configPath := filepath.Join(home, "cfg", "olmchat.json")

		answers := strings.Join([]string{"anthropic", "sk-ant-test-key", "claude-3-5-haiku-latest", "4300", "warn"}, "\n") + "\n"
		output, err := executeCLI(t, answers, "configure", "--config", configPath)
		require.NoError(t, err)
		assert.Contains(t, output, "Configuration saved to: "+configPath)

		cfg, err := config.Load(configPath)
		require.NoError(t, err)
		assert.Equal(t, "anthropic", cfg.Provider.Kind)
		assert.Equal(t, "sk-ant-test-key", cfg.Provider.APIKey)
		assert.Equal(t, 4300, cfg.Server.Port)
		assert.Equal(t, "warn", cfg.Logging.Level)
	})

	t.Run("input ends early", func(t *testing.T) {
		home := t.TempDir()
		t.Setenv("HOME", home)

		_, err := executeCLI(t, "openai\n", "configure", "--config", filepath.Join(home, "olmchat.json"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "configuration failed")
	})
}
