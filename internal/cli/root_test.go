package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testEnv is an isolated HOME with a config file pointing into it.
type testEnv struct {
	home        string
	configPath  string
	dataDir     string
	sessionsDir string
}

func setupTestEnv(t *testing.T, overrides map[string]any) *testEnv {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)

	env := &testEnv{
		home:        home,
		configPath:  filepath.Join(home, "olmchat.json"),
		dataDir:     filepath.Join(home, "data"),
		sessionsDir: filepath.Join(home, "data", "sessions"),
	}

	cfg := map[string]any{
		"data_dir": env.dataDir,
		"logging":  map[string]any{"level": "debug", "console": false},
		"server":   map[string]any{"port": 1},
		"provider": map[string]any{"kind": "ollama", "base_url": "http://127.0.0.1:1"},
		"autosave": map[string]any{"delay_ms": 50},
	}
	for k, v := range overrides {
		cfg[k] = v
	}

	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(env.configPath, data, 0o600))
	return env
}

// resetFlags restores every flag to its default so state from an earlier
// Execute does not leak into the next one.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}

func executeCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)

	out := &bytes.Buffer{}
	rootCmd.SetOut(out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)

	err := rootCmd.Execute()
	return out.String(), err
}

func TestRootCommand(t *testing.T) {
	t.Run("version flag", func(t *testing.T) {
		output, err := executeCLI(t, "", "--version")
		require.NoError(t, err)

		assert.Contains(t, output, "olmchat version")
		assert.Contains(t, output, GetVersion())
	})

	t.Run("help flag", func(t *testing.T) {
		output, err := executeCLI(t, "", "--help")
		require.NoError(t, err)

		assert.Contains(t, output, "olmchat")
		assert.Contains(t, output, ".olm files")
	})

	t.Run("global flags", func(t *testing.T) {
		cmd := GetRootCmd()

		configFlag := cmd.PersistentFlags().Lookup("config")
		require.NotNil(t, configFlag)
		assert.Equal(t, "", configFlag.DefValue)

		logLevelFlag := cmd.PersistentFlags().Lookup("log-level")
		require.NotNil(t, logLevelFlag)
		assert.Equal(t, "info", logLevelFlag.DefValue)
	})

	t.Run("subcommands registered", func(t *testing.T) {
		names := map[string]bool{}
		for _, c := range GetRootCmd().Commands() {
			names[c.Name()] = true
		}
		for _, want := range []string{"serve", "stop", "status", "sessions", "chat", "export", "models", "configure"} {
			assert.True(t, names[want], "%s command should exist", want)
		}
	})
}

func TestGetVersion(t *testing.T) {
	version := GetVersion()
	assert.NotEmpty(t, version)
	assert.True(t, strings.HasPrefix(version, "0."))
}

func TestLoadRuntime_InvalidConfig(t *testing.T) {
	env := setupTestEnv(t, map[string]any{
		"provider": map[string]any{"kind": "gemini"},
	})

	_, err := executeCLI(t, "", "sessions", "list", "--config", env.configPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid provider kind")
}

func TestLoadRuntime_LogLevelFlag(t *testing.T) {
	env := setupTestEnv(t, nil)

	_, err := executeCLI(t, "", "sessions", "list", "--config", env.configPath, "--log-level", "shout")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}
