package cli

import (
	"fmt"

	"github.com/harun/olmchat/internal/config"
	"github.com/harun/olmchat/internal/logger"
	"github.com/harun/olmchat/pkg/client"
	"github.com/harun/olmchat/pkg/provider"
	"github.com/harun/olmchat/pkg/session"
	"github.com/spf13/cobra"
)

const version = "0.1.0"

var (
	cfgFile  string
	logLevel string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "olmchat",
	Short: "olmchat - local AI chat with persistent sessions",
	Long: `olmchat keeps chat sessions as .olm files on disk, serves them over a
small REST API and streams replies from Ollama, OpenAI or Anthropic into them.`,
	Version:      version,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.olmchat/olmchat.json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)
}

// GetRootCmd returns the root command for testing
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// GetVersion returns the current version
func GetVersion() string {
	return version
}

// runtime bundles the loaded config and logger for one command invocation.
type runtime struct {
	cfg *config.Config
	log *logger.Logger
}

func loadRuntime(cmd *cobra.Command) (*runtime, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if f := cmd.Flags().Lookup("log-level"); f != nil && f.Changed {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	l, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   cfg.Logging.Console,
		Pretty:    cfg.Logging.Pretty,
		Redaction: cfg.Logging.Redaction,
		Output:    cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return &runtime{cfg: cfg, log: l}, nil
}

func (r *runtime) close() {
	_ = r.log.Close()
}

// store opens the local sessions directory.
func (r *runtime) store() (*session.Store, error) {
	return session.NewStore(r.cfg.SessionsDir, session.WithLogger(r.log.Logger))
}

// backend talks to the configured server, or to the sessions directory
// directly when no server URL is set.
func (r *runtime) backend() (client.Backend, error) {
	if r.cfg.Client.ServerURL != "" {
		return client.NewHTTPBackend(r.cfg.Client.ServerURL, r.cfg.Provider.Timeout()), nil
	}
	return r.store()
}

func (r *runtime) provider() (provider.ChatProvider, error) {
	factory := &provider.Factory{Logger: r.log.Logger}
	return factory.NewProvider(provider.Config{
		Kind:    r.cfg.Provider.Kind,
		BaseURL: r.cfg.Provider.BaseURL,
		Model:   r.cfg.Provider.Model,
		APIKey:  r.cfg.Provider.APIKey,
		Timeout: r.cfg.Provider.Timeout(),
	})
}
