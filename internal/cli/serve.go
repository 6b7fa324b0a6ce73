package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/harun/olmchat/internal/server"
	"github.com/harun/olmchat/internal/tracing"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

var (
	serveHost  string
	servePort  int
	serveDebug bool
	serveWatch bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the olmchat session server",
	Long: `Start the session server in the foreground.
It serves /newsessions, /getsessions, /catsessions and /savesessions over the
sessions directory and pushes change events on /events.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "listen host (overrides server.host)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (overrides server.port)")
	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "include error details in 500 responses")
	serveCmd.Flags().BoolVar(&serveWatch, "watch", false, "broadcast sessions.changed on external file edits")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	rt, err := loadRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.close()

	opts := server.Options{
		Host:          rt.cfg.Server.Host,
		Port:          rt.cfg.Server.Port,
		Debug:         rt.cfg.Server.Debug,
		AuditSchedule: rt.cfg.Server.AuditSchedule,
		Watch:         rt.cfg.Server.Watch,
	}
	if cmd.Flags().Changed("host") {
		opts.Host = serveHost
	}
	if cmd.Flags().Changed("port") {
		opts.Port = servePort
	}
	if cmd.Flags().Changed("debug") {
		opts.Debug = serveDebug
	}
	if cmd.Flags().Changed("watch") {
		opts.Watch = serveWatch
	}

	pidFile := getPIDFilePath(rt.cfg.DataDir)
	if isRunning(pidFile) {
		return fmt.Errorf("server is already running (PID file: %s)", pidFile)
	}

	if err := tracing.InitOpenTelemetry("olmchat"); err != nil {
		rt.log.Warn().Err(err).Msg("Failed to initialize tracing")
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = tracing.ShutdownOpenTelemetry(ctx)
	}()

	store, err := rt.store()
	if err != nil {
		return err
	}

	srv, err := server.New(store, opts, rt.log.Logger)
	if err != nil {
		return err
	}

	if err := writePIDFile(pidFile); err != nil {
		return err
	}
	defer os.Remove(pidFile)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	fmt.Fprintf(cmd.OutOrStdout(), "olmchat server listening on http://%s (sessions: %s)\n", srv.Addr(), store.Dir())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

func getPIDFilePath(dataDir string) string {
	if dataDir == "" {
		return filepath.Join(os.TempDir(), "olmchat.pid")
	}
	return filepath.Join(dataDir, "olmchat.pid")
}

func writePIDFile(pidFile string) error {
	if err := os.MkdirAll(filepath.Dir(pidFile), 0o700); err != nil {
		return fmt.Errorf("failed to create PID directory: %w", err)
	}
	if err := os.WriteFile(pidFile, []byte(strconv.Itoa(os.Getpid())), 0o600); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	return nil
}

func readPID(pidFile string) (int, error) {
	data, err := os.ReadFile(pidFile)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID file: %w", err)
	}
	if pid <= 0 {
		return 0, errors.New("invalid PID file: non-positive pid")
	}
	return pid, nil
}

func isRunning(pidFile string) bool {
	pid, err := readPID(pidFile)
	if err != nil {
		return false
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// On Unix, FindProcess always succeeds, so probe with signal 0
	return process.Signal(syscall.Signal(0)) == nil
}
