package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server status",
	Long:  `Show whether the session server is running and how its store looks.`,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

type healthResponse struct {
	Status       string `json:"status"`
	Uptime       string `json:"uptime"`
	SessionsDir  string `json:"sessionsDir"`
	EventClients int    `json:"eventClients"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	rt, err := loadRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.close()

	out := cmd.OutOrStdout()
	pidFile := getPIDFilePath(rt.cfg.DataDir)

	if isRunning(pidFile) {
		pid, _ := readPID(pidFile)
		fmt.Fprintln(out, "Status: running")
		fmt.Fprintf(out, "PID: %d\n", pid)
		if info, err := os.Stat(pidFile); err == nil {
			fmt.Fprintf(out, "Uptime: %s\n", formatDuration(time.Since(info.ModTime())))
		}
	} else {
		fmt.Fprintln(out, "Status: stopped")
	}

	baseURL := rt.cfg.Client.ServerURL
	if baseURL == "" {
		baseURL = "http://" + net.JoinHostPort(rt.cfg.Server.Host, strconv.Itoa(rt.cfg.Server.Port))
	}

	health, err := fetchHealth(baseURL)
	if err != nil {
		fmt.Fprintf(out, "Server: unreachable at %s\n", baseURL)
	} else {
		fmt.Fprintf(out, "Server: %s at %s (up %s, %d event subscribers)\n", health.Status, baseURL, health.Uptime, health.EventClients)
	}

	if store, err := rt.store(); err == nil {
		report, err := store.Audit(cmd.Context())
		if err == nil {
			fmt.Fprintf(out, "Sessions: %d valid, %d corrupt in %s\n", report.Valid, report.Corrupt, store.Dir())
		}
	}

	return nil
}

func fetchHealth(baseURL string) (*healthResponse, error) {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(baseURL + "/health")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("health check returned %d", resp.StatusCode)
	}

	var health healthResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&health); err != nil {
		return nil, err
	}
	return &health, nil
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
