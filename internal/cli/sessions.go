package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/harun/olmchat/pkg/client"
	"github.com/spf13/cobra"
)

var (
	sessionsJSON   bool
	sessionsFormat string
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect stored chat sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions, most recently updated first",
	Args:  cobra.NoArgs,
	RunE:  runSessionsList,
}

var sessionsCatCmd = &cobra.Command{
	Use:   "cat <file>",
	Short: "Print one session",
	Long: `Print one session. <file> is a path inside the sessions directory,
either absolute or relative to it (for example "Rust_ow.olm").`,
	Args: cobra.ExactArgs(1),
	RunE: runSessionsCat,
}

func init() {
	sessionsListCmd.Flags().BoolVar(&sessionsJSON, "json", false, "print the raw session list as JSON")
	sessionsCatCmd.Flags().StringVar(&sessionsFormat, "format", client.FormatJSON, "output format (txt, json, yaml)")

	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsCatCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	rt, err := loadRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.close()

	backend, err := rt.backend()
	if err != nil {
		return err
	}

	sessions, err := backend.List(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	out := cmd.OutOrStdout()
	if sessionsJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		return enc.Encode(sessions)
	}

	if len(sessions) == 0 {
		fmt.Fprintln(out, "No sessions found")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tMESSAGES\tUPDATED\tFILE")
	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\n",
			s.SessionName,
			len(s.Messages),
			time.UnixMilli(s.LastUpdated).Format("2006-01-02 15:04"),
			s.FilePath,
		)
	}
	return w.Flush()
}

func runSessionsCat(cmd *cobra.Command, args []string) error {
	rt, err := loadRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.close()

	backend, err := rt.backend()
	if err != nil {
		return err
	}

	sess, err := backend.Read(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("failed to read session: %w", err)
	}

	return client.ExportSession(cmd.OutOrStdout(), sess, sessionsFormat)
}
