package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/harun/olmchat/pkg/client"
	"github.com/spf13/cobra"
)

var (
	exportFormat string
	exportOut    string
)

var exportCmd = &cobra.Command{
	Use:   "export <file>",
	Short: "Export a session as text, JSON or YAML",
	Long: `Export a stored session. Without --out the result is written to
chat_history_<timestamp> in the current directory; use --out - for stdout.`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVar(&exportFormat, "format", client.FormatText, "export format (txt, json, yaml)")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "output file, - for stdout")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
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

	if exportOut == "-" {
		return client.ExportSession(cmd.OutOrStdout(), sess, exportFormat)
	}

	path := exportOut
	if path == "" {
		path = exportPath(time.Now(), exportFormat)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create export file: %w", err)
	}
	if err := client.ExportSession(f, sess, exportFormat); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write export file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Exported %s to %s\n", sess.SessionName, path)
	return nil
}

// exportPath swaps the default .txt extension for the chosen format.
func exportPath(now time.Time, format string) string {
	name := client.ExportFileName(now)
	if format == "" || format == client.FormatText {
		return name
	}
	return strings.TrimSuffix(name, filepath.Ext(name)) + "." + format
}
