package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List models offered by the configured provider",
	Args:  cobra.NoArgs,
	RunE:  runModels,
}

func init() {
	rootCmd.AddCommand(modelsCmd)
}

func runModels(cmd *cobra.Command, args []string) error {
	rt, err := loadRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.close()

	p, err := rt.provider()
	if err != nil {
		return err
	}

	models, err := p.Models(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list %s models: %w", p.Name(), err)
	}

	out := cmd.OutOrStdout()
	if len(models) == 0 {
		fmt.Fprintf(out, "No models available from %s\n", p.Name())
		return nil
	}
	for _, m := range models {
		marker := " "
		if m == rt.cfg.Provider.Model {
			marker = "*"
		}
		fmt.Fprintf(out, "%s %s\n", marker, m)
	}
	return nil
}
