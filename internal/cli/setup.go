package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vadiminshakov/stocker/internal/setup"
)

func newSetupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Generate a config file with an interactive wizard",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := setup.RunTUI()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "run: stocker serve --config %s\n", file)
			return nil
		},
	}
}
