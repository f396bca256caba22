// Package cli holds the stocker command tree.
package cli

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// NewRootCmd builds the stocker command with all subcommands attached.
func NewRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "stocker",
		Short: "Paper trading dashboard with live prices and price history",
		Long: `Stocker keeps a paper trading account per user, streams live prices of one
symbol, caches its price history at five intervals and reconstructs the
balance history of automated trading script results.

Exchange keys are read from the config file or from <EXCHANGE>_API_KEY and
<EXCHANGE>_API_SECRET. A .env file in the working directory is loaded first.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// .env is optional, real environment variables still apply
			_ = godotenv.Load()
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config (defaults are used when empty)")

	root.AddCommand(
		newServeCmd(&configPath),
		newSetupCmd(),
		newReconstructCmd(),
		newLoadTestCmd(),
	)
	return root
}

// Execute runs the command tree.
func Execute() error {
	return NewRootCmd().Execute()
}
