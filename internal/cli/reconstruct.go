package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/vadiminshakov/stocker/internal/domain"
	"github.com/vadiminshakov/stocker/internal/services/balance"
	"github.com/vadiminshakov/stocker/internal/terminal"
)

func newReconstructCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "reconstruct <result.json>",
		Short: "Print the balance history of a trading script result",
		Long: `Read a script result (account, transactions most recent first, logs, errors)
and print its summary with the reconstructed balance series.

Example:
  stocker reconstruct run-42.json --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := readTradeResult(args[0])
			if err != nil {
				return err
			}
			summary := balance.Summarize(result)

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(summary)
			}
			fmt.Fprint(out, terminal.RenderSummary(summary))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the summary as JSON")
	return cmd
}

func readTradeResult(path string) (domain.TradeResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.TradeResult{}, err
	}
	var result domain.TradeResult
	if err := json.Unmarshal(data, &result); err != nil {
		return domain.TradeResult{}, errors.Wrapf(err, "decode script result %s", path)
	}
	return result, nil
}
