package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var flagUsageJSON bool

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show token usage and estimated cost for this process",
	RunE:  runUsage,
}

func init() {
	usageCmd.Flags().BoolVar(&flagUsageJSON, "json", false, "Print as JSON")
	rootCmd.AddCommand(usageCmd)
}

func runUsage(cmd *cobra.Command, _ []string) error {
	gw, cleanup, err := newGateway(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()

	summary := gw.Usage()

	if flagUsageJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	}

	fmt.Printf("requests: %d\n", summary.Requests)
	fmt.Printf("tokens:   %d in / %d out / %d total\n", summary.InputTokens, summary.OutputTokens, summary.TotalTokens)
	fmt.Printf("cost:     $%.4f estimated\n", summary.EstimatedCostUSD)

	if len(summary.ByModel) > 0 {
		fmt.Println()
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "MODEL\tREQUESTS\tINPUT\tOUTPUT\tCOST")
		for _, m := range summary.ByModel {
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\t$%.4f\n",
				m.ModelID, m.Requests, m.InputTokens, m.OutputTokens, m.EstimatedCostUSD)
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	if len(summary.PriceUnknownModels) > 0 {
		fmt.Printf("\nno price configured for: %s (cost excludes these models)\n",
			strings.Join(summary.PriceUnknownModels, ", "))
	}
	return nil
}
