package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var (
	flagNoCache    bool
	flagModelsJSON bool
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List available models",
	RunE:  runModels,
}

func init() {
	modelsCmd.Flags().BoolVar(&flagNoCache, "no-cache", false, "Bypass the catalog cache")
	modelsCmd.Flags().BoolVar(&flagModelsJSON, "json", false, "Print as JSON")
	rootCmd.AddCommand(modelsCmd)
}

func runModels(cmd *cobra.Command, _ []string) error {
	gw, cleanup, err := newGateway(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()

	models, err := gw.ListModels(cmd.Context(), !flagNoCache)
	if err != nil {
		return err
	}

	if flagModelsJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(models)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "MODEL\tPUBLISHER\tTRANSPORT\tREGIONS\tVERSION\tPRICE IN/OUT ($/1M)")
	for _, m := range models {
		version := m.LatestVersion
		if version == "" {
			version = "latest"
		}
		price := "unknown"
		if m.Pricing != nil {
			price = fmt.Sprintf("%.2f/%.2f", m.Pricing.InputPer1M, m.Pricing.OutputPer1M)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			m.ModelID,
			m.Publisher,
			m.Transport,
			strings.Join(m.AvailableRegions, ","),
			version,
			price,
		)
	}
	return w.Flush()
}
