package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Println("vertexgw " + version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
