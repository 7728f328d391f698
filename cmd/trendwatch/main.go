package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	var root = &cobra.Command{
		Use:          "trendwatch",
		Short:        "Trend ingestion, deduplication and subscriber notification",
		SilenceUsage: true,
	}

	root.AddCommand(serveCMD(), migrateCMD(), queryCMD(), fanoutCMD(), hashPasswordCMD())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
