package cmd

import (
	"github.com/spf13/cobra"

	"gendb/internal/bench"
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Drive a running node's HTTP API with a standard workload",
	RunE: func(cmd *cobra.Command, args []string) error {
		url, _ := cmd.Flags().GetString("url")
		ops, _ := cmd.Flags().GetInt("ops")
		concurrency, _ := cmd.Flags().GetInt("concurrency")
		return bench.Suite(cmd.OutOrStdout(), bench.NewClient(url), ops, concurrency)
	},
}

func init() {
	RootCmd.AddCommand(benchCmd)
	benchCmd.Flags().String("url", "http://localhost:8080", "Base URL of the node")
	benchCmd.Flags().Int("ops", 100, "Operations per workload")
	benchCmd.Flags().Int("concurrency", 10, "Goroutines for the concurrent workloads")
}
