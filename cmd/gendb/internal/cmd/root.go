// Package cmd implements the gendb command line.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// RootCmd represents the base "gendb" command when called without any subcommands.
var RootCmd = &cobra.Command{
	Use:   "gendb",
	Short: "Generational LSM key-value store",
	Long: `gendb is an embedded ordered key-value store. Writes go to a write-ahead
log and an in-memory segment, are checkpointed into immutable on-disk
segments organised in generations, and generations are merged in the
background.`,
	SilenceUsage: true,
}

func init() {
	RootCmd.PersistentFlags().StringP("config", "c", "config.yaml", "Path to a YAML or TOML configuration file")
	RootCmd.PersistentFlags().StringP("data", "d", "", "Data directory, overrides db.path")
}

// Execute runs the root command.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
