package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"gendb/internal/export"
)

var exportCmd = &cobra.Command{
	Use:   "export <leveldb-dir>",
	Short: "Copy a snapshot of the store into a LevelDB database",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, _, err := openStore(cmd, false)
		if err != nil {
			return err
		}
		defer st.Close()

		snap, err := st.GetSnapshot()
		if err != nil {
			return err
		}
		defer snap.Close()

		batch, _ := cmd.Flags().GetInt("batch")
		n, err := export.ToLevelDB(context.Background(), snap, args[0], batch)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "exported %d records at seq %d to %s\n", n, snap.Sequence(), args[0])
		return nil
	},
}

func init() {
	RootCmd.AddCommand(exportCmd)
	exportCmd.Flags().Int("batch", 1000, "Records per LevelDB write batch")
}
