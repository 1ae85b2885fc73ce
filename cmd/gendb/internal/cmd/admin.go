package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var flushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Persist the working segment into a new generation",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, _, err := openStore(cmd, false)
		if err != nil {
			return err
		}
		defer st.Close()

		flushed, err := st.FlushWorkingSegment(context.Background())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "flushed: %v\n", flushed)
		return nil
	},
}

var compactCmd = &cobra.Command{
	Use:   "compact",
	Short: "Run the best merge, or every merge with --all",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, _, err := openStore(cmd, false)
		if err != nil {
			return err
		}
		defer st.Close()

		all, _ := cmd.Flags().GetBool("all")
		merges := 0
		for {
			merged, err := st.Compact(context.Background())
			if err != nil {
				return err
			}
			if !merged {
				break
			}
			merges++
			if !all {
				break
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "merges: %d\n", merges)
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print store statistics as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, _, err := openStore(cmd, false)
		if err != nil {
			return err
		}
		defer st.Close()

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(st.Stats())
	},
}

func init() {
	RootCmd.AddCommand(flushCmd, compactCmd, statsCmd)
	compactCmd.Flags().Bool("all", false, "Merge until no candidate is left")
}
