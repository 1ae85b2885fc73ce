package cmd

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"gendb/pkg/db"
	"gendb/pkg/dberrors"
	"gendb/pkg/record"
)

var getCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print the value stored under key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, _, err := openStore(cmd, false)
		if err != nil {
			return err
		}
		defer st.Close()

		value, found, err := st.GetString(args[0])
		if err != nil {
			return err
		}
		if !found {
			return errors.Wrapf(dberrors.ErrNotFound, "key %q", args[0])
		}
		fmt.Fprintln(cmd.OutOrStdout(), value)
		return nil
	},
}

var putCmd = &cobra.Command{
	Use:   "put <key> <value>",
	Short: "Store value under key",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, _, err := openStore(cmd, false)
		if err != nil {
			return err
		}
		defer st.Close()
		return st.PutString(args[0], args[1])
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <key>",
	Short: "Delete key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, _, err := openStore(cmd, false)
		if err != nil {
			return err
		}
		defer st.Close()
		return st.DeleteString(args[0])
	},
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Print live records in key order",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, _, err := openStore(cmd, false)
		if err != nil {
			return err
		}
		defer st.Close()

		flags := cmd.Flags()
		var opts db.SearchOptions
		opts.Reverse, _ = flags.GetBool("reverse")
		opts.Limit, _ = flags.GetInt("limit")
		if p, _ := flags.GetString("prefix"); p != "" {
			k := record.StringPrefix(p)
			opts.Prefix = &k
		}

		var from, to *record.Key
		if v, _ := flags.GetString("from"); v != "" {
			k := record.StringKey(v)
			from = &k
		}
		if v, _ := flags.GetString("to"); v != "" {
			k := record.StringKey(v)
			to = &k
		}

		out := cmd.OutOrStdout()
		return db.SearchRange(context.Background(), st, from, to, opts, func(r db.SearchResult) error {
			_, err := fmt.Fprintf(out, "%s\t%s\n", r.Key, r.Value)
			return err
		})
	},
}

func init() {
	RootCmd.AddCommand(getCmd, putCmd, deleteCmd, scanCmd)

	scanCmd.Flags().String("from", "", "First key, inclusive")
	scanCmd.Flags().String("to", "", "Last key, exclusive")
	scanCmd.Flags().String("prefix", "", "Only keys starting with prefix")
	scanCmd.Flags().BoolP("reverse", "r", false, "Scan in descending order")
	scanCmd.Flags().IntP("limit", "n", 0, "Stop after n records, 0 for no limit")
}
