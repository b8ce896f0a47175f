package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sells-group/insider-cli/internal/lookup"
)

var lookupCmd = &cobra.Command{
	Use:   "lookup <ticker|cik>",
	Short: "Resolve a ticker to its padded CIK",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		table, err := lookup.Load(cmd.Context(), cfg.Lookup, newFetcher())
		if err != nil {
			return err
		}
		cik, err := table.Lookup(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), cik)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(lookupCmd)
}
