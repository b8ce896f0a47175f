package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var viewFlags queryFlags

var viewCmd = &cobra.Command{
	Use:   "view <ticker|cik>",
	Short: "List cached insider transactions without crawling",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		q, err := viewFlags.query(args[0])
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, "view")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Pipeline.View(ctx, q)
		if err != nil {
			return eris.Wrapf(err, "view %s", q.Symbol)
		}
		reportResult(res)
		return viewFlags.writeResult(cmd.OutOrStdout(), res)
	},
}

func init() {
	viewFlags.bind(viewCmd.Flags(), false)
	rootCmd.AddCommand(viewCmd)
}
