package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/insider-cli/internal/model"
	"github.com/sells-group/insider-cli/internal/store"
)

var entitiesCmd = &cobra.Command{
	Use:   "entities",
	Short: "List issuers held in the cache",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("view"); err != nil {
			return err
		}
		st, err := store.Open(ctx, cfg.Store)
		if err != nil {
			return eris.Wrap(err, "open store")
		}
		defer st.Close() //nolint:errcheck

		entities, err := st.Entities(ctx)
		if err != nil {
			return eris.Wrap(err, "entities")
		}
		if len(entities) == 0 {
			fmt.Fprintln(cmd.ErrOrStderr(), "No cached entities.")
			return nil
		}
		formatEntities(cmd.OutOrStdout(), entities)
		return nil
	},
}

func formatEntities(w io.Writer, entities []store.EntitySummary) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ENTITY\tRECORDS\tEARLIEST\tLATEST")
	for _, e := range entities {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", e.EntityID, e.Records, formatDay(e.Earliest), formatDay(e.Latest))
	}
	_ = tw.Flush()
}

func formatDay(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(model.DateLayout)
}

func init() {
	rootCmd.AddCommand(entitiesCmd)
}
