package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/sells-group/insider-cli/internal/export"
	"github.com/sells-group/insider-cli/internal/pipeline"
)

// queryFlags are the filter and output flags shared by crawl and view.
type queryFlags struct {
	start    string
	end      string
	typeCode string
	position string
	refresh  bool
	format   string
	out      string
}

func (f *queryFlags) bind(fs *pflag.FlagSet, withRefresh bool) {
	fs.StringVar(&f.start, "start", "", "earliest transaction date (YYYY-MM-DD or YYYYMMDD)")
	fs.StringVar(&f.end, "end", "", "latest transaction date (YYYY-MM-DD or YYYYMMDD)")
	fs.StringVar(&f.typeCode, "type", "", "transaction type code or label, e.g. P or P-Purchase")
	fs.StringVar(&f.position, "position", "", "case-insensitive substring of the owner's position")
	fs.StringVar(&f.format, "format", "table", "output format: table, csv, json or xlsx")
	fs.StringVar(&f.out, "out", "", "write output to this file instead of stdout")
	if withRefresh {
		fs.BoolVar(&f.refresh, "refresh", false, "crawl even when the cache covers the query")
	}
}

// query converts the flags into a pipeline query for symbol.
func (f *queryFlags) query(symbol string) (pipeline.Query, error) {
	start, err := parseDate(f.start)
	if err != nil {
		return pipeline.Query{}, eris.Wrap(err, "--start")
	}
	end, err := parseDate(f.end)
	if err != nil {
		return pipeline.Query{}, eris.Wrap(err, "--end")
	}
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		return pipeline.Query{}, eris.Errorf("--end %s is before --start %s", f.end, f.start)
	}
	return pipeline.Query{
		Symbol:   strings.TrimSpace(symbol),
		Start:    start,
		End:      end,
		Position: f.position,
		TypeCode: f.typeCode,
		Refresh:  f.refresh,
	}, nil
}

// writeResult renders res in the requested format to --out or stdout.
func (f *queryFlags) writeResult(stdout io.Writer, res *pipeline.Result) error {
	format, err := export.ParseFormat(f.format)
	if err != nil {
		return err
	}

	if f.out == "" {
		if format == export.FormatXLSX {
			return eris.New("xlsx output needs --out")
		}
		return export.Write(stdout, format, res.Records)
	}

	if format == export.FormatXLSX {
		return export.WriteXLSXFile(f.out, res.Records)
	}
	file, err := os.Create(f.out)
	if err != nil {
		return eris.Wrapf(err, "create %s", f.out)
	}
	if err := export.Write(file, format, res.Records); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}

// reportResult logs a one-line summary of res.
func reportResult(res *pipeline.Result) {
	fields := []zap.Field{
		zap.String("entity_id", res.EntityID),
		zap.Int("records", len(res.Records)),
		zap.Bool("from_cache", res.FromCache),
	}
	if res.Merge != nil {
		fields = append(fields,
			zap.Int("inserted", res.Merge.Inserted),
			zap.Int("duplicates", res.Merge.Duplicates()),
		)
	}
	if res.Incomplete {
		zap.L().Warn("results are incomplete: some pages could not be fetched", fields...)
		return
	}
	zap.L().Info("query complete", fields...)
}

var crawlFlags queryFlags

var crawlCmd = &cobra.Command{
	Use:   "crawl <ticker|cik>",
	Short: "Crawl, cache and list an issuer's insider transactions",
	Long:  "Resolves the symbol, crawls the issuer and each reporting owner back to --start unless the cache already covers the query, merges the result into the cache and prints the filtered view.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		q, err := crawlFlags.query(args[0])
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, "crawl")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Pipeline.Run(ctx, q)
		if err != nil {
			return eris.Wrapf(err, "crawl %s", q.Symbol)
		}
		reportResult(res)
		if err := crawlFlags.writeResult(cmd.OutOrStdout(), res); err != nil {
			return err
		}
		if res.Incomplete {
			fmt.Fprintln(cmd.ErrOrStderr(), "warning: crawl was incomplete; rerun with --refresh to retry")
		}
		return nil
	},
}

func init() {
	crawlFlags.bind(crawlCmd.Flags(), true)
	rootCmd.AddCommand(crawlCmd)
}
