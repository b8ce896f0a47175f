// Package export renders transaction records as a terminal table, CSV, JSON
// or an Excel workbook.
package export

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"

	"github.com/sells-group/insider-cli/internal/model"
)

// Format names an output format.
type Format string

const (
	FormatTable Format = "table"
	FormatCSV   Format = "csv"
	FormatJSON  Format = "json"
	FormatXLSX  Format = "xlsx"
)

// ParseFormat validates a format name. The empty string selects a table.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatTable, nil
	case FormatTable, FormatCSV, FormatJSON, FormatXLSX:
		return f, nil
	default:
		return "", eris.Errorf("export: unknown format %q (want table, csv, json or xlsx)", s)
	}
}

// Row is the flat, display-ready form of a TransactionRecord.
type Row struct {
	TransactionDate  string  `csv:"transaction_date" json:"transaction_date"`
	OwnerName        string  `csv:"owner_name" json:"owner_name"`
	Position         string  `csv:"position" json:"position"`
	TransactionType  string  `csv:"transaction_type" json:"transaction_type"`
	SharesTransacted float64 `csv:"shares_transacted" json:"shares_transacted"`
	SharesOwnedAfter float64 `csv:"shares_owned_after" json:"shares_owned_after"`
	LineNumber       int     `csv:"line_number" json:"line_number"`
	OwnerID          string  `csv:"owner_id" json:"owner_id"`
	IssuerID         string  `csv:"issuer_id" json:"issuer_id"`
	EntityID         string  `csv:"entity_id" json:"entity_id"`
	AcquiredDisposed string  `csv:"acquired_disposed" json:"acquired_disposed,omitempty"`
	Form             string  `csv:"form" json:"form,omitempty"`
	OwnershipNature  string  `csv:"ownership_nature" json:"ownership_nature,omitempty"`
	SecurityName     string  `csv:"security_name" json:"security_name,omitempty"`
}

// Rows converts records in order.
func Rows(recs []model.TransactionRecord) []Row {
	out := make([]Row, len(recs))
	for i, r := range recs {
		out[i] = Row{
			TransactionDate:  r.DateString(),
			OwnerName:        r.OwnerName,
			Position:         r.Position,
			TransactionType:  r.TransactionType,
			SharesTransacted: r.SharesTransacted,
			SharesOwnedAfter: r.SharesOwnedAfter,
			LineNumber:       r.LineNumber,
			OwnerID:          r.OwnerID,
			IssuerID:         r.IssuerID,
			EntityID:         r.EntityID,
			AcquiredDisposed: r.AcquiredDisposed,
			Form:             r.Form,
			OwnershipNature:  r.OwnershipNature,
			SecurityName:     r.SecurityName,
		}
	}
	return out
}

// tableHeader is the column set of the terminal table.
var tableHeader = table.Row{"Date", "Owner", "Position", "Type", "Transacted", "Owned After", "Line", "Form", "Owner CIK"}

// Write renders recs to w in the given format.
func Write(w io.Writer, format Format, recs []model.TransactionRecord) error {
	switch format {
	case FormatTable, "":
		return writeTable(w, recs)
	case FormatCSV:
		return writeCSV(w, recs)
	case FormatJSON:
		return writeJSON(w, recs)
	case FormatXLSX:
		return writeXLSX(w, recs)
	default:
		return eris.Errorf("export: unknown format %q", format)
	}
}

func writeTable(w io.Writer, recs []model.TransactionRecord) error {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(tableHeader)
	for _, r := range Rows(recs) {
		date := r.TransactionDate
		if date == "" {
			date = "?"
		}
		t.AppendRow(table.Row{
			date,
			r.OwnerName,
			r.Position,
			r.TransactionType,
			model.FormatShares(r.SharesTransacted),
			model.FormatShares(r.SharesOwnedAfter),
			strconv.Itoa(r.LineNumber),
			r.Form,
			r.OwnerID,
		})
	}
	t.AppendFooter(table.Row{"", "", "", "", "", "", "", "Records", len(recs)})
	t.SetStyle(table.StyleRounded)
	t.Render()
	return nil
}

func writeCSV(w io.Writer, recs []model.TransactionRecord) error {
	cw := csv.NewWriter(w)
	enc := csvutil.NewEncoder(cw)
	if err := enc.EncodeHeader(Row{}); err != nil {
		return eris.Wrap(err, "export: csv header")
	}
	for _, r := range Rows(recs) {
		if err := enc.Encode(r); err != nil {
			return eris.Wrap(err, "export: csv row")
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "export: csv flush")
}

func writeJSON(w io.Writer, recs []model.TransactionRecord) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(Rows(recs)), "export: json")
}
