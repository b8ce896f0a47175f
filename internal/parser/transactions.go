package parser

import (
	"github.com/PuerkitoBio/goquery"

	"github.com/sells-group/insider-cli/internal/model"
)

const (
	colAD          = "acquired_disposed"
	colDate        = "date"
	colReporting   = "reporting_owner"
	colIssuer      = "issuer"
	colForm        = "form"
	colType        = "type"
	colNature      = "nature"
	colTransacted  = "transacted"
	colOwned       = "owned"
	colLine        = "line"
	colOwnerCIK    = "owner_cik"
	colIssuerCIK   = "issuer_cik"
	colSecurity    = "security"
	transactionTbl = "table#transaction-report"
)

var transactionAliases = map[string]string{
	"acquistion or disposition":       colAD,
	"acquisition or disposition":      colAD,
	"transaction date":                colDate,
	"reporting owner":                 colReporting,
	"issuer":                          colIssuer,
	"form":                            colForm,
	"transaction type":                colType,
	"direct or indirect ownership":    colNature,
	"number of securities transacted": colTransacted,
	"number of securities owned":      colOwned,
	"line number":                     colLine,
	"owner cik":                       colOwnerCIK,
	"issuer cik":                      colIssuerCIK,
	"security name":                   colSecurity,
}

// ParseTransactions reads the transaction report table. Issuer pages
// populate OwnerName and OwnerID from the row; owner pages populate IssuerID
// and leave the owner fields for the caller, who knows whose page it is.
// EntityID and Position are never set here.
//
// A page without the table, or with a header but no data rows, yields nil.
func ParseTransactions(doc *goquery.Document, kind model.ReportKind) []model.TransactionRecord {
	t := findTransactionTable(doc)
	if t == nil {
		return nil
	}

	out := make([]model.TransactionRecord, 0, len(t.rows))
	for _, row := range t.rows {
		rec := model.TransactionRecord{
			TransactionDate:  model.ParseDate(t.cell(row, colDate)),
			TransactionType:  t.cell(row, colType),
			SharesTransacted: parseNumber(t.cell(row, colTransacted)),
			SharesOwnedAfter: parseNumber(t.cell(row, colOwned)),
			LineNumber:       parseInt(t.cell(row, colLine)),
			AcquiredDisposed: t.cell(row, colAD),
			Form:             t.cell(row, colForm),
			OwnershipNature:  t.cell(row, colNature),
			SecurityName:     t.cell(row, colSecurity),
		}
		switch kind {
		case model.ReportIssuer:
			rec.OwnerName = t.cell(row, colReporting)
			rec.OwnerID = t.cell(row, colOwnerCIK)
		case model.ReportOwner:
			rec.IssuerID = t.cell(row, colIssuerCIK)
		}
		out = append(out, rec)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func findTransactionTable(doc *goquery.Document) *table {
	if sel := doc.Find(transactionTbl); sel.Length() > 0 {
		t := readTable(sel.First(), transactionAliases)
		if t.has(colDate) {
			return t
		}
	}

	// Older page revisions have no id on the table.
	var found *table
	doc.Find("table").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if sel.Find("table").Length() > 0 {
			return true
		}
		t := readTable(sel, transactionAliases)
		if t.has(colDate, colType, colTransacted) {
			found = t
			return false
		}
		return true
	})
	return found
}
