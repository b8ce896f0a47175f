package export

import (
	"io"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/insider-cli/internal/model"
)

// SheetName is the worksheet holding exported records.
const SheetName = "Transactions"

var xlsxHeader = []string{
	"Transaction Date", "Owner", "Position", "Transaction Type",
	"Shares Transacted", "Shares Owned After", "Line Number",
	"Owner CIK", "Issuer CIK", "A/D", "Form", "Ownership", "Security",
}

func buildWorkbook(recs []model.TransactionRecord) (*xlsx.File, error) {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(SheetName)
	if err != nil {
		return nil, eris.Wrap(err, "export: xlsx add sheet")
	}

	header := sheet.AddRow()
	for _, h := range xlsxHeader {
		header.AddCell().SetString(h)
	}
	for _, r := range Rows(recs) {
		row := sheet.AddRow()
		row.AddCell().SetString(r.TransactionDate)
		row.AddCell().SetString(r.OwnerName)
		row.AddCell().SetString(r.Position)
		row.AddCell().SetString(r.TransactionType)
		row.AddCell().SetFloat(r.SharesTransacted)
		row.AddCell().SetFloat(r.SharesOwnedAfter)
		row.AddCell().SetInt(r.LineNumber)
		row.AddCell().SetString(r.OwnerID)
		row.AddCell().SetString(r.IssuerID)
		row.AddCell().SetString(r.AcquiredDisposed)
		row.AddCell().SetString(r.Form)
		row.AddCell().SetString(r.OwnershipNature)
		row.AddCell().SetString(r.SecurityName)
	}
	return f, nil
}

func writeXLSX(w io.Writer, recs []model.TransactionRecord) error {
	f, err := buildWorkbook(recs)
	if err != nil {
		return err
	}
	return eris.Wrap(f.Write(w), "export: xlsx write")
}

// WriteXLSXFile saves recs as a workbook at path.
func WriteXLSXFile(path string, recs []model.TransactionRecord) error {
	f, err := buildWorkbook(recs)
	if err != nil {
		return err
	}
	return eris.Wrapf(f.Save(path), "export: xlsx save %s", path)
}
