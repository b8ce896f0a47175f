// Package lookup resolves ticker symbols to SEC CIKs.
package lookup

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/sells-group/insider-cli/internal/config"
	"github.com/sells-group/insider-cli/internal/fetcher"
	"github.com/sells-group/insider-cli/internal/model"
)

// ErrNotFound is returned when a symbol is neither a CIK nor a known ticker.
var ErrNotFound = errors.New("lookup: symbol not found")

// Table maps upper-case tickers to 10-digit CIKs.
type Table struct {
	byTicker map[string]string
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{byTicker: map[string]string{}}
}

// Add registers ticker. cik is normalized to 10 digits; invalid CIKs are
// ignored and reported as false.
func (t *Table) Add(ticker, cik string) bool {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	padded, ok := model.PadCIK(cik)
	if ticker == "" || !ok {
		return false
	}
	t.byTicker[ticker] = padded
	return true
}

// Len returns the number of known tickers.
func (t *Table) Len() int {
	return len(t.byTicker)
}

// Lookup returns the CIK for symbol. A numeric symbol of up to 10 digits is
// taken to be a CIK already and is only zero-padded.
func (t *Table) Lookup(symbol string) (string, error) {
	symbol = strings.TrimSpace(symbol)
	if cik, ok := model.PadCIK(symbol); ok {
		return cik, nil
	}
	if cik, ok := t.byTicker[strings.ToUpper(symbol)]; ok {
		return cik, nil
	}
	return "", eris.Wrapf(ErrNotFound, "lookup: %q", symbol)
}

// LoadCSV reads a ticker table with a header row naming a ticker and a cik
// column. Rows may be pipe- or comma-delimited.
func LoadCSV(r io.Reader) (*Table, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(4096)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return nil, eris.Wrap(err, "lookup: read csv")
	}

	cr := csv.NewReader(br)
	firstLine, _, _ := strings.Cut(string(head), "\n")
	if strings.Contains(firstLine, "|") {
		cr.Comma = '|'
	}
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, eris.Wrap(err, "lookup: read csv header")
	}
	tickerCol, cikCol := -1, -1
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(h))
		switch {
		case tickerCol < 0 && (h == "ticker" || h == "symbol"):
			tickerCol = i
		case cikCol < 0 && strings.HasPrefix(h, "cik"):
			cikCol = i
		}
	}
	if tickerCol < 0 || cikCol < 0 {
		return nil, eris.Errorf("lookup: csv header %v needs ticker and cik columns", header)
	}

	t := NewTable()
	var skipped int
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "lookup: read csv row")
		}
		if tickerCol >= len(rec) || cikCol >= len(rec) || !t.Add(rec[tickerCol], rec[cikCol]) {
			skipped++
		}
	}
	if skipped > 0 {
		zap.L().Debug("lookup: skipped invalid csv rows", zap.Int("skipped", skipped))
	}
	return t, nil
}

// LoadSECJSON reads the SEC company_tickers.json document, an object of
// {"cik_str": 320193, "ticker": "AAPL", "title": "..."} entries.
func LoadSECJSON(r io.Reader) (*Table, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, eris.Wrap(err, "lookup: read tickers json")
	}
	if !gjson.ValidBytes(data) {
		return nil, eris.New("lookup: invalid tickers json")
	}

	t := NewTable()
	gjson.ParseBytes(data).ForEach(func(_, v gjson.Result) bool {
		t.Add(v.Get("ticker").String(), strconv.FormatInt(v.Get("cik_str").Int(), 10))
		return true
	})
	return t, nil
}

// Load builds the ticker table from the configured CSV file when it exists,
// otherwise from the SEC tickers URL. With neither available the table is
// empty and only numeric CIKs resolve.
func Load(ctx context.Context, cfg config.LookupConfig, f fetcher.Fetcher) (*Table, error) {
	if cfg.TickersPath != "" {
		file, err := os.Open(cfg.TickersPath)
		switch {
		case err == nil:
			defer file.Close() //nolint:errcheck
			t, err := LoadCSV(file)
			if err != nil {
				return nil, eris.Wrapf(err, "lookup: load %s", cfg.TickersPath)
			}
			zap.L().Debug("lookup: loaded ticker csv",
				zap.String("path", cfg.TickersPath),
				zap.Int("tickers", t.Len()),
			)
			return t, nil
		case !errors.Is(err, os.ErrNotExist):
			return nil, eris.Wrapf(err, "lookup: open %s", cfg.TickersPath)
		}
	}

	if cfg.TickersURL == "" || f == nil {
		return NewTable(), nil
	}
	body, err := f.Download(ctx, cfg.TickersURL)
	if err != nil {
		return nil, eris.Wrap(err, "lookup: download tickers")
	}
	defer body.Close() //nolint:errcheck
	t, err := LoadSECJSON(body)
	if err != nil {
		return nil, err
	}
	zap.L().Debug("lookup: loaded SEC tickers",
		zap.String("url", cfg.TickersURL),
		zap.Int("tickers", t.Len()),
	)
	return t, nil
}
