package model

import (
	"strconv"
	"strings"
	"time"
)

// DateLayout is the calendar date format used by the SEC ownership pages and
// by the persisted cache.
const DateLayout = "2006-01-02"

// ReportKind selects which view of the ownership index a page describes.
type ReportKind string

const (
	// ReportIssuer is the issuer's full disclosure index (action=getissuer).
	ReportIssuer ReportKind = "issuer"
	// ReportOwner is one reporting owner's filing history (action=getowner).
	ReportOwner ReportKind = "owner"
)

// TransactionRecord is one line of an insider transaction disclosure.
//
// A zero TransactionDate means the source date could not be parsed. Position
// is empty until the record is joined against the issuer's owner index.
type TransactionRecord struct {
	EntityID         string    `json:"entity_id"`
	TransactionDate  time.Time `json:"transaction_date"`
	OwnerName        string    `json:"owner_name"`
	Position         string    `json:"position,omitempty"`
	TransactionType  string    `json:"transaction_type"`
	SharesTransacted float64   `json:"shares_transacted"`
	SharesOwnedAfter float64   `json:"shares_owned_after"`
	LineNumber       int       `json:"line_number"`
	OwnerID          string    `json:"owner_id"`
	IssuerID         string    `json:"issuer_id"`

	AcquiredDisposed string `json:"acquired_disposed,omitempty"`
	Form             string `json:"form,omitempty"`
	OwnershipNature  string `json:"ownership_nature,omitempty"`
	SecurityName     string `json:"security_name,omitempty"`
}

// DateKnown reports whether the transaction date parsed.
func (r TransactionRecord) DateKnown() bool {
	return !r.TransactionDate.IsZero()
}

// DateString formats the transaction date, or "" when indeterminate.
func (r TransactionRecord) DateString() string {
	if !r.DateKnown() {
		return ""
	}
	return r.TransactionDate.Format(DateLayout)
}

// TypeCode returns the short code of the transaction type ("P" for
// "P-Purchase").
func (r TransactionRecord) TypeCode() string {
	return TypeCode(r.TransactionType)
}

// Identity is the deduplication key of a TransactionRecord. Two records with
// equal identities describe the same disclosure line.
type Identity struct {
	EntityID         string
	Date             string
	OwnerName        string
	Position         string
	SharesOwnedAfter string
	SharesTransacted string
	LineNumber       int
}

// Identity returns the record's deduplication key.
func (r TransactionRecord) Identity() Identity {
	return Identity{
		EntityID:         r.EntityID,
		Date:             r.DateString(),
		OwnerName:        r.OwnerName,
		Position:         r.Position,
		SharesOwnedAfter: FormatShares(r.SharesOwnedAfter),
		SharesTransacted: FormatShares(r.SharesTransacted),
		LineNumber:       r.LineNumber,
	}
}

// FormatShares renders a share count in its shortest exact form.
func FormatShares(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// TypeCode extracts the short code from a transaction type label such as
// "S-Sale" or "M-Exempt". A bare code is returned unchanged.
func TypeCode(label string) string {
	label = strings.TrimSpace(label)
	if i := strings.IndexByte(label, '-'); i > 0 {
		label = label[:i]
	}
	return strings.ToUpper(strings.TrimSpace(label))
}

// ParseDate parses a calendar date. It accepts the page format (2006-01-02)
// and the compact CLI format (20060102). The zero time is returned for
// anything else.
func ParseDate(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range []string{DateLayout, "20060102"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// Day truncates t to its calendar date in UTC.
func Day(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Before orders records by transaction date descending, then line number
// descending. Indeterminate dates sort after every real date.
func Before(a, b TransactionRecord) bool {
	ak, bk := a.DateKnown(), b.DateKnown()
	if ak != bk {
		return ak
	}
	if !a.TransactionDate.Equal(b.TransactionDate) {
		return a.TransactionDate.After(b.TransactionDate)
	}
	return a.LineNumber > b.LineNumber
}
