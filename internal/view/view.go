// Package view filters, deduplicates and orders transaction records for
// presentation.
package view

import (
	"sort"
	"strings"
	"time"

	"golang.org/x/text/cases"

	"github.com/sells-group/insider-cli/internal/model"
)

// Predicate selects records.
type Predicate func(model.TransactionRecord) bool

// All is the conjunction of preds. With no predicates it accepts everything.
func All(preds ...Predicate) Predicate {
	return func(r model.TransactionRecord) bool {
		for _, p := range preds {
			if !p(r) {
				return false
			}
		}
		return true
	}
}

// InDateRange accepts records dated within [start, end], compared by
// calendar day. A zero bound is open. Records with an indeterminate date are
// never in range.
func InDateRange(start, end time.Time) Predicate {
	start, end = model.Day(start), model.Day(end)
	return func(r model.TransactionRecord) bool {
		if !r.DateKnown() {
			return false
		}
		d := model.Day(r.TransactionDate)
		if !start.IsZero() && d.Before(start) {
			return false
		}
		if !end.IsZero() && d.After(end) {
			return false
		}
		return true
	}
}

// PositionContains accepts records whose joined position contains sub,
// ignoring case. An empty sub accepts everything; a record with no joined
// position never matches a non-empty sub.
func PositionContains(sub string) Predicate {
	return func(r model.TransactionRecord) bool {
		return sub == "" || ContainsFold(r.Position, sub)
	}
}

// TypeIs accepts records whose transaction type code matches label's code.
// An empty label accepts everything.
func TypeIs(label string) Predicate {
	code := model.TypeCode(label)
	return func(r model.TransactionRecord) bool {
		return code == "" || r.TypeCode() == code
	}
}

// ContainsFold reports whether sub is within s under Unicode case folding.
func ContainsFold(s, sub string) bool {
	// A Caser is stateful and must not be shared between goroutines.
	fold := cases.Fold()
	return strings.Contains(fold.String(s), fold.String(sub))
}

// Filter returns the records accepted by p, preserving order.
func Filter(recs []model.TransactionRecord, p Predicate) []model.TransactionRecord {
	out := make([]model.TransactionRecord, 0, len(recs))
	for _, r := range recs {
		if p(r) {
			out = append(out, r)
		}
	}
	return out
}

// Dedup drops records whose identity was already seen, keeping the first.
func Dedup(recs []model.TransactionRecord) []model.TransactionRecord {
	seen := make(map[model.Identity]struct{}, len(recs))
	out := make([]model.TransactionRecord, 0, len(recs))
	for _, r := range recs {
		id := r.Identity()
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, r)
	}
	return out
}

// Sort orders recs by transaction date descending, then line number
// descending, in place.
func Sort(recs []model.TransactionRecord) {
	sort.SliceStable(recs, func(i, j int) bool { return model.Before(recs[i], recs[j]) })
}

// Query is a read-side request against an entity's record set.
type Query struct {
	Start    time.Time
	End      time.Time
	Position string
	TypeCode string
}

// Predicate returns the conjunction of the query's filters.
func (q Query) Predicate() Predicate {
	return All(
		InDateRange(q.Start, q.End),
		PositionContains(q.Position),
		TypeIs(q.TypeCode),
	)
}

// Apply filters, deduplicates and sorts recs for q. The input is not
// modified. Nil or empty input yields an empty, non-nil slice.
func Apply(recs []model.TransactionRecord, q Query) []model.TransactionRecord {
	out := Dedup(Filter(recs, q.Predicate()))
	Sort(out)
	return out
}
