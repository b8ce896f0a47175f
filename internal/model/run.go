package model

import (
	"strings"
	"time"
)

// CrawlStatus records how a crawl ended.
type CrawlStatus string

const (
	// CrawlComplete means every crawl reached its start date or the end of
	// pagination.
	CrawlComplete CrawlStatus = "complete"
	// CrawlPartial means at least one fetch failed and the records may not
	// reach back to the requested start date.
	CrawlPartial CrawlStatus = "partial"
)

// CrawlRun is the crawl log entry written after every merge.
type CrawlRun struct {
	ID             string      `json:"id"`
	EntityID       string      `json:"entity_id"`
	TypeCode       string      `json:"type_code"`
	StartDate      time.Time   `json:"start_date"`
	PositionFilter string      `json:"position_filter,omitempty"`
	Status         CrawlStatus `json:"status"`
	Records        int         `json:"records"`
	Pages          int         `json:"pages"`
	StartedAt      time.Time   `json:"started_at"`
	CompletedAt    time.Time   `json:"completed_at"`
}

// Covers reports whether this run's records satisfy a query for typeCode and
// position going back to start, given the cache freshness cutoff.
func (r CrawlRun) Covers(typeCode, position string, start, freshAfter time.Time) bool {
	if r.Status != CrawlComplete {
		return false
	}
	if r.CompletedAt.Before(freshAfter) {
		return false
	}
	if r.TypeCode != "" && r.TypeCode != TypeCode(typeCode) {
		return false
	}
	if r.PositionFilter != "" && !strings.EqualFold(r.PositionFilter, position) {
		return false
	}
	return !Day(r.StartDate).After(Day(start))
}
