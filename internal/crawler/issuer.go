package crawler

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/insider-cli/internal/model"
	"github.com/sells-group/insider-cli/internal/parser"
	"github.com/sells-group/insider-cli/internal/view"
)

// IssuerRequest asks for every insider transaction of one issuer.
type IssuerRequest struct {
	// EntityID is the issuer CIK.
	EntityID string
	TypeCode string
	Start    time.Time
	// Position, when set, limits owner crawls to owners whose indexed
	// position contains it. Records are not filtered here.
	Position string
	// Refresh bypasses the owner index cache.
	Refresh bool
}

// IssuerResult is the joined, deduplicated record set of one issuer crawl.
type IssuerResult struct {
	EntityID string
	Records  []model.TransactionRecord
	Owners   model.OwnerIndex
	// OwnersCrawled counts owner histories that were crawled.
	OwnersCrawled int
	Pages         int
	// Incomplete is set when any fetch failed or a crawl hit the page limit.
	Incomplete bool
	Failures   []error
}

type crawlJob struct {
	req   Request
	owner model.OwnerIndexEntry
}

// CrawlIssuer reads the issuer's owner index, crawls every (matching) owner's
// filing history and the issuer's own history, and joins each record to its
// owner's position. Fetch failures never fail the call; they mark the result
// incomplete.
func (c *Crawler) CrawlIssuer(ctx context.Context, req IssuerRequest) IssuerResult {
	log := zap.L().With(zap.String("entity_id", req.EntityID))
	res := IssuerResult{EntityID: req.EntityID}

	idx, first, cached, err := c.ownerIndex(ctx, req.EntityID, req.Refresh)
	if err != nil {
		log.Warn("crawler: owner index unavailable", zap.Error(err))
		res.Incomplete = true
		res.Failures = append(res.Failures, err)
	}
	fetched := !cached && err == nil
	// A fetched page with transaction rows is counted by the issuer crawl.
	if fetched && len(first) == 0 {
		res.Pages++
	}

	jobs := []crawlJob{{req: Request{
		Identifier: req.EntityID,
		Kind:       model.ReportIssuer,
		TypeCode:   req.TypeCode,
		Start:      req.Start,
		first:      first,
		prefetched: fetched,
	}}}
	for _, e := range idx.Entries() {
		if req.Position != "" && !view.ContainsFold(e.Position, req.Position) {
			continue
		}
		if e.OwnerID == "" {
			log.Debug("crawler: owner has no CIK, skipping", zap.String("owner", e.Name))
			continue
		}
		jobs = append(jobs, crawlJob{
			owner: e,
			req: Request{
				Identifier: e.OwnerID,
				Kind:       model.ReportOwner,
				TypeCode:   req.TypeCode,
				Start:      req.Start,
			},
		})
	}
	res.OwnersCrawled = len(jobs) - 1

	results := make([]Result, len(jobs))
	var g errgroup.Group
	g.SetLimit(c.opts.MaxConcurrentOwners)
	for i, job := range jobs {
		g.Go(func() error {
			results[i] = c.Crawl(ctx, job.req)
			return nil
		})
	}
	_ = g.Wait()

	var recs []model.TransactionRecord
	for i, job := range jobs {
		r := results[i]
		res.Pages += r.Pages
		if r.Truncated() {
			res.Incomplete = true
			if r.Err != nil {
				res.Failures = append(res.Failures, r.Err)
			}
		}
		recs = append(recs, stamp(req.EntityID, job, r.Records)...)
	}

	unjoined := unjoinedOwners(idx, recs)
	if cached && len(c.owners.Unknown(req.EntityID, unjoined)) > 0 {
		log.Info("crawler: cached owner index is stale, refetching")
		fresh, _, _, err := c.ownerIndex(ctx, req.EntityID, true)
		if err != nil {
			log.Warn("crawler: owner index refetch failed", zap.Error(err))
		} else {
			idx = fresh
			fetched = true
			res.Pages++
			unjoined = unjoinedOwners(idx, recs)
		}
	}
	if fetched {
		// Owners absent from a fresh index are former insiders; they must
		// not mark the cached index stale on later crawls.
		c.owners.MarkFormer(req.EntityID, unjoined)
	}

	for i := range recs {
		recs[i].Position = idx.Position(recs[i].OwnerName)
	}
	res.Records = view.Dedup(recs)
	view.Sort(res.Records)
	res.Owners = idx

	log.Info("crawler: issuer crawl complete",
		zap.Int("owners", res.OwnersCrawled),
		zap.Int("pages", res.Pages),
		zap.Int("records", len(res.Records)),
		zap.Bool("incomplete", res.Incomplete),
	)
	return res
}

// ownerIndex returns the issuer's owner index, from cache unless refresh is
// set. When it fetches, first holds the transaction rows of the same page.
// On fetch failure it returns an empty index and the error.
func (c *Crawler) ownerIndex(ctx context.Context, entityID string, refresh bool) (idx model.OwnerIndex, first []model.TransactionRecord, cached bool, err error) {
	if !refresh {
		if idx, ok := c.owners.Get(entityID); ok {
			return idx, nil, true, nil
		}
	}

	doc, err := c.fetchDoc(ctx, entityID, model.ReportIssuer, 0)
	if err != nil {
		return model.OwnerIndex{}, nil, false, err
	}
	idx = parser.ParseOwnerIndex(doc)
	c.owners.Set(entityID, idx)
	return idx, parser.ParseTransactions(doc, model.ReportIssuer), false, nil
}

// stamp attaches the issuer and owner identity to the records of one crawl.
// Owner-history rows that belong to a different issuer are dropped.
func stamp(entityID string, job crawlJob, recs []model.TransactionRecord) []model.TransactionRecord {
	want, _ := model.PadCIK(entityID)
	out := recs[:0]
	for _, r := range recs {
		if job.req.Kind == model.ReportOwner {
			if r.IssuerID != "" {
				if got, ok := model.PadCIK(r.IssuerID); !ok || got != want {
					continue
				}
			}
			r.OwnerName = job.owner.Name
			r.OwnerID = job.owner.OwnerID
		}
		r.EntityID = entityID
		if r.IssuerID == "" {
			r.IssuerID = entityID
		}
		out = append(out, r)
	}
	return out
}

// unjoinedOwners returns the distinct owner names of recs missing from idx.
func unjoinedOwners(idx model.OwnerIndex, recs []model.TransactionRecord) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, r := range recs {
		if _, ok := idx[r.OwnerName]; ok {
			continue
		}
		if _, ok := seen[r.OwnerName]; ok {
			continue
		}
		seen[r.OwnerName] = struct{}{}
		out = append(out, r.OwnerName)
	}
	return out
}
