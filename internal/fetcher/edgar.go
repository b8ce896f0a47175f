package fetcher

import (
	"context"
	"errors"
	"io"
	"net/url"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/sells-group/insider-cli/internal/model"
)

// ErrUnavailable is matched (via errors.Is) by every error EDGARPages
// returns: the page could not be obtained and the caller should stop
// paginating.
var ErrUnavailable = errors.New("page unavailable")

// UnavailableError reports a failed page fetch.
type UnavailableError struct {
	URL string
	Err error
}

func (e *UnavailableError) Error() string {
	return "fetcher: page unavailable: " + e.URL + ": " + e.Err.Error()
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrUnavailable) true for every UnavailableError.
func (e *UnavailableError) Is(target error) bool { return target == ErrUnavailable }

// maxPageBytes bounds one ownership page. Real pages are well under 1 MiB.
const maxPageBytes = 16 << 20

// EDGARPages fetches pages of the SEC ownership disclosure index
// (/cgi-bin/own-disp).
type EDGARPages struct {
	f       Fetcher
	baseURL string
}

// NewEDGARPages returns a page adapter rooted at baseURL, e.g.
// "https://www.sec.gov/cgi-bin/own-disp".
func NewEDGARPages(f Fetcher, baseURL string) *EDGARPages {
	return &EDGARPages{f: f, baseURL: baseURL}
}

// PageURL builds the URL of one ownership page.
func (p *EDGARPages) PageURL(id string, kind model.ReportKind, offset int) (string, error) {
	u, err := url.Parse(p.baseURL)
	if err != nil {
		return "", eris.Wrapf(err, "fetcher: parse base url %q", p.baseURL)
	}

	var action string
	switch kind {
	case model.ReportIssuer:
		action = "getissuer"
	case model.ReportOwner:
		action = "getowner"
	default:
		return "", eris.Errorf("fetcher: unknown report kind %q", kind)
	}

	q := url.Values{}
	q.Set("action", action)
	q.Set("CIK", id)
	q.Set("type", "")
	q.Set("dateb", "")
	q.Set("owner", "include")
	q.Set("start", strconv.Itoa(offset))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// FetchPage downloads the page at offset for id. Any failure, including an
// invalid request, is reported as an *UnavailableError.
func (p *EDGARPages) FetchPage(ctx context.Context, id string, kind model.ReportKind, offset int) ([]byte, error) {
	pageURL, err := p.PageURL(id, kind, offset)
	if err != nil {
		return nil, &UnavailableError{URL: p.baseURL, Err: err}
	}

	body, err := p.f.Download(ctx, pageURL)
	if err != nil {
		return nil, &UnavailableError{URL: pageURL, Err: err}
	}
	defer body.Close() //nolint:errcheck

	data, err := io.ReadAll(io.LimitReader(body, maxPageBytes))
	if err != nil {
		return nil, &UnavailableError{URL: pageURL, Err: eris.Wrap(err, "read body")}
	}
	return data, nil
}
