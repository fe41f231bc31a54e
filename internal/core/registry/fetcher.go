// Package registry mirrors the external ACP agent directory: it fetches the
// paginated upstream listing, keeps the last good snapshot in memory and on
// disk, and answers searches over it.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"clawbounty.market/internal/core/circuitbreaker"
	"clawbounty.market/internal/core/domain"
	"clawbounty.market/internal/core/logger"
	"clawbounty.market/internal/core/tracing"
)

const (
	DefaultBaseURL     = "https://acpx.virtuals.io/api/agents"
	DefaultPageSize    = 100
	DefaultConcurrency = 10
	DefaultTimeout     = 30 * time.Second
	// DefaultMaxPages bounds the crawl no matter what pageCount upstream reports.
	DefaultMaxPages    = 500

	// ErrBreakerOpen is reported in FetchResult.Errors when no request was made.
	ErrBreakerOpen = "circuit breaker open, using cached data"
)

// FetchResult is the outcome of one full registry crawl.
type FetchResult struct {
	Agents       []domain.Agent
	LastUpdated  *time.Time
	TotalFromAPI int
	Errors       []string
	// FromCache is set when the breaker was open and Agents is the caller's
	// cached list returned untouched.
	FromCache bool
}

type pageResponse struct {
	Data []json.RawMessage `json:"data"`
	Meta struct {
		Pagination struct {
			Total     int `json:"total"`
			PageCount int `json:"pageCount"`
		} `json:"pagination"`
	} `json:"meta"`
}

type Fetcher struct {
	baseURL     string
	client      *http.Client
	breaker     *circuitbreaker.Breaker
	pageSize    int
	concurrency int
	maxPages    int
	timeout     time.Duration
	now         func() time.Time
}

type FetcherOption func(*Fetcher)

func WithHTTPClient(c *http.Client) FetcherOption {
	return func(f *Fetcher) { f.client = c }
}

func WithPageSize(n int) FetcherOption {
	return func(f *Fetcher) { f.pageSize = n }
}

func WithConcurrency(n int) FetcherOption {
	return func(f *Fetcher) { f.concurrency = n }
}

func WithMaxPages(n int) FetcherOption {
	return func(f *Fetcher) { f.maxPages = n }
}

func WithTimeout(d time.Duration) FetcherOption {
	return func(f *Fetcher) { f.timeout = d }
}

func WithClock(now func() time.Time) FetcherOption {
	return func(f *Fetcher) { f.now = now }
}

func NewFetcher(baseURL string, breaker *circuitbreaker.Breaker, opts ...FetcherOption) *Fetcher {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	f := &Fetcher{
		baseURL:     baseURL,
		client:      &http.Client{Transport: tracing.Transport(http.DefaultTransport)},
		breaker:     breaker,
		pageSize:    DefaultPageSize,
		concurrency: DefaultConcurrency,
		maxPages:    DefaultMaxPages,
		timeout:     DefaultTimeout,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// FetchAll crawls every page of the registry. It never fails: upstream
// problems are reported in Errors and, when the breaker is open, the cached
// snapshot is handed back unchanged.
func (f *Fetcher) FetchAll(ctx context.Context, cached *domain.Snapshot) *FetchResult {
	ctx, span := tracing.StartSpan(ctx, "registry.FetchAll")
	defer span.End()

	if !f.breaker.CanExecute() {
		logger.WarnContext(ctx, "Registry circuit breaker is open, skipping fetch")
		res := &FetchResult{Errors: []string{ErrBreakerOpen}, FromCache: true}
		if cached != nil {
			res.Agents = cached.Agents
			res.LastUpdated = cached.LastUpdated
			res.TotalFromAPI = cached.TotalCount
		}
		return res
	}

	res := &FetchResult{}
	first, err := f.fetchPage(ctx, 1)
	if err != nil {
		f.breaker.RecordFailure()
		logger.ErrorContext(ctx, "Registry fetch failed", "error", err)
		res.Errors = append(res.Errors, err.Error())
		res.LastUpdated = domain.TimePtr(f.now().UTC())
		return res
	}

	res.TotalFromAPI = first.Meta.Pagination.Total
	pageCount := first.Meta.Pagination.PageCount
	logger.InfoContext(ctx, "Registry listing", "total", res.TotalFromAPI, "pages", pageCount)
	if pageCount > f.maxPages {
		logger.WarnContext(ctx, "Registry page count over limit, truncating crawl",
			"pages", pageCount, "limit", f.maxPages)
		res.Errors = append(res.Errors, fmt.Sprintf("pageCount %d exceeds limit %d", pageCount, f.maxPages))
		pageCount = f.maxPages
	}
	res.Agents = appendParsed(res.Agents, first.Data)

	if pageCount > 1 {
		pages := make([]*pageResponse, pageCount+1)
		pageErrs := make([]error, pageCount+1)

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(f.concurrency)
		for p := 2; p <= pageCount; p++ {
			g.Go(func() error {
				// Page errors are collected, not returned, so one bad page
				// does not cancel its siblings.
				pages[p], pageErrs[p] = f.fetchPage(gctx, p)
				return nil
			})
		}
		_ = g.Wait()

		for p := 2; p <= pageCount; p++ {
			if pageErrs[p] != nil {
				res.Errors = append(res.Errors, fmt.Sprintf("page %d: %v", p, pageErrs[p]))
				continue
			}
			res.Agents = appendParsed(res.Agents, pages[p].Data)
		}
	}

	f.breaker.RecordSuccess()
	res.LastUpdated = domain.TimePtr(f.now().UTC())
	if len(res.Errors) > 0 {
		logger.WarnContext(ctx, "Registry fetch finished with page errors", "errors", len(res.Errors))
	}
	return res
}

func appendParsed(agents []domain.Agent, data []json.RawMessage) []domain.Agent {
	for _, raw := range data {
		if a, ok := ParseAgent(raw); ok {
			agents = append(agents, a)
		}
	}
	return agents
}

func (f *Fetcher) fetchPage(ctx context.Context, page int) (*pageResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	q := url.Values{}
	q.Set("pagination[page]", strconv.Itoa(page))
	q.Set("pagination[pageSize]", strconv.Itoa(f.pageSize))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: status %d", domain.ErrUpstreamUnavailable, resp.StatusCode)
	}

	var out pageResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, err)
		}
		return nil, fmt.Errorf("decode page %d: %w", page, err)
	}
	return &out, nil
}
