package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clawbounty.market/internal/core/circuitbreaker"
	"clawbounty.market/internal/core/domain"
)

// fakeRegistry serves pageCount pages of perPage agents named "p<page>-<n>".
type fakeRegistry struct {
	pageCount int
	perPage   int
	failPages map[int]bool
	calls     atomic.Int32
	inFlight  atomic.Int32
	maxFlight atomic.Int32
}

func (f *fakeRegistry) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.calls.Add(1)
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		m := f.maxFlight.Load()
		if n <= m || f.maxFlight.CompareAndSwap(m, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)

	page, _ := strconv.Atoi(r.URL.Query().Get("pagination[page]"))
	if r.URL.Query().Get("pagination[pageSize]") != "100" {
		http.Error(w, "bad page size", http.StatusBadRequest)
		return
	}
	if f.failPages[page] {
		http.Error(w, "boom", http.StatusInternalServerError)
		return
	}

	data := make([]map[string]any, 0, f.perPage)
	for i := 0; i < f.perPage; i++ {
		data = append(data, map[string]any{"id": fmt.Sprintf("%d-%d", page, i), "name": fmt.Sprintf("p%d-%d", page, i)})
	}
	data = append(data, map[string]any{"name": "Unknown"})

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"data": data,
		"meta": map[string]any{"pagination": map[string]any{"total": f.pageCount * f.perPage, "pageCount": f.pageCount}},
	})
}

func newTestFetcher(t *testing.T, h http.Handler) (*Fetcher, *circuitbreaker.Breaker) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	br := circuitbreaker.New("test-registry")
	return NewFetcher(srv.URL, br, WithHTTPClient(srv.Client()), WithTimeout(5*time.Second)), br
}

func TestFetchAllPagesInOrder(t *testing.T) {
	reg := &fakeRegistry{pageCount: 25, perPage: 2}
	f, br := newTestFetcher(t, reg)

	res := f.FetchAll(context.Background(), nil)

	require.Empty(t, res.Errors)
	assert.False(t, res.FromCache)
	assert.Equal(t, 50, res.TotalFromAPI)
	require.Len(t, res.Agents, 50)
	for i, a := range res.Agents {
		assert.Equal(t, fmt.Sprintf("p%d-%d", i/2+1, i%2), a.Name)
	}
	require.NotNil(t, res.LastUpdated)
	assert.EqualValues(t, 25, reg.calls.Load())
	assert.LessOrEqual(t, reg.maxFlight.Load(), int32(DefaultConcurrency))
	assert.Equal(t, circuitbreaker.StateClosed, br.State())
}

func TestFetchAllKeepsPartialResults(t *testing.T) {
	reg := &fakeRegistry{pageCount: 4, perPage: 1, failPages: map[int]bool{3: true}}
	f, br := newTestFetcher(t, reg)

	res := f.FetchAll(context.Background(), nil)

	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "page 3")
	names := []string{}
	for _, a := range res.Agents {
		names = append(names, a.Name)
	}
	assert.Equal(t, []string{"p1-0", "p2-0", "p4-0"}, names)
	assert.Equal(t, 0, br.Failures())
}

func TestFetchAllCapsPageCount(t *testing.T) {
	reg := &fakeRegistry{pageCount: 1_000_000, perPage: 1}
	srv := httptest.NewServer(reg)
	t.Cleanup(srv.Close)
	f := NewFetcher(srv.URL, circuitbreaker.New("test-cap"), WithHTTPClient(srv.Client()), WithMaxPages(5))

	res := f.FetchAll(context.Background(), nil)

	assert.EqualValues(t, 5, reg.calls.Load())
	assert.Len(t, res.Agents, 5)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "exceeds limit 5")
}

func TestFetchAllFirstPageFailureTripsBreaker(t *testing.T) {
	reg := &fakeRegistry{pageCount: 3, perPage: 1, failPages: map[int]bool{1: true}}
	f, br := newTestFetcher(t, reg)

	for i := 0; i < circuitbreaker.DefaultThreshold; i++ {
		res := f.FetchAll(context.Background(), nil)
		assert.Empty(t, res.Agents)
		assert.Len(t, res.Errors, 1)
	}
	assert.Equal(t, circuitbreaker.StateOpen, br.State())
	calls := reg.calls.Load()

	cached := &domain.Snapshot{
		Agents:      []domain.Agent{{Name: "cached"}},
		LastUpdated: domain.TimePtr(time.Unix(100, 0)),
		TotalCount:  1,
	}
	res := f.FetchAll(context.Background(), cached)

	assert.True(t, res.FromCache)
	assert.Equal(t, []string{ErrBreakerOpen}, res.Errors)
	assert.Equal(t, cached.Agents, res.Agents)
	assert.Equal(t, cached.LastUpdated, res.LastUpdated)
	assert.Equal(t, 1, res.TotalFromAPI)
	assert.Equal(t, calls, reg.calls.Load(), "no request while open")
}

func TestFetchAllTimeoutIsFailure(t *testing.T) {
	slow := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	srv := httptest.NewServer(slow)
	defer srv.Close()

	br := circuitbreaker.New("test-timeout")
	f := NewFetcher(srv.URL, br, WithHTTPClient(srv.Client()), WithTimeout(50*time.Millisecond))

	res := f.FetchAll(context.Background(), nil)
	assert.Empty(t, res.Agents)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, 1, br.Failures())
}
