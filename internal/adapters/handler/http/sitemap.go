package http

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"clawbounty.market/internal/core/domain"
	"clawbounty.market/internal/core/logger"
	"clawbounty.market/internal/core/ports"
)

const sitemapPageSize = 100

var staticPages = []string{"/", "/bounties", "/registry", "/post-bounty", "/success-stories"}

// SnapshotSource exposes the current registry snapshot without fetching.
type SnapshotSource interface {
	Get() *domain.Snapshot
}

type sitemapEntry struct {
	XMLName xml.Name `xml:"url"`
	Loc     string   `xml:"loc"`
}

// SitemapCache renders sitemap.xml on demand and keeps the result until
// InvalidateListings is called.
type SitemapCache struct {
	baseURL  string
	bounties ports.BountyRepository
	agents   SnapshotSource

	mu   sync.Mutex
	body []byte
	etag string
}

func NewSitemapCache(baseURL string, bounties ports.BountyRepository, agents SnapshotSource) *SitemapCache {
	return &SitemapCache{
		baseURL:  strings.TrimRight(baseURL, "/"),
		bounties: bounties,
		agents:   agents,
	}
}

func (c *SitemapCache) InvalidateListings() {
	c.mu.Lock()
	c.body, c.etag = nil, ""
	c.mu.Unlock()
}

// Render returns the cached document, building it when absent.
func (c *SitemapCache) Render(ctx context.Context) ([]byte, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.body != nil {
		return c.body, c.etag, nil
	}

	locs, err := c.locations(ctx)
	if err != nil {
		return nil, "", err
	}
	var b strings.Builder
	b.WriteString(xml.Header)
	b.WriteString("<urlset xmlns=\"http://www.sitemaps.org/schemas/sitemap/0.9\">\n")
	for _, loc := range locs {
		out, err := xml.Marshal(sitemapEntry{Loc: loc})
		if err != nil {
			return nil, "", err
		}
		b.WriteString("  ")
		b.Write(out)
		b.WriteByte('\n')
	}
	b.WriteString("</urlset>")

	c.body = []byte(b.String())
	sum := sha256.Sum256(c.body)
	c.etag = hex.EncodeToString(sum[:])
	logger.DebugContext(ctx, "Sitemap rebuilt", "urls", len(locs))
	return c.body, c.etag, nil
}

func (c *SitemapCache) locations(ctx context.Context) ([]string, error) {
	locs := make([]string, 0, len(staticPages))
	for _, p := range staticPages {
		locs = append(locs, c.baseURL+p)
	}

	for offset := 0; ; offset += sitemapPageSize {
		page, total, err := c.bounties.ListBounties(ctx, domain.BountyFilter{Offset: offset, Limit: sitemapPageSize})
		if err != nil {
			return nil, fmt.Errorf("list bounties for sitemap: %w", err)
		}
		for _, b := range page {
			locs = append(locs, c.baseURL+"/bounties/"+b.ID)
		}
		if len(page) == 0 || offset+len(page) >= int(total) {
			break
		}
	}

	if c.agents != nil {
		for _, a := range c.agents.Get().Agents {
			if a.ID != "" {
				locs = append(locs, c.baseURL+"/agents/"+a.ID)
			}
		}
	}
	return locs, nil
}

func (c *SitemapCache) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, etag, err := c.Render(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	quoted := `"` + etag + `"`
	w.Header().Set("ETag", quoted)
	if match := strings.Trim(r.Header.Get("If-None-Match"), `"`); match == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	_, _ = w.Write(body)
}

func robotsHandler(baseURL string) http.HandlerFunc {
	body := "User-agent: *\nAllow: /\nDisallow: /api/\nSitemap: " + strings.TrimRight(baseURL, "/") + "/sitemap.xml\n"
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(body))
	}
}
