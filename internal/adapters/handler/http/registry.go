package http

import (
	"crypto/subtle"
	"fmt"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"clawbounty.market/internal/core/domain"
	"clawbounty.market/internal/core/logger"
	"clawbounty.market/internal/core/services"
)

const (
	DefaultRefreshCooldown = 30 * time.Second
	statsTTL               = 60 * time.Second
)

type BountyCounts struct {
	Total     int64 `json:"total"`
	Open      int64 `json:"open"`
	Claimed   int64 `json:"claimed"`
	Matched   int64 `json:"matched"`
	Fulfilled int64 `json:"fulfilled"`
	Cancelled int64 `json:"cancelled"`
}

type AgentCounts struct {
	Total    int `json:"total"`
	Products int `json:"products"`
	Services int `json:"services"`
}

type StatsResponse struct {
	Bounties           BountyCounts `json:"bounties"`
	Agents             AgentCounts  `json:"agents"`
	LastRegistryUpdate *time.Time   `json:"last_registry_update"`
}

// statsCache holds the last stats response for statsTTL.
type statsCache struct {
	mu      sync.Mutex
	value   *StatsResponse
	expires time.Time
}

func (c *statsCache) get(now time.Time) *StatsResponse {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.value == nil || now.After(c.expires) {
		return nil
	}
	return c.value
}

func (c *statsCache) put(v *StatsResponse, now time.Time) {
	c.mu.Lock()
	c.value, c.expires = v, now.Add(statsTTL)
	c.mu.Unlock()
}

// refreshGate enforces the cooldown between admin-triggered refreshes.
type refreshGate struct {
	mu       sync.Mutex
	cooldown time.Duration
	last     time.Time
}

// acquire returns the remaining wait, or zero when the caller may refresh.
func (g *refreshGate) acquire(now time.Time) time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.last.IsZero() {
		if wait := g.cooldown - now.Sub(g.last); wait > 0 {
			return wait
		}
	}
	g.last = now
	return 0
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page", 1)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if page < 1 {
		writeError(w, r, fmt.Errorf("%w: page must be at least 1", domain.ErrInvalidInput))
		return
	}
	limit, err := queryInt(r, "limit", services.DefaultAgentPageSize)
	if err != nil {
		writeError(w, r, err)
		return
	}
	online, err := queryBool(r, "online_only")
	if err != nil {
		writeError(w, r, err)
		return
	}

	res, err := s.registry.ListAgents(r.Context(), services.AgentListFilter{
		Category:   r.URL.Query().Get("category"),
		OnlineOnly: online != nil && *online,
		Page:       page,
		Limit:      limit,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":              res.Agents,
		"meta":              PaginationMeta{Total: int64(res.Total), Page: res.Page, PerPage: res.PerPage},
		"agents":            res.Agents,
		"count":             len(res.Agents),
		"total_in_registry": res.TotalInRegistry,
		"last_updated":      res.LastUpdated,
		"page":              res.Page,
		"per_page":          res.PerPage,
		"total_pages":       res.TotalPages,
		"has_next":          res.HasNext,
	})
}

func (s *Server) handleSearchAgents(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	limit, err := queryInt(r, "limit", services.DefaultSearchLimit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if limit > services.MaxSearchLimit {
		writeError(w, r, fmt.Errorf("%w: limit must be at most %d", domain.ErrInvalidInput, services.MaxSearchLimit))
		return
	}
	agents, err := s.registry.Search(r.Context(), query, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"query": query, "agents": agents, "count": len(agents)})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	now := s.now()
	if cached := s.stats.get(now); cached != nil {
		writeJSON(w, http.StatusOK, cached)
		return
	}

	counts, err := s.bounties.Stats(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := &StatsResponse{Bounties: BountyCounts(*counts)}
	if s.registry != nil {
		part := s.registry.Categorize(r.Context())
		snap := s.registry.Snapshot()
		resp.Agents = AgentCounts{
			Total:    len(snap.Agents),
			Products: len(part.Products),
			Services: len(part.Services),
		}
		resp.LastRegistryUpdate = snap.LastUpdated
	}
	s.stats.put(resp, now)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRegistry(w http.ResponseWriter, r *http.Request) {
	part := s.registry.Categorize(r.Context())
	snap := s.registry.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"products":     part.Products,
		"services":     part.Services,
		"total_agents": len(snap.Agents),
		"last_updated": snap.LastUpdated,
	})
}

// requireAdmin accepts the admin secret from X-Admin-Secret or a bearer
// token. An empty configured secret disables the check.
func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AdminSecret == "" {
			next(w, r)
			return
		}
		given := r.Header.Get("X-Admin-Secret")
		if given == "" {
			given = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		}
		if subtle.ConstantTimeCompare([]byte(given), []byte(s.cfg.AdminSecret)) != 1 {
			logger.WarnContext(r.Context(), "Rejected admin request", "path", r.URL.Path, "ip", clientIP(r))
			writeErrorCode(w, r, http.StatusForbidden, domain.CodeInvalidSecret, "Invalid or missing admin secret")
			return
		}
		next(w, r)
	}
}

func (s *Server) handleRefreshRegistry(w http.ResponseWriter, r *http.Request) {
	if wait := s.refresh.acquire(s.now()); wait > 0 {
		secs := int(math.Ceil(wait.Seconds()))
		w.Header().Set("Retry-After", fmt.Sprint(secs))
		writeErrorCode(w, r, http.StatusTooManyRequests, domain.CodeRateLimited,
			fmt.Sprintf("Rate limited. Try again in %ds", secs))
		return
	}
	snap, err := s.registry.Refresh(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.stats.put(nil, time.Time{})
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "refreshed",
		"agents_count": len(snap.Agents),
		"last_updated": snap.LastUpdated,
	})
}
