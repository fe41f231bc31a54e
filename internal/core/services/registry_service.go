package services

import (
	"context"
	"fmt"
	"math"
	"time"

	"golang.org/x/sync/singleflight"

	"clawbounty.market/internal/core/domain"
	"clawbounty.market/internal/core/logger"
	"clawbounty.market/internal/core/metrics"
	"clawbounty.market/internal/core/ports"
	"clawbounty.market/internal/core/registry"
	"clawbounty.market/internal/core/tracing"
)

const (
	DefaultAgentPageSize = 100
	MaxAgentPageSize     = 500
	DefaultSearchLimit   = 20
	MaxSearchLimit       = 100
	MinSearchQuery       = 2

	// StaleAfter is the cache age past which the registry is reported stale.
	StaleAfter = 30 * time.Minute
)

// Agent listing categories.
const (
	AgentCategoryProducts = "products"
	AgentCategoryServices = "services"
)

type AgentListFilter struct {
	Category   string
	OnlineOnly bool
	Page       int
	Limit      int
}

type AgentPage struct {
	Agents          []domain.Agent `json:"agents"`
	Total           int            `json:"total"`
	TotalInRegistry int            `json:"total_in_registry"`
	LastUpdated     *time.Time     `json:"last_updated"`
	Page            int            `json:"page"`
	PerPage         int            `json:"per_page"`
	TotalPages      int            `json:"total_pages"`
	HasNext         bool           `json:"has_next"`
}

// ACPAgent is the short form of a registry agent returned by ACP checks.
type ACPAgent struct {
	WalletAddress string   `json:"wallet_address"`
	Name          string   `json:"name"`
	Description   string   `json:"description"`
	JobOfferings  []string `json:"job_offerings"`
}

type ACPSearchResult struct {
	Found   bool       `json:"found"`
	Agents  []ACPAgent `json:"agents"`
	Message string     `json:"message"`
}

// RegistryService is the read and refresh surface over the registry cache,
// its search index and the upstream fetcher.
type RegistryService struct {
	fetcher     *registry.Fetcher
	cache       *registry.Cache
	index       *registry.Index
	categorizer registry.Categorizer
	invalidator ports.ListingInvalidator
	now         func() time.Time

	group singleflight.Group
}

type RegistryOption func(*RegistryService)

func WithCategorizer(c registry.Categorizer) RegistryOption {
	return func(s *RegistryService) { s.categorizer = c }
}

func WithRegistryInvalidator(inv ports.ListingInvalidator) RegistryOption {
	return func(s *RegistryService) { s.invalidator = inv }
}

func WithRegistryClock(now func() time.Time) RegistryOption {
	return func(s *RegistryService) { s.now = now }
}

func NewRegistryService(fetcher *registry.Fetcher, cache *registry.Cache, index *registry.Index, opts ...RegistryOption) *RegistryService {
	s := &RegistryService{
		fetcher:     fetcher,
		cache:       cache,
		index:       index,
		categorizer: registry.NewKeywordCategorizer(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Snapshot returns the cached snapshot without touching the network.
func (s *RegistryService) Snapshot() *domain.Snapshot {
	return s.cache.Get()
}

// Warm loads the persisted snapshot and indexes it.
func (s *RegistryService) Warm(ctx context.Context) {
	_ = s.cache.Load(ctx)
	s.index.Rebuild(s.cache.Get())
}

// GetOrRefresh returns the cached snapshot, refreshing first when it is empty.
func (s *RegistryService) GetOrRefresh(ctx context.Context) *domain.Snapshot {
	if snap := s.cache.Get(); !snap.Empty() {
		return snap
	}
	snap, err := s.Refresh(ctx)
	if err != nil {
		logger.WarnContext(ctx, "Registry refresh on empty cache failed", "error", err)
	}
	return snap
}

// Refresh crawls the registry and replaces the snapshot. Concurrent callers
// share one crawl. An empty crawl never replaces a populated snapshot, and a
// crawl served from the breaker's cached data is not written back.
func (s *RegistryService) Refresh(ctx context.Context) (*domain.Snapshot, error) {
	v, err, _ := s.group.Do("refresh", func() (any, error) {
		return s.refresh(context.WithoutCancel(ctx))
	})
	snap, _ := v.(*domain.Snapshot)
	if snap == nil {
		snap = s.cache.Get()
	}
	return snap, err
}

func (s *RegistryService) refresh(ctx context.Context) (*domain.Snapshot, error) {
	ctx, span := tracing.StartSpan(ctx, "registry.Refresh")
	defer span.End()

	start := s.now()
	current := s.cache.Get()
	res := s.fetcher.FetchAll(ctx, current)

	switch {
	case res.FromCache:
		metrics.RecordRefresh("cached", time.Since(start))
		return current, nil
	case len(res.Agents) == 0:
		metrics.RecordRefresh("empty", time.Since(start))
		logger.WarnContext(ctx, "Registry returned no agents, keeping cached data", "errors", res.Errors)
		return current, fmt.Errorf("%w: registry returned no agents", domain.ErrUpstreamUnavailable)
	}

	snap, err := s.cache.Update(ctx, res.Agents, res.LastUpdated, res.Errors)
	s.index.Rebuild(snap)
	if s.invalidator != nil {
		s.invalidator.InvalidateListings()
	}
	if err != nil {
		logger.ErrorContext(ctx, "Failed to persist registry cache", "error", err)
	}
	metrics.RecordRefresh("ok", time.Since(start))
	logger.InfoContext(ctx, "Registry refreshed", "agents", len(snap.Agents), "total_from_api", res.TotalFromAPI,
		"page_errors", len(res.Errors))
	return snap, nil
}

// Search returns agents matching every term of query.
func (s *RegistryService) Search(ctx context.Context, query string, limit int) ([]domain.Agent, error) {
	if len([]rune(query)) < MinSearchQuery {
		return nil, fmt.Errorf("%w: q must be at least %d characters", domain.ErrInvalidInput, MinSearchQuery)
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	if limit > MaxSearchLimit {
		limit = MaxSearchLimit
	}
	snap := s.GetOrRefresh(ctx)
	results := s.index.Search(snap, query)
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (s *RegistryService) Categorize(ctx context.Context) registry.Partition {
	return s.categorizer.Categorize(s.GetOrRefresh(ctx).Agents)
}

// ListAgents pages through the cached agents, optionally narrowed to products
// or services and to online agents.
func (s *RegistryService) ListAgents(ctx context.Context, f AgentListFilter) (*AgentPage, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit <= 0 {
		f.Limit = DefaultAgentPageSize
	}
	if f.Limit > MaxAgentPageSize {
		return nil, fmt.Errorf("%w: limit must be at most %d", domain.ErrInvalidInput, MaxAgentPageSize)
	}

	snap := s.GetOrRefresh(ctx)
	agents := snap.Agents
	switch f.Category {
	case "":
	case AgentCategoryProducts:
		agents = s.categorizer.Categorize(agents).Products
	case AgentCategoryServices:
		agents = s.categorizer.Categorize(agents).Services
	default:
		return nil, fmt.Errorf("%w: category must be %s or %s", domain.ErrInvalidInput, AgentCategoryProducts, AgentCategoryServices)
	}
	if f.OnlineOnly {
		online := make([]domain.Agent, 0, len(agents))
		for _, a := range agents {
			if a.Status.Online {
				online = append(online, a)
			}
		}
		agents = online
	}

	total := len(agents)
	totalPages := max(1, int(math.Ceil(float64(total)/float64(f.Limit))))
	start := min((f.Page-1)*f.Limit, total)
	end := min(start+f.Limit, total)

	return &AgentPage{
		Agents:          append([]domain.Agent{}, agents[start:end]...),
		Total:           total,
		TotalInRegistry: len(snap.Agents),
		LastUpdated:     snap.LastUpdated,
		Page:            f.Page,
		PerPage:         f.Limit,
		TotalPages:      totalPages,
		HasNext:         f.Page < totalPages,
	}, nil
}

// CheckACP searches the registry for agents that could serve query.
func (s *RegistryService) CheckACP(ctx context.Context, query string) ACPSearchResult {
	results := s.index.Search(s.GetOrRefresh(ctx), query)
	if len(results) == 0 {
		return ACPSearchResult{Found: false, Agents: []ACPAgent{}, Message: "No matching services found on ACP"}
	}
	agents := make([]ACPAgent, 0, len(results))
	for _, a := range results {
		offerings := make([]string, 0, len(a.JobOfferings))
		for _, o := range a.JobOfferings {
			offerings = append(offerings, o.Name)
		}
		agents = append(agents, ACPAgent{
			WalletAddress: a.WalletAddress,
			Name:          a.Name,
			Description:   a.Description,
			JobOfferings:  offerings,
		})
	}
	return ACPSearchResult{
		Found:   true,
		Agents:  agents,
		Message: fmt.Sprintf("Found %d matching service(s) on ACP", len(agents)),
	}
}

func (s *RegistryService) AgentByWallet(ctx context.Context, wallet string) (*domain.Agent, error) {
	a, ok := registry.AgentByWallet(s.GetOrRefresh(ctx), wallet)
	if !ok {
		return nil, fmt.Errorf("agent %s: %w", wallet, domain.ErrNotFound)
	}
	return a, nil
}

// Freshness reports the cache state: "empty", "fresh" or "stale", with the
// age in minutes when known.
func (s *RegistryService) Freshness() (string, float64) {
	snap := s.cache.Get()
	age, ok := snap.Age(s.now())
	if snap.Empty() || !ok {
		return "empty", 0
	}
	minutes := math.Round(age.Minutes()*10) / 10
	if age > StaleAfter {
		return "stale", minutes
	}
	return "fresh", minutes
}
