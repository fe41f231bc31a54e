// Package memory is an in-process implementation of the repository ports.
// It backs STORE=memory deployments and the service tests.
package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"clawbounty.market/internal/core/domain"
)

type Repository struct {
	mu       sync.RWMutex
	bounties map[string]*domain.Bounty
	services map[string]*domain.Service
	now      func() time.Time
}

func NewRepository() *Repository {
	return &Repository{
		bounties: make(map[string]*domain.Bounty),
		services: make(map[string]*domain.Service),
		now:      time.Now,
	}
}

func (r *Repository) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (r *Repository) CreateBounty(ctx context.Context, bounty *domain.Bounty) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.bounties[bounty.ID]; ok {
		return fmt.Errorf("bounty %s already exists", bounty.ID)
	}
	now := r.now()
	if bounty.CreatedAt.IsZero() {
		bounty.CreatedAt = now
	}
	bounty.UpdatedAt = now
	cp := *bounty
	r.bounties[bounty.ID] = &cp
	return nil
}

func (r *Repository) GetBounty(ctx context.Context, id string) (*domain.Bounty, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.bounties[id]
	if !ok {
		return nil, fmt.Errorf("bounty %s: %w", id, domain.ErrNotFound)
	}
	cp := *b
	return &cp, nil
}

func (r *Repository) ListBounties(ctx context.Context, f domain.BountyFilter) ([]*domain.Bounty, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	search := strings.ToLower(f.Search)
	var matched []*domain.Bounty
	for _, b := range r.bounties {
		if f.Status != "" && b.Status != f.Status {
			continue
		}
		if f.Category != "" && b.Category != f.Category {
			continue
		}
		if f.MinBudget > 0 && b.Budget < f.MinBudget {
			continue
		}
		if f.MaxBudget > 0 && b.Budget > f.MaxBudget {
			continue
		}
		if search != "" && !containsAny(search, b.Title, b.Description, deref(b.Tags)) {
			continue
		}
		cp := *b
		matched = append(matched, &cp)
	}
	sortNewestFirst(matched, func(b *domain.Bounty) (time.Time, string) { return b.CreatedAt, b.ID })
	return page(matched, f.Offset, f.Limit), int64(len(matched)), nil
}

func (r *Repository) ListOpenBountiesByCategory(ctx context.Context, category domain.Category) ([]*domain.Bounty, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.Bounty
	for _, b := range r.bounties {
		if b.Status == domain.BountyStatusOpen && b.Category == category {
			cp := *b
			out = append(out, &cp)
		}
	}
	slices.SortFunc(out, func(a, b *domain.Bounty) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (r *Repository) TransitionBounty(ctx context.Context, bounty *domain.Bounty, from ...domain.BountyStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.bounties[bounty.ID]
	if !ok {
		return fmt.Errorf("bounty %s: %w", bounty.ID, domain.ErrNotFound)
	}
	if !slices.Contains(from, cur.Status) {
		return fmt.Errorf("bounty %s is no longer %v: %w", bounty.ID, from, domain.ErrInvalidState)
	}
	cp := *bounty
	cp.CreatedAt = cur.CreatedAt
	cp.UpdatedAt = r.now()
	r.bounties[bounty.ID] = &cp
	bounty.UpdatedAt = cp.UpdatedAt
	return nil
}

func (r *Repository) ListExpiredBounties(ctx context.Context, now time.Time) ([]*domain.Bounty, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.Bounty
	for _, b := range r.bounties {
		if (b.Status == domain.BountyStatusOpen || b.Status == domain.BountyStatusClaimed) && b.Expired(now) {
			cp := *b
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *Repository) CountBountiesSince(ctx context.Context, posterName string, since time.Time) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var n int64
	for _, b := range r.bounties {
		if b.PosterName == posterName && !b.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (r *Repository) CountBountiesByStatus(ctx context.Context) (map[domain.BountyStatus]int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[domain.BountyStatus]int64)
	for _, b := range r.bounties {
		counts[b.Status]++
	}
	return counts, nil
}

func (r *Repository) CreateService(ctx context.Context, service *domain.Service) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.services[service.ID]; ok {
		return fmt.Errorf("service %s already exists", service.ID)
	}
	now := r.now()
	if service.CreatedAt.IsZero() {
		service.CreatedAt = now
	}
	service.UpdatedAt = now
	cp := *service
	r.services[service.ID] = &cp
	return nil
}

func (r *Repository) GetService(ctx context.Context, id string) (*domain.Service, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.services[id]
	if !ok {
		return nil, fmt.Errorf("service %s: %w", id, domain.ErrNotFound)
	}
	cp := *s
	return &cp, nil
}

func (r *Repository) UpdateService(ctx context.Context, service *domain.Service) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.services[service.ID]
	if !ok {
		return fmt.Errorf("service %s: %w", service.ID, domain.ErrNotFound)
	}
	service.CreatedAt = cur.CreatedAt
	service.UpdatedAt = r.now()
	cp := *service
	r.services[service.ID] = &cp
	return nil
}

func (r *Repository) ListServices(ctx context.Context, f domain.ServiceFilter) ([]*domain.Service, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	search := strings.ToLower(f.Search)
	location := strings.ToLower(f.Location)
	var matched []*domain.Service
	for _, s := range r.services {
		if !s.IsActive {
			continue
		}
		if f.Category != "" && s.Category != f.Category {
			continue
		}
		if f.MinPrice > 0 && s.Price < f.MinPrice {
			continue
		}
		if f.MaxPrice > 0 && s.Price > f.MaxPrice {
			continue
		}
		if location != "" && !containsAny(location, deref(s.Location)) {
			continue
		}
		if f.ShippingAvailable != nil && s.ShippingAvailable != *f.ShippingAvailable {
			continue
		}
		if f.ACPOnly && deref(s.ACPAgentWallet) == "" {
			continue
		}
		if search != "" && !containsAny(search, s.Name, s.Description, deref(s.Tags)) {
			continue
		}
		cp := *s
		matched = append(matched, &cp)
	}
	sortNewestFirst(matched, func(s *domain.Service) (time.Time, string) { return s.CreatedAt, s.ID })
	return page(matched, f.Offset, f.Limit), int64(len(matched)), nil
}

func (r *Repository) CountActiveServices(ctx context.Context) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var n int64
	for _, s := range r.services {
		if s.IsActive {
			n++
		}
	}
	return n, nil
}

func containsAny(needle string, fields ...string) bool {
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), needle) {
			return true
		}
	}
	return false
}

func sortNewestFirst[T any](items []T, key func(T) (time.Time, string)) {
	slices.SortFunc(items, func(a, b T) int {
		ta, ia := key(a)
		tb, ib := key(b)
		if c := tb.Compare(ta); c != 0 {
			return c
		}
		return strings.Compare(ib, ia)
	})
}

func page[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[max(offset, 0):]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
