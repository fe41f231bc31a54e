package registry

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"clawbounty.market/internal/core/domain"
	"clawbounty.market/internal/core/logger"
	"clawbounty.market/internal/core/metrics"
	"clawbounty.market/internal/core/ports"
)

// Cache holds the current registry snapshot. Readers never block; Update
// publishes a new snapshot with a single pointer swap.
type Cache struct {
	current atomic.Pointer[domain.Snapshot]
	store   ports.SnapshotStore
}

// NewCache returns an empty cache. store may be nil for a memory-only cache.
func NewCache(store ports.SnapshotStore) *Cache {
	c := &Cache{store: store}
	c.current.Store(&domain.Snapshot{Agents: []domain.Agent{}})
	return c
}

// Get returns the current snapshot, never nil. Callers must not mutate it.
func (c *Cache) Get() *domain.Snapshot {
	return c.current.Load()
}

// Load restores the persisted snapshot. A missing or unreadable file leaves
// the cache empty; the returned error is informational.
func (c *Cache) Load(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	snap, err := c.store.Load(ctx)
	if err != nil {
		logger.WarnContext(ctx, "Failed to load registry cache", "error", err)
		return err
	}
	if snap.Empty() {
		return nil
	}
	snap.TotalCount = len(snap.Agents)
	c.current.Store(snap)
	metrics.SetRegistryAgents(len(snap.Agents))
	logger.InfoContext(ctx, "Loaded registry cache", "agents", len(snap.Agents))
	return nil
}

// Update replaces the snapshot and persists it. The in-memory swap happens
// even if persisting fails; the error is returned so the caller can log it.
func (c *Cache) Update(ctx context.Context, agents []domain.Agent, lastUpdated *time.Time, errs []string) (*domain.Snapshot, error) {
	if agents == nil {
		agents = []domain.Agent{}
	}
	snap := &domain.Snapshot{
		Agents:      agents,
		LastUpdated: lastUpdated,
		Error:       errs,
		TotalCount:  len(agents),
	}
	c.current.Store(snap)
	metrics.SetRegistryAgents(len(agents))

	if c.store == nil {
		return snap, nil
	}
	if err := c.store.Save(ctx, snap); err != nil {
		return snap, fmt.Errorf("persist registry snapshot: %w", err)
	}
	return snap, nil
}
