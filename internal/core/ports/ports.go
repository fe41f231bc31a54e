package ports

import (
	"context"
	"time"

	"clawbounty.market/internal/core/domain"
)

type BountyRepository interface {
	CreateBounty(ctx context.Context, bounty *domain.Bounty) error
	GetBounty(ctx context.Context, id string) (*domain.Bounty, error)
	ListBounties(ctx context.Context, filter domain.BountyFilter) ([]*domain.Bounty, int64, error)
	ListOpenBountiesByCategory(ctx context.Context, category domain.Category) ([]*domain.Bounty, error)
	// TransitionBounty persists bounty only if its stored status is one of
	// from, returning domain.ErrInvalidState otherwise.
	TransitionBounty(ctx context.Context, bounty *domain.Bounty, from ...domain.BountyStatus) error
	ListExpiredBounties(ctx context.Context, now time.Time) ([]*domain.Bounty, error)
	CountBountiesSince(ctx context.Context, posterName string, since time.Time) (int64, error)
	CountBountiesByStatus(ctx context.Context) (map[domain.BountyStatus]int64, error)
}

type ServiceRepository interface {
	CreateService(ctx context.Context, service *domain.Service) error
	GetService(ctx context.Context, id string) (*domain.Service, error)
	UpdateService(ctx context.Context, service *domain.Service) error
	ListServices(ctx context.Context, filter domain.ServiceFilter) ([]*domain.Service, int64, error)
	CountActiveServices(ctx context.Context) (int64, error)
}

// Pinger is anything the health check can probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Notifier delivers webhook payloads out of band. Notify never blocks on the
// network and never fails the caller.
type Notifier interface {
	Notify(ctx context.Context, url string, payload domain.WebhookPayload)
}

type EventBus interface {
	PublishEvent(ctx context.Context, event domain.Event) error
	SubscribeEvents(ctx context.Context) (<-chan domain.Event, error)
}

type DeadLetterStore interface {
	Add(ctx context.Context, letter *domain.DeadLetter) error
	List(ctx context.Context, offset, limit int64) ([]*domain.DeadLetter, error)
	Count(ctx context.Context) (int64, error)
}

type SnapshotStore interface {
	Load(ctx context.Context) (*domain.Snapshot, error)
	Save(ctx context.Context, snap *domain.Snapshot) error
}

// ListingInvalidator drops any cached rendering of public listings.
type ListingInvalidator interface {
	InvalidateListings()
}
