package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"clawbounty.market/internal/core/credential"
	"clawbounty.market/internal/core/domain"
	"clawbounty.market/internal/core/logger"
	"clawbounty.market/internal/core/metrics"
	"clawbounty.market/internal/core/ports"
)

type CreateServiceInput struct {
	AgentName         string
	Name              string
	Description       string
	Price             float64
	Category          domain.Category
	Location          *string
	ShippingAvailable bool
	Tags              *string
	ACPAgentWallet    *string
	ACPJobOffering    *string
}

type PaginatedServices struct {
	Services []*domain.Service `json:"services"`
	Total    int64             `json:"total"`
	Offset   int               `json:"offset"`
	Limit    int               `json:"limit"`
	HasMore  bool              `json:"has_more"`
}

// ListingService manages service listings and matches new listings against
// open bounties.
type ListingService struct {
	services ports.ServiceRepository
	bounties ports.BountyRepository
	notifier ports.Notifier
	bus      ports.EventBus
	matcher  Matcher
	now      func() time.Time
}

type ListingOption func(*ListingService)

func WithMatcher(m Matcher) ListingOption {
	return func(s *ListingService) { s.matcher = m }
}

func WithListingEventBus(bus ports.EventBus) ListingOption {
	return func(s *ListingService) { s.bus = bus }
}

func WithListingClock(now func() time.Time) ListingOption {
	return func(s *ListingService) { s.now = now }
}

func NewListingService(services ports.ServiceRepository, bounties ports.BountyRepository, notifier ports.Notifier, opts ...ListingOption) *ListingService {
	s := &ListingService{
		services: services,
		bounties: bounties,
		notifier: notifier,
		matcher:  NewOverlapMatcher(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func validateService(svc *domain.Service) error {
	return errors.Join(
		domain.CheckLength("agent_name", svc.AgentName, 1, domain.MaxNameLength),
		domain.CheckLength("name", svc.Name, 1, domain.MaxServiceNameLength),
		domain.CheckLength("description", svc.Description, 1, domain.MaxDescriptionLength),
		domain.CheckAmount("price", svc.Price, domain.MaxPrice),
		domain.CheckCategory(svc.Category),
		domain.CheckOptional("location", svc.Location, domain.MaxLocationLength),
		domain.CheckOptional("tags", svc.Tags, domain.MaxTagLength),
		domain.CheckOptional("acp_agent_wallet", svc.ACPAgentWallet, domain.MaxWalletLength),
		domain.CheckOptional("acp_job_offering", svc.ACPJobOffering, domain.MaxOfferingLength),
	)
}

// Create lists a new service and returns it with the agent secret. Listings
// that name an ACP agent and job offering are matched against open bounties
// straight away; matching failures are logged and do not fail the listing.
func (s *ListingService) Create(ctx context.Context, in CreateServiceInput) (*domain.Service, string, error) {
	if in.Category == "" {
		in.Category = domain.CategoryDigital
	}
	svc := &domain.Service{
		ID:                uuid.NewString(),
		AgentName:         domain.Sanitize(in.AgentName),
		Name:              domain.Sanitize(in.Name),
		Description:       domain.Sanitize(in.Description),
		Price:             in.Price,
		Category:          in.Category,
		Location:          domain.SanitizePtr(in.Location),
		ShippingAvailable: in.ShippingAvailable,
		Tags:              domain.SanitizePtr(in.Tags),
		ACPAgentWallet:    domain.StringPtr(deref(in.ACPAgentWallet)),
		ACPJobOffering:    domain.StringPtr(deref(in.ACPJobOffering)),
		IsActive:          true,
	}
	if err := validateService(svc); err != nil {
		return nil, "", err
	}

	cred, err := credential.Generate()
	if err != nil {
		return nil, "", err
	}
	now := s.now()
	svc.AgentSecretHash = cred.Hash
	svc.CreatedAt = now
	svc.UpdatedAt = now

	if err := s.services.CreateService(ctx, svc); err != nil {
		return nil, "", fmt.Errorf("create service: %w", err)
	}
	logger.InfoContext(ctx, "Service listed", "service_id", svc.ID, "agent", svc.AgentName)

	if svc.ACPAgentWallet != nil && svc.ACPJobOffering != nil {
		if _, err := s.AutoMatch(ctx, svc); err != nil {
			logger.WarnContext(ctx, "Auto-match failed", "service_id", svc.ID, "error", err)
		}
	}
	return svc, cred.Plaintext, nil
}

// Get returns an active service.
func (s *ListingService) Get(ctx context.Context, id string) (*domain.Service, error) {
	svc, err := s.services.GetService(ctx, id)
	if err != nil {
		return nil, err
	}
	if !svc.IsActive {
		return nil, fmt.Errorf("service %s: %w", id, domain.ErrNotFound)
	}
	return svc, nil
}

func (s *ListingService) List(ctx context.Context, filter domain.ServiceFilter) (*PaginatedServices, error) {
	filter.Offset, filter.Limit = normalizePage(filter.Offset, filter.Limit)
	if filter.Category != "" {
		if err := domain.CheckCategory(filter.Category); err != nil {
			return nil, err
		}
	}
	list, total, err := s.services.ListServices(ctx, filter)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []*domain.Service{}
	}
	return &PaginatedServices{
		Services: list,
		Total:    total,
		Offset:   filter.Offset,
		Limit:    filter.Limit,
		HasMore:  filter.Offset+len(list) < int(total),
	}, nil
}

// authorize loads an active service and checks the agent secret.
func (s *ListingService) authorize(ctx context.Context, id, agentSecret string) (*domain.Service, error) {
	svc, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !credential.Verify(agentSecret, svc.AgentSecretHash) {
		return nil, fmt.Errorf("%w: invalid agent_secret", domain.ErrForbidden)
	}
	return svc, nil
}

// Update applies the non-nil fields of patch.
func (s *ListingService) Update(ctx context.Context, id, agentSecret string, patch domain.ServicePatch) (*domain.Service, error) {
	svc, err := s.authorize(ctx, id, agentSecret)
	if err != nil {
		return nil, err
	}

	if patch.Name != nil {
		svc.Name = domain.Sanitize(*patch.Name)
	}
	if patch.Description != nil {
		svc.Description = domain.Sanitize(*patch.Description)
	}
	if patch.Price != nil {
		svc.Price = *patch.Price
	}
	if patch.Category != nil {
		svc.Category = *patch.Category
	}
	if patch.Location != nil {
		svc.Location = domain.SanitizePtr(patch.Location)
	}
	if patch.ShippingAvailable != nil {
		svc.ShippingAvailable = *patch.ShippingAvailable
	}
	if patch.Tags != nil {
		svc.Tags = domain.SanitizePtr(patch.Tags)
	}
	if patch.ACPAgentWallet != nil {
		svc.ACPAgentWallet = domain.StringPtr(*patch.ACPAgentWallet)
	}
	if patch.ACPJobOffering != nil {
		svc.ACPJobOffering = domain.StringPtr(*patch.ACPJobOffering)
	}
	if err := validateService(svc); err != nil {
		return nil, err
	}

	svc.UpdatedAt = s.now()
	if err := s.services.UpdateService(ctx, svc); err != nil {
		return nil, err
	}
	return svc, nil
}

// Deactivate hides a service from listings. Services are never deleted.
func (s *ListingService) Deactivate(ctx context.Context, id, agentSecret string) error {
	svc, err := s.authorize(ctx, id, agentSecret)
	if err != nil {
		return err
	}
	svc.IsActive = false
	svc.UpdatedAt = s.now()
	if err := s.services.UpdateService(ctx, svc); err != nil {
		return err
	}
	logger.InfoContext(ctx, "Service deactivated", "service_id", svc.ID)
	return nil
}

// AutoMatch moves every open bounty in the service's category that the
// matcher accepts to matched. Each bounty is transitioned on its own; one
// taken concurrently by another caller is skipped.
func (s *ListingService) AutoMatch(ctx context.Context, svc *domain.Service) ([]*domain.Bounty, error) {
	open, err := s.bounties.ListOpenBountiesByCategory(ctx, svc.Category)
	if err != nil {
		return nil, fmt.Errorf("list open bounties: %w", err)
	}

	matched := []*domain.Bounty{}
	for _, b := range open {
		if !s.matcher.Matches(svc, b) {
			continue
		}
		now := s.now()
		serviceID := svc.ID
		applyMatch(b, &serviceID, deref(svc.ACPAgentWallet), deref(svc.ACPJobOffering), now)
		b.UpdatedAt = now
		if err := s.bounties.TransitionBounty(ctx, b, domain.BountyStatusOpen); err != nil {
			if errors.Is(err, domain.ErrInvalidState) {
				continue
			}
			return matched, err
		}
		metrics.RecordTransition(string(b.Status))
		logger.InfoContext(ctx, "Auto-matched bounty", "bounty_id", b.ID, "service_id", svc.ID)
		s.notifyMatched(ctx, b)
		matched = append(matched, b)
	}
	if len(matched) > 0 {
		metrics.RecordAutoMatch(len(matched))
	}
	return matched, nil
}

func (s *ListingService) notifyMatched(ctx context.Context, b *domain.Bounty) {
	now := s.now().UTC()
	if s.notifier != nil {
		if u := deref(b.PosterCallbackURL); u != "" {
			s.notifier.Notify(ctx, u, domain.WebhookPayload{Event: domain.EventBountyMatched, Bounty: b.Notice(), Timestamp: now})
		}
	}
	if s.bus != nil {
		ev := domain.Event{Type: domain.EventBountyMatched, BountyID: b.ID, Status: b.Status, At: now}
		if err := s.bus.PublishEvent(context.WithoutCancel(ctx), ev); err != nil {
			logger.WarnContext(ctx, "Failed to publish bounty event", "event", ev.Type, "bounty_id", b.ID, "error", err)
		}
	}
}
