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
	"clawbounty.market/internal/core/urlguard"
)

const (
	DefaultPageLimit = 50
	MaxPageLimit     = 100

	// DefaultPostLimit bounties per poster within PostLimitWindow.
	DefaultPostLimit = 5
	PostLimitWindow  = time.Hour
)

type CreateBountyInput struct {
	PosterName        string
	Title             string
	Description       string
	Budget            float64
	Category          domain.Category
	Requirements      *string
	Tags              *string
	PosterCallbackURL *string
	SetExpiry         bool
}

type ClaimInput struct {
	ClaimerName        string
	ClaimerCallbackURL *string
}

type MatchInput struct {
	PosterSecret   string
	ServiceID      *string
	ACPAgentWallet string
	ACPJobOffering string
}

// PaginatedBounties represents a paginated list of bounties with metadata
type PaginatedBounties struct {
	Bounties []*domain.Bounty `json:"bounties"`
	Total    int64            `json:"total"`
	Offset   int              `json:"offset"`
	Limit    int              `json:"limit"`
	HasMore  bool             `json:"has_more"`
}

type BountyStats struct {
	Total     int64 `json:"total"`
	Open      int64 `json:"open"`
	Claimed   int64 `json:"claimed"`
	Matched   int64 `json:"matched"`
	Fulfilled int64 `json:"fulfilled"`
	Cancelled int64 `json:"cancelled"`
}

type BountyService struct {
	repo        ports.BountyRepository
	notifier    ports.Notifier
	bus         ports.EventBus
	invalidator ports.ListingInvalidator
	now         func() time.Time
	postLimit   int
}

type BountyOption func(*BountyService)

func WithEventBus(bus ports.EventBus) BountyOption {
	return func(s *BountyService) { s.bus = bus }
}

func WithListingInvalidator(inv ports.ListingInvalidator) BountyOption {
	return func(s *BountyService) { s.invalidator = inv }
}

func WithBountyClock(now func() time.Time) BountyOption {
	return func(s *BountyService) { s.now = now }
}

// WithPostLimit caps bounties per poster per hour; zero or less disables it.
func WithPostLimit(n int) BountyOption {
	return func(s *BountyService) { s.postLimit = n }
}

func NewBountyService(repo ports.BountyRepository, notifier ports.Notifier, opts ...BountyOption) *BountyService {
	s := &BountyService{
		repo:      repo,
		notifier:  notifier,
		now:       time.Now,
		postLimit: DefaultPostLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func validateBounty(b *domain.Bounty) error {
	return errors.Join(
		domain.CheckLength("poster_name", b.PosterName, 1, domain.MaxNameLength),
		domain.CheckLength("title", b.Title, domain.MinTitleLength, domain.MaxTitleLength),
		domain.CheckLength("description", b.Description, domain.MinDescriptionLength, domain.MaxDescriptionLength),
		domain.CheckOptional("requirements", b.Requirements, domain.MaxRequirementsLength),
		domain.CheckOptional("tags", b.Tags, domain.MaxTagLength),
		domain.CheckOptional("poster_callback_url", b.PosterCallbackURL, domain.MaxURLLength),
		domain.CheckAmount("budget", b.Budget, domain.MaxBudget),
		domain.CheckCategory(b.Category),
	)
}

// Create validates and stores a new open bounty. The returned string is the
// poster secret; it is not recoverable afterwards.
func (s *BountyService) Create(ctx context.Context, in CreateBountyInput) (*domain.Bounty, string, error) {
	if in.Category == "" {
		in.Category = domain.CategoryDigital
	}
	b := &domain.Bounty{
		ID:                uuid.NewString(),
		PosterName:        domain.Sanitize(in.PosterName),
		PosterCallbackURL: domain.StringPtr(deref(in.PosterCallbackURL)),
		Title:             domain.Sanitize(in.Title),
		Description:       domain.Sanitize(in.Description),
		Requirements:      domain.SanitizePtr(in.Requirements),
		Budget:            in.Budget,
		Category:          in.Category,
		Tags:              domain.SanitizePtr(in.Tags),
		Status:            domain.BountyStatusOpen,
	}
	if err := validateBounty(b); err != nil {
		return nil, "", err
	}
	if err := urlguard.ValidatePtr(b.PosterCallbackURL); err != nil {
		return nil, "", err
	}

	now := s.now()
	if s.postLimit > 0 {
		recent, err := s.repo.CountBountiesSince(ctx, b.PosterName, now.Add(-PostLimitWindow))
		if err != nil {
			return nil, "", err
		}
		if recent >= int64(s.postLimit) {
			return nil, "", fmt.Errorf("%w: %s has created %d bounties in the last hour, max %d per hour",
				domain.ErrRateLimited, b.PosterName, recent, s.postLimit)
		}
	}

	cred, err := credential.Generate()
	if err != nil {
		return nil, "", err
	}
	b.PosterSecretHash = cred.Hash
	b.CreatedAt = now
	b.UpdatedAt = now
	if in.SetExpiry {
		b.ExpiresAt = domain.TimePtr(now.Add(domain.BountyExpiry))
	}

	if err := s.repo.CreateBounty(ctx, b); err != nil {
		return nil, "", fmt.Errorf("create bounty: %w", err)
	}

	logger.InfoContext(ctx, "Bounty created", "bounty_id", b.ID, "poster", b.PosterName, "budget", b.Budget)
	metrics.RecordTransition(string(b.Status))
	if s.invalidator != nil {
		s.invalidator.InvalidateListings()
	}
	s.publish(ctx, domain.EventBountyCreated, b)
	return b, cred.Plaintext, nil
}

func (s *BountyService) Get(ctx context.Context, id string) (*domain.Bounty, error) {
	return s.repo.GetBounty(ctx, id)
}

func normalizePage(offset, limit int) (int, int) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	return offset, limit
}

func (s *BountyService) List(ctx context.Context, filter domain.BountyFilter) (*PaginatedBounties, error) {
	filter.Offset, filter.Limit = normalizePage(filter.Offset, filter.Limit)
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidInput, filter.Status)
	}
	if filter.Category != "" {
		if err := domain.CheckCategory(filter.Category); err != nil {
			return nil, err
		}
	}

	bounties, total, err := s.repo.ListBounties(ctx, filter)
	if err != nil {
		return nil, err
	}
	if bounties == nil {
		bounties = []*domain.Bounty{}
	}
	return &PaginatedBounties{
		Bounties: bounties,
		Total:    total,
		Offset:   filter.Offset,
		Limit:    filter.Limit,
		HasMore:  filter.Offset+len(bounties) < int(total),
	}, nil
}

func (s *BountyService) ListOpen(ctx context.Context, offset, limit int) (*PaginatedBounties, error) {
	return s.List(ctx, domain.BountyFilter{Status: domain.BountyStatusOpen, Offset: offset, Limit: limit})
}

// Claim moves an open bounty to claimed and returns the claimer secret.
func (s *BountyService) Claim(ctx context.Context, id string, in ClaimInput) (*domain.Bounty, string, error) {
	name := domain.Sanitize(in.ClaimerName)
	callback := domain.StringPtr(deref(in.ClaimerCallbackURL))
	if err := errors.Join(
		domain.CheckLength("claimer_name", name, 1, domain.MaxNameLength),
		domain.CheckOptional("claimer_callback_url", callback, domain.MaxURLLength),
	); err != nil {
		return nil, "", err
	}
	if err := urlguard.ValidatePtr(callback); err != nil {
		return nil, "", err
	}

	b, err := s.repo.GetBounty(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if b.Status != domain.BountyStatusOpen {
		return nil, "", fmt.Errorf("%w: bounty is not available for claiming", domain.ErrInvalidState)
	}

	cred, err := credential.Generate()
	if err != nil {
		return nil, "", err
	}
	now := s.now()
	b.Status = domain.BountyStatusClaimed
	b.ClaimedBy = &name
	b.ClaimerCallbackURL = callback
	b.ClaimerSecretHash = &cred.Hash
	b.ClaimedAt = &now

	if err := s.commit(ctx, b, domain.BountyStatusOpen); err != nil {
		return nil, "", err
	}
	s.dispatch(ctx, domain.EventBountyClaimed, b, b.PosterCallbackURL)
	return b, cred.Plaintext, nil
}

// Unclaim releases a claim, returning the bounty to open.
func (s *BountyService) Unclaim(ctx context.Context, id, claimerSecret string) (*domain.Bounty, error) {
	b, err := s.repo.GetBounty(ctx, id)
	if err != nil {
		return nil, err
	}
	if !credential.VerifyPtr(claimerSecret, b.ClaimerSecretHash) {
		return nil, fmt.Errorf("%w: invalid claimer_secret", domain.ErrForbidden)
	}
	if b.Status != domain.BountyStatusClaimed {
		return nil, fmt.Errorf("%w: bounty is not in claimed status", domain.ErrInvalidState)
	}

	b.Status = domain.BountyStatusOpen
	b.ClearClaim()
	if err := s.commit(ctx, b, domain.BountyStatusClaimed); err != nil {
		return nil, err
	}
	s.dispatch(ctx, domain.EventBountyUnclaimed, b, b.PosterCallbackURL)
	return b, nil
}

// Match records the external agent and job that will serve the bounty.
func (s *BountyService) Match(ctx context.Context, id string, in MatchInput) (*domain.Bounty, error) {
	if err := errors.Join(
		domain.CheckLength("acp_agent_wallet", in.ACPAgentWallet, 1, domain.MaxWalletLength),
		domain.CheckLength("acp_job_offering", in.ACPJobOffering, 1, domain.MaxOfferingLength),
		domain.CheckOptional("service_id", in.ServiceID, domain.MaxJobIDLength),
	); err != nil {
		return nil, err
	}

	b, err := s.repo.GetBounty(ctx, id)
	if err != nil {
		return nil, err
	}
	if !credential.Verify(in.PosterSecret, b.PosterSecretHash) {
		return nil, fmt.Errorf("%w: invalid poster_secret", domain.ErrForbidden)
	}
	if b.Status != domain.BountyStatusOpen && b.Status != domain.BountyStatusClaimed {
		return nil, fmt.Errorf("%w: bounty is not available for matching", domain.ErrInvalidState)
	}

	from := b.Status
	applyMatch(b, in.ServiceID, in.ACPAgentWallet, in.ACPJobOffering, s.now())
	if err := s.commit(ctx, b, from); err != nil {
		return nil, err
	}
	s.dispatch(ctx, domain.EventBountyMatched, b, b.PosterCallbackURL)
	return b, nil
}

func applyMatch(b *domain.Bounty, serviceID *string, wallet, offering string, now time.Time) {
	b.Status = domain.BountyStatusMatched
	b.MatchedServiceID = domain.StringPtr(deref(serviceID))
	b.MatchedACPAgent = domain.StringPtr(wallet)
	b.MatchedACPJob = domain.StringPtr(offering)
	b.MatchedAt = &now
}

// Fulfill closes a claimed or matched bounty. acpJobID is optional.
func (s *BountyService) Fulfill(ctx context.Context, id, posterSecret, acpJobID string) (*domain.Bounty, error) {
	if err := domain.CheckLength("acp_job_id", acpJobID, 0, domain.MaxJobIDLength); err != nil {
		return nil, err
	}

	b, err := s.repo.GetBounty(ctx, id)
	if err != nil {
		return nil, err
	}
	if !credential.Verify(posterSecret, b.PosterSecretHash) {
		return nil, fmt.Errorf("%w: invalid poster_secret", domain.ErrForbidden)
	}
	if b.Status != domain.BountyStatusClaimed && b.Status != domain.BountyStatusMatched {
		return nil, fmt.Errorf("%w: bounty must be claimed or matched before fulfilling", domain.ErrInvalidState)
	}

	from := b.Status
	now := s.now()
	b.Status = domain.BountyStatusFulfilled
	b.FulfilledAt = &now
	b.ACPJobID = nil
	if acpJobID != "" {
		b.ACPJobID = domain.StringPtr(acpJobID)
	}
	if err := s.commit(ctx, b, from); err != nil {
		return nil, err
	}
	s.dispatch(ctx, domain.EventBountyFulfilled, b, b.PosterCallbackURL, b.ClaimerCallbackURL)
	return b, nil
}

// Cancel withdraws a bounty that has not been fulfilled.
func (s *BountyService) Cancel(ctx context.Context, id, posterSecret string) (*domain.Bounty, error) {
	b, err := s.repo.GetBounty(ctx, id)
	if err != nil {
		return nil, err
	}
	if !credential.Verify(posterSecret, b.PosterSecretHash) {
		return nil, fmt.Errorf("%w: invalid poster_secret", domain.ErrForbidden)
	}
	if b.Status.Terminal() {
		return nil, fmt.Errorf("%w: cannot cancel a %s bounty", domain.ErrInvalidState, b.Status)
	}

	from := b.Status
	b.Status = domain.BountyStatusCancelled
	if err := s.commit(ctx, b, from); err != nil {
		return nil, err
	}
	s.dispatch(ctx, domain.EventBountyCancelled, b, b.PosterCallbackURL, b.ClaimerCallbackURL)
	return b, nil
}

// ExpireSweep cancels every open or claimed bounty whose expiry is at or
// before now. Bounties moved by someone else mid-sweep are skipped.
func (s *BountyService) ExpireSweep(ctx context.Context, now time.Time) (int, error) {
	expired, err := s.repo.ListExpiredBounties(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list expired bounties: %w", err)
	}

	n := 0
	for _, b := range expired {
		from := b.Status
		b.Status = domain.BountyStatusCancelled
		if err := s.commit(ctx, b, from); err != nil {
			if errors.Is(err, domain.ErrInvalidState) {
				continue
			}
			return n, err
		}
		logger.InfoContext(ctx, "Auto-cancelled expired bounty", "bounty_id", b.ID, "title", b.Title)
		s.dispatch(ctx, domain.EventBountyExpired, b, b.PosterCallbackURL)
		n++
	}
	if n > 0 {
		logger.InfoContext(ctx, "Expired bounties", "count", n)
		metrics.RecordExpired(n)
	}
	return n, nil
}

func (s *BountyService) Stats(ctx context.Context) (*BountyStats, error) {
	counts, err := s.repo.CountBountiesByStatus(ctx)
	if err != nil {
		return nil, err
	}
	st := &BountyStats{
		Open:      counts[domain.BountyStatusOpen],
		Claimed:   counts[domain.BountyStatusClaimed],
		Matched:   counts[domain.BountyStatusMatched],
		Fulfilled: counts[domain.BountyStatusFulfilled],
		Cancelled: counts[domain.BountyStatusCancelled],
	}
	for _, c := range counts {
		st.Total += c
	}
	return st, nil
}

// commit persists a transition out of from, which must still be the stored status.
func (s *BountyService) commit(ctx context.Context, b *domain.Bounty, from domain.BountyStatus) error {
	if !domain.CanTransition(from, b.Status) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidState, from, b.Status)
	}
	b.UpdatedAt = s.now()
	if err := s.repo.TransitionBounty(ctx, b, from); err != nil {
		return err
	}
	metrics.RecordTransition(string(b.Status))
	logger.InfoContext(ctx, "Bounty transitioned", "bounty_id", b.ID, "from", from, "to", b.Status)
	return nil
}

// dispatch sends event to every non-empty callback and the event bus. It is
// only called after the transition has been committed.
func (s *BountyService) dispatch(ctx context.Context, event string, b *domain.Bounty, callbacks ...*string) {
	if s.notifier != nil {
		payload := domain.WebhookPayload{Event: event, Bounty: b.Notice(), Timestamp: s.now().UTC()}
		for _, url := range callbacks {
			if u := deref(url); u != "" {
				s.notifier.Notify(ctx, u, payload)
			}
		}
	}
	s.publish(ctx, event, b)
}

func (s *BountyService) publish(ctx context.Context, event string, b *domain.Bounty) {
	if s.bus == nil {
		return
	}
	ev := domain.Event{Type: event, BountyID: b.ID, Status: b.Status, At: s.now().UTC()}
	if err := s.bus.PublishEvent(context.WithoutCancel(ctx), ev); err != nil {
		logger.WarnContext(ctx, "Failed to publish bounty event", "event", event, "bounty_id", b.ID, "error", err)
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
