package services

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clawbounty.market/internal/adapters/repository/memory"
	"clawbounty.market/internal/core/credential"
	"clawbounty.market/internal/core/domain"
)

type listingFixture struct {
	bounties *BountyService
	listings *ListingService
	repo     *memory.Repository
	notifier *recordingNotifier
	bus      *recordingBus
}

func newListingFixture(opts ...ListingOption) *listingFixture {
	f := &listingFixture{
		repo:     memory.NewRepository(),
		notifier: &recordingNotifier{},
		bus:      &recordingBus{},
	}
	f.bounties = NewBountyService(f.repo, f.notifier, WithPostLimit(0))
	opts = append([]ListingOption{WithListingEventBus(f.bus)}, opts...)
	f.listings = NewListingService(f.repo, f.repo, f.notifier, opts...)
	return f
}

func validService() CreateServiceInput {
	return CreateServiceInput{
		AgentName:      "pixelbot",
		Name:           "Brand kits",
		Description:    "Logos and brand identity for agents",
		Price:          50,
		Category:       domain.CategoryDigital,
		Tags:           strPtr("logo, branding"),
		ACPAgentWallet: strPtr("0xabc"),
		ACPJobOffering: strPtr("brand_kit"),
	}
}

func TestAutoMatchOnCreate(t *testing.T) {
	f := newListingFixture()
	ctx := context.Background()
	b, _, err := f.bounties.Create(ctx, validBounty())
	require.NoError(t, err)

	svc, secret, err := f.listings.Create(ctx, validService())
	require.NoError(t, err)
	assert.True(t, svc.IsActive)
	assert.True(t, credential.Verify(secret, svc.AgentSecretHash))

	got, err := f.bounties.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BountyStatusMatched, got.Status)
	require.NotNil(t, got.MatchedServiceID)
	assert.Equal(t, svc.ID, *got.MatchedServiceID)
	assert.Equal(t, "0xabc", *got.MatchedACPAgent)
	assert.Equal(t, "brand_kit", *got.MatchedACPJob)
	assert.NotNil(t, got.MatchedAt)

	assert.Equal(t, []string{"https://poster.example.com/hook"}, f.notifier.urls(domain.EventBountyMatched))
	assert.Contains(t, f.bus.types(), domain.EventBountyMatched)
}

func TestCreateWithoutACPSkipsAutoMatch(t *testing.T) {
	f := newListingFixture()
	ctx := context.Background()
	b, _, err := f.bounties.Create(ctx, validBounty())
	require.NoError(t, err)

	in := validService()
	in.ACPJobOffering = nil
	_, _, err = f.listings.Create(ctx, in)
	require.NoError(t, err)

	got, err := f.bounties.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BountyStatusOpen, got.Status)
}

func TestAutoMatchScope(t *testing.T) {
	f := newListingFixture()
	ctx := context.Background()

	physical := validBounty()
	physical.Category = domain.CategoryPhysical
	other, _, err := f.bounties.Create(ctx, physical)
	require.NoError(t, err)

	unrelated := validBounty()
	unrelated.Title = "Write tests"
	unrelated.Description = "Unit coverage for a parser"
	unrelated.Tags = strPtr("go,testing")
	miss, _, err := f.bounties.Create(ctx, unrelated)
	require.NoError(t, err)

	claimedIn := validBounty()
	claimed, _, err := f.bounties.Create(ctx, claimedIn)
	require.NoError(t, err)
	_, _, err = f.bounties.Claim(ctx, claimed.ID, ClaimInput{ClaimerName: "bob"})
	require.NoError(t, err)

	hit, _, err := f.bounties.Create(ctx, validBounty())
	require.NoError(t, err)

	svc, _, err := f.listings.Create(ctx, validService())
	require.NoError(t, err)

	for id, want := range map[string]domain.BountyStatus{
		other.ID:   domain.BountyStatusOpen,
		miss.ID:    domain.BountyStatusOpen,
		claimed.ID: domain.BountyStatusClaimed,
		hit.ID:     domain.BountyStatusMatched,
	} {
		got, err := f.bounties.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, got.Status, id)
	}

	again, err := f.listings.AutoMatch(ctx, svc)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestAutoMatchMultipleBounties(t *testing.T) {
	f := newListingFixture()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, _, err := f.bounties.Create(ctx, validBounty())
		require.NoError(t, err)
	}
	svc, _, err := f.listings.Create(ctx, func() CreateServiceInput {
		in := validService()
		in.ACPAgentWallet = nil
		return in
	}())
	require.NoError(t, err)

	matched, err := f.listings.AutoMatch(ctx, svc)
	require.NoError(t, err)
	assert.Len(t, matched, 3)
	for _, b := range matched {
		assert.Nil(t, b.MatchedACPAgent)
		assert.Equal(t, svc.ID, *b.MatchedServiceID)
	}
}

func TestCustomMatcher(t *testing.T) {
	f := newListingFixture(WithMatcher(MatcherFunc(func(*domain.Service, *domain.Bounty) bool { return false })))
	ctx := context.Background()
	b, _, err := f.bounties.Create(ctx, validBounty())
	require.NoError(t, err)
	_, _, err = f.listings.Create(ctx, validService())
	require.NoError(t, err)

	got, err := f.bounties.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BountyStatusOpen, got.Status)
}

func TestCreateServiceValidation(t *testing.T) {
	f := newListingFixture()
	tests := map[string]func(*CreateServiceInput){
		"zero price":      func(in *CreateServiceInput) { in.Price = 0 },
		"price too large": func(in *CreateServiceInput) { in.Price = 2_000_000 },
		"empty name":      func(in *CreateServiceInput) { in.Name = "" },
		"empty agent":     func(in *CreateServiceInput) { in.AgentName = "" },
		"bad category":    func(in *CreateServiceInput) { in.Category = "food" },
		"long wallet":     func(in *CreateServiceInput) { in.ACPAgentWallet = strPtr("0x" + strings.Repeat("a", 60)) },
	}
	for name, mut := range tests {
		t.Run(name, func(t *testing.T) {
			in := validService()
			mut(&in)
			_, _, err := f.listings.Create(context.Background(), in)
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
		})
	}
}

func TestUpdateService(t *testing.T) {
	f := newListingFixture()
	ctx := context.Background()
	svc, secret, err := f.listings.Create(ctx, validService())
	require.NoError(t, err)

	_, err = f.listings.Update(ctx, svc.ID, "wrong", domain.ServicePatch{Name: strPtr("x")})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	price := 75.0
	updated, err := f.listings.Update(ctx, svc.ID, secret, domain.ServicePatch{Price: &price, Location: strPtr("Berlin")})
	require.NoError(t, err)
	assert.Equal(t, 75.0, updated.Price)
	assert.Equal(t, "Berlin", *updated.Location)
	assert.Equal(t, "Brand kits", updated.Name, "unset fields are untouched")

	bad := -1.0
	_, err = f.listings.Update(ctx, svc.ID, secret, domain.ServicePatch{Price: &bad})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	stored, err := f.listings.Get(ctx, svc.ID)
	require.NoError(t, err)
	assert.Equal(t, 75.0, stored.Price, "rejected patch is not stored")
}

func TestDeactivateService(t *testing.T) {
	f := newListingFixture()
	ctx := context.Background()
	svc, secret, err := f.listings.Create(ctx, validService())
	require.NoError(t, err)

	assert.ErrorIs(t, f.listings.Deactivate(ctx, svc.ID, "wrong"), domain.ErrForbidden)
	require.NoError(t, f.listings.Deactivate(ctx, svc.ID, secret))

	_, err = f.listings.Get(ctx, svc.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	raw, err := f.repo.GetService(ctx, svc.ID)
	require.NoError(t, err, "services are never deleted")
	assert.False(t, raw.IsActive)

	page, err := f.listings.List(ctx, domain.ServiceFilter{})
	require.NoError(t, err)
	assert.Zero(t, page.Total)
}

func TestListServices(t *testing.T) {
	f := newListingFixture()
	ctx := context.Background()
	_, _, err := f.listings.Create(ctx, validService())
	require.NoError(t, err)
	plain := validService()
	plain.ACPAgentWallet = nil
	plain.ACPJobOffering = nil
	_, _, err = f.listings.Create(ctx, plain)
	require.NoError(t, err)

	all, err := f.listings.List(ctx, domain.ServiceFilter{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, all.Total)

	acp, err := f.listings.List(ctx, domain.ServiceFilter{ACPOnly: true})
	require.NoError(t, err)
	assert.EqualValues(t, 1, acp.Total)
}
