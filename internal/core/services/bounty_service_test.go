package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clawbounty.market/internal/adapters/repository/memory"
	"clawbounty.market/internal/core/credential"
	"clawbounty.market/internal/core/domain"
)

type bountyFixture struct {
	svc      *BountyService
	repo     *memory.Repository
	notifier *recordingNotifier
	bus      *recordingBus
	inv      *countingInvalidator
	clock    *fakeClock
}

func newBountyFixture(opts ...BountyOption) *bountyFixture {
	f := &bountyFixture{
		repo:     memory.NewRepository(),
		notifier: &recordingNotifier{},
		bus:      &recordingBus{},
		inv:      &countingInvalidator{},
		clock:    newFakeClock(),
	}
	opts = append([]BountyOption{
		WithEventBus(f.bus),
		WithListingInvalidator(f.inv),
		WithBountyClock(f.clock.Now),
	}, opts...)
	f.svc = NewBountyService(f.repo, f.notifier, opts...)
	return f
}

func validBounty() CreateBountyInput {
	return CreateBountyInput{
		PosterName:        "alice",
		Title:             "Design a logo",
		Description:       "Need a vector logo for a trading bot",
		Budget:            100,
		Category:          domain.CategoryDigital,
		Tags:              strPtr("logo,design"),
		PosterCallbackURL: strPtr("https://poster.example.com/hook"),
		SetExpiry:         true,
	}
}

func (f *bountyFixture) create(t *testing.T, mut func(*CreateBountyInput)) (*domain.Bounty, string) {
	t.Helper()
	in := validBounty()
	if mut != nil {
		mut(&in)
	}
	b, secret, err := f.svc.Create(context.Background(), in)
	require.NoError(t, err)
	return b, secret
}

func TestCreateBounty(t *testing.T) {
	f := newBountyFixture()
	b, secret := f.create(t, func(in *CreateBountyInput) {
		in.Title = "  Design <b>a</b>   logo "
	})

	assert.NotEmpty(t, b.ID)
	assert.Equal(t, domain.BountyStatusOpen, b.Status)
	assert.Equal(t, "Design a logo", b.Title)
	assert.True(t, credential.Verify(secret, b.PosterSecretHash))
	assert.NotContains(t, b.PosterSecretHash, secret)
	require.NotNil(t, b.ExpiresAt)
	assert.Equal(t, f.clock.Now().Add(30*24*time.Hour), *b.ExpiresAt)

	stored, err := f.repo.GetBounty(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, b.PosterSecretHash, stored.PosterSecretHash)

	assert.Equal(t, 1, f.inv.count())
	assert.Equal(t, []string{domain.EventBountyCreated}, f.bus.types())
	assert.Empty(t, f.notifier.sent, "creation does not call webhooks")
}

func TestCreateBountyWithoutExpiry(t *testing.T) {
	f := newBountyFixture()
	b, _ := f.create(t, func(in *CreateBountyInput) { in.SetExpiry = false })
	assert.Nil(t, b.ExpiresAt)
}

func TestCreateBountyValidation(t *testing.T) {
	tests := []struct {
		name string
		mut  func(*CreateBountyInput)
		want error
	}{
		{"zero budget", func(in *CreateBountyInput) { in.Budget = 0 }, domain.ErrInvalidInput},
		{"negative budget", func(in *CreateBountyInput) { in.Budget = -5 }, domain.ErrInvalidInput},
		{"budget too large", func(in *CreateBountyInput) { in.Budget = 1_000_001 }, domain.ErrInvalidInput},
		{"short title", func(in *CreateBountyInput) { in.Title = "ab" }, domain.ErrInvalidInput},
		{"title is only markup", func(in *CreateBountyInput) { in.Title = "<i></i>" }, domain.ErrInvalidInput},
		{"short description", func(in *CreateBountyInput) { in.Description = "short" }, domain.ErrInvalidInput},
		{"missing poster", func(in *CreateBountyInput) { in.PosterName = " " }, domain.ErrInvalidInput},
		{"bad category", func(in *CreateBountyInput) { in.Category = "food" }, domain.ErrInvalidInput},
		{"loopback callback", func(in *CreateBountyInput) { in.PosterCallbackURL = strPtr("http://127.0.0.1/x") }, domain.ErrSSRFRejected},
		{"private callback", func(in *CreateBountyInput) { in.PosterCallbackURL = strPtr("http://10.0.0.1/x") }, domain.ErrSSRFRejected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newBountyFixture()
			in := validBounty()
			tt.mut(&in)
			_, _, err := f.svc.Create(context.Background(), in)
			assert.ErrorIs(t, err, tt.want)

			_, total, err := f.repo.ListBounties(context.Background(), domain.BountyFilter{})
			require.NoError(t, err)
			assert.Zero(t, total)
		})
	}
}

func TestCreateBountyDefaultsCategory(t *testing.T) {
	f := newBountyFixture()
	b, _ := f.create(t, func(in *CreateBountyInput) { in.Category = "" })
	assert.Equal(t, domain.CategoryDigital, b.Category)
}

func TestCreateBountyPerPosterLimit(t *testing.T) {
	f := newBountyFixture()
	for i := 0; i < DefaultPostLimit; i++ {
		f.create(t, nil)
		f.clock.Advance(time.Minute)
	}

	_, _, err := f.svc.Create(context.Background(), validBounty())
	assert.ErrorIs(t, err, domain.ErrRateLimited)

	other := validBounty()
	other.PosterName = "bob"
	_, _, err = f.svc.Create(context.Background(), other)
	assert.NoError(t, err, "cap is per poster")

	f.clock.Advance(time.Hour)
	_, _, err = f.svc.Create(context.Background(), validBounty())
	assert.NoError(t, err, "window rolls")
}

func TestCreateBountyLimitDisabled(t *testing.T) {
	f := newBountyFixture(WithPostLimit(0))
	for i := 0; i < DefaultPostLimit+2; i++ {
		f.create(t, nil)
	}
}

func TestClaimAndUnclaim(t *testing.T) {
	f := newBountyFixture()
	ctx := context.Background()
	b, _ := f.create(t, nil)

	claimed, claimerSecret, err := f.svc.Claim(ctx, b.ID, ClaimInput{
		ClaimerName:        "bob",
		ClaimerCallbackURL: strPtr("https://claimer.example.com/hook"),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.BountyStatusClaimed, claimed.Status)
	assert.Equal(t, "bob", *claimed.ClaimedBy)
	require.NotNil(t, claimed.ClaimerSecretHash)
	assert.True(t, credential.Verify(claimerSecret, *claimed.ClaimerSecretHash))
	assert.Equal(t, []string{"https://poster.example.com/hook"}, f.notifier.urls(domain.EventBountyClaimed))

	_, _, err = f.svc.Claim(ctx, b.ID, ClaimInput{ClaimerName: "carol"})
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	_, err = f.svc.Unclaim(ctx, b.ID, "wrong")
	assert.ErrorIs(t, err, domain.ErrForbidden)

	open, err := f.svc.Unclaim(ctx, b.ID, claimerSecret)
	require.NoError(t, err)
	assert.Equal(t, domain.BountyStatusOpen, open.Status)
	assert.Nil(t, open.ClaimedBy)
	assert.Nil(t, open.ClaimerSecretHash)
	assert.Nil(t, open.ClaimerCallbackURL)
	assert.Nil(t, open.ClaimedAt)
	assert.Equal(t, []string{"https://poster.example.com/hook"}, f.notifier.urls(domain.EventBountyUnclaimed))

	_, err = f.svc.Unclaim(ctx, b.ID, claimerSecret)
	assert.ErrorIs(t, err, domain.ErrForbidden, "hash was cleared on unclaim")
}

func TestClaimErrors(t *testing.T) {
	f := newBountyFixture()
	ctx := context.Background()

	_, _, err := f.svc.Claim(ctx, "missing", ClaimInput{ClaimerName: "bob"})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	b, _ := f.create(t, nil)
	_, _, err = f.svc.Claim(ctx, b.ID, ClaimInput{ClaimerName: "bob", ClaimerCallbackURL: strPtr("http://localhost/x")})
	assert.ErrorIs(t, err, domain.ErrSSRFRejected)

	_, _, err = f.svc.Claim(ctx, b.ID, ClaimInput{ClaimerName: ""})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestConcurrentClaimsHaveOneWinner(t *testing.T) {
	f := newBountyFixture()
	b, _ := f.create(t, nil)

	var wins, lost atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := f.svc.Claim(context.Background(), b.ID, ClaimInput{ClaimerName: fmt.Sprintf("agent-%d", i)})
			if err == nil {
				wins.Add(1)
			} else if assert.ErrorIs(t, err, domain.ErrInvalidState) {
				lost.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, wins.Load())
	assert.EqualValues(t, 19, lost.Load())
}

func TestClaimFulfillScenario(t *testing.T) {
	f := newBountyFixture()
	ctx := context.Background()
	b, posterSecret := f.create(t, nil)

	_, _, err := f.svc.Claim(ctx, b.ID, ClaimInput{
		ClaimerName:        "bob",
		ClaimerCallbackURL: strPtr("https://claimer.example.com/hook"),
	})
	require.NoError(t, err)

	_, err = f.svc.Fulfill(ctx, b.ID, "wrong", "job-1")
	assert.ErrorIs(t, err, domain.ErrForbidden)

	done, err := f.svc.Fulfill(ctx, b.ID, posterSecret, "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.BountyStatusFulfilled, done.Status)
	require.NotNil(t, done.FulfilledAt)
	assert.Equal(t, "job-1", *done.ACPJobID)
	assert.ElementsMatch(t,
		[]string{"https://poster.example.com/hook", "https://claimer.example.com/hook"},
		f.notifier.urls(domain.EventBountyFulfilled))

	_, err = f.svc.Cancel(ctx, b.ID, posterSecret)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestFulfillRequiresClaimOrMatch(t *testing.T) {
	f := newBountyFixture()
	b, secret := f.create(t, nil)
	_, err := f.svc.Fulfill(context.Background(), b.ID, secret, "job-1")
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	_, err = f.svc.Fulfill(context.Background(), b.ID, secret, strings.Repeat("j", domain.MaxJobIDLength+1))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestFulfillWithoutJobID(t *testing.T) {
	f := newBountyFixture()
	ctx := context.Background()
	b, secret := f.create(t, nil)
	_, _, err := f.svc.Claim(ctx, b.ID, ClaimInput{ClaimerName: "bob"})
	require.NoError(t, err)

	done, err := f.svc.Fulfill(ctx, b.ID, secret, "")
	require.NoError(t, err)
	assert.Equal(t, domain.BountyStatusFulfilled, done.Status)
	assert.Nil(t, done.ACPJobID)
}

func TestMatchAndFulfill(t *testing.T) {
	f := newBountyFixture()
	ctx := context.Background()
	b, secret := f.create(t, nil)

	in := MatchInput{PosterSecret: secret, ACPAgentWallet: "0xabc", ACPJobOffering: "logo"}
	_, err := f.svc.Match(ctx, b.ID, MatchInput{PosterSecret: "nope", ACPAgentWallet: "0xabc", ACPJobOffering: "logo"})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	matched, err := f.svc.Match(ctx, b.ID, in)
	require.NoError(t, err)
	assert.Equal(t, domain.BountyStatusMatched, matched.Status)
	assert.Equal(t, "0xabc", *matched.MatchedACPAgent)
	assert.Equal(t, "logo", *matched.MatchedACPJob)
	assert.Nil(t, matched.MatchedServiceID)
	assert.NotNil(t, matched.MatchedAt)

	_, err = f.svc.Match(ctx, b.ID, in)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	_, err = f.svc.Fulfill(ctx, b.ID, secret, "job-9")
	require.NoError(t, err)
}

func TestMatchRequiresFields(t *testing.T) {
	f := newBountyFixture()
	b, secret := f.create(t, nil)
	_, err := f.svc.Match(context.Background(), b.ID, MatchInput{PosterSecret: secret, ACPJobOffering: "logo"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestCancel(t *testing.T) {
	f := newBountyFixture()
	ctx := context.Background()
	b, secret := f.create(t, nil)
	_, _, err := f.svc.Claim(ctx, b.ID, ClaimInput{ClaimerName: "bob", ClaimerCallbackURL: strPtr("https://claimer.example.com/hook")})
	require.NoError(t, err)

	_, err = f.svc.Cancel(ctx, b.ID, "wrong")
	assert.ErrorIs(t, err, domain.ErrForbidden)

	cancelled, err := f.svc.Cancel(ctx, b.ID, secret)
	require.NoError(t, err)
	assert.Equal(t, domain.BountyStatusCancelled, cancelled.Status)
	assert.ElementsMatch(t,
		[]string{"https://poster.example.com/hook", "https://claimer.example.com/hook"},
		f.notifier.urls(domain.EventBountyCancelled))

	_, err = f.svc.Cancel(ctx, b.ID, secret)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	_, err = f.svc.Cancel(ctx, "missing", secret)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestExpireSweep(t *testing.T) {
	f := newBountyFixture()
	ctx := context.Background()
	expiring, secret := f.create(t, nil)
	claimed, _ := f.create(t, nil)
	_, _, err := f.svc.Claim(ctx, claimed.ID, ClaimInput{ClaimerName: "bob"})
	require.NoError(t, err)
	forever, _ := f.create(t, func(in *CreateBountyInput) { in.SetExpiry = false })

	n, err := f.svc.ExpireSweep(ctx, f.clock.Now())
	require.NoError(t, err)
	assert.Zero(t, n, "nothing has expired yet")

	later := f.clock.Now().Add(domain.BountyExpiry)
	n, err = f.svc.ExpireSweep(ctx, later)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = f.svc.ExpireSweep(ctx, later)
	require.NoError(t, err)
	assert.Zero(t, n, "sweep is idempotent")

	for id, want := range map[string]domain.BountyStatus{
		expiring.ID: domain.BountyStatusCancelled,
		claimed.ID:  domain.BountyStatusCancelled,
		forever.ID:  domain.BountyStatusOpen,
	} {
		got, err := f.svc.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, got.Status, id)
	}

	_, err = f.svc.Fulfill(ctx, expiring.ID, secret, "job-1")
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	assert.Contains(t, f.bus.types(), domain.EventBountyExpired)
}

func TestListBounties(t *testing.T) {
	f := newBountyFixture(WithPostLimit(0))
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		f.create(t, nil)
		f.clock.Advance(time.Second)
	}
	b, _ := f.create(t, func(in *CreateBountyInput) { in.Title = "Print a bracket"; in.Category = domain.CategoryPhysical })
	_, _, err := f.svc.Claim(ctx, b.ID, ClaimInput{ClaimerName: "bob"})
	require.NoError(t, err)

	page, err := f.svc.List(ctx, domain.BountyFilter{Limit: 2})
	require.NoError(t, err)
	assert.EqualValues(t, 4, page.Total)
	assert.Len(t, page.Bounties, 2)
	assert.True(t, page.HasMore)
	assert.Equal(t, b.ID, page.Bounties[0].ID, "newest first")

	open, err := f.svc.ListOpen(ctx, 0, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 3, open.Total)
	assert.Equal(t, DefaultPageLimit, open.Limit)
	assert.False(t, open.HasMore)

	capped, err := f.svc.List(ctx, domain.BountyFilter{Limit: 1000})
	require.NoError(t, err)
	assert.Equal(t, MaxPageLimit, capped.Limit)

	_, err = f.svc.List(ctx, domain.BountyFilter{Status: "bogus"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestBountyStats(t *testing.T) {
	f := newBountyFixture()
	ctx := context.Background()
	f.create(t, nil)
	b, secret := f.create(t, nil)
	_, err := f.svc.Cancel(ctx, b.ID, secret)
	require.NoError(t, err)

	st, err := f.svc.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, st.Total)
	assert.EqualValues(t, 1, st.Open)
	assert.EqualValues(t, 1, st.Cancelled)
}
