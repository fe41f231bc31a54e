package circuitbreaker

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestBreaker() (*Breaker, *fakeClock) {
	clk := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	return NewWithOptions("test", Options{Now: clk.Now}), clk
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker()

	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(t, StateClosed, b.State())
	assert.True(t, b.CanExecute())

	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
	assert.False(t, b.CanExecute())
	assert.Equal(t, 120*time.Second, b.RecoveryTimeout())
}

func TestBreakerSuccessResetsCount(t *testing.T) {
	b, _ := newTestBreaker()

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 2, b.Failures())
}

func TestBreakerHalfOpenAfterTimeout(t *testing.T) {
	b, clk := newTestBreaker()
	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	require.Equal(t, StateOpen, b.State())

	clk.Advance(119 * time.Second)
	assert.False(t, b.CanExecute())

	clk.Advance(time.Second)
	assert.True(t, b.CanExecute())
	assert.Equal(t, StateHalfOpen, b.State())

	b.RecordSuccess()
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 0, b.Failures())
	assert.Equal(t, DefaultRecoveryTimeout, b.RecoveryTimeout())
}

func TestBreakerHalfOpenAdmitsSingleTrial(t *testing.T) {
	b, clk := newTestBreaker()
	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	clk.Advance(b.RecoveryTimeout())

	assert.True(t, b.CanExecute())
	assert.False(t, b.CanExecute())
	assert.False(t, b.CanExecute())
	assert.Equal(t, StateHalfOpen, b.State())

	b.RecordSuccess()
	assert.True(t, b.CanExecute())
	assert.True(t, b.CanExecute())
}

func TestBreakerHalfOpenTrialFailureReopens(t *testing.T) {
	b, clk := newTestBreaker()
	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	clk.Advance(b.RecoveryTimeout())
	require.True(t, b.CanExecute())

	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
	assert.False(t, b.CanExecute())

	clk.Advance(b.RecoveryTimeout())
	assert.True(t, b.CanExecute())
	assert.False(t, b.CanExecute())
}

func TestBreakerHalfOpenFailureDoublesTimeout(t *testing.T) {
	b, clk := newTestBreaker()
	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}

	want := []time.Duration{240 * time.Second, 480 * time.Second, 600 * time.Second, 600 * time.Second}
	for _, w := range want {
		clk.Advance(b.RecoveryTimeout())
		require.True(t, b.CanExecute())
		b.RecordFailure()
		assert.Equal(t, StateOpen, b.State())
		assert.Equal(t, w, b.RecoveryTimeout())
	}
}

func TestBreakerExecute(t *testing.T) {
	b, _ := newTestBreaker()
	boom := errors.New("boom")

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, b.Execute(func() error { return boom }), boom)
	}

	called := false
	err := b.Execute(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestBreakerConcurrentUse(t *testing.T) {
	b, _ := newTestBreaker()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				b.RecordFailure()
			} else {
				b.RecordSuccess()
			}
			b.CanExecute()
		}(i)
	}
	wg.Wait()
	assert.Contains(t, []State{StateClosed, StateOpen, StateHalfOpen}, b.State())
}

func TestHostBreakersTripPerHost(t *testing.T) {
	h := NewHostBreakers(2, time.Minute)
	boom := errors.New("boom")

	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, h.Execute("a.example", func() error { return boom }, nil), boom)
	}
	assert.Equal(t, gobreaker.StateOpen, h.State("a.example"))
	assert.ErrorIs(t, h.Execute("a.example", func() error { return nil }, nil), ErrCircuitOpen)

	assert.NoError(t, h.Execute("b.example", func() error { return nil }, nil))
	assert.Equal(t, gobreaker.StateClosed, h.State("b.example"))
}

func TestHostBreakersSuccessfulErrorsDoNotTrip(t *testing.T) {
	h := NewHostBreakers(2, time.Minute)
	rejected := errors.New("rejected")
	ok := func(err error) bool { return errors.Is(err, rejected) }

	for i := 0; i < 5; i++ {
		assert.ErrorIs(t, h.Execute("c.example", func() error { return rejected }, ok), rejected)
	}
	assert.Equal(t, gobreaker.StateClosed, h.State("c.example"))
}
