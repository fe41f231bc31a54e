package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"clawbounty.market/internal/core/logger"
)

// HostBreakers lazily keeps one gobreaker per remote host.
type HostBreakers struct {
	consecutive uint32
	timeout     time.Duration

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewHostBreakers trips a host after consecutive failures and probes it again
// after timeout.
func NewHostBreakers(consecutive uint32, timeout time.Duration) *HostBreakers {
	return &HostBreakers{
		consecutive: consecutive,
		timeout:     timeout,
		breakers:    make(map[string]*gobreaker.CircuitBreaker),
	}
}

func (h *HostBreakers) get(host string) *gobreaker.CircuitBreaker {
	h.mu.Lock()
	defer h.mu.Unlock()

	if cb, ok := h.breakers[host]; ok {
		return cb
	}
	threshold := h.consecutive
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        host,
		MaxRequests: 1,
		Timeout:     h.timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Info("Host circuit breaker state changed", "host", name, "from", from.String(), "to", to.String())
		},
	})
	h.breakers[host] = cb
	return cb
}

// Execute runs fn under the breaker for host. Errors for which isSuccessful
// returns true still count as successes, so a receiver rejecting one payload
// does not trip the host.
func (h *HostBreakers) Execute(host string, fn func() error, isSuccessful func(error) bool) error {
	cb := h.get(host)
	var inner error
	_, err := cb.Execute(func() (interface{}, error) {
		inner = fn()
		if inner != nil && isSuccessful != nil && isSuccessful(inner) {
			return nil, nil
		}
		return nil, inner
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrCircuitOpen
	}
	if err == nil {
		return inner
	}
	return err
}

// State returns the state of the breaker for host
func (h *HostBreakers) State(host string) gobreaker.State {
	return h.get(host).State()
}
