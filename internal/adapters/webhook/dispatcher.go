// Package webhook delivers signed bounty lifecycle notifications to poster
// and claimer callback URLs.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"clawbounty.market/internal/core/circuitbreaker"
	"clawbounty.market/internal/core/domain"
	"clawbounty.market/internal/core/logger"
	"clawbounty.market/internal/core/metrics"
	"clawbounty.market/internal/core/ports"
	"clawbounty.market/internal/core/tracing"
	"clawbounty.market/internal/core/urlguard"
)

const (
	SignatureHeader = "X-Signature"
	EventHeader     = "X-Webhook-Event"

	DefaultTimeout      = 10 * time.Second
	DefaultMaxAttempts  = 3
	DefaultBaseDelay    = 2 * time.Second
	DefaultWorkers      = 4
	DefaultQueueSize    = 256
	DefaultHostFailures = 5
	DefaultHostCooldown = 60 * time.Second

	deadLetterTimeout = 5 * time.Second
)

// StatusError is a non-2xx response from a receiver.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("webhook receiver returned status %d", e.Code)
}

// Retryable reports whether the same request may succeed later.
func (e *StatusError) Retryable() bool {
	if e.Code == http.StatusRequestTimeout || e.Code == http.StatusTooManyRequests {
		return true
	}
	return e.Code >= 500
}

type job struct {
	ctx     context.Context
	url     string
	payload domain.WebhookPayload
}

// Dispatcher queues webhook deliveries and serves them from a worker pool.
// Notify never blocks on the network; deliveries that cannot be made end up
// as dead letters.
type Dispatcher struct {
	client      *http.Client
	secret      []byte
	dead        ports.DeadLetterStore
	breakers    *circuitbreaker.HostBreakers
	validate    func(string) error
	workers     int
	maxAttempts uint
	baseDelay   time.Duration
	timeout     time.Duration
	now         func() time.Time

	queue   chan job
	mu      sync.RWMutex
	started bool
	stopped bool
	wg      sync.WaitGroup
}

type Option func(*Dispatcher)

// WithSecret signs every body with HMAC-SHA256 under secret.
func WithSecret(secret string) Option {
	return func(d *Dispatcher) { d.secret = []byte(secret) }
}

func WithDeadLetters(store ports.DeadLetterStore) Option {
	return func(d *Dispatcher) { d.dead = store }
}

func WithHTTPClient(c *http.Client) Option {
	return func(d *Dispatcher) { d.client = c }
}

// WithURLValidator replaces the SSRF check. Only tests that deliver to
// loopback receivers need this.
func WithURLValidator(fn func(string) error) Option {
	return func(d *Dispatcher) { d.validate = fn }
}

func WithWorkers(n int) Option {
	return func(d *Dispatcher) { d.workers = n }
}

func WithQueueSize(n int) Option {
	return func(d *Dispatcher) { d.queue = make(chan job, n) }
}

func WithRetry(maxAttempts uint, baseDelay time.Duration) Option {
	return func(d *Dispatcher) {
		d.maxAttempts = maxAttempts
		d.baseDelay = baseDelay
	}
}

func WithTimeout(t time.Duration) Option {
	return func(d *Dispatcher) { d.timeout = t }
}

func WithHostBreakers(b *circuitbreaker.HostBreakers) Option {
	return func(d *Dispatcher) { d.breakers = b }
}

func NewDispatcher(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		validate:    urlguard.Validate,
		workers:     DefaultWorkers,
		maxAttempts: DefaultMaxAttempts,
		baseDelay:   DefaultBaseDelay,
		timeout:     DefaultTimeout,
		breakers:    circuitbreaker.NewHostBreakers(DefaultHostFailures, DefaultHostCooldown),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.queue == nil {
		d.queue = make(chan job, DefaultQueueSize)
	}
	if d.client == nil {
		d.client = NewSafeClient(d.timeout)
	}
	return d
}

// NewSafeClient returns a client that refuses to dial private, loopback and
// other internal addresses and never follows redirects.
func NewSafeClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy:                 nil,
		DialContext:           urlguard.DialContext(timeout),
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   timeout,
		ResponseHeaderTimeout: timeout,
	}
	return &http.Client{
		Transport: tracing.Transport(transport),
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// Start launches the worker pool. Workers exit once Stop has drained the queue.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return
	}
	d.started = true

	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for j := range d.queue {
				metrics.SetWebhookQueueDepth(len(d.queue))
				_ = d.Deliver(j.ctx, j.url, j.payload)
			}
		}()
	}
	logger.Info("Webhook dispatcher started", "workers", d.workers)
}

// Stop refuses new work and waits until queued deliveries have finished or
// ctx is done.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.stopped {
		d.stopped = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Notify queues payload for delivery to url. An empty url is ignored.
func (d *Dispatcher) Notify(ctx context.Context, url string, payload domain.WebhookPayload) {
	if url == "" {
		return
	}
	j := job{ctx: context.WithoutCancel(ctx), url: url, payload: payload}

	if err := d.enqueue(j); err != nil {
		// The dead letter store is remote; keep it off the caller's path.
		go d.deadLetter(j.ctx, url, payload, err)
	}
}

func (d *Dispatcher) enqueue(j job) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		return errors.New("dispatcher stopped")
	}
	select {
	case d.queue <- j:
		metrics.SetWebhookQueueDepth(len(d.queue))
		return nil
	default:
		return errors.New("delivery queue full")
	}
}

// Sign returns the X-Signature value for body.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Deliver posts payload to url, retrying transient failures. A delivery that
// fails for good is recorded as a dead letter and its error returned.
func (d *Dispatcher) Deliver(ctx context.Context, rawURL string, payload domain.WebhookPayload) error {
	ctx, span := tracing.StartSpan(ctx, "webhook.Deliver")
	defer span.End()

	if err := d.validate(rawURL); err != nil {
		logger.WarnContext(ctx, "Webhook URL rejected", "url", rawURL, "error", err)
		d.deadLetter(ctx, rawURL, payload, err)
		return err
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		d.deadLetter(ctx, rawURL, payload, err)
		return err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.baseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = d.baseDelay << d.maxAttempts

	attempt := 0
	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := d.breakers.Execute(u.Host, func() error {
			return d.post(ctx, rawURL, payload.Event, body)
		}, isPermanent)
		switch {
		case err == nil:
			return struct{}{}, nil
		case errors.Is(err, circuitbreaker.ErrCircuitOpen), isPermanent(err):
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(d.maxAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.WarnContext(ctx, "Webhook delivery failed, retrying",
				"event", payload.Event, "url", rawURL, "attempt", attempt, "retry_in", next, "error", err)
		}),
	)
	if err != nil {
		d.deadLetter(ctx, rawURL, payload, err)
		return err
	}

	metrics.RecordWebhook(payload.Event, "delivered")
	logger.InfoContext(ctx, "Webhook delivered", "event", payload.Event, "url", rawURL, "attempts", attempt)
	return nil
}

func (d *Dispatcher) post(ctx context.Context, url, event string, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "ClawBounty-Webhook/1.0")
	req.Header.Set(EventHeader, event)
	if len(d.secret) > 0 {
		req.Header.Set(SignatureHeader, Sign(d.secret, body))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Code: resp.StatusCode}
	}
	return nil
}

// isPermanent reports errors that retrying cannot fix. The receiver answered,
// so these do not count against its host breaker either.
func isPermanent(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && !se.Retryable()
}

func (d *Dispatcher) deadLetter(ctx context.Context, url string, payload domain.WebhookPayload, cause error) {
	metrics.RecordWebhook(payload.Event, "dead_letter")
	logger.ErrorContext(ctx, "Webhook dead letter",
		"event", payload.Event, "url", url, "bounty_id", payload.Bounty.ID, "error", cause)
	if d.dead == nil {
		return
	}

	letter := &domain.DeadLetter{
		Event:    payload.Event,
		URL:      url,
		Payload:  payload,
		Reason:   cause.Error(),
		FailedAt: d.now().UTC(),
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deadLetterTimeout)
	defer cancel()
	if err := d.dead.Add(ctx, letter); err != nil {
		logger.WarnContext(ctx, "Failed to store dead letter", "url", url, "error", err)
	}
}
