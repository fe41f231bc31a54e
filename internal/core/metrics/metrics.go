package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Bounty metrics
	bountyTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bounty_transitions_total",
			Help: "Bounty status transitions by target status",
		},
		[]string{"status"},
	)

	bountiesExpiredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bounties_expired_total",
			Help: "Bounties cancelled by the expiry sweep",
		},
	)

	autoMatchesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bounty_auto_matches_total",
			Help: "Bounties matched automatically on service creation",
		},
	)

	// Registry metrics
	registryAgents = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "registry_agents",
			Help: "Number of agents in the current registry snapshot",
		},
	)

	registryRefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registry_refresh_total",
			Help: "Registry refresh attempts by result",
		},
		[]string{"result"},
	)

	registryRefreshDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "registry_refresh_duration_seconds",
			Help:    "Registry refresh duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
	)

	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"name"},
	)

	// Webhook metrics
	webhookDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_deliveries_total",
			Help: "Webhook deliveries by outcome",
		},
		[]string{"event", "result"},
	)

	webhookQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "webhook_queue_depth",
			Help: "Number of webhook deliveries waiting for a worker",
		},
	)

	// Live feed metrics
	wsClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ws_clients",
			Help: "Number of connected live feed clients",
		},
	)
)

// Middleware records HTTP request metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Skip metrics for WebSocket upgrade requests
		if r.Header.Get("Upgrade") == "websocket" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()

		// Wrap ResponseWriter to capture status code
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		path := ""
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			path = rctx.RoutePattern()
		}
		if path == "" {
			path = r.URL.Path
		}

		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Handler returns the Prometheus metrics handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordTransition counts a committed bounty status change
func RecordTransition(status string) {
	bountyTransitionsTotal.WithLabelValues(status).Inc()
}

func RecordExpired(n int) {
	bountiesExpiredTotal.Add(float64(n))
}

func RecordAutoMatch(n int) {
	autoMatchesTotal.Add(float64(n))
}

// SetRegistryAgents sets the size of the live registry snapshot
func SetRegistryAgents(count int) {
	registryAgents.Set(float64(count))
}

// RecordRefresh records the outcome of a registry refresh
func RecordRefresh(result string, duration time.Duration) {
	registryRefreshTotal.WithLabelValues(result).Inc()
	registryRefreshDuration.Observe(duration.Seconds())
}

// SetBreakerState exports a breaker state as 0 (closed), 1 (half-open) or 2 (open)
func SetBreakerState(name string, state int) {
	breakerState.WithLabelValues(name).Set(float64(state))
}

// RecordWebhook counts a webhook delivery outcome
func RecordWebhook(event, result string) {
	webhookDeliveriesTotal.WithLabelValues(event, result).Inc()
}

func SetWebhookQueueDepth(depth int) {
	webhookQueueDepth.Set(float64(depth))
}

func SetWSClients(count int) {
	wsClients.Set(float64(count))
}
