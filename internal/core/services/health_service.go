package services

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"clawbounty.market/internal/core/ports"
)

// HealthStatus represents the health status of a component
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusDegraded  HealthStatus = "degraded"
)

const pingTimeout = 5 * time.Second

// ComponentHealth represents the health of a specific component
type ComponentHealth struct {
	Status    HealthStatus `json:"status"`
	Message   string       `json:"message,omitempty"`
	Latency   string       `json:"latency,omitempty"`
	CheckedAt time.Time    `json:"checked_at"`
}

type RegistryHealth struct {
	Status     string     `json:"status"`
	AgentCount int        `json:"agent_count"`
	AgeMinutes float64    `json:"age_minutes,omitempty"`
	LastUpdate *time.Time `json:"last_updated"`
}

// HealthReport represents the overall health report
type HealthReport struct {
	Status     HealthStatus               `json:"status"`
	Version    string                     `json:"version"`
	CheckedAt  time.Time                  `json:"checked_at"`
	Components map[string]ComponentHealth `json:"components"`
	Registry   *RegistryHealth            `json:"registry,omitempty"`
}

type HealthService struct {
	db       ports.Pinger
	redis    ports.Pinger
	registry *RegistryService
	version  string
}

// NewHealthService probes db and, when non-nil, redis and the registry cache.
func NewHealthService(db, redis ports.Pinger, registry *RegistryService, version string) *HealthService {
	if version == "" {
		version = "0.0.1"
	}
	return &HealthService{
		db:       db,
		redis:    redis,
		registry: registry,
		version:  version,
	}
}

func (s *HealthService) CheckHealth(ctx context.Context) *HealthReport {
	report := &HealthReport{
		Status:     HealthStatusHealthy,
		Version:    s.version,
		CheckedAt:  time.Now(),
		Components: make(map[string]ComponentHealth),
	}

	dbHealth := checkPinger(ctx, "Database", s.db)
	report.Components["database"] = dbHealth
	if dbHealth.Status != HealthStatusHealthy {
		report.Status = HealthStatusUnhealthy
	}

	if s.redis != nil {
		redisHealth := checkPinger(ctx, "Redis", s.redis)
		report.Components["redis"] = redisHealth
		if redisHealth.Status != HealthStatusHealthy {
			report.degrade()
		}
	}

	if s.registry != nil {
		snap := s.registry.Snapshot()
		state, age := s.registry.Freshness()
		report.Registry = &RegistryHealth{
			Status:     state,
			AgentCount: len(snap.Agents),
			AgeMinutes: age,
			LastUpdate: snap.LastUpdated,
		}
		if state == "stale" {
			report.degrade()
		}
	}

	return report
}

func (r *HealthReport) degrade() {
	if r.Status == HealthStatusHealthy {
		r.Status = HealthStatusDegraded
	}
}

func checkPinger(ctx context.Context, name string, p ports.Pinger) ComponentHealth {
	start := time.Now()
	if p == nil {
		return ComponentHealth{
			Status:    HealthStatusUnhealthy,
			Message:   name + " not configured",
			CheckedAt: time.Now(),
		}
	}

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := p.Ping(ctx); err != nil {
		return ComponentHealth{
			Status:    HealthStatusUnhealthy,
			Message:   fmt.Sprintf("%s ping failed: %v", name, err),
			Latency:   time.Since(start).String(),
			CheckedAt: time.Now(),
		}
	}

	return ComponentHealth{
		Status:    HealthStatusHealthy,
		Latency:   time.Since(start).String(),
		CheckedAt: time.Now(),
	}
}

// SimpleHealthCheck returns a simple health status for load balancers
func (s *HealthService) SimpleHealthCheck(ctx context.Context) (string, int) {
	report := s.CheckHealth(ctx)

	switch report.Status {
	case HealthStatusHealthy:
		return "ok", http.StatusOK
	case HealthStatusDegraded:
		return "degraded", http.StatusOK // Still serving requests
	default:
		return "unhealthy", http.StatusServiceUnavailable
	}
}
