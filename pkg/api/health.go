package api

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/rs/zerolog/log"
)

// HealthStatus represents the overall health status of the service
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status      HealthStatus           `json:"status"`
	Timestamp   time.Time              `json:"timestamp"`
	Version     string                 `json:"version"`
	Uptime      string                 `json:"uptime"`
	Checks      map[string]CheckResult `json:"checks"`
	Environment string                 `json:"environment,omitempty"`
}

// CheckResult represents the result of a single health check
type CheckResult struct {
	Status      HealthStatus  `json:"status"`
	Message     string        `json:"message,omitempty"`
	Error       string        `json:"error,omitempty"`
	Duration    time.Duration `json:"duration"`
	Timestamp   time.Time     `json:"timestamp"`
	ComponentID string        `json:"component_id,omitempty"`
}

// HealthChecker defines the interface for health check implementations
type HealthChecker interface {
	Name() string
	Check(ctx context.Context) CheckResult
	IsEssential() bool
}

// HealthService runs the registered checks
type HealthService struct {
	checkers    []HealthChecker
	startTime   time.Time
	version     string
	environment string
	timeout     time.Duration
}

// NewHealthService creates a new health service
func NewHealthService(version, environment string) *HealthService {
	return &HealthService{
		startTime:   time.Now(),
		version:     version,
		environment: environment,
		timeout:     5 * time.Second,
	}
}

// RegisterChecker adds a health checker to the service
func (h *HealthService) RegisterChecker(checker HealthChecker) {
	h.checkers = append(h.checkers, checker)
	log.Debug().Str("checker", checker.Name()).Msg("Health checker registered")
}

// PerformHealthCheck executes all registered health checks.
// A failing essential check makes the service unhealthy; any other failure degrades it.
func (h *HealthService) PerformHealthCheck(ctx context.Context) HealthResponse {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	checks := make(map[string]CheckResult, len(h.checkers))
	overallStatus := HealthStatusHealthy

	for _, checker := range h.checkers {
		checkStart := time.Now()
		result := checker.Check(ctx)
		result.Duration = time.Since(checkStart)
		result.Timestamp = time.Now()
		checks[checker.Name()] = result

		switch {
		case result.Status == HealthStatusUnhealthy && checker.IsEssential():
			overallStatus = HealthStatusUnhealthy
		case result.Status != HealthStatusHealthy && overallStatus == HealthStatusHealthy:
			overallStatus = HealthStatusDegraded
		}

		log.Debug().
			Str("checker", checker.Name()).
			Str("status", string(result.Status)).
			Dur("duration", result.Duration).
			Msg("Health check completed")
	}

	return HealthResponse{
		Status:      overallStatus,
		Timestamp:   time.Now(),
		Version:     h.version,
		Uptime:      time.Since(h.startTime).String(),
		Checks:      checks,
		Environment: h.environment,
	}
}

// ServeHTTP implements the http.Handler interface for health checks
func (h *HealthService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	healthResponse := h.PerformHealthCheck(r.Context())

	statusCode := http.StatusOK
	if healthResponse.Status == HealthStatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	writeJSON(w, statusCode, healthResponse)
}

// PingChecker reports the result of a ping function, e.g. the cache backend health check
type PingChecker struct {
	name        string
	essential   bool
	ping        func(ctx context.Context) error
	componentID string
}

// NewPingChecker creates a checker around ping
func NewPingChecker(name string, essential bool, ping func(ctx context.Context) error, componentID string) *PingChecker {
	return &PingChecker{
		name:        name,
		essential:   essential,
		ping:        ping,
		componentID: componentID,
	}
}

func (p *PingChecker) Name() string      { return p.name }
func (p *PingChecker) IsEssential() bool { return p.essential }

func (p *PingChecker) Check(ctx context.Context) CheckResult {
	if p.ping == nil {
		return CheckResult{
			Status:      HealthStatusUnhealthy,
			Error:       "ping function not configured",
			ComponentID: p.componentID,
		}
	}
	if err := p.ping(ctx); err != nil {
		return CheckResult{
			Status:      HealthStatusUnhealthy,
			Error:       err.Error(),
			ComponentID: p.componentID,
		}
	}
	return CheckResult{
		Status:      HealthStatusHealthy,
		Message:     "reachable",
		ComponentID: p.componentID,
	}
}

// MemoryChecker degrades at 80% of the heap limit and fails above it
type MemoryChecker struct {
	name        string
	essential   bool
	maxMemoryMB int64
	getMemoryMB func() (int64, error)
}

// NewMemoryChecker creates a memory checker; a nil getMemoryMB reads the Go heap
func NewMemoryChecker(name string, essential bool, maxMemoryMB int64, getMemoryMB func() (int64, error)) *MemoryChecker {
	if getMemoryMB == nil {
		getMemoryMB = heapAllocMB
	}
	return &MemoryChecker{
		name:        name,
		essential:   essential,
		maxMemoryMB: maxMemoryMB,
		getMemoryMB: getMemoryMB,
	}
}

func heapAllocMB() (int64, error) {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	return int64(stats.HeapAlloc / (1024 * 1024)), nil
}

func (m *MemoryChecker) Name() string      { return m.name }
func (m *MemoryChecker) IsEssential() bool { return m.essential }

func (m *MemoryChecker) Check(ctx context.Context) CheckResult {
	currentMB, err := m.getMemoryMB()
	if err != nil {
		return CheckResult{Status: HealthStatusUnhealthy, Error: err.Error()}
	}

	status := HealthStatusHealthy
	message := "memory usage normal"
	if currentMB > m.maxMemoryMB {
		status = HealthStatusUnhealthy
		message = "memory usage exceeded limit"
	} else if currentMB > m.maxMemoryMB*8/10 {
		status = HealthStatusDegraded
		message = "memory usage high"
	}
	return CheckResult{Status: status, Message: message}
}

func writeJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}
