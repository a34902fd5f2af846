// health.go - Health monitoring for the invoicing daemon.
package main

import (
	"sync"
	"time"
)

// HealthStatus represents the health status of a component
type HealthStatus string

const (
	Healthy   HealthStatus = "healthy"
	Degraded  HealthStatus = "degraded"
	Unhealthy HealthStatus = "unhealthy"
)

// ComponentHealth represents the health of a specific component
type ComponentHealth struct {
	Name      string        `json:"name"`
	Status    HealthStatus  `json:"status"`
	Message   string        `json:"message"`
	LastCheck time.Time     `json:"last_check"`
	Latency   time.Duration `json:"latency,omitempty"`
}

// SystemHealth represents the overall daemon health
type SystemHealth struct {
	OverallStatus HealthStatus      `json:"overall_status"`
	Timestamp     time.Time         `json:"timestamp"`
	Components    []ComponentHealth `json:"components"`
	Uptime        time.Duration     `json:"uptime"`
	Version       string            `json:"version"`
}

// HealthChecker runs registered probes against the daemon's components: the
// invoice store, the confidential-value backend, and the payment rail.
type HealthChecker struct {
	mu         sync.RWMutex
	components map[string]*ComponentHealth
	startTime  time.Time
	version    string
	checkers   map[string]func() error
}

// NewHealthChecker creates a new health checker
func NewHealthChecker(version string) *HealthChecker {
	return &HealthChecker{
		components: make(map[string]*ComponentHealth),
		startTime:  time.Now(),
		version:    version,
		checkers:   make(map[string]func() error),
	}
}

// RegisterComponent registers a health probe for a component
func (hc *HealthChecker) RegisterComponent(name string, checker func() error) {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	hc.components[name] = &ComponentHealth{
		Name:      name,
		Status:    Healthy,
		Message:   "Component registered",
		LastCheck: time.Now(),
	}
	hc.checkers[name] = checker
}

// CheckHealth runs every registered probe and aggregates the result
func (hc *HealthChecker) CheckHealth() *SystemHealth {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	overallStatus := Healthy
	components := make([]ComponentHealth, 0, len(hc.components))

	for name, component := range hc.components {
		if checker, exists := hc.checkers[name]; exists {
			start := time.Now()
			err := checker()
			latency := time.Since(start)

			if err != nil {
				component.Status = Unhealthy
				component.Message = err.Error()
			} else {
				component.Status = Healthy
				component.Message = "OK"
			}

			component.LastCheck = time.Now()
			component.Latency = latency
		}

		if component.Status == Unhealthy {
			overallStatus = Unhealthy
		} else if component.Status == Degraded && overallStatus == Healthy {
			overallStatus = Degraded
		}

		components = append(components, *component)
	}

	return &SystemHealth{
		OverallStatus: overallStatus,
		Timestamp:     time.Now(),
		Components:    components,
		Uptime:        time.Since(hc.startTime),
		Version:       hc.version,
	}
}
