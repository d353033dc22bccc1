package app

import (
	"context"
	"net/http"
	"sync"
	"time"

	"aidesk/internal/server/ports"
)

// HealthCheckerImpl aggregates health probes for all components
type HealthCheckerImpl struct {
	probes []ports.HealthProbe
	mu     sync.RWMutex
}

// NewHealthChecker creates a new health checker
func NewHealthChecker() *HealthCheckerImpl {
	return &HealthCheckerImpl{
		probes: make([]ports.HealthProbe, 0),
	}
}

// RegisterProbe adds a health probe
func (h *HealthCheckerImpl) RegisterProbe(probe ports.HealthProbe) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.probes = append(h.probes, probe)
}

// CheckAll returns health status for all components
func (h *HealthCheckerImpl) CheckAll(ctx context.Context) []ports.ComponentHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()

	results := make([]ports.ComponentHealth, 0, len(h.probes))
	for _, probe := range h.probes {
		results = append(results, probe.Check(ctx))
	}
	return results
}

// Pinger is satisfied by *sqlx.DB and *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// DatabaseProbe checks the ERP database
type DatabaseProbe struct {
	db Pinger
}

// NewDatabaseProbe creates a new database health probe
func NewDatabaseProbe(db Pinger) *DatabaseProbe {
	return &DatabaseProbe{db: db}
}

// Check returns the health status of the database
func (p *DatabaseProbe) Check(ctx context.Context) ports.ComponentHealth {
	if p.db == nil {
		return ports.ComponentHealth{
			Name:    "erp_db",
			Status:  ports.HealthStatusDisabled,
			Message: "database not configured",
		}
	}
	if err := p.db.PingContext(ctx); err != nil {
		return ports.ComponentHealth{
			Name:    "erp_db",
			Status:  ports.HealthStatusNotReady,
			Message: err.Error(),
		}
	}
	return ports.ComponentHealth{
		Name:   "erp_db",
		Status: ports.HealthStatusReady,
	}
}

// ComputeProbe checks that the model endpoint answers at all.
// Any HTTP response counts as reachable; completions are not exercised.
type ComputeProbe struct {
	url    string
	client *http.Client
}

// NewComputeProbe creates a probe for the completion endpoint at url
func NewComputeProbe(url string) *ComputeProbe {
	return &ComputeProbe{url: url, client: &http.Client{Timeout: 2 * time.Second}}
}

// Check returns the health status of the compute provider
func (p *ComputeProbe) Check(ctx context.Context) ports.ComponentHealth {
	if p.url == "" {
		return ports.ComponentHealth{
			Name:    "compute",
			Status:  ports.HealthStatusDisabled,
			Message: "compute endpoint not configured",
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		return ports.ComponentHealth{Name: "compute", Status: ports.HealthStatusNotReady, Message: err.Error()}
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return ports.ComponentHealth{Name: "compute", Status: ports.HealthStatusNotReady, Message: err.Error()}
	}
	_ = resp.Body.Close()

	return ports.ComponentHealth{
		Name:    "compute",
		Status:  ports.HealthStatusReady,
		Details: map[string]any{"http_status": resp.StatusCode},
	}
}
