package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	statusHealthy   = "healthy"
	statusDegraded  = "degraded"
	statusUnhealthy = "unhealthy"
)

// dbPingTimeout bounds the ledger ping so a wedged database cannot stall
// the health endpoint past the caller's own deadline.
const dbPingTimeout = 2 * time.Second

// HealthStatus is the JSON body served on /health
type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

// HealthChecker reports the service's ability to clear and settle.
// The ledger database is the single hard dependency: every reconciliation,
// netting, and settlement operation reads or writes it. The escrow service
// is deliberately not checked here; it is only needed at execution time and
// its failures keep batches retryable.
type HealthChecker struct {
	pool *pgxpool.Pool
}

// NewHealthChecker creates a health checker over the ledger pool
func NewHealthChecker(pool *pgxpool.Pool) *HealthChecker {
	return &HealthChecker{pool: pool}
}

// Check pings the ledger database and inspects pool saturation. A full
// pool degrades the service before it turns into request timeouts.
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	checks := make(map[string]string)
	overall := statusHealthy

	if h.pool == nil {
		checks["ledger_db"] = "not configured"
		overall = statusUnhealthy
	} else {
		pingCtx, cancel := context.WithTimeout(ctx, dbPingTimeout)
		defer cancel()

		if err := h.pool.Ping(pingCtx); err != nil {
			checks["ledger_db"] = "unhealthy: " + err.Error()
			overall = statusUnhealthy
		} else {
			checks["ledger_db"] = statusHealthy
		}

		stat := h.pool.Stat()
		checks["ledger_pool"] = fmt.Sprintf("%d/%d conns in use", stat.AcquiredConns(), stat.MaxConns())
		if overall == statusHealthy && stat.MaxConns() > 0 && stat.AcquiredConns() == stat.MaxConns() {
			overall = statusDegraded
		}
	}

	return HealthStatus{
		Status:    overall,
		Timestamp: time.Now().UTC(),
		Checks:    checks,
	}
}

// Ready reports whether the service can take clearing traffic. Readiness
// is the ledger ping alone: a saturated pool is degraded but still serving.
func (h *HealthChecker) Ready(ctx context.Context) bool {
	if h.pool == nil {
		return false
	}
	pingCtx, cancel := context.WithTimeout(ctx, dbPingTimeout)
	defer cancel()
	return h.pool.Ping(pingCtx) == nil
}

// HealthHandler serves the full check result, 503 unless healthy or degraded
func (h *HealthChecker) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := h.Check(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if status.Status == statusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(status)
	}
}

// ReadyHandler serves the readiness endpoint
func (h *HealthChecker) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !h.Ready(r.Context()) {
			http.Error(w, "ledger database unreachable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	}
}
