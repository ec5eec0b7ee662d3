package observability

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"
)

type healthStatus struct {
	Status string `json:"status"`
	Uptime string `json:"uptime,omitempty"`
}

// HealthChecker backs the /healthz and /readyz probes. Liveness reports the
// process is up; readiness flips on only once Postgres is reachable,
// JetStream is connected, and snapshot restore has completed.
type HealthChecker struct {
	ready   atomic.Bool
	started time.Time
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{started: time.Now()}
}

func (h *HealthChecker) SetReady(ready bool) { h.ready.Store(ready) }
func (h *HealthChecker) IsReady() bool       { return h.ready.Load() }

func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeStatus(w, http.StatusOK, healthStatus{
		Status: "alive",
		Uptime: time.Since(h.started).Round(time.Second).String(),
	})
}

func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	if !h.ready.Load() {
		writeStatus(w, http.StatusServiceUnavailable, healthStatus{Status: "not_ready"})
		return
	}
	writeStatus(w, http.StatusOK, healthStatus{Status: "ready"})
}

func writeStatus(w http.ResponseWriter, code int, body healthStatus) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}
