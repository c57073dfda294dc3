package handler

import (
	"net/http"
	"os"
	"time"

	"github.com/hszk-dev/streamgw/internal/cachefab"
)

// HealthResponse reports this worker's identity and L1 cache occupancy,
// per spec.md §6's /healthz contract.
type HealthResponse struct {
	Status        string  `json:"status"`
	WorkerID      string  `json:"workerId"`
	UptimeSeconds float64 `json:"uptimeSeconds"`
	CacheL1Keys   int64   `json:"cacheL1Keys"`
	CacheL1Ratio  float64 `json:"cacheL1HitRatio"`
}

// HealthHandler serves GET /healthz.
type HealthHandler struct {
	store     *cachefab.Store
	startedAt time.Time
}

// NewHealthHandler builds a HealthHandler. startedAt should be captured once,
// at process start, by the caller.
func NewHealthHandler(store *cachefab.Store, startedAt time.Time) *HealthHandler {
	return &HealthHandler{store: store, startedAt: startedAt}
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	stats := h.store.Stats()
	JSON(w, http.StatusOK, HealthResponse{
		Status:        "ok",
		WorkerID:      os.Getenv("STREAMGW_WORKER_ID"),
		UptimeSeconds: time.Since(h.startedAt).Seconds(),
		CacheL1Keys:   stats.L1KeysTracked,
		CacheL1Ratio:  stats.L1HitRatio,
	})
}
