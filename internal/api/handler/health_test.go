package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hszk-dev/streamgw/internal/cachefab"
)

func TestHealth_ReportsStatusAndCacheStats(t *testing.T) {
	store, err := cachefab.New(cachefab.Config{})
	if err != nil {
		t.Fatalf("cachefab.New: %v", err)
	}
	h := NewHealthHandler(store, time.Now().Add(-5*time.Second))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	h.Health(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("Status = %q, want ok", body.Status)
	}
	if body.UptimeSeconds <= 0 {
		t.Errorf("UptimeSeconds = %v, want > 0", body.UptimeSeconds)
	}
}
