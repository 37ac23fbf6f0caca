package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pingsantohq/satprobe/internal/health"
	"github.com/pingsantohq/satprobe/internal/metrics"
)

func TestReadyzReflectsChecker(t *testing.T) {
	store := metrics.NewStore()
	checker := health.NewChecker(store, 0)
	srv := New(Config{}, Dependencies{Metrics: store, Health: checker})

	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before writers start, got %d", rr.Code)
	}
	var payload readyResponse
	if err := json.NewDecoder(rr.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Ready || len(payload.Reasons) == 0 {
		t.Fatalf("unexpected payload %+v", payload)
	}

	checker.ObserveWriter("raw", true)
	rr = httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 once writer runs, got %d", rr.Code)
	}
}

func TestMetricsAndHealthz(t *testing.T) {
	store := metrics.NewStore()
	store.QueueRecorder().ObserveQueueDepth(3)
	srv := New(Config{}, Dependencies{Metrics: store})

	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rr.Body)
	if rr.Code != http.StatusOK || !strings.Contains(string(body), "satprobe_queue_depth_number 3") {
		t.Fatalf("unexpected metrics response %d:\n%s", rr.Code, body)
	}

	rr = httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 from healthz got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/metrics", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 got %d", rr.Code)
	}
}
