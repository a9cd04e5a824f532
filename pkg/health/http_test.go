package health

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/nifyacorp/notification-worker/pkg/ingest"
	"github.com/nifyacorp/notification-worker/pkg/log"
	"github.com/nifyacorp/notification-worker/pkg/processor"
	"github.com/nifyacorp/notification-worker/pkg/status"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel, JSONOutput: true, Output: io.Discard})
	os.Exit(m.Run())
}

func testServer(t *testing.T) (*Server, *status.Monitor) {
	t.Helper()

	registry, err := processor.NewRegistry(processor.NewBOE(), processor.NewRealEstate())
	if err != nil {
		t.Fatalf("failed to build registry: %v", err)
	}

	monitor := status.NewMonitor()
	srv := NewServer(0, Options{
		Version:        "test",
		Environment:    "test",
		Monitor:        monitor,
		Controller:     ingest.NewController(ingest.Config{}),
		Registry:       registry,
		SubscriptionID: "notifications-sub",
		Topics:         map[string]string{"dlq": "notification-dlq"},
		DedupWindow:    24 * time.Hour,
	})
	return srv, monitor
}

func get(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestIdentityEndpoint(t *testing.T) {
	srv, _ := testServer(t)

	rec := get(t, srv, "/")
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if body["service"] != "notification-worker" {
		t.Errorf("unexpected service name: %s", body["service"])
	}
}

func TestHealthAlwaysOK(t *testing.T) {
	srv, _ := testServer(t)

	// Liveness ignores subsystem state entirely.
	rec := get(t, srv, "/health")
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestReadyFollowsMode(t *testing.T) {
	srv, monitor := testServer(t)

	// Everything down: failed, not ready.
	rec := get(t, srv, "/ready")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 while failed, got %d", rec.Code)
	}

	// One subsystem back: degraded still serves.
	monitor.SetBrokerActive(true)
	rec = get(t, srv, "/ready")
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 while degraded, got %d", rec.Code)
	}

	monitor.SetDatabaseActive(true)
	monitor.SetSubscriptionActive(true)
	rec = get(t, srv, "/ready")
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 while ok, got %d", rec.Code)
	}
}

func TestStatusEndpoint(t *testing.T) {
	srv, monitor := testServer(t)
	monitor.SetDatabaseActive(true)

	rec := get(t, srv, "/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body struct {
		Status   status.Snapshot         `json:"status"`
		Messages ingest.CountersSnapshot `json:"messages"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if !body.Status.DBActive {
		t.Error("expected db_active true")
	}
	if body.Status.Mode != status.ModeDegraded {
		t.Errorf("expected degraded, got %s", body.Status.Mode)
	}
}

func TestDiagnosticsEndpoint(t *testing.T) {
	srv, _ := testServer(t)

	rec := get(t, srv, "/diagnostics")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid json: %v", err)
	}

	processors, ok := body["processors"].([]interface{})
	if !ok || len(processors) != 2 {
		t.Errorf("expected two registered processors, got %v", body["processors"])
	}
	if body["subscription"] != "notifications-sub" {
		t.Errorf("unexpected subscription: %v", body["subscription"])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := testServer(t)

	rec := get(t, srv, "/metrics")
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestUnknownPathNotFound(t *testing.T) {
	srv, _ := testServer(t)

	rec := get(t, srv, "/nope")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}
