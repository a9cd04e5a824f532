package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/nifyacorp/notification-worker/pkg/ingest"
	"github.com/nifyacorp/notification-worker/pkg/log"
	"github.com/nifyacorp/notification-worker/pkg/metrics"
	"github.com/nifyacorp/notification-worker/pkg/processor"
	"github.com/nifyacorp/notification-worker/pkg/status"
	"github.com/nifyacorp/notification-worker/pkg/store"
)

// Options wires the diagnostics surface to the rest of the worker.
type Options struct {
	Version     string
	Environment string

	Monitor    *status.Monitor
	Controller *ingest.Controller
	Registry   *processor.Registry
	Store      store.Store

	SubscriptionID string
	Topics         map[string]string
	DedupWindow    time.Duration
}

// Server is the worker's HTTP listener. It only serves diagnostics; the
// ingestion path never goes through it.
type Server struct {
	opts Options
	srv  *http.Server
}

// NewServer builds the server and its routes.
func NewServer(port int, opts Options) *Server {
	s := &Server{opts: opts}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIdentity)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /diagnostics", s.handleDiagnostics)
	mux.Handle("GET /metrics", metrics.Handler())

	s.srv = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start serves until Shutdown. It returns http.ErrServerClosed on a clean
// stop, any other error on listener failure.
func (s *Server) Start() error {
	logger := log.WithComponent("health")
	logger.Info().Str("addr", s.srv.Addr).Msg("http listener started")
	return s.srv.ListenAndServe()
}

// Shutdown stops the listener, waiting for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

func (s *Server) handleIdentity(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service":     "notification-worker",
		"version":     s.opts.Version,
		"environment": s.opts.Environment,
	})
}

// handleHealth is liveness: the process is up, so the answer is 200.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"uptime": s.opts.Monitor.Snapshot().Uptime,
	})
}

// handleReady is readiness: 503 only when every sub-state is down.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	mode := s.opts.Monitor.Mode()
	code := http.StatusOK
	if mode == status.ModeFailed {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{"mode": string(mode)})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   s.opts.Monitor.Snapshot(),
		"messages": s.opts.Controller.Counters(),
		"in_flight": s.opts.Controller.InFlight(),
	})
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	payload := map[string]interface{}{
		"service":      "notification-worker",
		"version":      s.opts.Version,
		"environment":  s.opts.Environment,
		"processors":   s.opts.Registry.Types(),
		"subscription": s.opts.SubscriptionID,
		"topics":       s.opts.Topics,
		"dedup_window": s.opts.DedupWindow.String(),
		"messages":     s.opts.Controller.Counters(),
		"status":       s.opts.Monitor.Snapshot(),
	}
	if s.opts.Store != nil {
		payload["pool"] = s.opts.Store.Stats()
	}
	writeJSON(w, http.StatusOK, payload)
}

func writeJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
