// monitor/rest.go
package monitor

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"auto_kis_go/candidates"
	"auto_kis_go/logs"
	"auto_kis_go/state"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server exposes the bot's state over HTTP: the persisted end-of-cycle
// snapshot and the live candidate ranking for dashboards, plus the
// Prometheus exposition endpoint.
type Server struct {
	states *state.Manager
	list   *candidates.List
	srv    *http.Server
}

// NewServer builds the HTTP server on the given listen address.
func NewServer(addr string, states *state.Manager, list *candidates.List) *Server {
	s := &Server{states: states, list: list}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/state", s.handleState)
	mux.HandleFunc("/api/candidates", s.handleCandidates)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Start serves in a background goroutine until Shutdown.
func (s *Server) Start() {
	go func() {
		logs.Infof("[Monitor] HTTP server listening on %s", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logs.Errorf("[Monitor] HTTP server stopped: %v", err)
		}
	}()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// handleState serves the last persisted snapshot. The trade loop is the
// single writer of the books, so the dashboard reads the state file it
// renames into place each cycle rather than racing the live maps.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	snap, err := s.states.Load()
	if err != nil {
		logs.Errorf("[Monitor] Failed to load state snapshot: %v", err)
		http.Error(w, "state unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, snap)
}

func (s *Server) handleCandidates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.list.Snapshot())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logs.Errorf("[Monitor] Failed to encode response: %v", err)
	}
}
