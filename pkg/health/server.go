// Package health exposes liveness and readiness HTTP endpoints for a
// running fleetroll instance, so a process supervisor can tell whether
// the transport is initialized and the deploy engine is accepting work.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// Check is a single named readiness probe's last-evaluated result.
type Check struct {
	Name      string    `json:"name"`
	Status    string    `json:"status"` // "ok" or "fail"
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// StatusResponse is the JSON body served by both endpoints.
type StatusResponse struct {
	Status string           `json:"status"`
	Uptime string           `json:"uptime"`
	Checks map[string]Check `json:"checks,omitempty"`
}

// Server serves /health (liveness, always 200 once the process is up) and
// /ready (readiness, gated on SetReady plus every registered check).
type Server struct {
	addr      string
	httpSrv   *http.Server
	startedAt time.Time

	mu     sync.RWMutex
	ready  bool
	checks map[string]func() (bool, string)
}

// NewServer builds a health server bound to host:port. It does not start
// listening until Start is called.
func NewServer(host string, port int) *Server {
	s := &Server{
		addr:      fmt.Sprintf("%s:%d", host, port),
		startedAt: time.Now(),
		checks:    make(map[string]func() (bool, string)),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/ready", s.readyHandler)
	s.httpSrv = &http.Server{Addr: s.addr, Handler: mux}
	return s
}

// Start begins serving in the background. The error ListenAndServe
// returns, including a failure to bind the address, is discarded.
func (s *Server) Start() {
	go s.httpSrv.ListenAndServe()
}

// Stop shuts the HTTP server down and marks the instance not ready.
func (s *Server) Stop(ctx context.Context) error {
	s.SetReady(false)
	return s.httpSrv.Shutdown(ctx)
}

// SetReady flips the readiness flag the deploy engine's lifecycle wires
// to transport.initialize() succeeding and to deploy.end/deploy.abort.
func (s *Server) SetReady(ready bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = ready
}

// RegisterCheck adds a named readiness probe. Every registered check must
// pass for /ready to report 200.
func (s *Server) RegisterCheck(name string, fn func() (bool, string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[name] = fn
}

func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	resp := StatusResponse{
		Status: "ok",
		Uptime: time.Since(s.startedAt).String(),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) readyHandler(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	ready := s.ready
	checkFns := make(map[string]func() (bool, string), len(s.checks))
	for name, fn := range s.checks {
		checkFns[name] = fn
	}
	s.mu.RUnlock()

	checks := make(map[string]Check, len(checkFns))
	allPassing := true
	for name, fn := range checkFns {
		ok, msg := fn()
		if !ok {
			allPassing = false
		}
		checks[name] = Check{Name: name, Status: statusString(ok), Message: msg, Timestamp: time.Now()}
	}

	resp := StatusResponse{
		Uptime: time.Since(s.startedAt).String(),
		Checks: checks,
	}

	if ready && allPassing {
		resp.Status = "ready"
		writeJSON(w, http.StatusOK, resp)
		return
	}
	resp.Status = "not ready"
	writeJSON(w, http.StatusServiceUnavailable, resp)
}

func writeJSON(w http.ResponseWriter, status int, resp StatusResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

func statusString(ok bool) string {
	if ok {
		return "ok"
	}
	return "fail"
}
