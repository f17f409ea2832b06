// Package management provides a lightweight HTTP API for runtime inspection
// and configuration of a running privacy engine.
//
// Endpoints:
//
//	GET  /status       - engine health, uptime, local-model configuration
//	GET  /metrics      - a point-in-time metrics.Snapshot
//	GET  /sessions     - sessions currently flagged private, with their highest tier
//	POST /paths/add    - add a protected path or S2/S3 tool name {"list":"...","value":"..."}
//	POST /paths/remove - remove one {"list":"...","value":"..."}
package management

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"privacygate/internal/config"
	"privacygate/internal/logger"
	"privacygate/internal/metrics"
	"privacygate/internal/pathregistry"
	"privacygate/internal/session"
)

// Server is the management API server.
type Server struct {
	cfg        *config.Config
	startTime  time.Time
	sessions   *session.Store
	metrics    *metrics.Metrics // nil = no metrics
	registries map[string]*pathregistry.Registry
	token      string // bearer token for auth; empty = no auth
	log        *logger.Logger
}

// New creates a management server. registries maps a list name (e.g.
// "guardRoots", "toolsS2", "toolsS3") to the pathregistry.Registry backing
// it, so /paths/add and /paths/remove can address any runtime-editable list
// the engine exposes without the handler knowing their concrete owners.
func New(cfg *config.Config, sessions *session.Store, m *metrics.Metrics, registries map[string]*pathregistry.Registry, log *logger.Logger) *Server {
	s := &Server{
		cfg:        cfg,
		startTime:  time.Now(),
		sessions:   sessions,
		metrics:    m,
		registries: registries,
		token:      cfg.ManagementToken,
		log:        log,
	}
	if s.token != "" && log != nil {
		log.Info("init", "bearer token authentication enabled")
	}
	return s
}

// Handler returns the HTTP handler for the management API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/sessions", s.handleSessions)
	mux.HandleFunc("/paths/add", s.handlePathsAdd)
	mux.HandleFunc("/paths/remove", s.handlePathsRemove)
	return s.authMiddleware(mux)
}

// authMiddleware checks for a valid Bearer token if one is configured.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" {
			next.ServeHTTP(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(auth, prefix) ||
			subtle.ConstantTimeCompare([]byte(strings.TrimSpace(auth[len(prefix):])), []byte(s.token)) != 1 {
			if s.log != nil {
				s.log.Warnf("auth", "unauthorized access attempt from %s to %s", r.RemoteAddr, r.URL.Path)
			}
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	type response struct {
		Status     string `json:"status"`
		Uptime     string `json:"uptime"`
		LocalModel struct {
			Endpoint string `json:"endpoint"`
			Model    string `json:"model"`
			Enabled  bool   `json:"enabled"`
		} `json:"localModel"`
	}

	resp := response{
		Status: "running",
		Uptime: time.Since(s.startTime).Round(time.Second).String(),
	}
	resp.LocalModel.Endpoint = s.cfg.LocalModel.Endpoint
	resp.LocalModel.Model = s.cfg.LocalModel.Model
	resp.LocalModel.Enabled = s.cfg.LocalModel.Enabled

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	if s.metrics == nil {
		http.Error(w, "metrics not enabled", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}

func (s *Server) handleSessions(w http.ResponseWriter, _ *http.Request) {
	if s.sessions == nil {
		writeJSON(w, http.StatusOK, []session.Summary{})
		return
	}
	writeJSON(w, http.StatusOK, s.sessions.PrivateSessions())
}

type pathRequest struct {
	List  string `json:"list"`
	Value string `json:"value"`
}

func (s *Server) decodePathRequest(w http.ResponseWriter, r *http.Request) (pathRequest, *pathregistry.Registry, bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return pathRequest{}, nil, false
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1024)
	var req pathRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Value == "" {
		http.Error(w, `invalid request: need {"list":"...","value":"..."}`, http.StatusBadRequest)
		return pathRequest{}, nil, false
	}
	reg, ok := s.registries[req.List]
	if !ok {
		http.Error(w, fmt.Sprintf("unknown list %q", req.List), http.StatusBadRequest)
		return pathRequest{}, nil, false
	}
	return req, reg, true
}

func (s *Server) handlePathsAdd(w http.ResponseWriter, r *http.Request) {
	req, reg, ok := s.decodePathRequest(w, r)
	if !ok {
		return
	}
	reg.Add(req.Value)
	if s.log != nil {
		s.log.Infof("paths", "added %q to %s", req.Value, req.List)
	}
	writeJSON(w, http.StatusOK, map[string]string{"added": req.Value, "list": req.List})
}

func (s *Server) handlePathsRemove(w http.ResponseWriter, r *http.Request) {
	req, reg, ok := s.decodePathRequest(w, r)
	if !ok {
		return
	}
	reg.Remove(req.Value)
	if s.log != nil {
		s.log.Infof("paths", "removed %q from %s", req.Value, req.List)
	}
	writeJSON(w, http.StatusOK, map[string]string{"removed": req.Value, "list": req.List})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ListenAndServe starts the management HTTP server.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("127.0.0.1:%d", s.cfg.ManagementPort)
	if s.log != nil {
		s.log.Infof("listen", "management API listening on %s", addr)
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv.ListenAndServe()
}
