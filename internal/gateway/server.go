// Package gateway is the HTTP surface of the service: the companion-node
// WebSocket endpoint plus a small operator API for sessions, pairing, nodes,
// and usage.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/agentgate/internal/config"
	"github.com/nextlevelbuilder/agentgate/internal/errdefs"
	"github.com/nextlevelbuilder/agentgate/internal/nodes"
	"github.com/nextlevelbuilder/agentgate/internal/ratelimit"
	"github.com/nextlevelbuilder/agentgate/internal/sessions"
	"github.com/nextlevelbuilder/agentgate/internal/usage"
	"github.com/nextlevelbuilder/agentgate/internal/worker"
	"github.com/nextlevelbuilder/agentgate/pkg/protocol"
)

// Deps are the collaborators the server exposes over HTTP. Agent, Usage,
// Lifecycle, and Limiter may be nil; their endpoints then degrade.
type Deps struct {
	Sessions    *sessions.Manager
	Lifecycle   *sessions.Lifecycle
	Nodes       *nodes.Registry
	NodeConns   *nodes.ConnectionManager
	NodePairing *nodes.PairingManager
	Usage       *usage.Tracker
	Agent       *worker.AgentConnection
	Limiter     *ratelimit.Limiter
}

// Server is the gateway HTTP/WebSocket server.
type Server struct {
	cfg  *config.Config
	deps Deps

	httpServer *http.Server
	mux        *http.ServeMux
}

// NewServer creates a gateway server over the given collaborators.
func NewServer(cfg *config.Config, deps Deps) *Server {
	return &Server{cfg: cfg, deps: deps}
}

// BuildMux assembles and caches the route table.
func (s *Server) BuildMux() http.Handler {
	if s.mux == nil {
		mux := http.NewServeMux()
		mux.HandleFunc("GET /healthz", s.handleHealth)
		mux.HandleFunc("/ws/node", s.deps.NodeConns.HandleWS)

		mux.HandleFunc("GET /api/sessions", s.handleSessionList)
		mux.HandleFunc("POST /api/sessions/{id}/approve", s.handleSessionApprove)
		mux.HandleFunc("DELETE /api/sessions/{id}", s.handleSessionDelete)
		mux.HandleFunc("POST /api/pairing/generate", s.handlePairingGenerate)
		mux.HandleFunc("GET /api/nodes", s.handleNodeList)
		mux.HandleFunc("DELETE /api/nodes/{id}", s.handleNodeDisconnect)
		mux.HandleFunc("GET /api/usage", s.handleUsage)
		mux.HandleFunc("GET /api/worker", s.handleWorker)
		s.mux = mux
	}
	if s.deps.Limiter != nil {
		return ratelimit.Middleware(s.deps.Limiter, "/healthz", "/ws/node")(s.mux)
	}
	return s.mux
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := s.cfg.ListenAddr()
	s.httpServer = &http.Server{Addr: addr, Handler: s.BuildMux()}
	slog.Info("gateway starting", "addr", addr)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			return fmt.Errorf("gateway server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"ok":true,"protocol":%d}`, protocol.ProtocolVersion)
}

func (s *Server) handleSessionList(w http.ResponseWriter, r *http.Request) {
	writeOK(w, envelope{"sessions": s.deps.Sessions.List()})
}

func (s *Server) handleSessionApprove(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ok, err := s.deps.Sessions.ManualApprove(id)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeError(w, errdefs.New(errdefs.CodeSessionNotFound, id))
		return
	}
	writeOK(w, envelope{"session": id, "paired": true})
}

func (s *Server) handleSessionDelete(w http.ResponseWriter, r *http.Request) {
	if s.deps.Lifecycle == nil {
		writeError(w, errdefs.New(errdefs.CodeBadRequest, "session lifecycle disabled"))
		return
	}
	id := r.PathValue("id")
	if err := s.deps.Lifecycle.Destroy(id); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, envelope{"session": id, "deleted": true})
}

func (s *Server) handlePairingGenerate(w http.ResponseWriter, r *http.Request) {
	code := s.deps.NodePairing.Generate()
	writeOK(w, envelope{
		"code":      code,
		"expiresIn": int(nodes.NodePairingTTL.Seconds()),
	})
}

func (s *Server) handleNodeList(w http.ResponseWriter, r *http.Request) {
	writeOK(w, envelope{"nodes": s.deps.Nodes.All()})
}

func (s *Server) handleNodeDisconnect(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := s.deps.Nodes.Get(id); !ok {
		writeError(w, errdefs.New(errdefs.CodeNodeNotFound, id))
		return
	}
	// The registry owns the disconnected event: unregister first, so the
	// socket teardown finds the entry gone and stays silent.
	if err := s.deps.Nodes.Unregister(id); err != nil {
		writeError(w, err)
		return
	}
	s.deps.NodeConns.Disconnect(id, "operator request")
	s.deps.NodePairing.Remove(id)
	writeOK(w, envelope{"node": id, "disconnected": true})
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if s.deps.Usage == nil {
		writeError(w, errdefs.New(errdefs.CodeBadRequest, "usage tracking disabled"))
		return
	}
	hours := 24
	if v := r.URL.Query().Get("hours"); v != "" {
		if _, err := fmt.Sscanf(v, "%d", &hours); err != nil || hours <= 0 {
			writeError(w, errdefs.New(errdefs.CodeBadRequest, "hours must be a positive integer"))
			return
		}
	}
	to := time.Now()
	from := to.Add(-time.Duration(hours) * time.Hour)
	writeOK(w, envelope{"stats": s.deps.Usage.Stats(from, to), "hours": hours})
}

func (s *Server) handleWorker(w http.ResponseWriter, r *http.Request) {
	if s.deps.Agent == nil {
		writeError(w, errdefs.New(errdefs.CodeWorkerUnavailable, nil))
		return
	}
	writeOK(w, envelope{"worker": s.deps.Agent.Metrics()})
}

type envelope map[string]any

func writeOK(w http.ResponseWriter, payload envelope) {
	payload["ok"] = true
	writeJSON(w, http.StatusOK, payload)
}

// writeError maps a structured error onto the failure envelope, taking the
// status and retryAfter hint from the catalog definition.
func writeError(w http.ResponseWriter, err error) {
	ge := errdefs.AsError(err)
	body := envelope{"ok": false, "error": ge.Message, "code": ge.Code}
	if ge.Retryable {
		body["retryAfter"] = 1
	}
	writeJSON(w, ge.HTTPStatus, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("response encode failed", "error", err)
	}
}

// StartTestServer binds a random loopback port and serves until ctx ends.
// Returns the listen address.
func StartTestServer(ctx context.Context, s *Server) (string, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", fmt.Errorf("listen: %w", err)
	}
	s.httpServer = &http.Server{Handler: s.BuildMux()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()
	go s.httpServer.Serve(ln)
	return ln.Addr().String(), nil
}
