// Package server exposes rehearsal sessions over WebSocket and serves the
// operational HTTP routes (health, metrics, session listing) on one chi
// router.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MrWong99/rehearse/internal/health"
	"github.com/MrWong99/rehearse/internal/observe"
)

// Config holds the dependencies and settings of a [Server].
type Config struct {
	// ListenAddr is the TCP address for ListenAndServe.
	ListenAddr string

	// WSPath is the route of the rehearsal WebSocket. Default "/ws".
	WSPath string

	// NewSession creates the session of each accepted connection. Required.
	NewSession SessionFactory

	// ReadLimit caps one inbound frame in bytes. Zero keeps the websocket
	// library's default.
	ReadLimit int64

	// IdleTimeout closes connections that sent nothing for this long. Zero
	// disables it.
	IdleTimeout time.Duration

	// OriginPatterns are extra hosts allowed to open cross-origin sockets.
	OriginPatterns []string

	// Health, when set, mounts /healthz, /readyz and /api/health.
	Health *health.Handler

	// Metrics enables the HTTP middleware. Optional.
	Metrics *observe.Metrics

	// MetricsPath and MetricsHandler mount a scrape endpoint when both are
	// set.
	MetricsPath    string
	MetricsHandler http.Handler

	// CertFile and KeyFile switch ListenAndServe to TLS.
	CertFile string
	KeyFile  string

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Server is the rehearse HTTP server.
type Server struct {
	cfg     Config
	log     *slog.Logger
	http    *http.Server
	router  chi.Router
	manager *Manager

	base   context.Context
	cancel context.CancelFunc
}

// New builds the router and the underlying http.Server.
func New(cfg Config) (*Server, error) {
	if cfg.NewSession == nil {
		return nil, errors.New("server: session factory is required")
	}
	if cfg.WSPath == "" {
		cfg.WSPath = "/ws"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	base, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:     cfg,
		log:     cfg.Logger,
		manager: NewManager(),
		base:    base,
		cancel:  cancel,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	if cfg.Metrics != nil {
		r.Use(observe.Middleware(cfg.Metrics))
	}

	if cfg.Health != nil {
		cfg.Health.Register(r)
	}
	if cfg.MetricsPath != "" && cfg.MetricsHandler != nil {
		r.Method(http.MethodGet, cfg.MetricsPath, cfg.MetricsHandler)
	}
	r.Get("/api/sessions", s.listSessions)
	r.Method(http.MethodGet, cfg.WSPath, &wsHandler{
		base:        base,
		newSession:  cfg.NewSession,
		manager:     s.manager,
		readLimit:   cfg.ReadLimit,
		idleTimeout: cfg.IdleTimeout,
		origins:     cfg.OriginPatterns,
		log:         cfg.Logger,
	})
	s.router = r

	s.http = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return base },
	}
	return s, nil
}

// Handler returns the root handler, e.g. for httptest.
func (s *Server) Handler() http.Handler { return s.router }

// Manager returns the live session registry.
func (s *Server) Manager() *Manager { return s.manager }

// ListenAndServe listens on the configured address and serves until
// [Server.Shutdown]. It returns nil after a graceful shutdown.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("server: listen %q: %w", s.cfg.ListenAddr, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until [Server.Shutdown].
func (s *Server) Serve(ln net.Listener) error {
	s.log.Info("server: listening", "addr", ln.Addr().String(), "ws_path", s.cfg.WSPath, "tls", s.cfg.CertFile != "")
	var err error
	if s.cfg.CertFile != "" {
		err = s.http.ServeTLS(ln, s.cfg.CertFile, s.cfg.KeyFile)
	} else {
		err = s.http.Serve(ln)
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting connections, ends every live session and waits
// for their connections to close or ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("server: shutting down", "sessions", s.manager.Len())
	s.manager.Close()
	err := s.http.Shutdown(ctx)
	s.cancel()
	if werr := s.manager.Wait(ctx); werr != nil {
		s.log.Warn("server: sessions still open at shutdown deadline", "sessions", s.manager.Len())
		err = errors.Join(err, werr)
	}
	return err
}

type sessionView struct {
	ID          string    `json:"id"`
	ScriptID    int64     `json:"scriptId,omitempty"`
	State       string    `json:"state"`
	CurrentLine int       `json:"currentLine"`
	LineCount   int       `json:"lineCount"`
	CreatedAt   time.Time `json:"createdAt"`
}

// listSessions serves GET /api/sessions.
func (s *Server) listSessions(w http.ResponseWriter, _ *http.Request) {
	snaps := s.manager.Snapshots()
	views := make([]sessionView, len(snaps))
	for i, snap := range snaps {
		views[i] = sessionView{
			ID:          snap.ID,
			ScriptID:    snap.ScriptID,
			State:       snap.State.String(),
			CurrentLine: snap.CurrentLine,
			LineCount:   snap.LineCount,
			CreatedAt:   snap.CreatedAt,
		}
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{"sessions": views, "count": len(views)}); err != nil {
		s.log.Debug("server: write session list", "err", err)
	}
}
