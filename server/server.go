// Package server exposes the daemon's flows over a local HTTP control API
// and as MCP tools. Both surfaces call the same kit endpoints.
package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/chatdrop/endpoint"
	"github.com/hazyhaar/chatdrop/knowledge"
	"github.com/hazyhaar/chatdrop/observability"
	"github.com/hazyhaar/chatdrop/panel"
	"github.com/hazyhaar/chatdrop/router"
	"github.com/hazyhaar/chatdrop/settings"
	"github.com/hazyhaar/chatdrop/shield"
)

// Flows is satisfied by *panel.Panel.
type Flows interface {
	Attach(ctx context.Context, rawURL string, summarize bool) (router.Reply, error)
	Summarize(ctx context.Context, rawURL string) (router.Reply, error)
	ListCollections(ctx context.Context) ([]knowledge.Collection, error)
	UploadToCollection(ctx context.Context, rawURL, collectionID string) (*panel.UploadResult, error)
	CreateCollection(ctx context.Context, name, description string) (*knowledge.Collection, error)
	UploadToNewCollection(ctx context.Context, rawURL, name, description string) (*panel.UploadResult, error)
	Status() *panel.Status
}

// Background is satisfied by *router.Router.
type Background interface {
	Send(ctx context.Context, msg router.Message) (router.Reply, error)
}

// EventLog is satisfied by *observability.Journal.
type EventLog interface {
	Recent(ctx context.Context, kind string, limit int) ([]observability.Event, error)
}

// Server wires the endpoints to chi and MCP.
type Server struct {
	store   settings.Store
	prober  endpoint.Prober
	bg      Background
	flows   Flows
	events  EventLog
	hbDB    *sql.DB
	hbName  string
	hbStale time.Duration
	token   string
	version string
	logger  *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option { return func(s *Server) { s.logger = l } }

// WithToken requires a bearer token on every route but /health.
func WithToken(token string) Option { return func(s *Server) { s.token = token } }

// WithEvents serves recent journal events on /api/status.
func WithEvents(e EventLog) Option { return func(s *Server) { s.events = e } }

// WithHeartbeat reports the named daemon's heartbeat on /health.
func WithHeartbeat(db *sql.DB, name string, stale time.Duration) Option {
	return func(s *Server) { s.hbDB, s.hbName, s.hbStale = db, name, stale }
}

// WithVersion sets the version reported to MCP clients.
func WithVersion(v string) Option { return func(s *Server) { s.version = v } }

// New creates a Server.
func New(store settings.Store, prober endpoint.Prober, bg Background, flows Flows, opts ...Option) *Server {
	s := &Server{
		store:   store,
		prober:  prober,
		bg:      bg,
		flows:   flows,
		hbStale: 2 * time.Minute,
		version: "dev",
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler returns the HTTP control API, with /mcp mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	for _, mw := range shield.DefaultStack(s.logger, s.token) {
		r.Use(mw)
	}

	r.Get("/health", s.health)

	r.Route("/api", func(r chi.Router) {
		r.Get("/endpoint", s.handle("endpoint_status", s.endpointStatus, noBody))
		r.Post("/endpoint/recheck", s.handle("endpoint_recheck", s.recheck, noBody))
		r.Get("/settings", s.handle("settings_get", s.getSettings, noBody))
		r.Put("/settings", s.handle("settings_put", s.putSettings, jsonBody[endpoint.Options]))
		r.Post("/attach", s.handle("attach", s.attach, jsonBody[urlRequest]))
		r.Post("/summarize", s.handle("summarize", s.summarize, jsonBody[urlRequest]))
		r.Get("/knowledge", s.handle("knowledge_list", s.listCollections, noBody))
		r.Post("/knowledge", s.handle("knowledge_create", s.createCollection, jsonBody[createRequest]))
		r.Post("/knowledge/upload", s.handle("knowledge_upload", s.upload, jsonBody[uploadRequest]))
		r.Get("/status", s.handle("status", s.status, statusQuery))
	})

	mcpSrv := s.MCP()
	r.Handle("/mcp", mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return mcpSrv }, nil))
	return r
}

// ListenAndServe serves addr until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server: listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok"}
	if s.hbDB != nil {
		hb, err := observability.LatestHeartbeat(r.Context(), s.hbDB, s.hbName, s.hbStale)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		resp["heartbeat"] = hb
		if hb != nil && !hb.Alive {
			resp["status"] = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
