// Package adminserver is the optional chi-based HTTP front end over the
// reconciliation engine (SPEC_FULL.md §C.5, §D), grounded on the teacher's
// internal/server package: same middleware stack, same healthz/graceful
// shutdown shape, retargeted from "CRUD over a SQL table" to "invoke a
// table sync and report its plan".
package adminserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	servicenow "github.com/anguspalmer/servicenow"
	"github.com/anguspalmer/servicenow/internal/adminserver/middleware"
	"github.com/anguspalmer/servicenow/internal/descriptoryaml"
	"github.com/anguspalmer/servicenow/internal/openapi"
)

// Config holds the admin HTTP server's configuration.
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	JWTSecret       []byte
	RateLimitPerMin int

	// MCPHandler, when non-nil, is mounted at /mcp so agent callers and
	// REST callers share one listening port.
	MCPHandler http.Handler
}

// DefaultConfig returns a Config with production-sane defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8090,
		ShutdownTimeout: 30 * time.Second,
		CORSOrigins:     []string{"*"},
		RateLimitPerMin: 120,
	}
}

// Server is the admin HTTP surface: it owns the chi router and a handle
// back to the reconciliation Client.
type Server struct {
	cfg        Config
	client     *servicenow.Client
	router     chi.Router
	httpServer *http.Server
	logger     *slog.Logger
}

// New wires up routes and middleware and returns a Server ready to listen.
func New(cfg Config, client *servicenow.Client, logger *slog.Logger) *Server {
	s := &Server{cfg: cfg, client: client, logger: logger}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))
	r.Use(middleware.RateLimit(s.cfg.RateLimitPerMin))

	r.Get("/healthz", s.handleHealthz)
	r.Get("/openapi.json", s.handleOpenAPI)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Authenticate(s.cfg.JWTSecret))
		r.Post("/v1/sync/table", s.handleSyncTable)
	})

	if s.cfg.MCPHandler != nil {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Authenticate(s.cfg.JWTSecret))
			r.Mount("/mcp", s.cfg.MCPHandler)
		})
	}

	s.router = r
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	baseURL := fmt.Sprintf("http://%s", r.Host)
	doc := openapi.Generate(baseURL)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(doc)
}

type syncRequest struct {
	TableYAML string `json:"table_yaml"`
	Commit    bool   `json:"commit"`
}

type planActionView struct {
	Kind   string `json:"kind"`
	Target string `json:"target"`
	Reason string `json:"reason,omitempty"`
}

func (s *Server) handleSyncTable(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	desired, err := descriptoryaml.Decode([]byte(req.TableYAML))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	p, err := s.client.SyncTable(r.Context(), desired, req.Commit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	actions := make([]planActionView, len(p.Actions))
	for i, a := range p.Actions {
		actions[i] = planActionView{Kind: a.Kind.String(), Target: a.Target, Reason: a.Reason}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"committed": req.Commit, "actions": actions})
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]string{"message": message},
	})
}

// ListenAndServe starts the HTTP server and blocks until SIGINT/SIGTERM,
// then drains in-flight requests before returning.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("admin server starting", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("admin server listen: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("admin server shutdown: %w", err)
	}
	return nil
}
