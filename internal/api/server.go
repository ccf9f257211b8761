package api

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/org/agentgate/internal/agent"
	"github.com/org/agentgate/internal/audit"
	"github.com/org/agentgate/internal/policy"
	"github.com/org/agentgate/internal/storage"
	"github.com/rs/zerolog/log"
)

// Config holds server configuration.
type Config struct {
	ListenAddr  string
	TLSCertFile string
	TLSKeyFile  string
	Agent       agent.Config
}

// Server is the HTTP surface over the agent service. It owns bearer
// extraction and status mapping; the core never sees HTTP.
type Server struct {
	store   storage.Backend
	agents  *agent.Service
	policy  *policy.Engine
	auditor *audit.Logger
	cfg     Config
	httpSrv *http.Server
}

// NewServer creates a fully wired Server.
func NewServer(store storage.Backend, cfg Config) *Server {
	auditor := audit.NewLogger(store)
	return &Server{
		store:   store,
		agents:  agent.NewService(store, auditor, cfg.Agent),
		policy:  policy.NewEngine(store),
		auditor: auditor,
		cfg:     cfg,
	}
}

// BuildRouter wires up all routes and returns a chi router.
func (s *Server) BuildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(metricsMiddleware)
	r.Use(newRateLimiter(100, 200).middleware)

	// Prometheus metrics (unauthenticated)
	r.Handle("/metrics", MetricsHandler())

	// Public routes: registration and possession proof carry their own
	// credential material, so no bearer auth applies.
	r.Group(func(r chi.Router) {
		r.Get("/v1/sys/health", s.HealthHandler)
		r.Post("/v1/agents/register", s.RegisterHandler)
		r.Post("/v1/agents/{id}/verify", s.VerifyHandler)
	})

	// Authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware(s.agents))

		r.Get("/v1/agents/self", s.SelfHandler)
		r.Get("/v1/agents/{id}", s.AgentGetHandler)
		r.Post("/v1/agents/{id}/rotate", s.RotateHandler)
		r.Post("/v1/agents/{id}/revoke", s.RevokeHandler)

		r.Post("/v1/access/check", s.AccessCheckHandler)

		r.Get("/v1/sys/audit-log", s.AuditLogHandler)
	})

	return r
}

// Start begins listening on the configured address.
func (s *Server) Start() error {
	handler := s.BuildRouter()

	s.httpSrv = &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if s.cfg.TLSCertFile != "" && s.cfg.TLSKeyFile != "" {
		tlsCfg := &tls.Config{
			MinVersion: tls.VersionTLS12,
			CurvePreferences: []tls.CurveID{
				tls.CurveP256,
				tls.X25519,
			},
		}
		s.httpSrv.TLSConfig = tlsCfg
		log.Info().Str("addr", s.cfg.ListenAddr).Msg("starting HTTPS server")
		return s.httpSrv.ListenAndServeTLS(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
	}

	log.Info().Str("addr", s.cfg.ListenAddr).Msg("starting HTTP server")
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
