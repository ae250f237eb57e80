// SPDX-License-Identifier: MIT

// Package api exposes the summarize daemon over HTTP: the summarize and
// feedback endpoints, the SSE stream, and the health probes.
package api

import (
	"context"
	_ "embed"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/chapterd/chapterd/internal/api/middleware"
	"github.com/chapterd/chapterd/internal/store"
	"github.com/chapterd/chapterd/internal/summarize"
)

// openapiSpec documents the HTTP surface; a contract test keeps it and
// the router in lockstep.
//
//go:embed openapi.yaml
var openapiSpec []byte

// Summarizer is the orchestrator surface the handlers need.
type Summarizer interface {
	Summarize(ctx context.Context, req summarize.Request) (summarize.Outcome, error)
}

// Config tunes the HTTP surface.
type Config struct {
	CORSOrigins    []string
	RateLimitRPM   int           // per client IP on /api
	SSEIdleTimeout time.Duration // subscription idle cutoff
	TracingService string        // empty disables otel spans
}

func (c Config) withDefaults() Config {
	if c.RateLimitRPM <= 0 {
		c.RateLimitRPM = 60
	}
	if c.SSEIdleTimeout <= 0 {
		c.SSEIdleTimeout = 300 * time.Second
	}
	if len(c.CORSOrigins) == 0 {
		c.CORSOrigins = []string{"*"}
	}
	return c
}

// Server holds the handler dependencies.
type Server struct {
	summarizer  Summarizer
	feedback    store.FeedbackStore
	readiness   []ReadyCheck
	idleTimeout time.Duration
	cfg         Config
}

// New builds a server; call Router for its handler tree.
func New(cfg Config, summarizer Summarizer, feedback store.FeedbackStore, readiness ...ReadyCheck) *Server {
	cfg = cfg.withDefaults()
	return &Server{
		summarizer:  summarizer,
		feedback:    feedback,
		readiness:   readiness,
		idleTimeout: cfg.SSEIdleTimeout,
		cfg:         cfg,
	}
}

// Router assembles the middleware stack and routes.
func (s *Server) Router() *chi.Mux {
	r := middleware.NewRouter(middleware.StackConfig{
		AllowedOrigins: s.cfg.CORSOrigins,
		TracingService: s.cfg.TracingService,
		EnableMetrics:  true,
		EnableLogging:  true,
	})

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.RateLimit(s.cfg.RateLimitRPM))
		r.Post("/summarize/{vid}", s.handleSummarize)
		r.Post("/feedback/{vid}", s.handleFeedback)
	})

	return r
}
