// Package api exposes the diploma service over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/wangue52/diploma-secure/internal/app"
	"github.com/wangue52/diploma-secure/internal/config"
	"github.com/wangue52/diploma-secure/internal/log"
	"github.com/wangue52/diploma-secure/internal/metrics"
)

// ActorHeader carries the caller identity recorded in audit entries.
// Authentication happens in front of this service.
const ActorHeader = "X-Actor-ID"

// Server is the HTTP API server.
type Server struct {
	app       *app.App
	cfg       config.ServerConfig
	limiter   *clientLimiter
	handler   http.Handler
	startedAt time.Time
	now       func() time.Time
}

// New builds the server and its routes.
func New(a *app.App, cfg config.ServerConfig) (*Server, error) {
	limiter, err := newClientLimiter(cfg.PublicRate, cfg.PublicBurst, cfg.LimiterCacheSize)
	if err != nil {
		return nil, err
	}
	s := &Server{
		app:       a,
		cfg:       cfg,
		limiter:   limiter,
		startedAt: time.Now(),
		now:       func() time.Time { return time.Now().UTC() },
	}
	s.handler = s.routes()
	return s, nil
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(instrument)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/public", func(r chi.Router) {
			r.Use(cors.Handler(cors.Options{
				AllowedOrigins: s.cfg.CORSOrigins,
				AllowedMethods: []string{http.MethodGet, http.MethodOptions},
				MaxAge:         300,
			}))
			r.Use(s.limiter.middleware)
			r.Get("/verify/{id}", s.handlePublicVerify)
		})

		r.Route("/tenants/{tenant}", func(r chi.Router) {
			r.Post("/diplomas", s.handleCreate)
			r.Get("/diplomas", s.handleList)
			r.Get("/stats", s.handleStats)
			r.Get("/signers/{signer}/pending", s.handlePending)
			r.Get("/audit", s.handleAuditEntries)
			r.Post("/audit/verify", s.handleAuditVerify)
			r.Get("/audit/export", s.handleAuditExport)
			r.Post("/audit/release", s.handleAuditRelease)
		})

		r.Route("/diplomas/{id}", func(r chi.Router) {
			r.Get("/", s.handleGet)
			r.Get("/verification", s.handleVerify)
			r.Post("/transitions", s.handleTransition)
			r.Post("/signatures", s.handleSign)
			r.Post("/replacement", s.handleReplace)
		})
		r.Post("/signatures/bulk", s.handleBulkSign)
	})
	return r
}

// instrument records handler latency and logs each request at debug level.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		metrics.RequestDuration.WithLabelValues(route, strconv.Itoa(status)).Observe(elapsed.Seconds())
		log.Debug("http request", "method", r.Method, "route", route, "status", status,
			"duration", elapsed, "request_id", middleware.GetReqID(r.Context()))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.app.DB.Read.PingContext(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"startedAt": s.startedAt.UTC().Format(time.RFC3339),
	})
}

// Run serves on cfg.Addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("serving API", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving API: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		timeout := s.cfg.ShutdownTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		log.Info("shutting down API")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
