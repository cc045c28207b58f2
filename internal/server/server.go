// Package server implements the HTTP surface of the gateway: the health and
// metrics endpoints plus the v1 resource tree
// /v1/resources/{resource}/providers/{provider}/{path}, where one request
// becomes rate-limit, auth, provider-construction and storage calls.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/portagehq/portage/internal/auth"
	"github.com/portagehq/portage/internal/logging"
	"github.com/portagehq/portage/internal/metrics"
	"github.com/portagehq/portage/internal/notify"
	"github.com/portagehq/portage/internal/ratelimit"
	"github.com/portagehq/portage/internal/transfer"
	"github.com/portagehq/portage/internal/version"
)

const (
	// shutdownTimeout bounds the drain of in-flight requests once Run's
	// context is cancelled.
	shutdownTimeout = 15 * time.Second

	// readHeaderTimeout guards against slowloris connections. Read and
	// write timeouts stay unset: uploads and downloads are legitimately
	// long-lived.
	readHeaderTimeout = 10 * time.Second

	idleTimeout = 2 * time.Minute
)

// Options wires the server's collaborators. Zero values select no-op
// implementations so tests can construct a server from just an auth handler.
type Options struct {
	// BaseURL prefixes the entity links in JSON-API payloads. Empty yields
	// root-relative links.
	BaseURL string

	// RequestTimeout bounds bookkeeping operations (metadata, listings,
	// deletes, folder creation). Transfers manage their own liveness and
	// are never cut short by it. Zero disables the bound.
	RequestTimeout time.Duration

	Auth     auth.Handler
	Limiter  *ratelimit.Limiter
	Engine   *transfer.Engine
	Notifier notify.Notifier
	Metrics  metrics.Sink

	// MetricsHandler, when set, is served at GET /metrics.
	MetricsHandler http.Handler
}

// Server is the gateway's HTTP front. It is safe for concurrent use and
// implements http.Handler, so tests can drive it through httptest directly.
type Server struct {
	baseURL        string
	requestTimeout time.Duration

	auth     auth.Handler
	limiter  *ratelimit.Limiter
	engine   *transfer.Engine
	notifier notify.Notifier
	metrics  metrics.Sink

	router chi.Router
	log    zerolog.Logger
}

// New assembles the router and middleware around the given collaborators.
func New(opts Options) *Server {
	s := &Server{
		baseURL:        opts.BaseURL,
		requestTimeout: opts.RequestTimeout,
		auth:           opts.Auth,
		limiter:        opts.Limiter,
		engine:         opts.Engine,
		notifier:       opts.Notifier,
		metrics:        opts.Metrics,
		log:            logging.Component("server"),
	}
	if s.metrics == nil {
		s.metrics = metrics.Nop()
	}
	if s.notifier == nil {
		s.notifier = notify.Nop{}
	}
	if s.limiter == nil {
		s.limiter = ratelimit.New(ratelimit.Options{})
	}
	if s.engine == nil {
		s.engine = transfer.New(transfer.Options{Metrics: s.metrics})
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowOriginFunc:  func(r *http.Request, origin string) bool { return true },
		AllowedMethods:   []string{"GET", "HEAD", "PUT", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Range", "Content-Type", "Authorization", "Cache-Control", "X-Requested-With"},
		ExposedHeaders: []string{
			"Range", "Accept-Ranges", "Content-Range", "Content-Length",
			"Content-Encoding", "Content-Disposition", "X-Portage-Metadata",
			"Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset",
		},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/status", s.handleStatus)
	if opts.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", opts.MetricsHandler)
	}
	// The v1 tree is dispatched by hand: chi would need one route per
	// method/shape combination, and the trailing slash of the raw path is
	// significant so no normalization may run on it.
	r.HandleFunc("/v1/resources/*", s.handleV1)

	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "up",
		"version": version.Version,
	})
}

// Run serves on addr until ctx is cancelled, then drains in-flight requests
// for up to shutdownTimeout before returning.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.log.Info().Str("addr", addr).Str("version", version.Version).Msg("gateway listening")

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	s.log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
