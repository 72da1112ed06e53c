// Package server exposes the HTTP REST API: LLM invocation, structured
// extraction, uploads, quote batches, price details, symbol search, and
// health. Handlers authenticate, pre-check quota, orchestrate, consume
// quota on delivery, and classify errors into status codes.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/foliopilot/foliopilot/internal/config"
	"github.com/foliopilot/foliopilot/internal/errs"
	"github.com/foliopilot/foliopilot/internal/llm"
	"github.com/foliopilot/foliopilot/internal/marketdata"
	"github.com/foliopilot/foliopilot/internal/quota"
	"github.com/foliopilot/foliopilot/internal/uploads"
)

// Server is the HTTP API server.
type Server struct {
	router  chi.Router
	cfg     *config.Config
	invoker *llm.Invoker
	batch   *marketdata.BatchService
	details *marketdata.DetailsService
	search  *marketdata.SearchProvider
	gate    *quota.Gate
	uploads *uploads.Store
	auth    Authenticator
	log     zerolog.Logger
}

// Deps collects the services the server fronts.
type Deps struct {
	Invoker *llm.Invoker
	Batch   *marketdata.BatchService
	Details *marketdata.DetailsService
	Search  *marketdata.SearchProvider
	Gate    *quota.Gate
	Uploads *uploads.Store
	Auth    Authenticator
}

// New creates a configured API server with all routes and middleware.
func New(cfg *config.Config, deps Deps, log zerolog.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		invoker: deps.Invoker,
		batch:   deps.Batch,
		details: deps.Details,
		search:  deps.Search,
		gate:    deps.Gate,
		uploads: deps.Uploads,
		auth:    deps.Auth,
		log:     log.With().Str("component", "api").Logger(),
	}
	s.router = s.buildRouter()
	return s
}

// Router returns the chi router for testing.
func (s *Server) Router() chi.Router { return s.router }

// ListenAndServe starts the HTTP server with graceful shutdown.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.API.Host, s.cfg.API.Port)
	httpSrv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-done:
	}
	s.log.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return httpSrv.Shutdown(ctx)
}

// buildRouter configures all routes and middleware.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))

	origins := []string{"*"}
	if len(s.cfg.API.CORSOrigins) > 0 {
		origins = s.cfg.API.CORSOrigins
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(s.requireUser)

			r.Post("/invoke-llm", s.handleInvokeLLM)
			r.Post("/extract", s.handleExtract)
			r.Post("/upload", s.handleUpload)

			r.Post("/prices", s.handlePrices)
			r.Post("/prices/details", s.handlePriceDetails)
			r.Get("/symbols/search", s.handleSymbolSearch)
			r.Get("/usage", s.handleUsage)
		})
	})

	return r
}

// requestLogger logs one line per request at debug, errors at warn via
// the wrapped status code.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		evt := s.log.Debug()
		if ww.Status() >= 500 {
			evt = s.log.Warn()
		}
		evt.Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the error's kind to a status code and emits a
// sanitized body. BadModelOutput additionally carries the raw model
// text for diagnosis.
func writeError(w http.ResponseWriter, err error) {
	kind := errs.KindOf(err)
	body := map[string]any{"error": errs.Sanitize(err.Error())}
	if kind == errs.BadModelOutput {
		if raw := errs.RawOf(err); raw != "" {
			body["raw"] = errs.Sanitize(raw)
		}
	}
	writeJSON(w, errs.HTTPStatus(kind), body)
}
