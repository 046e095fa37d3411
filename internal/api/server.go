// Package api provides the HTTP API server and handlers for the circulation server.
package api

import (
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/circulate/circulation-server/internal/ratelimit"
	"github.com/circulate/circulation-server/internal/validation"
)

// Server holds dependencies for HTTP handlers.
type Server struct {
	services   *Services
	probes     Probes
	validator  *validation.Validator
	limiter    *ratelimit.KeyedRateLimiter
	sseHandler http.Handler
	router     *chi.Mux
	api        huma.API
	logger     *slog.Logger
}

// Options holds the HTTP surface settings.
type Options struct {
	// CORSOrigins lists allowed origins; empty allows all.
	CORSOrigins []string
	// Limiter throttles requests per client IP. Nil disables throttling.
	Limiter *ratelimit.KeyedRateLimiter
}

// NewServer creates a new HTTP server with all routes configured.
func NewServer(services *Services, probes Probes, sseHandler http.Handler, opts Options, logger *slog.Logger) *Server {
	router := chi.NewRouter()

	s := &Server{
		services:   services,
		probes:     probes,
		validator:  validation.New(),
		limiter:    opts.Limiter,
		sseHandler: sseHandler,
		router:     router,
		logger:     logger,
	}

	// chi requires middleware before any route is mounted.
	s.setupMiddleware(opts.CORSOrigins)

	humaConfig := huma.DefaultConfig("Circulation API", "1.0.0")
	humaConfig.Info.Description = "Loan lifecycle for a lending library: reservations, queues, returns and fines."
	humaConfig.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"member": {
			Type: "apiKey",
			In:   "header",
			Name: MemberHeader,
		},
	}
	humaConfig.Transformers = append(humaConfig.Transformers, EnvelopeTransformer)

	s.api = humachi.New(router, humaConfig)
	RegisterErrorHandler()

	s.setupRoutes()

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// API exposes the huma API, mainly for tests and OpenAPI export.
func (s *Server) API() huma.API {
	return s.api
}

// setupMiddleware configures middleware stack.
func (s *Server) setupMiddleware(origins []string) {
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger(s.logger))
	s.router.Use(middleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", MemberHeader},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	if s.limiter != nil {
		s.router.Use(rateLimitMiddleware(s.limiter, s.logger))
	}
	s.router.Use(memberMiddleware)
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.registerHealthRoutes()
	s.registerLoanRoutes()
	s.registerItemRoutes()
	s.registerFineRoutes()
	s.registerMaintenanceRoutes()

	// Streaming stays on chi; huma operations buffer their bodies.
	if s.sseHandler != nil {
		s.router.Get("/api/v1/events", s.sseHandler.ServeHTTP)
	}
}
