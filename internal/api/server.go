// Package api exposes the office inputs over HTTP: invoking functions,
// looking up journalled processes, streaming engine events and serving
// metrics.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/officefloor/officefloor/internal/auth"
	"github.com/officefloor/officefloor/internal/events"
	"github.com/officefloor/officefloor/internal/execute"
	"github.com/officefloor/officefloor/internal/httpserve"
	"github.com/officefloor/officefloor/internal/journal"
	"github.com/officefloor/officefloor/internal/meta"
)

// Floor is the office floor the server invokes.
type Floor interface {
	Offices() []*meta.Office
	Invoke(ctx context.Context, office, function string, parameter any, callback func(execute.Outcome)) (string, error)
	Active() int
}

// ProcessStore looks up journalled processes.
type ProcessStore interface {
	Get(ctx context.Context, id string) (*journal.Entry, error)
	Recent(ctx context.Context, limit int) ([]journal.Entry, error)
	Escalations(ctx context.Context, limit int) ([]journal.Escalation, error)
}

// Config holds API server configuration
type Config struct {
	Listen string
	// Tokens are the scoped bearer tokens accepted.
	Tokens            []auth.TokenConfig
	MaxConcurrentSync int
	MaxInvokeTimeout  time.Duration
	// RequestsPerSecond limits each token. Zero disables limiting.
	RequestsPerSecond float64
	Burst             int
}

// Server represents the HTTP API server
type Server struct {
	config        Config
	floor         Floor
	processes     ProcessStore
	events        *events.Hub
	metrics       http.Handler
	limiter       *RateLimiter
	logger        *slog.Logger
	server        *http.Server
	startedAt     time.Time
	syncSemaphore chan struct{}
}

// New creates a new API server instance. processes and metrics may be nil,
// in which case their endpoints answer 503.
func New(config Config, floor Floor, processes ProcessStore, hub *events.Hub, metrics http.Handler, logger *slog.Logger) *Server {
	if config.MaxConcurrentSync <= 0 {
		config.MaxConcurrentSync = 10
	}
	if hub == nil {
		hub = events.NewHub(256)
	}
	s := &Server{
		config:        config,
		floor:         floor,
		processes:     processes,
		events:        hub,
		metrics:       metrics,
		logger:        logger,
		startedAt:     time.Now(),
		syncSemaphore: make(chan struct{}, config.MaxConcurrentSync),
	}
	if config.RequestsPerSecond > 0 {
		s.limiter = NewRateLimiter(config.RequestsPerSecond, config.Burst)
	}
	return s
}

// Start serves the API until ctx is done or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.config.Listen,
		Handler:           s.setupRoutes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// Synchronous invocations may wait up to MaxInvokeTimeout.
		WriteTimeout: s.config.MaxInvokeTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return httpserve.Run(ctx, s.server, "API", s.logger)
}

// setupRoutes configures the HTTP router
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, httpserve.AccessLog(s.logger, "http request", nil), middleware.Recoverer)

	// Unauthenticated ops endpoint.
	r.Get("/healthz", s.handleHealthz)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		if s.limiter != nil {
			r.Use(s.limiter.Handler)
		}
		r.With(s.requireOfficeScope).Get("/offices", s.handleListOffices)
		r.Get("/offices/{office}", s.handleGetOffice)
		r.Post("/offices/{office}/inputs/{function}", s.handleInvoke)

		r.Group(func(r chi.Router) {
			r.Use(s.requireScopes(auth.ScopeProcesses))
			r.Get("/processes", s.handleListProcesses)
			r.Get("/processes/{processID}", s.handleGetProcess)
			r.Get("/escalations", s.handleListEscalations)
		})
		r.With(s.requireScopes(auth.ScopeEvents)).Get("/events", s.handleEvents)
		r.With(s.requireScopes(auth.ScopeMetrics)).Get("/metrics", s.handleMetrics)
	})

	return r
}
