package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/officefloor/officefloor/internal/execute"
	"github.com/officefloor/officefloor/internal/httpserve"
	"github.com/officefloor/officefloor/internal/officefloor"
)

// Recorder counts handled webhook requests by path and status.
type Recorder interface {
	WebhookHandled(path string, status int)
}

// Server accepts signed webhook deliveries and turns each into a process.
type Server struct {
	config   Config
	invoker  Invoker
	logger   *slog.Logger
	recorder Recorder
	server   *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithRecorder reports every handled request to r.
func WithRecorder(r Recorder) Option {
	return func(s *Server) { s.recorder = r }
}

// New creates a webhook server. Endpoints without a body limit get
// DefaultMaxBodySize.
func New(config Config, invoker Invoker, logger *slog.Logger, opts ...Option) *Server {
	eps := make([]EndpointConfig, len(config.Endpoints))
	for i, ep := range config.Endpoints {
		if ep.MaxBodySize == 0 {
			ep.MaxBodySize = DefaultMaxBodySize
		}
		eps[i] = ep
	}
	config.Endpoints = eps

	s := &Server{config: config, invoker: invoker, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start serves webhooks until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.config.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
	s.logger.Info("webhook endpoints", "count", len(s.config.Endpoints))
	return httpserve.Run(ctx, s.server, "webhook", s.logger)
}

// Handler routes each configured path to its endpoint.
func (s *Server) Handler() http.Handler {
	var observe func(string, int)
	if s.recorder != nil {
		observe = s.recorder.WebhookHandled
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, httpserve.AccessLog(s.logger, "webhook request", observe), middleware.Recoverer)
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "endpoint not found"})
	})
	for i := range s.config.Endpoints {
		ep := s.config.Endpoints[i]
		r.Post(ep.Path, s.endpoint(ep))
	}
	return r
}

// rejection is a request refused before any process starts.
type rejection struct {
	status  int
	message string
}

func (s *Server) endpoint(ep EndpointConfig) http.HandlerFunc {
	submitter := "webhook:" + ep.Path
	logger := s.logger.With("path", ep.Path, "office", ep.Office, "function", ep.Function)

	return func(w http.ResponseWriter, r *http.Request) {
		body, rej := readSigned(ep, r)
		if rej != nil {
			if rej.status == http.StatusForbidden {
				logger.Warn("webhook delivery rejected", "header", ep.SignatureHeader)
			}
			writeJSON(w, rej.status, ErrorResponse{Error: rej.message})
			return
		}

		ctx := officefloor.WithSubmitter(context.WithoutCancel(r.Context()), submitter)
		processID, err := s.invoker.Invoke(ctx, ep.Office, ep.Function, parameter(body), func(o execute.Outcome) {
			if o.Err != nil {
				logger.Warn("webhook process failed", "process_id", o.ProcessID, "error", o.Err)
			}
		})
		if err != nil {
			status, message := invokeFailure(err)
			if status == http.StatusInternalServerError {
				logger.Error("failed to invoke webhook function", "error", err)
			}
			writeJSON(w, status, ErrorResponse{Error: message})
			return
		}

		logger.Info("webhook process started", "process_id", processID)
		writeJSON(w, http.StatusAccepted, TriggerResponse{ProcessID: processID})
	}
}

// readSigned reads at most the endpoint's body limit and checks the HMAC
// signature over it.
func readSigned(ep EndpointConfig, r *http.Request) ([]byte, *rejection) {
	if r.ContentLength > ep.MaxBodySize {
		return nil, &rejection{http.StatusRequestEntityTooLarge, "payload too large"}
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, ep.MaxBodySize+1))
	if err != nil {
		return nil, &rejection{http.StatusBadRequest, "failed to read request body"}
	}
	if int64(len(body)) > ep.MaxBodySize {
		return nil, &rejection{http.StatusRequestEntityTooLarge, "payload too large"}
	}
	signature := r.Header.Get(ep.SignatureHeader)
	if signature == "" || verifyHMACSignature(body, signature, ep.Secret) != nil {
		return nil, &rejection{http.StatusForbidden, "forbidden"}
	}
	return body, nil
}

func invokeFailure(err error) (int, string) {
	switch {
	case errors.Is(err, officefloor.ErrUnknownInput):
		return http.StatusNotFound, "unknown office function"
	case errors.Is(err, officefloor.ErrClosed):
		return http.StatusServiceUnavailable, "office floor is closing"
	default:
		return http.StatusInternalServerError, "failed to invoke"
	}
}

// parameter decodes a JSON body, falling back to the raw text. An empty
// body is a nil parameter.
func parameter(body []byte) any {
	if len(body) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(body, &v); err == nil {
		return v
	}
	return string(body)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
