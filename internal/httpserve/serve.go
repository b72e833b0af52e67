// Package httpserve runs the office floor's HTTP listeners.
package httpserve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// ShutdownTimeout bounds the graceful drain once the context ends.
const ShutdownTimeout = 5 * time.Second

// Run serves srv until ctx is done, then drains it. It returns ctx.Err()
// after a clean shutdown, or the listener's error if it fails first.
func Run(ctx context.Context, srv *http.Server, name string, logger *slog.Logger) error {
	logger.Info(name+" server starting", "listen", srv.Addr)

	served := make(chan error, 1)
	go func() { served <- srv.ListenAndServe() }()

	select {
	case err := <-served:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("%s server error: %w", name, err)
	case <-ctx.Done():
	}

	logger.Info(name + " server shutting down")
	stopCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(stopCtx); err != nil {
		return fmt.Errorf("%s server shutdown failed: %w", name, err)
	}
	return ctx.Err()
}

// AccessLog logs every request without its body. observe, when set, sees
// the path and final status.
func AccessLog(logger *slog.Logger, message string, observe func(path string, status int)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			if observe != nil {
				observe(r.URL.Path, status)
			}
			logger.Info(message,
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
				"remote_addr", r.RemoteAddr,
			)
		})
	}
}
