package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const shutdownTimeout = 5 * time.Second

// NewRouter mounts handler on POST path behind the request id, recover and access
// log middleware, with a health check on GET /healthz. Every route is traced.
func NewRouter(service, path string, handler http.Handler) http.Handler {
	log := slog.Default().With("service", service, "module", "http")

	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(recoverer(log))
	r.Use(accessLog(log))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle(path, handler)

	return otelhttp.NewHandler(r, service)
}

// Run serves handler on port until ctx is done or the process receives SIGTERM or
// an interrupt, then shuts the server down gracefully.
func Run(ctx context.Context, service string, port int, handler http.Handler) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, os.Interrupt)
	defer stop()

	srv := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(port)),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	log := slog.Default().With("service", service, "module", "server")

	errCh := make(chan error, 1)
	go func() {
		log.InfoContext(ctx, "server started", "operation", "listen", "outcome", "start", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("listen on %s: %w", srv.Addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info("server stopped", "operation", "shutdown", "outcome", "success")
	return nil
}
