package web

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hpungsan/tether/internal/logging"
	"github.com/hpungsan/tether/internal/metrics"
	"github.com/hpungsan/tether/internal/recovery"
)

// NewServer creates the read-only HTTP status API over engine. Every route
// is counted in m, which also backs GET /metrics.
func NewServer(engine *recovery.Engine, m *metrics.Metrics, log *zap.Logger, version, bind string, port int) *http.Server {
	h := NewHandlers(engine, version, log)

	mux := http.NewServeMux()
	route := func(pattern string, fn http.HandlerFunc) {
		mux.HandleFunc(pattern, m.Instrument(pattern, fn))
	}

	route("GET /{$}", h.HandleIndex)
	route("GET /sessions", h.HandleSessions)
	route("GET /sessions/{id}", h.HandleStatus)
	route("GET /sessions/{id}/windows", h.HandleWindows)
	route("GET /sessions/{id}/stats", h.HandleStats)
	route("GET /sessions/{id}/report", h.HandleReport)
	mux.Handle("GET /metrics", m.Handler())

	return &http.Server{
		Addr:              fmt.Sprintf("%s:%d", bind, port),
		Handler:           securityHeaders(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// securityHeaders adds security-related HTTP headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", "default-src 'self'")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		next.ServeHTTP(w, r)
	})
}

// Run starts the HTTP server and shuts it down gracefully on SIGINT/SIGTERM.
func Run(srv *http.Server, log *zap.Logger) error {
	log = logging.OrNop(log).Named("web")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	log.Info("status API listening", zap.String("addr", "http://"+srv.Addr))
	if strings.Contains(srv.Addr, "0.0.0.0") || strings.Contains(srv.Addr, "::") {
		log.Warn("server is binding to all interfaces and may be accessible from the network")
	}

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.Info("shutting down", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}
}
