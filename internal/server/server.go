// Package server is the HTTP send service. It accepts merged batches from the
// client, delivers each email through the configured provider and reports
// per-recipient outcomes.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"golang.org/x/time/rate"

	"github.com/shineum/mailmerge-lite/internal/metrics"
	"github.com/shineum/mailmerge-lite/internal/provider"
	"github.com/shineum/mailmerge-lite/internal/send"
)

// shutdownTimeout is the maximum time to wait for in-flight requests during
// graceful shutdown.
const shutdownTimeout = 30 * time.Second

// Config holds the service settings.
type Config struct {
	// DemoMode reports every email as sent without delivering anything.
	DemoMode bool

	// MaxBodyBytes caps the request body size.
	MaxBodyBytes int64

	// SendRate limits deliveries per second across all batches. Zero
	// disables the limit.
	SendRate  float64
	SendBurst int
}

// Server serves the send API.
type Server struct {
	cfg      Config
	factory  provider.Factory
	metrics  *metrics.Metrics
	limiter  *rate.Limiter
	validate *validator.Validate
	router   chi.Router

	mu       sync.Mutex
	listener net.Listener
}

// New creates a Server delivering through factory. m may be nil.
func New(cfg Config, factory provider.Factory, m *metrics.Metrics) *Server {
	if m == nil {
		m = metrics.New()
	}
	s := &Server{
		cfg:      cfg,
		factory:  factory,
		metrics:  m,
		validate: send.NewValidator(),
	}
	if cfg.SendRate > 0 {
		burst := cfg.SendBurst
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.SendRate), burst)
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(s.metrics.Middleware)

	r.Get("/healthz", s.handleHealth)
	r.Get("/api/status", s.handleStatus)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Group(func(r chi.Router) {
		if s.cfg.MaxBodyBytes > 0 {
			r.Use(middleware.RequestSize(s.cfg.MaxBodyBytes))
		}
		r.Post("/send-emails", s.handleSendEmails)
		r.Post("/test-smtp", s.handleTestSMTP)
	})
	return r
}

// Handler returns the HTTP handler of the service.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is cancelled, then waits up to 30
// seconds for in-flight requests. When tlsConfig is set the listener speaks
// HTTPS.
func (s *Server) ListenAndServe(ctx context.Context, addr string, tlsConfig *tls.Config) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	if tlsConfig != nil {
		ln = tls.NewListener(ln, tlsConfig)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	slog.Info("send service listening",
		"addr", ln.Addr().String(),
		"provider", s.factory.Name(),
		"demo_mode", s.cfg.DemoMode,
		"tls_enabled", tlsConfig != nil,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down send service")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("shutdown timeout reached, forcing close", "error", err)
		return srv.Close()
	}
	return nil
}

// Addr returns the listener address, or empty string if not listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
