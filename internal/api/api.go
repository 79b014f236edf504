// Package api exposes BloodLink's HTTP surface: the Twilio inbound and
// status webhooks, a health check, Prometheus metrics and the public
// directory of uploaded verification documents.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/BTreeMap/BloodLink/internal/models"
)

// DefaultAddr is the listen address when none is configured.
const DefaultAddr = ":8080"

const shutdownTimeout = 10 * time.Second

// Inbound accepts parsed webhook traffic. *messaging.TwilioService
// implements it.
type Inbound interface {
	Deliver(resp models.Response) error
	EmitReceipt(r models.Receipt)
}

// Pinger reports backend health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Opts configures the Server.
type Opts struct {
	Addr         string
	DocumentsDir string
}

// Option defines a configuration option for the Server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithDocumentsDir serves dir under /documents/.
func WithDocumentsDir(dir string) Option {
	return func(o *Opts) { o.DocumentsDir = dir }
}

// Server is the HTTP front end.
type Server struct {
	addr    string
	inbound Inbound
	checks  map[string]Pinger
	router  chi.Router
}

// NewServer builds the router. inbound may be nil when the transport
// receives messages by other means (whatsmeow); the webhooks then only
// acknowledge.
func NewServer(inbound Inbound, checks map[string]Pinger, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr}
	for _, opt := range opts {
		opt(&cfg)
	}
	s := &Server{addr: cfg.Addr, inbound: inbound, checks: checks}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Post("/webhook", s.webhookHandler)
	r.Post("/webhook/status", s.statusHandler)
	r.Get("/health", s.healthHandler)
	r.Handle("/metrics", promhttp.Handler())
	if cfg.DocumentsDir != "" {
		r.Handle("/documents/*", http.StripPrefix("/documents/", http.FileServer(http.Dir(cfg.DocumentsDir))))
	}
	s.router = r
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	slog.Info("Server.Run: shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
