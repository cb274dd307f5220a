// Package api exposes the conversion service over HTTP: admission, status
// polling, time-boxed retrieval and the privileged operations surface.
package api

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/allinconverter/aic-core/internal/audit"
	"github.com/allinconverter/aic-core/internal/config"
	"github.com/allinconverter/aic-core/internal/metrics"
	"github.com/allinconverter/aic-core/internal/queue"
	"github.com/allinconverter/aic-core/internal/ratelimit"
)

// ObjectStore is the slice of the storage gateway the handlers need;
// satisfied by *storage.Store and by fakes in tests.
type ObjectStore interface {
	Put(ctx context.Context, body io.Reader, size int64, contentType, originalName, prefix, ext string) (string, error)
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
}

type Server struct {
	cfg     config.Config
	log     *zap.Logger
	jobs    *queue.Manager
	store   ObjectStore
	limiter *ratelimit.Limiter
	rec     *metrics.Recorder
	audit   audit.Log
}

func NewServer(cfg config.Config, log *zap.Logger, jobs *queue.Manager, store ObjectStore, limiter *ratelimit.Limiter, rec *metrics.Recorder, auditLog audit.Log) *Server {
	return &Server{cfg: cfg, log: log, jobs: jobs, store: store, limiter: limiter, rec: rec, audit: auditLog}
}

func (s *Server) Routes() http.Handler {
	rtr := chi.NewRouter()
	rtr.Use(s.recoverer)
	rtr.Use(clientIdentity)
	rtr.Use(s.requestLogger)
	rtr.Use(cors.New(cors.Options{
		AllowedOrigins: s.cfg.CORSAllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}).Handler)

	rtr.Route("/api", func(r chi.Router) {
		r.With(s.rateLimit(ratelimit.Convert)).Post("/convert", s.handleConvert)
		r.With(s.rateLimit(ratelimit.Status)).Get("/status/{jobId}", s.handleStatus)
		r.With(s.rateLimit(ratelimit.Download)).Get("/download", s.handleDownload)
		r.Get("/health", s.handleHealth)

		r.Route("/admin", func(r chi.Router) {
			// Auth runs before the limiter: bad credentials get a 401
			// before any other work happens.
			r.Use(s.adminOnly)
			r.Use(s.rateLimit(ratelimit.API))
			r.Get("/metrics", s.handleAdminMetrics)
			r.Post("/metrics", s.handleAdminAction)
		})
	})
	return rtr
}
