package httpserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Clark-Hu/coffeemap/internal/config"
	"github.com/Clark-Hu/coffeemap/internal/logger"
	"github.com/Clark-Hu/coffeemap/internal/metrics"
	"github.com/Clark-Hu/coffeemap/internal/shops"
)

// Server wires HTTP routing, middleware, and handlers.
type Server struct {
	cfg     config.Config
	svc     *shops.Service
	logger  *slog.Logger
	router  chi.Router
	httpSrv *http.Server
}

// New constructs the HTTP server with base middleware and routes.
func New(cfg config.Config, svc *shops.Service, log *slog.Logger) *Server {
	log = logger.OrDiscard(log)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logger.AccessMiddleware(log))
	r.Use(middleware.Recoverer)

	s := &Server{
		cfg:    cfg,
		svc:    svc,
		logger: log,
		router: r,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Handle("/metrics", metrics.Handler())
	s.router.Route("/shops", func(r chi.Router) {
		r.Get("/nearby", s.handleNearby)
		r.Route("/{shopID}", func(r chi.Router) {
			r.Get("/", s.handleGetShop)
			r.Post("/ratings", s.handleSubmitRating)
		})
	})
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start boots the HTTP server and blocks until ctx is done or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:         ":" + s.cfg.Port,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.cfg.ReadTimeoutSecs) * time.Second,
		WriteTimeout: time.Duration(s.cfg.WriteTimeoutSecs) * time.Second,
		IdleTimeout:  time.Duration(s.cfg.IdleTimeoutSecs) * time.Second,
	}

	s.logger.Info("http: listening", "addr", s.httpSrv.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpSrv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.svc.HealthCheck(ctx); err != nil {
		s.logger.Warn("http: health check failed", "err", err)
		s.respondError(w, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "Store is unreachable")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
