package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/goran-ethernal/EntityIndexor/internal/logger"
	"github.com/goran-ethernal/EntityIndexor/pkg/api/docs"
	"github.com/goran-ethernal/EntityIndexor/pkg/config"
)

// Ensure docs are initialized
var _ = docs.SwaggerInfo

const shutdownCtxTimeout = 10 * time.Second

// Server represents the API HTTP server.
type Server struct {
	config  *config.APIConfig
	handler *Handler
	server  *http.Server
	log     *logger.Logger
}

// NewServer creates a new API server answering from the readers of source.
func NewServer(cfg *config.APIConfig, source ReaderSource, log *logger.Logger) *Server {
	handler := NewHandler(source, cfg.MaxPageSize, log)

	httpServer := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      routes(cfg, handler, log),
		ReadTimeout:  cfg.ReadTimeout.Duration,
		WriteTimeout: cfg.WriteTimeout.Duration,
		IdleTimeout:  cfg.IdleTimeout.Duration,
	}

	return &Server{
		config:  cfg,
		handler: handler,
		server:  httpServer,
		log:     log,
	}
}

func routes(cfg *config.APIConfig, handler *Handler, log *logger.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", handler.Health)
	mux.HandleFunc("GET /api/v1/block", handler.GetLatestBlock)
	mux.HandleFunc("GET /api/v1/entities/{type}/{id}", handler.GetEntity)
	mux.HandleFunc("GET /api/v1/entities/{type}/indexes/{index}", handler.QueryIndex)

	mux.Handle("GET /swagger/", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
		httpSwagger.DeepLinking(true),
	))

	var h http.Handler = mux
	h = RecoveryMiddleware(log)(h)
	h = LoggingMiddleware(log)(h)

	if cfg.CORS.Enabled {
		h = CORSMiddleware(cfg.CORS.AllowedOrigins)(h)
	}

	return h
}

// Handler returns the HTTP handler with all routes and middlewares.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start serves until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	if !s.config.Enabled {
		s.log.Info("API server is disabled")
		return nil
	}

	s.log.Infof("Starting API server on %s", s.config.ListenAddress)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("API server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownCtxTimeout)
	defer cancel()

	s.log.Info("Shutting down API server...")
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("API server shutdown error: %w", err)
	}

	s.log.Info("API server stopped")
	return nil
}
