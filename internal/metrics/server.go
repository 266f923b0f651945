package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/goran-ethernal/EntityIndexor/internal/common"
	"github.com/goran-ethernal/EntityIndexor/internal/logger"
	"github.com/goran-ethernal/EntityIndexor/pkg/config"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const systemMetricsInterval = 15 * time.Second

// Server exposes the Prometheus registry over HTTP.
type Server struct {
	config *config.MetricsConfig
	log    *logger.Logger
	server *http.Server
	stopCh chan struct{}
}

// NewServer creates a metrics server. Start is a no-op unless cfg is enabled.
func NewServer(cfg *config.MetricsConfig, log *logger.Logger) *Server {
	return &Server{
		config: cfg,
		log:    log.WithComponent(common.ComponentMetrics),
		stopCh: make(chan struct{}),
	}
}

// Handler returns the mux served by Start.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(s.config.Path, promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return mux
}

// Start serves metrics in the background and refreshes the system gauges
// until ctx is done or Stop is called.
func (s *Server) Start(ctx context.Context) error {
	if s.config == nil || !s.config.Enabled {
		return nil
	}

	s.server = &http.Server{
		Addr:              s.config.ListenAddress,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go s.updateSystemMetrics(ctx)

	go func() {
		s.log.Infof("metrics server listening on %s%s", s.config.ListenAddress, s.config.Path)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Errorf("metrics server error: %v", err)
		}
	}()

	return nil
}

// Stop shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	close(s.stopCh)

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown metrics server: %w", err)
	}

	return nil
}

func (s *Server) updateSystemMetrics(ctx context.Context) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	UpdateSystemMetrics()
	for {
		select {
		case <-ticker.C:
			UpdateSystemMetrics()
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		}
	}
}
