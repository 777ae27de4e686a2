// Package http arma el servidor HTTP del servicio: router, métricas y timeouts.
package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dropDatabas3/beout-auth/internal/http/router"
	"github.com/dropDatabas3/beout-auth/internal/observability/logger"
)

// ServerConfig son los timeouts y la dirección de escucha.
type ServerConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Server envuelve http.Server con arranque y apagado ligados a un context.
type Server struct {
	srv      *http.Server
	shutdown time.Duration
}

// NewServer instrumenta el router con WithMetrics (si RegisterMetrics corrió) y
// configura el http.Server.
func NewServer(cfg ServerConfig, deps router.Deps) *Server {
	if deps.Metrics == nil {
		deps.Metrics = WithMetrics
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 15 * time.Second
	}
	return &Server{
		srv: &http.Server{
			Addr:              cfg.Addr,
			Handler:           router.New(deps),
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      cfg.WriteTimeout,
			IdleTimeout:       120 * time.Second,
		},
		shutdown: cfg.ShutdownTimeout,
	}
}

// Handler expone el handler raíz (tests).
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Run escucha hasta que ctx se cancela y después apaga con gracia.
func (s *Server) Run(ctx context.Context) error {
	log := logger.From(ctx).With(logger.Component("http"))

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", logger.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdown)
	defer cancel()
	log.Info("http server shutting down")
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
