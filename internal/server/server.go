package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/l0p7/pricefeed/internal/config"
)

const defaultShutdownTimeout = 5 * time.Second

// Server owns the HTTP lifecycle of the publisher and releases shared
// resources (store clients, consumers) once the listener has drained.
type Server struct {
	logger          *slog.Logger
	httpServer      *http.Server
	shutdownTimeout time.Duration
	closers         []func()
	once            sync.Once
}

// New binds the handler to the configured listener. Closers run in reverse
// registration order after the listener shuts down.
func New(cfg config.Config, logger *slog.Logger, handler http.Handler, closers ...func()) (*Server, error) {
	if handler == nil {
		return nil, errors.New("server: handler required")
	}
	if logger == nil {
		return nil, errors.New("server: logger required")
	}

	addr := net.JoinHostPort(cfg.Server.Listen.Address, strconv.Itoa(cfg.Server.Listen.Port))
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      writeTimeout(cfg),
		IdleTimeout:       120 * time.Second,
	}

	return &Server{
		logger:          logger.With(slog.String("agent", "lifecycle")),
		httpServer:      httpSrv,
		shutdownTimeout: defaultShutdownTimeout,
		closers:         closers,
	}, nil
}

// writeTimeout leaves room for the slowest dependency call a request can make.
func writeTimeout(cfg config.Config) time.Duration {
	budget := cfg.Server.Timeouts.Cache*2 + cfg.Server.Timeouts.Limiter + cfg.Server.Timeouts.Directory
	return budget + 10*time.Second
}

// Run serves until ctx is cancelled or the listener fails.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("http listener starting", slog.String("address", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server: listen: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := s.shutdown(shutdownCtx); err != nil {
			return err
		}
		return ctx.Err()
	case err := <-errCh:
		s.release()
		if err != nil {
			return err
		}
		return nil
	}
}

// shutdown collapses the listener once so cascading cancellations do not repeat the work.
func (s *Server) shutdown(ctx context.Context) error {
	var shutdownErr error
	s.once.Do(func() {
		s.logger.Info("http listener shutting down")
		shutdownErr = s.httpServer.Shutdown(ctx)
		s.runClosers()
	})
	return shutdownErr
}

func (s *Server) release() {
	s.once.Do(s.runClosers)
}

func (s *Server) runClosers() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if s.closers[i] != nil {
			s.closers[i]()
		}
	}
}
