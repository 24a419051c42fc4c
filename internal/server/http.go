package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
)

const shutdownTimeout = 5 * time.Second

// Server is the HTTP server for the evaluation feed.
type Server struct {
	mux     *http.ServeMux
	handler *Handlers
	metrics http.Handler
	addr    string
	logger  *log.Logger
}

// NewServer creates the server. metrics may be nil.
func NewServer(addr string, handler *Handlers, metrics http.Handler, logger *log.Logger) *Server {
	s := &Server{
		mux:     http.NewServeMux(),
		handler: handler,
		metrics: metrics,
		addr:    addr,
		logger:  handler.logger,
	}
	if logger != nil {
		s.logger = logger
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	// API routes
	s.mux.HandleFunc("/api/run", s.handler.HandleRun)
	s.mux.HandleFunc("/api/stop", s.handler.HandleStop)
	s.mux.HandleFunc("/api/status", s.handler.HandleStatus)
	s.mux.HandleFunc("/api/frames", s.handler.HandleFrames)
	s.mux.HandleFunc("/api/report", s.handler.HandleReport)

	// WebSocket
	s.mux.HandleFunc("/ws", s.handler.HandleWebSocket)

	if s.metrics != nil {
		s.mux.Handle("/metrics", s.metrics)
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler { return s.mux }

// Start serves until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.mux, ReadHeaderTimeout: 10 * time.Second}
	go s.handler.Pump(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("serving", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	s.handler.Stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
