// Package api exposes the HTTP surface: the WebSocket conversation channel,
// session inspection endpoints, and health.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/openfunnel/maestro/pkg/config"
	"github.com/openfunnel/maestro/pkg/database"
	"github.com/openfunnel/maestro/pkg/session"
)

// Server is the HTTP server over the session manager.
type Server struct {
	cfg      *config.Config
	sessions *session.Manager
	db       *database.Client
	logger   *slog.Logger

	echo       *echo.Echo
	httpServer *http.Server
}

// NewServer creates the server and registers its routes. db may be nil when
// no checkpoint database is configured.
func NewServer(cfg *config.Config, sessions *session.Manager, db *database.Client, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:      cfg,
		sessions: sessions,
		db:       db,
		logger:   logger,
	}

	e := echo.New()
	e.Use(securityHeaders())
	e.Use(requestLogger(logger))

	e.GET("/health", s.healthHandler)
	e.GET("/ws", s.wsHandler)

	v1 := e.Group("/api/v1")
	v1.GET("/sessions", s.listSessionsHandler)
	v1.GET("/sessions/:id", s.getSessionHandler)
	v1.DELETE("/sessions/:id", s.deleteSessionHandler)

	s.echo = e
	return s
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
