// Package server exposes the chat service over HTTP: a server-sent
// events endpoint for streamed turns and a small REST surface for
// conversation management.
//
// Information Hiding:
// - Owner identification hidden behind request middleware
// - Event wire format internalized in the SSE writer
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/laundryguy77/PeanutChat-sub000/ledger"
	"github.com/laundryguy77/PeanutChat-sub000/turn"
)

const (
	ownerHeader  = "X-Owner-ID"
	defaultOwner = "anonymous"

	shutdownTimeout = 10 * time.Second
)

// Server wires the HTTP surface over the orchestrator and the ledger.
type Server struct {
	echo         *echo.Echo
	orchestrator *turn.Orchestrator
	store        ledger.Store
	log          *zap.Logger
}

// New builds the server with routes and middleware registered.
func New(orchestrator *turn.Orchestrator, store ledger.Store, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	s := &Server{
		echo:         e,
		orchestrator: orchestrator,
		store:        store,
		log:          log,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.echo.POST("/v1/chat", s.handleChat)
	s.echo.GET("/v1/conversations", s.handleListConversations)
	s.echo.GET("/v1/conversations/:id", s.handleGetConversation)
	s.echo.DELETE("/v1/conversations/:id", s.handleDeleteConversation)
	s.echo.GET("/healthz", s.handleHealth)
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start(addr string) error {
	s.log.Info("http server starting", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	return s.echo.Shutdown(ctx)
}

// Handler exposes the underlying http.Handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func ownerID(c echo.Context) string {
	if owner := c.Request().Header.Get(ownerHeader); owner != "" {
		return owner
	}
	return defaultOwner
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
