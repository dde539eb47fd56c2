package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/lemline/lemline/common/logger"
)

// Server is the HTTP surface of a service, with graceful shutdown tied
// to the lifecycle context
type Server struct {
	echo *echo.Echo
	port int
	log  *logger.Logger
}

func New(port int, log *logger.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	return &Server{echo: e, port: port, log: log}
}

// Echo exposes the router for route registration
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// Start serves until the context is cancelled, then drains in-flight
// requests
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", "port", s.port)
		if err := s.echo.Start(fmt.Sprintf(":%d", s.port)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.echo.Shutdown(shutdownCtx)
}
