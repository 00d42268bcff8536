// Package server wires the HTTP surface: live stream endpoints, the UDP
// trigger, device discovery and the small operational API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/silkcast-dev/silkcast-go-stream-server/internal/config"
	"github.com/silkcast-dev/silkcast-go-stream-server/internal/encoder"
	"github.com/silkcast-dev/silkcast-go-stream-server/internal/logger"
	"github.com/silkcast-dev/silkcast-go-stream-server/internal/session"
)

type Server struct {
	cfg     config.Config
	manager *session.Manager
	factory encoder.Factory
	engine  *gin.Engine
	httpSrv *http.Server
	started time.Time
}

// New builds the engine and registers every route. The encoder factory is
// injected so tests run the full HTTP surface against a fake.
func New(cfg config.Config, m *session.Manager, factory encoder.Factory) *Server {
	if !cfg.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(cors.Default())

	s := &Server{
		cfg:     cfg,
		manager: m,
		factory: factory,
		engine:  engine,
		started: time.Now(),
	}
	s.registerRoutes()
	return s
}

// Handler exposes the engine for httptest.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run blocks serving HTTP until Shutdown or a listener error.
func (s *Server) Run() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Addr, s.cfg.Port)
	s.httpSrv = &http.Server{Addr: addr, Handler: s.engine}
	logger.InfoF("%s listening on %s", s.cfg.AppName, addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains the HTTP server. Wired into the shutdown cleaner.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	logger.Info("http server shutting down")
	return s.httpSrv.Shutdown(ctx)
}
