// Package api provides the HTTP front-end for the drone-frame dispatch
// gateway: login, decrypt dispatch, quota lookup, and operational stats.
package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cainiao1230/LoadBalance/internal/api/handlers"
	"github.com/cainiao1230/LoadBalance/internal/api/middleware"
	"github.com/cainiao1230/LoadBalance/internal/config"
	"github.com/cainiao1230/LoadBalance/internal/dispatcher"
)

// Server is the gateway's HTTP front-end.
type Server struct {
	cfg        *config.Config
	logger     *slog.Logger
	engine     *gin.Engine
	httpServer *http.Server
}

// New builds a Server wired to the given gateway.
func New(cfg *config.Config, gw *dispatcher.Gateway, logger *slog.Logger) *Server {
	if cfg == nil {
		panic("api.New: cfg is nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.SlogRequestLogger(logger))

	h := handlers.New(gw, logger)
	RegisterRoutes(engine, h, cfg)

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	readTimeout := time.Duration(cfg.Server.ReadTimeoutSecs) * time.Second
	writeTimeout := time.Duration(cfg.Server.WriteTimeoutSecs) * time.Second
	if readTimeout <= 0 {
		readTimeout = 15 * time.Second
	}
	if writeTimeout <= 0 {
		writeTimeout = 15 * time.Second
	}

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       60 * time.Second,
	}

	return &Server{cfg: cfg, logger: logger, engine: engine, httpServer: httpServer}
}

func (s *Server) Addr() string {
	if s.httpServer == nil {
		return ""
	}
	return s.httpServer.Addr
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
