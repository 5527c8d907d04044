package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"time"

	"sentinal-call/config"
	"sentinal-call/internal/handler"
	"sentinal-call/internal/middleware"
	"sentinal-call/internal/redis"
	"sentinal-call/internal/services"
	"sentinal-call/internal/transport/httpdto"
	"sentinal-call/internal/websocket"
	"sentinal-call/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Server struct {
	httpServer *http.Server
	engine     *gin.Engine
	config     *config.Config
	logger     *logger.Logger
}

var (
	ReleaseMode = "release"
	DebugMode   = "debug"
	TestMode    = "test"
)

type Handlers struct {
	Call      *handler.CallHandler
	WebSocket *websocket.Handler
}

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) error

func New(cfg *config.Config, l *logger.Logger) *Server {
	if cfg.AppMode == ReleaseMode {
		gin.SetMode(gin.ReleaseMode)
	} else if cfg.AppMode == TestMode {
		gin.SetMode(gin.TestMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%s", cfg.AppPort),
			Handler:           engine,
			ReadHeaderTimeout: 10 * time.Second,
		},
		engine: engine,
		config: cfg,
		logger: l,
	}
}

// Engine exposes the router, mainly for httptest.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) SetupRoutes(handlers *Handlers, authService *services.AuthService, limiter *redis.RateLimiter, checks map[string]HealthCheck) {
	s.engine.Use(middleware.RequestIDMiddleware())
	s.engine.Use(middleware.CORSMiddleware())
	s.engine.Use(middleware.LoggingMiddleware(s.logger))
	s.engine.Use(middleware.ErrorHandler(s.logger))

	s.engine.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"message": "pong"}))
	})

	s.engine.GET("/health", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		names := make([]string, 0, len(checks))
		for name := range checks {
			names = append(names, name)
		}
		sort.Strings(names)
		status := make(map[string]string, len(checks))
		healthy := true
		for _, name := range names {
			if err := checks[name](ctx); err != nil {
				status[name] = err.Error()
				healthy = false
				continue
			}
			status[name] = "ok"
		}
		if !healthy {
			c.JSON(http.StatusServiceUnavailable, httpdto.NewErrorResponseWithData("unhealthy", "UNHEALTHY", status))
			return
		}
		c.JSON(http.StatusOK, httpdto.NewSuccessResponse(status))
	})

	if handlers.WebSocket != nil {
		s.engine.GET("/v1/ws", handlers.WebSocket.Connect)
	}

	calls := s.engine.Group("/v1/calls", middleware.AuthMiddleware(authService))
	{
		calls.POST("", middleware.CallRateLimitMiddleware(limiter), handlers.Call.Create)
		calls.GET("/incoming", handlers.Call.Incoming)
		calls.GET("/current", handlers.Call.Current)
		calls.GET("/history", handlers.Call.History)
		calls.GET("/busy/:user_id", handlers.Call.CheckBusy)
		calls.GET("/:id", handlers.Call.GetByID)
		calls.POST("/:id/accept", handlers.Call.Accept)
		calls.POST("/:id/reject", handlers.Call.Reject)
		calls.POST("/:id/end", handlers.Call.End)
		calls.POST("/:id/miss", handlers.Call.Miss)
		calls.POST("/:id/signals", handlers.Call.SendSignal)
		calls.GET("/:id/signals", handlers.Call.ListSignals)
	}
}

// Start serves until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

func (s *Server) Serve(ln net.Listener) error {
	if s.logger != nil {
		s.logger.Info("http server listening", zap.String("addr", ln.Addr().String()))
	}
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		if s.logger != nil {
			s.logger.Warn("error in the graceful shutdown of the server", zap.Error(err))
		}
		return err
	}
	if s.logger != nil {
		s.logger.Info("server stopped gracefully")
	}
	return nil
}
