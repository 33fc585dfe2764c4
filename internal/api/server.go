// Package api exposes the protection synchronizer over HTTP: intent
// submission, position status, reconciliation history, and a WebSocket
// stream of reconciliation events.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"bybit-tpsl-sync/internal/auth"
	"bybit-tpsl-sync/internal/events"
	"bybit-tpsl-sync/internal/service"
)

// ServerConfig holds server configuration
type ServerConfig struct {
	Port            int
	Host            string
	AllowedOrigins  string // Comma-separated, "*" for all
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	ProductionMode  bool
}

// Server represents the HTTP API server
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	svc        *service.Service
	hub        *WSHub
	jwtManager *auth.JWTManager // nil disables authentication
	config     ServerConfig
	logger     zerolog.Logger
}

// NewServer creates the API server and wires the WebSocket hub onto the
// event bus. Pass a nil jwtManager to serve the API unauthenticated.
func NewServer(config ServerConfig, svc *service.Service, bus *events.EventBus, jwtManager *auth.JWTManager, logger zerolog.Logger) *Server {
	if config.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if config.AllowedOrigins == "*" || config.AllowedOrigins == "" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = strings.Split(config.AllowedOrigins, ",")
		corsConfig.AllowCredentials = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	router.Use(cors.New(corsConfig))

	server := &Server{
		router:     router,
		svc:        svc,
		hub:        NewWSHub(logger),
		jwtManager: jwtManager,
		config:     config,
		logger:     logger.With().Str("component", "api").Logger(),
	}

	server.setupRoutes()

	go server.hub.Run()
	if bus != nil {
		bus.SubscribeAll(func(event events.Event) {
			server.hub.BroadcastEvent(event)
		})
	}

	return server
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/ws", s.handleWebSocket)

	apiGroup := s.router.Group("/api")
	if s.jwtManager != nil {
		apiGroup.Use(auth.Middleware(s.jwtManager))
	}

	apiGroup.POST("/positions/protection", s.handleApplyProtection)
	apiGroup.GET("/positions/:symbol", s.handlePositionStatus)
	apiGroup.DELETE("/positions/:symbol/protection", s.handleClearProtection)
	apiGroup.GET("/history/:symbol", s.handleHistory)
}

// Start runs the HTTP server until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("API server listening")

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	timeout := s.config.ShutdownTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s.logger.Info().Msg("Shutting down API server")
	return s.httpServer.Shutdown(ctx)
}

// Router exposes the gin engine for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}
