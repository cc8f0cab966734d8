package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"vpa-trading-engine/internal/events"
	"vpa-trading-engine/internal/orders"
	"vpa-trading-engine/internal/risk"
	"vpa-trading-engine/internal/signal"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// EngineAPI defines the methods the trading engine exposes to the API
type EngineAPI interface {
	Status() map[string]interface{}
	Positions() map[string]*orders.Position
	PairStates() map[string]orders.State
	LedgerSnapshot() risk.LedgerSnapshot
	RecentSignals() []signal.Signal
	ResetHalt(symbol string) error
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           int
	Host           string
	AllowedOrigins []string
	ProductionMode bool
}

// Server represents the HTTP API server
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	eventBus   *events.EventBus
	engine     EngineAPI
	config     ServerConfig
	hub        *WSHub
	logger     zerolog.Logger
}

// NewServer creates a new API server
func NewServer(config ServerConfig, eventBus *events.EventBus, engine EngineAPI, logger zerolog.Logger) *Server {
	if config.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if len(config.AllowedOrigins) == 1 && config.AllowedOrigins[0] == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = config.AllowedOrigins
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type"}
	router.Use(cors.New(corsConfig))

	server := &Server{
		router:   router,
		eventBus: eventBus,
		engine:   engine,
		config:   config,
		logger:   logger.With().Str("component", "api").Logger(),
	}

	server.hub = NewWSHub(server.logger)
	go server.hub.Run()

	// Stream every engine event to connected dashboard clients
	eventBus.SubscribeAll(func(event events.Event) {
		server.hub.BroadcastEvent(event)
	})

	server.setupRoutes()

	return server
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router.GET("/healthz", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.GET("/ws", s.handleWebSocket)

	api := s.router.Group("/api")
	{
		api.GET("/status", s.handleStatus)
		api.GET("/positions", s.handlePositions)
		api.GET("/ledger", s.handleLedger)
		api.GET("/signals", s.handleSignals)
		api.POST("/pairs/:symbol/reset-halt", s.handleResetHalt)
	}
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info().Str("addr", addr).Msg("Starting HTTP server")

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Shutdown gracefully stops the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.Status())
}

func (s *Server) handlePositions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"positions": s.engine.Positions(),
		"states":    s.engine.PairStates(),
	})
}

func (s *Server) handleLedger(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.LedgerSnapshot())
}

func (s *Server) handleSignals(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"signals": s.engine.RecentSignals()})
}

func (s *Server) handleResetHalt(c *gin.Context) {
	symbol := c.Param("symbol")
	if err := s.engine.ResetHalt(symbol); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "status": "reset"})
}
