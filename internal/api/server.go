// Package api exposes the read-only HTTP surface: engine status, signal
// levels, predictions, open positions and the trade audit log, plus a
// websocket stream of live events.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"pattern-trading-bot/internal/database"
	"pattern-trading-bot/internal/engine"
	"pattern-trading-bot/internal/events"
	"pattern-trading-bot/internal/logging"
	"pattern-trading-bot/internal/trader"
)

// Config holds server settings.
type Config struct {
	Port           int      `json:"port"`
	AllowedOrigins []string `json:"allowed_origins"`
}

// Server is the HTTP API server.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	cfg        Config

	runner     *engine.Runner
	controller *trader.Controller
	repo       *database.Repository // may be nil
	hub        *WSHub
	logger     *logging.Logger

	startedAt time.Time
}

// NewServer wires routes and the websocket hub. repo may be nil when
// running without PostgreSQL; the trade-log endpoint then returns 503.
func NewServer(cfg Config, runner *engine.Runner, controller *trader.Controller, repo *database.Repository, bus *events.Bus, logger *logging.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	corsCfg := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsCfg.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsCfg.AllowAllOrigins = true
	}
	router.Use(cors.New(corsCfg))

	s := &Server{
		router:     router,
		cfg:        cfg,
		runner:     runner,
		controller: controller,
		repo:       repo,
		hub:        NewWSHub(logger),
		logger:     logger.Component("api"),
		startedAt:  time.Now(),
	}

	bus.SubscribeAll(s.hub.BroadcastEvent)
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", s.handleHealth)

	api := s.router.Group("/api")
	{
		api.GET("/status", s.handleStatus)
		api.GET("/signals", s.handleSignals)
		api.GET("/predictions/:coin", s.handlePredictions)
		api.GET("/positions", s.handlePositions)
		api.GET("/trades", s.handleTrades)
	}

	s.router.GET("/ws", s.handleWebSocket)
}

// Start runs the listener on its own goroutine.
func (s *Server) Start() {
	go s.hub.Run()

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.cfg.Port),
		Handler: s.router,
	}
	go func() {
		s.logger.Info("API server listening", "port", s.cfg.Port)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("API server failed", "error", err)
		}
	}()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleStatus(c *gin.Context) {
	ready := false
	select {
	case <-s.runner.Ready():
		ready = true
	default:
	}

	c.JSON(http.StatusOK, gin.H{
		"ready":          ready,
		"uptime_seconds": int(time.Since(s.startedAt).Seconds()),
		"open_positions": len(s.controller.Positions()),
		"ws_clients":     s.hub.ClientCount(),
	})
}

func (s *Server) handleSignals(c *gin.Context) {
	c.JSON(http.StatusOK, s.runner.Levels())
}

func (s *Server) handlePredictions(c *gin.Context) {
	coin := c.Param("coin")
	preds := s.runner.Predictions(coin)
	if len(preds) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "no predictions for coin", "coin": coin})
		return
	}
	c.JSON(http.StatusOK, preds)
}

func (s *Server) handlePositions(c *gin.Context) {
	c.JSON(http.StatusOK, s.controller.Positions())
}

func (s *Server) handleTrades(c *gin.Context) {
	if s.repo == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "trade log requires database"})
		return
	}
	limit := 100
	if v := c.Query("limit"); v != "" {
		if _, err := fmt.Sscanf(v, "%d", &limit); err != nil || limit <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
	}
	evs, err := s.repo.ListTradeEvents(c.Request.Context(), c.Query("coin"), limit)
	if err != nil {
		s.logger.Error("trade log query failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, evs)
}
