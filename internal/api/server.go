package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"pulsetrade/config"
	"pulsetrade/internal/logging"
	"pulsetrade/internal/state"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// IngestorAPI exposes the ingestor counters the health endpoint reports.
type IngestorAPI interface {
	Running() bool
	MessagesProcessed() uint64
	ParseErrors() uint64
}

// AnalyzerAPI exposes the analyzer counters the health endpoint reports.
type AnalyzerAPI interface {
	Running() bool
	TradesProcessed() uint64
	AlertsTriggered() uint64
	AnalysisSkipped() uint64
	BreakerState() string
}

// Server is the HTTP surface: health, the subscriber WebSocket endpoint
// and the optional live-state endpoints.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	hub        *WSHub
	ingestor   IngestorAPI
	analyzer   AnalyzerAPI
	store      *state.Store
	logger     *logging.Logger
}

// NewServer wires the routes. ingestor and analyzer may be nil before the
// supervisor attaches them; store may be nil when live state is disabled.
func NewServer(cfg config.ServerConfig, hub *WSHub, store *state.Store, logger *logging.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if cfg.AllowedOrigins == "" || cfg.AllowedOrigins == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = splitOrigins(cfg.AllowedOrigins)
	}
	corsConfig.AllowMethods = []string{"GET", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type"}
	router.Use(cors.New(corsConfig))

	if logger == nil {
		logger = logging.Default()
	}

	server := &Server{
		router: router,
		hub:    hub,
		store:  store,
		logger: logger.WithComponent("api"),
		httpServer: &http.Server{
			Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler: router,
		},
	}

	server.setupRoutes()
	return server
}

// AttachIngestor registers the ingestor for health reporting.
func (s *Server) AttachIngestor(i IngestorAPI) { s.ingestor = i }

// AttachAnalyzer registers the analyzer for health reporting.
func (s *Server) AttachAnalyzer(a AnalyzerAPI) { s.analyzer = a }

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/ws/market", s.handleWebSocket)

	if s.store != nil {
		stateGroup := s.router.Group("/api/state")
		stateGroup.GET("/:symbol", s.handleStateTick)
		stateGroup.GET("/:symbol/history", s.handleStateHistory)
	}
}

// Start runs the HTTP server until Shutdown.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("HTTP server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	ingestor := gin.H{"running": false, "messages_processed": 0}
	if s.ingestor != nil {
		ingestor = gin.H{
			"running":            s.ingestor.Running(),
			"messages_processed": s.ingestor.MessagesProcessed(),
			"parse_errors":       s.ingestor.ParseErrors(),
		}
	}

	analyzer := gin.H{"running": false, "trades_processed": 0, "alerts_triggered": 0}
	if s.analyzer != nil {
		analyzer = gin.H{
			"running":          s.analyzer.Running(),
			"trades_processed": s.analyzer.TradesProcessed(),
			"alerts_triggered": s.analyzer.AlertsTriggered(),
			"analysis_skipped": s.analyzer.AnalysisSkipped(),
			"breaker_state":    s.analyzer.BreakerState(),
		}
	}

	tradesDropped, alertsDropped := s.hub.DroppedCounts()

	c.JSON(http.StatusOK, gin.H{
		"status":            "healthy",
		"ingestor":          ingestor,
		"analyzer":          analyzer,
		"websocket_clients": s.hub.ClientCount(),
		"queue_drops": gin.H{
			"trades": tradesDropped,
			"alerts": alertsDropped,
		},
	})
}

func (s *Server) handleStateTick(c *gin.Context) {
	symbol := strings.ToUpper(c.Param("symbol"))

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	tick, err := s.store.GetTick(ctx, symbol)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "state unavailable"})
		return
	}
	if tick == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no tick for symbol", "symbol": symbol})
		return
	}
	c.JSON(http.StatusOK, tick)
}

func (s *Server) handleStateHistory(c *gin.Context) {
	symbol := strings.ToUpper(c.Param("symbol"))
	limit := 100
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	history, err := s.store.GetPriceHistory(ctx, symbol, limit)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "state unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "history": history})
}

func splitOrigins(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
