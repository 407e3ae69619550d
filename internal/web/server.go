// internal/web/server.go
package web

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/John-MustangGT/ntripwatch/internal/config"
	"github.com/John-MustangGT/ntripwatch/internal/database"
	"github.com/John-MustangGT/ntripwatch/internal/metrics"
	"github.com/John-MustangGT/ntripwatch/internal/monitoring"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

type Server struct {
	config  *config.Config
	store   database.Store
	engine  *monitoring.Engine
	metrics *metrics.Collector
	router  *gin.Engine
	hub     *Hub
	server  *http.Server
	now     func() time.Time
}

func NewServer(cfg *config.Config, engine *monitoring.Engine, metricsCollector *metrics.Collector) *Server {
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(requestLogger())
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	server := &Server{
		config:  cfg,
		store:   engine.Store(),
		engine:  engine,
		metrics: metricsCollector,
		router:  router,
		hub:     NewHub(metricsCollector),
		now:     time.Now,
	}

	engine.Subscribe(server.hub.PublishTransition)
	engine.OnSweep(server.hub.PublishSweep)

	server.setupRoutes()
	return server
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.Server.Port,
		Handler:      s.router,
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
	}

	logrus.WithField("port", s.config.Server.Port).Info("Starting web server")

	go s.updateMetricsRoutine(ctx)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithError(err).Fatal("Failed to start server")
		}
	}()

	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	s.hub.Close()
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) setupRoutes() {
	s.router.GET("/", s.serveStatusPage)
	s.router.GET("/favicon.ico", s.serveFavicon)

	// Form posts from the status page
	s.router.POST("/casters/add", s.addCasterForm)
	s.router.POST("/casters/:name/edit", s.editCasterForm)
	s.router.POST("/casters/:name/delete", s.deleteCasterForm)

	api := s.router.Group("/api")
	{
		api.GET("/casters", s.getCasters)
		api.GET("/casters/:name", s.getCaster)
		api.POST("/casters", s.createCaster)
		api.PUT("/casters/:name", s.updateCaster)
		api.DELETE("/casters/:name", s.deleteCaster)
		api.POST("/casters/:name/probe", s.probeCaster)

		api.GET("/status", s.getStatus)
		api.GET("/status/:name", s.getCasterStatus)
		api.GET("/status/:name/history", s.getStatusHistory)

		api.GET("/stats", s.getStats)
		api.GET("/health", s.healthCheck)
		api.GET("/version", s.getBuildInfo)
	}

	s.setupNotificationRoutes(api)
	s.setupPurgeRoutes(api)

	s.router.GET("/ws", s.handleWebSocket)

	if s.config.Prometheus.Enabled {
		s.router.GET(s.config.Prometheus.MetricsPath, gin.WrapH(promhttp.Handler()))
	}
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": s.now(),
		"version":   Version,
	})
}

// GET /api/stats - state counts, storage figures and the last sweep
func (s *Server) getStats(c *gin.Context) {
	ctx := c.Request.Context()

	states, err := s.store.ListStates(ctx)
	if err != nil {
		logrus.WithError(err).Error("Failed to list caster states")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get states"})
		return
	}

	counts := map[database.State]int{
		database.StateUp:       0,
		database.StateDown:     0,
		database.StateUnstable: 0,
		database.StateUnknown:  0,
	}
	for _, st := range states {
		counts[st.State]++
	}

	dbStats, err := s.store.GetDatabaseStats(ctx)
	if err != nil {
		logrus.WithError(err).Error("Failed to get database stats")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get database stats"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"states":     counts,
		"database":   dbStats,
		"last_sweep": s.engine.Scheduler().LastSweep(),
		"ws_clients": s.hub.Count(),
	}})
}

func (s *Server) updateMetricsRoutine(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.metrics.UpdateSystemMetrics(ctx); err != nil {
				logrus.WithError(err).Error("Failed to update system metrics")
			}
		}
	}
}

// requestLogger replaces gin's default logger with logrus fields.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := logrus.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start),
			"client":   c.ClientIP(),
		})
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			entry.Warn("HTTP request failed")
		default:
			entry.Debug("HTTP request")
		}
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Header("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
