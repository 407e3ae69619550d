// internal/web/purge_handlers.go
package web

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

func (s *Server) setupPurgeRoutes(api *gin.RouterGroup) {
	purge := api.Group("/purge")
	{
		purge.DELETE("/probes", s.purgeExpiredProbes)
		purge.DELETE("/states", s.purgeStaleStates)
		purge.DELETE("/checklogs", s.purgeCheckLogs)
		purge.DELETE("/all", s.purgeAll)
	}
}

// DELETE /api/purge/probes - Delete probes older than the retention period
func (s *Server) purgeExpiredProbes(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	n, err := s.engine.Housekeeper().PurgeExpiredProbes(ctx)
	if err != nil {
		logrus.WithError(err).Error("Failed to purge expired probes")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to purge expired probes"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":   "Expired probes purged successfully",
		"deleted":   n,
		"timestamp": s.now(),
	})
}

// DELETE /api/purge/states - Delete states of casters no longer registered
func (s *Server) purgeStaleStates(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	n, err := s.engine.Housekeeper().PurgeStaleStates(ctx)
	if err != nil {
		logrus.WithError(err).Error("Failed to purge stale states")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to purge stale states"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":   "Stale states purged successfully",
		"deleted":   n,
		"timestamp": s.now(),
	})
}

// DELETE /api/purge/checklogs - Remove check log files past retention
func (s *Server) purgeCheckLogs(c *gin.Context) {
	n, err := s.engine.Housekeeper().PurgeCheckLogs()
	if err != nil {
		logrus.WithError(err).Error("Failed to purge check logs")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to purge check logs"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":   "Check logs purged successfully",
		"deleted":   n,
		"timestamp": s.now(),
	})
}

// DELETE /api/purge/all
func (s *Server) purgeAll(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 60*time.Second)
	defer cancel()

	stats, err := s.engine.Housekeeper().PurgeAll(ctx)
	if err != nil {
		logrus.WithError(err).Error("Failed to purge stale data")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to purge stale data"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":   "All stale data purged successfully",
		"data":      stats,
		"timestamp": s.now(),
	})
}
