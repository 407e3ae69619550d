// internal/web/notification_handlers.go
package web

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// NotificationSettings is the read-only view of the notification config
// with secrets masked.
type NotificationSettings struct {
	Channels []string                 `json:"channels"`
	Telegram TelegramSettingsResponse `json:"telegram"`
	Pushover PushoverSettingsResponse `json:"pushover"`
	Timeout  int                      `json:"timeout_seconds"`
}

type TelegramSettingsResponse struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
	ChatID   string `json:"chat_id"`
}

type PushoverSettingsResponse struct {
	Enabled    bool   `json:"enabled"`
	APIToken   string `json:"api_token"`
	UserKey    string `json:"user_key"`
	Priority   int    `json:"priority"`
	Sound      string `json:"sound"`
	Device     string `json:"device"`
	Title      string `json:"title"`
	QuietHours bool   `json:"quiet_hours"`
	Overrides  int    `json:"overrides"`
}

// TestNotificationRequest represents a test notification request
type TestNotificationRequest struct {
	Message string `json:"message" binding:"required"`
}

func (s *Server) setupNotificationRoutes(api *gin.RouterGroup) {
	notifications := api.Group("/notifications")
	{
		notifications.GET("/settings", s.getNotificationSettings)
		notifications.POST("/test", s.sendTestNotification)
	}
}

// GET /api/notifications/settings
func (s *Server) getNotificationSettings(c *gin.Context) {
	cfg := &s.config.Notifications

	settings := NotificationSettings{
		Channels: s.engine.Dispatcher().Channels(),
		Telegram: TelegramSettingsResponse{
			Enabled:  cfg.Telegram.Enabled,
			BotToken: maskToken(cfg.Telegram.BotToken),
			ChatID:   cfg.Telegram.ChatID,
		},
		Pushover: PushoverSettingsResponse{
			Enabled:    cfg.Pushover.Enabled,
			APIToken:   maskToken(cfg.Pushover.APIToken),
			UserKey:    maskToken(cfg.Pushover.UserKey),
			Priority:   cfg.Pushover.Priority,
			Sound:      cfg.Pushover.Sound,
			Device:     cfg.Pushover.Device,
			Title:      cfg.Pushover.Title,
			QuietHours: cfg.Pushover.QuietHours != nil && cfg.Pushover.QuietHours.Enabled,
			Overrides:  len(cfg.Pushover.Overrides),
		},
		Timeout: cfg.TimeoutSeconds(),
	}

	c.JSON(http.StatusOK, gin.H{"data": settings})
}

// POST /api/notifications/test
func (s *Server) sendTestNotification(c *gin.Context) {
	var req TestNotificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	dispatcher := s.engine.Dispatcher()
	if len(dispatcher.Channels()) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No notification channels are enabled"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	if err := dispatcher.TestNotification(ctx, req.Message); err != nil {
		logrus.WithError(err).Error("Failed to send test notification")
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to send test notification: " + err.Error()})
		return
	}

	logrus.Info("Test notification sent successfully")
	c.JSON(http.StatusOK, gin.H{
		"message":   "Test notification sent successfully",
		"timestamp": s.now(),
	})
}

func maskToken(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= 8 {
		return "****"
	}
	return token[:4] + "****" + token[len(token)-4:]
}
