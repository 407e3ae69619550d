// internal/notifications/pushover.go - Pushover notification channel
package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/John-MustangGT/ntripwatch/internal/config"
	"github.com/sirupsen/logrus"
)

// PushoverChannel sends alerts through the Pushover messages API.
type PushoverChannel struct {
	config     *config.PushoverConfig
	httpClient *http.Client
	now        func() time.Time
}

// PushoverMessage represents a message sent to Pushover API
type PushoverMessage struct {
	Token     string `json:"token"`
	User      string `json:"user"`
	Message   string `json:"message"`
	Title     string `json:"title,omitempty"`
	Priority  int    `json:"priority,omitempty"`
	Sound     string `json:"sound,omitempty"`
	Device    string `json:"device,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// PushoverResponse represents the API response
type PushoverResponse struct {
	Status int      `json:"status"`
	Errors []string `json:"errors,omitempty"`
}

func NewPushoverChannel(cfg *config.PushoverConfig, httpClient *http.Client) *PushoverChannel {
	return &PushoverChannel{config: cfg, httpClient: httpClient, now: time.Now}
}

func (p *PushoverChannel) Name() string { return "pushover" }

func (p *PushoverChannel) Send(ctx context.Context, alert Alert, text string) error {
	effective := p.config.Effective(alert.Caster, string(alert.Kind), p.now())

	message := &PushoverMessage{
		Token:    p.config.APIToken,
		User:     effective.UserKey,
		Message:  text,
		Title:    effective.Title,
		Priority: effective.Priority,
		Sound:    effective.Sound,
		Device:   effective.Device,
	}
	if !alert.Timestamp.IsZero() {
		message.Timestamp = alert.Timestamp.Unix()
	}

	return p.sendToPushover(ctx, message)
}

// sendToPushover sends the message to Pushover API
func (p *PushoverChannel) sendToPushover(ctx context.Context, message *PushoverMessage) error {
	jsonData, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.APIURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", UserAgent)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	var pushoverResp PushoverResponse
	if err := json.NewDecoder(resp.Body).Decode(&pushoverResp); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if pushoverResp.Status != 1 {
		return fmt.Errorf("pushover API error: %v", pushoverResp.Errors)
	}

	logrus.WithFields(logrus.Fields{
		"title":    message.Title,
		"priority": message.Priority,
		"sound":    message.Sound,
	}).Debug("Pushover message accepted")

	return nil
}
