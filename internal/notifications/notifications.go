// internal/notifications/notifications.go - best-effort alert fan-out
package notifications

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/John-MustangGT/ntripwatch/internal/config"
	"github.com/John-MustangGT/ntripwatch/internal/database"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const UserAgent = "ntripwatch/1.0"

// Kind identifies which template an alert is rendered with.
type Kind string

const (
	KindDown      Kind = "down"
	KindRecovered Kind = "recovered"
	KindError     Kind = "error"
)

// Alert is one notification about a caster.
type Alert struct {
	ID        string
	Kind      Kind
	Caster    string
	Host      string
	Port      int
	Previous  database.State
	State     database.State
	Message   string
	Timestamp time.Time
}

// NewAlert fills in the ID and timestamp.
func NewAlert(kind Kind, caster, message string) Alert {
	return Alert{
		ID:        uuid.New().String(),
		Kind:      kind,
		Caster:    caster,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}

// Channel delivers rendered alert text to one destination.
type Channel interface {
	Name() string
	Send(ctx context.Context, alert Alert, text string) error
}

// FailureRecorder counts failed deliveries per channel.
type FailureRecorder interface {
	RecordNotificationFailure(channel string)
}

// Dispatcher renders alerts and sends them to every configured channel.
// Notify never fails; delivery errors are logged and counted.
type Dispatcher struct {
	renderer *Renderer
	channels []Channel
	failures FailureRecorder
	timeout  time.Duration
}

// NewDispatcher builds a dispatcher with the channels enabled in cfg.
func NewDispatcher(cfg *config.NotificationConfig, failures FailureRecorder) (*Dispatcher, error) {
	renderer, err := NewRenderer(cfg.Templates)
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}

	timeout := time.Duration(cfg.TimeoutSeconds()) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	httpClient := &http.Client{Timeout: timeout}

	d := &Dispatcher{
		renderer: renderer,
		failures: failures,
		timeout:  timeout,
	}

	if cfg.Telegram.Enabled {
		d.channels = append(d.channels, NewTelegramChannel(&cfg.Telegram, httpClient))
	}
	if cfg.Pushover.Enabled {
		d.channels = append(d.channels, NewPushoverChannel(&cfg.Pushover, httpClient))
	}

	logrus.WithFields(logrus.Fields{
		"telegram_enabled": cfg.Telegram.Enabled,
		"pushover_enabled": cfg.Pushover.Enabled,
	}).Info("Notification dispatcher initialized")

	return d, nil
}

// AddChannel registers an extra destination.
func (d *Dispatcher) AddChannel(ch Channel) {
	d.channels = append(d.channels, ch)
}

// Channels returns the names of the configured destinations.
func (d *Dispatcher) Channels() []string {
	names := make([]string, 0, len(d.channels))
	for _, ch := range d.channels {
		names = append(names, ch.Name())
	}
	return names
}

// Notify renders the alert and delivers it to every channel.
func (d *Dispatcher) Notify(ctx context.Context, alert Alert) {
	text, err := d.renderer.Render(alert)
	if err != nil {
		logrus.WithError(err).WithField("caster", alert.Caster).Error("Failed to render alert")
		text = fallbackText(alert)
	}

	if len(d.channels) == 0 {
		logrus.WithFields(logrus.Fields{
			"caster": alert.Caster,
			"kind":   alert.Kind,
		}).Info("No notification channels configured, alert logged only")
		return
	}

	for _, ch := range d.channels {
		d.send(ctx, ch, alert, text)
	}
}

func (d *Dispatcher) send(ctx context.Context, ch Channel, alert Alert, text string) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	fields := logrus.Fields{
		"channel":  ch.Name(),
		"caster":   alert.Caster,
		"kind":     alert.Kind,
		"alert_id": alert.ID,
	}

	defer func() {
		if r := recover(); r != nil {
			logrus.WithFields(fields).Errorf("Notification channel panicked: %v", r)
			d.recordFailure(ch.Name())
		}
	}()

	if err := ch.Send(ctx, alert, text); err != nil {
		logrus.WithFields(fields).WithError(err).Error("Failed to send notification")
		d.recordFailure(ch.Name())
		return
	}
	logrus.WithFields(fields).Info("Notification sent")
}

func (d *Dispatcher) recordFailure(channel string) {
	if d.failures != nil {
		d.failures.RecordNotificationFailure(channel)
	}
}

// TestNotification sends a plain message to every channel and returns the
// first error, for operator-triggered checks.
func (d *Dispatcher) TestNotification(ctx context.Context, message string) error {
	if len(d.channels) == 0 {
		return fmt.Errorf("no notification channels configured")
	}
	alert := NewAlert(KindError, "test", message)
	for _, ch := range d.channels {
		ctx, cancel := context.WithTimeout(ctx, d.timeout)
		err := ch.Send(ctx, alert, "🧪 "+message)
		cancel()
		if err != nil {
			return fmt.Errorf("%s: %w", ch.Name(), err)
		}
	}
	return nil
}

func fallbackText(alert Alert) string {
	if alert.Message == "" {
		return fmt.Sprintf("%s %s", alert.Kind, alert.Caster)
	}
	return fmt.Sprintf("%s %s: %s", alert.Kind, alert.Caster, alert.Message)
}
