// internal/config/notifications.go - notification channel configuration
package config

import (
	"fmt"
	"text/template"
)

const (
	DefaultDownTemplate      = "🚨 NTRIP DOWN\n{{.Caster}}\n{{.Message}}"
	DefaultRecoveredTemplate = "✅ NTRIP RECOVERED\n{{.Caster}}"
	DefaultErrorTemplate     = "⚠️ NTRIP MONITOR ERROR\n{{.Caster}}\n{{.Message}}"
)

type NotificationConfig struct {
	Telegram  TelegramConfig  `yaml:"telegram"`
	Pushover  PushoverConfig  `yaml:"pushover"`
	Templates TemplateConfig  `yaml:"templates"`
	Timeout   durationSeconds `yaml:"timeout_seconds"`
}

// durationSeconds is a plain integer number of seconds.
type durationSeconds int

type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
	APIURL   string `yaml:"api_url"`
}

// TemplateConfig holds text/template bodies for each alert kind.
type TemplateConfig struct {
	Down      string `yaml:"down"`
	Recovered string `yaml:"recovered"`
	Error     string `yaml:"error"`
}

// TimeoutSeconds returns the per-request timeout for notification calls.
func (n *NotificationConfig) TimeoutSeconds() int {
	return int(n.Timeout)
}

func setNotificationDefaults(n *NotificationConfig) {
	if n.Telegram.APIURL == "" {
		n.Telegram.APIURL = "https://api.telegram.org"
	}
	if n.Pushover.APIURL == "" {
		n.Pushover.APIURL = "https://api.pushover.net/1/messages.json"
	}
	if n.Pushover.Title == "" {
		n.Pushover.Title = "NTRIP Monitor"
	}
	if n.Pushover.Sound == "" {
		n.Pushover.Sound = "pushover"
	}
	if n.Templates.Down == "" {
		n.Templates.Down = DefaultDownTemplate
	}
	if n.Templates.Recovered == "" {
		n.Templates.Recovered = DefaultRecoveredTemplate
	}
	if n.Templates.Error == "" {
		n.Templates.Error = DefaultErrorTemplate
	}
	if n.Timeout == 0 {
		n.Timeout = 10
	}
}

func mergeNotificationConfig(main *NotificationConfig, partial *NotificationConfig) {
	if partial.Telegram.Enabled {
		main.Telegram = partial.Telegram
	}
	if partial.Pushover.Enabled {
		main.Pushover = partial.Pushover
	}
	if partial.Templates.Down != "" {
		main.Templates.Down = partial.Templates.Down
	}
	if partial.Templates.Recovered != "" {
		main.Templates.Recovered = partial.Templates.Recovered
	}
	if partial.Templates.Error != "" {
		main.Templates.Error = partial.Templates.Error
	}
	if partial.Timeout != 0 {
		main.Timeout = partial.Timeout
	}
}

// Validate ensures every enabled channel is fully configured
func (n *NotificationConfig) Validate() error {
	if n.Telegram.Enabled {
		if n.Telegram.BotToken == "" {
			return fmt.Errorf("notifications.telegram.bot_token is required when Telegram is enabled")
		}
		if n.Telegram.ChatID == "" {
			return fmt.Errorf("notifications.telegram.chat_id is required when Telegram is enabled")
		}
	}

	if n.Pushover.Enabled {
		if n.Pushover.APIToken == "" {
			return fmt.Errorf("notifications.pushover.api_token is required when Pushover is enabled")
		}
		if n.Pushover.UserKey == "" {
			return fmt.Errorf("notifications.pushover.user_key is required when Pushover is enabled")
		}
		if err := n.Pushover.validate(); err != nil {
			return fmt.Errorf("notifications.pushover: %w", err)
		}
	}

	templates := map[string]string{
		"down":      n.Templates.Down,
		"recovered": n.Templates.Recovered,
		"error":     n.Templates.Error,
	}
	for name, text := range templates {
		if _, err := template.New(name).Parse(text); err != nil {
			return fmt.Errorf("invalid notifications.templates.%s: %w", name, err)
		}
	}

	if n.Timeout < 0 {
		return fmt.Errorf("notifications.timeout_seconds must not be negative")
	}

	return nil
}
