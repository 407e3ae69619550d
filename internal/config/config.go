// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server        ServerConfig       `yaml:"server"`
	Database      DatabaseConfig     `yaml:"database"`
	Monitoring    MonitoringConfig   `yaml:"monitoring"`
	CheckLog      CheckLogConfig     `yaml:"checklog"`
	Notifications NotificationConfig `yaml:"notifications"`
	Prometheus    PrometheusConfig   `yaml:"prometheus"`
	Tracing       TracingConfig      `yaml:"tracing"`
	Logging       LoggingConfig      `yaml:"logging"`
	Casters       []CasterConfig     `yaml:"casters"`
	Include       IncludeConfig      `yaml:"include"`
}

type IncludeConfig struct {
	Directory string `yaml:"directory"`
	Pattern   string `yaml:"pattern"`
	Enabled   bool   `yaml:"enabled"`
}

type ServerConfig struct {
	Port         string        `yaml:"port"`
	Workers      int           `yaml:"workers"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type DatabaseConfig struct {
	Type             string        `yaml:"type"`
	Path             string        `yaml:"path"`
	CleanupInterval  time.Duration `yaml:"cleanup_interval"`
	HistoryRetention time.Duration `yaml:"history_retention"`
}

// MonitoringConfig drives the probe cycle. Window is the number of most
// recent probes the classifier looks at.
type MonitoringConfig struct {
	Interval  time.Duration `yaml:"interval"`
	Window    int           `yaml:"window"`
	Timeout   time.Duration `yaml:"timeout"`
	UserAgent string        `yaml:"user_agent"`
}

type CheckLogConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Directory     string `yaml:"directory"`
	Prefix        string `yaml:"prefix"`
	RetentionDays int    `yaml:"retention_days"`
}

type PrometheusConfig struct {
	Enabled     bool   `yaml:"enabled"`
	MetricsPath string `yaml:"metrics_path"`
}

type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"`
	Insecure    bool   `yaml:"insecure"`
	ServiceName string `yaml:"service_name"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type CasterConfig struct {
	Name     string `yaml:"name"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// PartialConfig represents a partial configuration that can be merged
type PartialConfig struct {
	Monitoring    *MonitoringConfig   `yaml:"monitoring,omitempty"`
	Notifications *NotificationConfig `yaml:"notifications,omitempty"`
	Logging       *LoggingConfig      `yaml:"logging,omitempty"`
	Casters       []CasterConfig      `yaml:"casters,omitempty"`
}

func Load(filename string) (*Config, error) {
	// Load the main config file
	config, err := loadConfigFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to load main config file: %w", err)
	}

	// Process includes if enabled
	if config.Include.Enabled && config.Include.Directory != "" {
		if err := loadIncludes(config, filepath.Dir(filename)); err != nil {
			return nil, fmt.Errorf("failed to load includes: %w", err)
		}
	}

	setDefaults(config)

	if err := validate(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Default returns a configuration with every default applied and no casters.
func Default() *Config {
	cfg := &Config{}
	setDefaults(cfg)
	return cfg
}

func loadConfigFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	return &config, nil
}

func loadIncludes(config *Config, baseDir string) error {
	includeDir := config.Include.Directory

	// Make include directory relative to main config file if not absolute
	if !filepath.IsAbs(includeDir) {
		includeDir = filepath.Join(baseDir, includeDir)
	}

	if _, err := os.Stat(includeDir); os.IsNotExist(err) {
		return fmt.Errorf("include directory does not exist: %s", includeDir)
	}

	pattern := config.Include.Pattern
	if pattern == "" {
		pattern = "*.yaml"
	}

	matches, err := filepath.Glob(filepath.Join(includeDir, pattern))
	if err != nil {
		return fmt.Errorf("failed to glob include pattern: %w", err)
	}

	// Also check for .yml files if pattern is default
	if pattern == "*.yaml" {
		ymlMatches, err := filepath.Glob(filepath.Join(includeDir, "*.yml"))
		if err != nil {
			return fmt.Errorf("failed to glob .yml files: %w", err)
		}
		matches = append(matches, ymlMatches...)
	}

	sort.Slice(matches, func(i, j int) bool {
		return filepath.Base(matches[i]) < filepath.Base(matches[j])
	})

	for _, match := range matches {
		if err := loadAndMergeInclude(config, match); err != nil {
			return fmt.Errorf("failed to load include file %s: %w", match, err)
		}
	}

	return nil
}

func loadAndMergeInclude(config *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read include file: %w", err)
	}

	var partial PartialConfig
	if err := yaml.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("failed to parse include file YAML: %w", err)
	}

	mergePartialConfig(config, &partial)
	return nil
}

func mergePartialConfig(config *Config, partial *PartialConfig) {
	// Casters are appended; a later definition with the same name replaces
	// the earlier one.
	for _, caster := range partial.Casters {
		replaced := false
		for i := range config.Casters {
			if config.Casters[i].Name == caster.Name {
				config.Casters[i] = caster
				replaced = true
				break
			}
		}
		if !replaced {
			config.Casters = append(config.Casters, caster)
		}
	}

	if partial.Monitoring != nil {
		mergeMonitoringConfig(&config.Monitoring, partial.Monitoring)
	}

	if partial.Logging != nil {
		mergeLoggingConfig(&config.Logging, partial.Logging)
	}

	if partial.Notifications != nil {
		mergeNotificationConfig(&config.Notifications, partial.Notifications)
	}
}

func mergeMonitoringConfig(main *MonitoringConfig, partial *MonitoringConfig) {
	if partial.Interval != 0 {
		main.Interval = partial.Interval
	}
	if partial.Window != 0 {
		main.Window = partial.Window
	}
	if partial.Timeout != 0 {
		main.Timeout = partial.Timeout
	}
	if partial.UserAgent != "" {
		main.UserAgent = partial.UserAgent
	}
}

func mergeLoggingConfig(main *LoggingConfig, partial *LoggingConfig) {
	if partial.Level != "" {
		main.Level = partial.Level
	}
	if partial.Format != "" {
		main.Format = partial.Format
	}
}

func setDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.Port == "" {
		cfg.Server.Port = ":8080"
	}
	if cfg.Server.Workers == 0 {
		cfg.Server.Workers = 1
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 15 * time.Second
	}

	// Database defaults
	if cfg.Database.Type == "" {
		cfg.Database.Type = "boltdb"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./data/ntripwatch.db"
	}
	if cfg.Database.CleanupInterval == 0 {
		cfg.Database.CleanupInterval = 6 * time.Hour
	}
	if cfg.Database.HistoryRetention == 0 {
		cfg.Database.HistoryRetention = 30 * 24 * time.Hour
	}

	// Include defaults
	if cfg.Include.Pattern == "" {
		cfg.Include.Pattern = "*.yaml"
	}

	// Monitoring defaults
	if cfg.Monitoring.Interval == 0 {
		cfg.Monitoring.Interval = 60 * time.Second
	}
	if cfg.Monitoring.Window == 0 {
		cfg.Monitoring.Window = 2
	}
	if cfg.Monitoring.Timeout == 0 {
		cfg.Monitoring.Timeout = 10 * time.Second
	}
	if cfg.Monitoring.UserAgent == "" {
		cfg.Monitoring.UserAgent = "NTRIP ntripwatch/1.0"
	}

	// Check log defaults
	if cfg.CheckLog.Directory == "" {
		cfg.CheckLog.Directory = "./data/checks"
	}
	if cfg.CheckLog.Prefix == "" {
		cfg.CheckLog.Prefix = "ntrip-checks"
	}

	// Prometheus defaults
	if cfg.Prometheus.MetricsPath == "" {
		cfg.Prometheus.MetricsPath = "/metrics"
	}

	// Tracing defaults
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "ntripwatch"
	}

	// Logging defaults
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}

	// Caster defaults
	for i := range cfg.Casters {
		if cfg.Casters[i].Port == 0 {
			cfg.Casters[i].Port = 2101
		}
	}

	setNotificationDefaults(&cfg.Notifications)
}

func validate(cfg *Config) error {
	if cfg.Server.Workers < 1 {
		return fmt.Errorf("server.workers must be at least 1")
	}
	if cfg.Database.Type != "boltdb" && cfg.Database.Type != "sqlite" {
		return fmt.Errorf("database.type must be boltdb or sqlite, got %q", cfg.Database.Type)
	}
	if cfg.Database.HistoryRetention < 0 {
		return fmt.Errorf("database.history_retention must not be negative")
	}

	if cfg.Monitoring.Window < 1 {
		return fmt.Errorf("monitoring.window must be at least 1")
	}
	if cfg.Monitoring.Interval <= 0 {
		return fmt.Errorf("monitoring.interval must be positive")
	}
	if cfg.Monitoring.Timeout <= 0 {
		return fmt.Errorf("monitoring.timeout must be positive")
	}

	if cfg.CheckLog.RetentionDays < 0 {
		return fmt.Errorf("checklog.retention_days must not be negative")
	}
	if strings.ContainsAny(cfg.CheckLog.Prefix, `/\`) {
		return fmt.Errorf("checklog.prefix must not contain path separators")
	}

	if cfg.Tracing.Enabled && cfg.Tracing.Endpoint == "" {
		return fmt.Errorf("tracing.endpoint is required when tracing is enabled")
	}

	if cfg.Include.Enabled {
		if cfg.Include.Directory == "" {
			return fmt.Errorf("include.directory must be specified when include.enabled is true")
		}
		if !isValidGlobPattern(cfg.Include.Pattern) {
			return fmt.Errorf("include.pattern contains invalid glob pattern: %s", cfg.Include.Pattern)
		}
	}

	names := make(map[string]bool)
	for _, caster := range cfg.Casters {
		if caster.Name == "" {
			return fmt.Errorf("caster with host %q has no name", caster.Host)
		}
		if names[caster.Name] {
			return fmt.Errorf("duplicate caster name: %s", caster.Name)
		}
		names[caster.Name] = true
		if caster.Host == "" {
			return fmt.Errorf("caster '%s' has no host", caster.Name)
		}
		if caster.Port < 1 || caster.Port > 65535 {
			return fmt.Errorf("caster '%s' has invalid port: %d", caster.Name, caster.Port)
		}
	}

	return cfg.Notifications.Validate()
}

// isValidGlobPattern checks if a string is a valid glob pattern
func isValidGlobPattern(pattern string) bool {
	if strings.Contains(pattern, "/") || strings.Contains(pattern, "\\") {
		return false
	}
	_, err := filepath.Match(pattern, "test.yaml")
	return err == nil
}
