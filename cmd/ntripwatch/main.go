package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/John-MustangGT/ntripwatch/internal/config"
	"github.com/John-MustangGT/ntripwatch/internal/database"
	"github.com/John-MustangGT/ntripwatch/internal/metrics"
	"github.com/John-MustangGT/ntripwatch/internal/monitoring"
	"github.com/John-MustangGT/ntripwatch/internal/web"
	"github.com/sirupsen/logrus"
)

func main() {
	configFile := flag.String("config", "config.yaml", "Configuration file path")
	version := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *version {
		info := web.CurrentBuildInfo()
		fmt.Printf("ntripwatch %s\nCommit: %s\nBuilt: %s\nGo: %s\n", info.Version, info.GitCommit, info.BuildTime, info.GoVersion)
		os.Exit(0)
	}

	// Load configuration
	cfg, err := config.Load(*configFile)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	setupLogging(cfg.Logging)

	logrus.WithFields(logrus.Fields{
		"config_file": *configFile,
		"port":        cfg.Server.Port,
		"workers":     cfg.Server.Workers,
		"interval":    cfg.Monitoring.Interval,
		"window":      cfg.Monitoring.Window,
		"database":    cfg.Database.Type,
	}).Info("Starting ntripwatch")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var engineOpts []monitoring.EngineOption
	if cfg.Tracing.Enabled {
		provider, err := setupTracing(ctx, cfg.Tracing)
		if err != nil {
			logrus.Fatalf("Failed to initialize tracing: %v", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := provider.Shutdown(shutdownCtx); err != nil {
				logrus.WithError(err).Warn("Failed to flush traces")
			}
		}()
		engineOpts = append(engineOpts, monitoring.WithTracer(provider.Tracer("github.com/John-MustangGT/ntripwatch/internal/monitoring")))
		logrus.WithField("endpoint", cfg.Tracing.Endpoint).Info("Tracing enabled")
	}

	// Initialize database
	store, err := database.Open(cfg.Database.Type, cfg.Database.Path)
	if err != nil {
		logrus.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	metricsCollector := metrics.NewCollector(store)

	engine, err := monitoring.NewEngine(cfg, store, metricsCollector, engineOpts...)
	if err != nil {
		logrus.Fatalf("Failed to initialize monitoring engine: %v", err)
	}

	webServer := web.NewServer(cfg, engine, metricsCollector)

	if err := engine.Start(ctx); err != nil {
		logrus.Fatalf("Failed to start monitoring engine: %v", err)
	}
	if err := webServer.Start(ctx); err != nil {
		logrus.Fatalf("Failed to start web server: %v", err)
	}

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	logrus.WithField("signal", sig).Info("Received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := webServer.Stop(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("Web server shutdown failed")
	}

	cancel()
	engine.Stop()
	logrus.Info("Shutdown complete")
}

func setupLogging(cfg config.LoggingConfig) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	if cfg.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}
}
