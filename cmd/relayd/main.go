// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	oteltrace "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/dak180/Orbital-Science/backup"
	"github.com/dak180/Orbital-Science/config"
	"github.com/dak180/Orbital-Science/relay"
	"github.com/dak180/Orbital-Science/server/api"
	"github.com/dak180/Orbital-Science/server/health"
	"github.com/dak180/Orbital-Science/server/otel"
	uplinkcoap "github.com/dak180/Orbital-Science/uplink/coap"
	uplinkhttp "github.com/dak180/Orbital-Science/uplink/http"
	uplinkmqtt "github.com/dak180/Orbital-Science/uplink/mqtt"
	uplinkws "github.com/dak180/Orbital-Science/uplink/websocket"
)

func main() {
	// Parse command-line flags
	configFile := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup logging
	logLevel := slog.LevelInfo
	switch cfg.Log.Level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Log.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	slog.Info("Starting telemetry relay", "version", "0.1.0")
	slog.Info("Configuration loaded",
		"uplinks", len(cfg.Uplinks),
		"flush_interval", cfg.Relay.FlushInterval,
		"api_enabled", cfg.API.Enabled,
		"backup_enabled", cfg.Backup.Enabled,
		"log_level", cfg.Log.Level)

	// Initialize OpenTelemetry
	delegator := relay.New(logger)
	var tracer trace.Tracer
	if cfg.Metrics.Enabled || cfg.Metrics.Traces {
		shutdown, err := otel.InitProvider(cfg.Metrics)
		if err != nil {
			slog.Error("Failed to initialize OpenTelemetry", "error", err)
			os.Exit(1)
		}
		defer shutdown(context.Background())

		if cfg.Metrics.Enabled {
			metrics, err := otel.NewMetrics()
			if err != nil {
				slog.Error("Failed to create metric instruments", "error", err)
				os.Exit(1)
			}
			delegator.SetObserver(metrics)
			slog.Info("OpenTelemetry metrics enabled", "endpoint", cfg.Metrics.Endpoint)
		}

		if cfg.Metrics.Traces {
			tracer = oteltrace.Tracer("orbital-relay")
			delegator.SetTracer(tracer)
			slog.Info("Distributed tracing enabled",
				"endpoint", cfg.Metrics.Endpoint,
				"sample_rate", cfg.Metrics.TraceSampleRate)
		}
	}

	// Build and register uplink endpoints
	delegator.Discover(buildUplinks(cfg, logger))

	// Start the flush loop
	runner := relay.NewRunner(delegator, cfg.Relay.FlushInterval, logger)
	runner.Start()
	defer runner.Stop()

	// Start save backups
	if cfg.Backup.Enabled {
		catalog, err := backup.OpenCatalog(cfg.Backup.CatalogDir)
		if err != nil {
			slog.Error("Failed to open backup catalog", "error", err)
			os.Exit(1)
		}
		defer catalog.Close()

		manager, err := backup.New(backup.Config{
			WatchFile: cfg.Backup.WatchFile,
			Dir:       cfg.Backup.Dir,
			Retention: cfg.Backup.Retention,
			Debounce:  cfg.Backup.Debounce,
		}, catalog, logger)
		if err != nil {
			slog.Error("Failed to create backup manager", "error", err)
			os.Exit(1)
		}
		if err := manager.Start(); err != nil {
			slog.Error("Failed to start backup watcher", "error", err)
			os.Exit(1)
		}
		defer manager.Stop()
	}

	// Shut everything down on SIGINT/SIGTERM
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("Shutdown signal received", "signal", sig.String())
		cancel()
	}()

	var wg sync.WaitGroup

	if cfg.API.Enabled {
		apiServer := api.New(api.Config{
			Address:         cfg.API.Addr,
			SubmitRate:      cfg.API.SubmitRate,
			SubmitBurst:     cfg.API.SubmitBurst,
			MaxBatch:        cfg.API.MaxBatch,
			ShutdownTimeout: cfg.API.ShutdownTimeout,
		}, delegator, logger)
		apiServer.SetTracer(tracer)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := apiServer.Listen(ctx); err != nil {
				slog.Error("Intake API server error", "error", err)
				cancel()
			}
		}()
	}

	if cfg.Health.Enabled {
		healthServer := health.New(health.Config{
			Address:         cfg.Health.Addr,
			ShutdownTimeout: cfg.Health.ShutdownTimeout,
		}, delegator, logger)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := healthServer.Listen(ctx); err != nil {
				slog.Error("Health server error", "error", err)
				cancel()
			}
		}()
	}

	wg.Wait()
	slog.Info("Telemetry relay stopped")
}

// buildUplinks constructs one endpoint per configured uplink. Config
// validation already rejected unknown types.
func buildUplinks(cfg *config.Config, logger *slog.Logger) []relay.Endpoint {
	endpoints := make([]relay.Endpoint, 0, len(cfg.Uplinks))
	for _, up := range cfg.Uplinks {
		switch up.Type {
		case "http":
			hcfg := uplinkhttp.Config{
				Name:    up.Name,
				URL:     up.URL,
				Score:   up.Score,
				Timeout: up.Timeout,
			}
			if up.Breaker != nil {
				hcfg.FailureThreshold = up.Breaker.FailureThreshold
				hcfg.ResetTimeout = up.Breaker.ResetTimeout
			}
			endpoints = append(endpoints, uplinkhttp.New(hcfg, logger))
		case "mqtt":
			endpoints = append(endpoints, uplinkmqtt.New(uplinkmqtt.Config{
				Name:     up.Name,
				Broker:   up.Broker,
				Topic:    up.Topic,
				ClientID: up.ClientID,
				Score:    up.Score,
				Timeout:  up.Timeout,
			}, logger))
		case "websocket":
			endpoints = append(endpoints, uplinkws.New(uplinkws.Config{
				Name:    up.Name,
				URL:     up.URL,
				Score:   up.Score,
				Timeout: up.Timeout,
			}, logger))
		case "coap":
			endpoints = append(endpoints, uplinkcoap.New(uplinkcoap.Config{
				Name:    up.Name,
				Addr:    up.Addr,
				Path:    up.Path,
				Score:   up.Score,
				Timeout: up.Timeout,
			}, logger))
		}
	}
	return endpoints
}
