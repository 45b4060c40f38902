// Package main provides the entry point for shardis-server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/shardis/shardis/internal/infra/buildinfo"
	"github.com/shardis/shardis/internal/infra/confloader"
	"github.com/shardis/shardis/internal/infra/shutdown"
	"github.com/shardis/shardis/internal/server/config"
	"github.com/shardis/shardis/internal/server/metricsserver"
	"github.com/shardis/shardis/internal/server/redisserver"
	"github.com/shardis/shardis/internal/storage"
	"github.com/shardis/shardis/internal/telemetry/logger"
	"github.com/shardis/shardis/internal/telemetry/metric"
)

func main() {
	app := &cli.App{
		Name:    "shardis-server",
		Usage:   "sharded in-memory Redis-protocol key-value server",
		Version: buildinfo.String(),
		Flags:   flags(),
		Action:  run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to configuration file (YAML)",
			EnvVars: []string{"SHARDIS_CONFIG"},
		},
		&cli.StringFlag{
			Name:  "addr",
			Usage: "TCP listen address",
		},
		&cli.IntFlag{
			Name:  "shards",
			Usage: "Number of storage shards (0 = auto)",
		},
		&cli.IntFlag{
			Name:  "handlers",
			Usage: "Maximum concurrent connection handlers (0 = auto)",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "Log level: debug, info, warn, error",
		},
		&cli.StringFlag{
			Name:  "metrics-addr",
			Usage: "Prometheus metrics listen address (enables metrics)",
		},
	}
}

func run(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stdout,
	})
	logger.SetDefault(log)

	log.Info("starting shardis-server",
		"version", buildinfo.Version,
		"commit", buildinfo.Commit,
		"addr", cfg.Server.Addr,
		"shards", cfg.Storage.Shards,
		"handlers", cfg.Server.Handlers)

	engine := storage.New(cfg.Storage.Shards)

	metrics := metric.NewRegistry()
	metrics.RegisterEngine(engine)

	srv := redisserver.New(&redisserver.Config{
		Addr:         cfg.Server.Addr,
		MaxHandlers:  cfg.Server.Handlers,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		RateLimit:    cfg.Server.RateLimit,
	}, engine, log, metrics)

	if err := srv.Start(context.Background()); err != nil {
		return fmt.Errorf("start server: %w", err)
	}

	shutdownHandler := shutdown.NewHandler(30*time.Second, shutdown.WithLogger(log))

	if cfg.Metrics.Enabled {
		metricsServer := startMetricsServer(cfg.Metrics.Addr, metrics, log)
		shutdownHandler.OnShutdown("metrics server", metricsServer.Shutdown)
	}

	if path := c.String("config"); path != "" {
		watcher, err := startConfigWatcher(path, log)
		if err != nil {
			log.Warn("config watcher disabled", "error", err)
		} else {
			shutdownHandler.OnShutdown("config watcher", func(context.Context) error {
				return watcher.Stop()
			})
		}
	}

	shutdownHandler.OnShutdown("redis server", srv.Shutdown)

	log.Info("server started", "addr", srv.Addr())
	if err := shutdownHandler.Wait(); err != nil {
		log.Error("shutdown error", "error", err)
		return err
	}

	log.Info("server stopped gracefully")
	return nil
}

// loadConfig loads configuration with priority flag > env > file > default.
func loadConfig(c *cli.Context) (*config.ServerConfig, error) {
	cfg := config.Default()

	opts := []confloader.Option{}
	if path := c.String("config"); path != "" {
		opts = append(opts, confloader.WithConfigFile(path))
	}
	loader := confloader.NewLoader(opts...)

	if err := loader.Load(cfg); err != nil {
		return nil, err
	}

	overrides := map[string]any{}
	if c.IsSet("addr") {
		overrides["server.addr"] = c.String("addr")
	}
	if c.IsSet("shards") {
		overrides["storage.shards"] = c.Int("shards")
	}
	if c.IsSet("handlers") {
		overrides["server.handlers"] = c.Int("handlers")
	}
	if c.IsSet("log-level") {
		overrides["log.level"] = c.String("log-level")
	}
	if c.IsSet("metrics-addr") {
		overrides["metrics.enabled"] = true
		overrides["metrics.addr"] = c.String("metrics-addr")
	}
	if len(overrides) > 0 {
		if err := loader.LoadMap(overrides); err != nil {
			return nil, err
		}
		if err := loader.Unmarshal(cfg); err != nil {
			return nil, err
		}
	}

	if err := config.Verify(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// startMetricsServer serves the Prometheus exposition endpoint.
func startMetricsServer(addr string, metrics *metric.Registry, log logger.Logger) *metricsserver.Server {
	srv := metricsserver.New(addr, metrics)

	go func() {
		log.Info("metrics server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server error", "error", err)
		}
	}()

	return srv
}

// startConfigWatcher re-applies the log level when the config file
// changes on disk.
func startConfigWatcher(path string, log logger.Logger) (*confloader.Watcher, error) {
	watcher, err := confloader.NewWatcher(confloader.WithWatcherLogger(log))
	if err != nil {
		return nil, err
	}
	if err := watcher.Watch(path); err != nil {
		_ = watcher.Stop()
		return nil, err
	}

	watcher.OnChange(func(string) {
		l := confloader.NewLoader()
		if err := l.LoadFile(path); err != nil {
			log.Warn("config reload failed", "error", err)
			return
		}
		if level := l.GetString("log.level"); level != "" && level != logger.GetLevel() {
			log.Info("log level changed", "level", level)
			logger.SetLevel(level)
		}
	})

	watcher.StartAsync()
	return watcher, nil
}
