/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zerologr"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/iLLeniumStudios/vigilant/internal/api"
	"github.com/iLLeniumStudios/vigilant/internal/config"
	"github.com/iLLeniumStudios/vigilant/internal/controller"
	"github.com/iLLeniumStudios/vigilant/internal/core"
	"github.com/iLLeniumStudios/vigilant/internal/engine"
	"github.com/iLLeniumStudios/vigilant/internal/events"
	"github.com/iLLeniumStudios/vigilant/internal/executor"
	"github.com/iLLeniumStudios/vigilant/internal/loader"
	"github.com/iLLeniumStudios/vigilant/internal/monitor"
	"github.com/iLLeniumStudios/vigilant/internal/monitors"
	"github.com/iLLeniumStudios/vigilant/internal/notifier"
	"github.com/iLLeniumStudios/vigilant/internal/queue"
	"github.com/iLLeniumStudios/vigilant/internal/registry"
	"github.com/iLLeniumStudios/vigilant/internal/store"
	"github.com/iLLeniumStudios/vigilant/internal/timeutil"
)

func main() {
	flags := pflag.NewFlagSet("vigilant", pflag.ExitOnError)
	config.BindFlags(flags)

	if err := flags.Parse(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "failed to parse flags: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Set up zerolog with the configured log level
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zl := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().
		Timestamp().
		Logger()
	logger := zerologr.New(&zl)

	setupLog := logger.WithName("setup")
	if cfg.ConfigFileUsed() != "" {
		setupLog.Info("Configuration loaded", "file", cfg.ConfigFileUsed(), "level", cfg.LogLevel)
	} else {
		setupLog.Info("No config file found, using defaults and flags", "level", cfg.LogLevel)
	}

	if err := run(logger, setupLog, cfg); err != nil {
		if core.IsCoreError(err) {
			setupLog.Error(err, "Stopped on core error")
		} else {
			setupLog.Error(err, "Stopped on error")
		}
		os.Exit(1)
	}
}

func run(logger, setupLog logr.Logger, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock, err := timeutil.NewClock(cfg.TimeZone)
	if err != nil {
		return fmt.Errorf("invalid time zone %q: %w", cfg.TimeZone, err)
	}

	dataStore, err := newStore(cfg)
	if err != nil {
		return fmt.Errorf("creating store: %w", err)
	}
	if err := dataStore.Init(); err != nil {
		return fmt.Errorf("initializing store: %w", err)
	}
	defer func() { _ = dataStore.Close() }()
	setupLog.Info("Store initialized", "type", cfg.Storage.Type)

	q, err := newQueue(ctx, logger, cfg)
	if err != nil {
		return fmt.Errorf("creating queue: %w", err)
	}
	defer func() { _ = q.Close() }()
	setupLog.Info("Queue initialized", "type", cfg.Queue.Type)

	reg := registry.New(logger)
	bus := events.NewBus(logger, q, dataStore, reg, cfg.Monitors.LogAllEvents)
	eng := engine.New(logger, dataStore, bus, clock, cfg.Monitors.MaxIssuesCreation)

	// The built-in alerting modules notify through the process log
	notify := notifier.New(logger, dataStore, bus, clock,
		notifier.NewLogChannel(logger, "log"), 0)

	factory := monitor.NewFactory()
	if err := monitors.Register(factory, dataStore, clock, logger, notify); err != nil {
		return fmt.Errorf("registering built-in modules: %w", err)
	}

	ld := loader.New(logger, dataStore, reg, factory, clock, cfg.Monitors)
	if err := ld.RegisterBuiltins(ctx); err != nil {
		return fmt.Errorf("registering built-in monitors: %w", err)
	}

	ctrl := controller.New(logger, dataStore, q, reg, bus, clock, cfg.Controller)
	exec := executor.New(logger, dataStore, q, reg, eng, clock, cfg.Executor, cfg.Queue)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return ld.Run(groupCtx) })
	group.Go(func() error { return ctrl.Run(groupCtx) })
	group.Go(func() error { return exec.Run(groupCtx) })

	if cfg.API.Enabled {
		apiServer := api.NewServer(api.ServerOptions{
			Log:      logger,
			Store:    dataStore,
			Queue:    q,
			Loader:   ld,
			Registry: reg,
			Bus:      bus,
			Clock:    clock,
			Config:   cfg,
			Health: map[string]api.HealthSource{
				"controller": ctrl,
				"executor":   exec,
			},
		})
		group.Go(func() error { return apiServer.Run(groupCtx) })
	}

	setupLog.Info("Vigilant started", "timeZone", cfg.TimeZone)

	err = group.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	setupLog.Info("Shutdown complete")
	return nil
}

// newStore builds the configured storage backend
func newStore(cfg *config.Config) (*store.GormStore, error) {
	var dsn string
	switch cfg.Storage.Type {
	case "sqlite":
		dsn = cfg.Storage.SQLite.Path + "?_journal_mode=WAL&_busy_timeout=5000"
	case "postgres":
		dsn = fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			cfg.Storage.PostgreSQL.Host, cfg.Storage.PostgreSQL.Port,
			cfg.Storage.PostgreSQL.Username, cfg.Storage.PostgreSQL.Password,
			cfg.Storage.PostgreSQL.Database, cfg.Storage.PostgreSQL.SSLMode)
	case "mysql":
		dsn = fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
			cfg.Storage.MySQL.Username, cfg.Storage.MySQL.Password,
			cfg.Storage.MySQL.Host, cfg.Storage.MySQL.Port,
			cfg.Storage.MySQL.Database)
	default:
		return nil, fmt.Errorf("unsupported storage type %q", cfg.Storage.Type)
	}

	pool := store.ConnectionPoolConfig{}
	if settings, ok := cfg.Storage.Pools["application"]; ok {
		pool = store.ConnectionPoolConfig{
			MaxIdleConns:    settings.MaxIdleConns,
			MaxOpenConns:    settings.MaxOpenConns,
			ConnMaxLifetime: settings.ConnMaxLifetime,
			ConnMaxIdleTime: settings.ConnMaxIdleTime,
		}
	}

	return store.NewGormStoreWithPool(cfg.Storage.Type, dsn, pool)
}

// newQueue builds the configured queue backend
func newQueue(ctx context.Context, logger logr.Logger, cfg *config.Config) (queue.Queue, error) {
	switch cfg.Queue.Type {
	case "memory":
		return queue.NewMemoryQueue(logger, cfg.Queue.VisibilityTime), nil
	case "redis":
		rq := queue.NewRedisQueue(logger, queue.RedisQueueConfig{
			Addr:     cfg.Queue.Redis.Addr,
			Password: cfg.Queue.Redis.Password,
			DB:       cfg.Queue.Redis.DB,
		}, cfg.Queue.VisibilityTime)

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := rq.Ping(pingCtx); err != nil {
			return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Queue.Redis.Addr, err)
		}
		return rq, nil
	default:
		return nil, fmt.Errorf("unsupported queue type %q", cfg.Queue.Type)
	}
}
