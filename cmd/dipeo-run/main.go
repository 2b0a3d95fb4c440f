// dipeo-run loads the application configuration, wires the observer
// EventBus to whichever sinks are enabled, and drives one sample diagram
// to completion. It is a demo entrypoint, not a server: a real deployment
// wires its own diagram source in place of sampleDiagram.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dipeo/core/internal/application/observer"
	"github.com/dipeo/core/internal/config"
	"github.com/dipeo/core/internal/infrastructure/cache"
	"github.com/dipeo/core/internal/infrastructure/logger"
	"github.com/dipeo/core/internal/infrastructure/storage/postgres"
	"github.com/dipeo/core/pkg/diagram"
	"github.com/dipeo/core/pkg/engine"
	"github.com/dipeo/core/pkg/envelope"
	"github.com/dipeo/core/pkg/handler"
	"github.com/dipeo/core/pkg/handler/builtin"
	"github.com/dipeo/core/pkg/handler/builtin/dbfs"
	"github.com/dipeo/core/pkg/rules"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	appLogger := logger.New(cfg.Logging)
	appLogger.Info("starting dipeo-run", "default_concurrency", cfg.Execution.DefaultConcurrency)

	var redisCache *cache.RedisCache
	if cfg.Cache.Enabled {
		redisCache, err = cache.NewRedisCache(cfg.Cache)
		if err != nil {
			appLogger.Warn("redis cache unavailable, continuing without it", "error", err)
			redisCache = nil
		} else {
			defer redisCache.Close()
			appLogger.Info("redis cache connected")
		}
	}

	bus := observer.NewEventBus(
		observer.WithLogger(appLogger),
		observer.WithBufferSize(cfg.Observer.BufferSize),
	)

	if cfg.Observer.EnableLogger {
		if err := bus.Register(observer.NewLoggerObserver(observer.WithLoggerInstance(appLogger))); err != nil {
			appLogger.Error("failed to register logger observer", "error", err)
		}
	}

	var wsHub *observer.WebSocketHub
	if cfg.Observer.EnableWebSocket {
		wsHub = observer.NewWebSocketHub(appLogger)
		if err := bus.Register(observer.NewWebSocketObserver(wsHub, observer.WithWebSocketLogger(appLogger))); err != nil {
			appLogger.Error("failed to register websocket observer", "error", err)
		}
	}

	if cfg.Observer.EnableDatabase {
		db, err := postgres.NewDB(cfg.Database, cfg.Logging.Level == "debug")
		if err != nil {
			appLogger.Warn("database observer disabled, could not connect", "error", err)
		} else {
			defer postgres.Close(db)
			eventRepo := postgres.NewEventRepository(db)
			if err := bus.Register(observer.NewDatabaseObserver(eventRepo)); err != nil {
				appLogger.Error("failed to register database observer", "error", err)
			}
		}
	}

	appLogger.Info("observer bus ready", "observer_count", bus.Count())

	transforms := rules.NewRegistry()
	handlers := handler.NewRegistry()
	engineCfg := engine.Config{
		DefaultConcurrency: cfg.Execution.DefaultConcurrency,
		DefaultNodeTimeout: cfg.Execution.DefaultNodeTimeout,
		StrictMode:         cfg.Execution.StrictMode,
		RetryPolicy:        engine.NoRetryPolicy(),
	}

	builtin.Register(handlers, builtin.Deps{
		Transforms:   transforms,
		Stores:       dbfs.NewRegistry(),
		EngineConfig: engineCfg,
	})

	d, err := sampleDiagram()
	if err != nil {
		appLogger.Error("failed to build sample diagram", "error", err)
		os.Exit(1)
	}

	e := engine.New(d, handlers, transforms, engineCfg, bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-shutdown
		appLogger.Info("shutdown signal received, cancelling run")
		cancel()
	}()

	executionID := fmt.Sprintf("run-%d", time.Now().UnixNano())
	if err := e.Run(ctx, executionID, envelope.New(map[string]any{}, envelope.Object, "")); err != nil {
		appLogger.Error("run failed", "execution_id", executionID, "error", err)
		os.Exit(1)
	}

	appLogger.Info("run completed", "execution_id", executionID)
}

// sampleDiagram builds a minimal START -> CODE_JOB -> ENDPOINT graph. A
// real deployment replaces this with a loader that parses a diagram file
// into *diagram.ExecutableDiagram; no such loader exists in this module
// yet (see DESIGN.md).
func sampleDiagram() (*diagram.ExecutableDiagram, error) {
	start := &diagram.Node{ID: "start", Name: "start", Type: diagram.NodeTypeStart,
		OutputHandles: []diagram.HandleName{diagram.HandleDefault}}
	echo := &diagram.Node{ID: "echo", Name: "echo", Type: diagram.NodeTypeCodeJob,
		InputHandles: []diagram.HandleName{diagram.HandleDefault}, OutputHandles: []diagram.HandleName{diagram.HandleDefault},
		Config: map[string]any{"code": "input"}}
	end := &diagram.Node{ID: "end", Name: "end", Type: diagram.NodeTypeEndpoint,
		InputHandles: []diagram.HandleName{diagram.HandleDefault}}

	return diagram.New(
		[]*diagram.Node{start, echo, end},
		[]*diagram.Edge{
			{ID: "e1", SourceNode: "start", SourceHandle: diagram.HandleDefault, TargetNode: "echo", TargetHandle: diagram.HandleDefault},
			{ID: "e2", SourceNode: "echo", SourceHandle: diagram.HandleDefault, TargetNode: "end", TargetHandle: diagram.HandleDefault},
		},
	)
}
