/*
Package main is the server entry point. It loads configuration, connects the
durable store and the ephemeral cache, assembles the realtime core, and runs
the HTTP server until interrupted.
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"crewchat/internal/app/cache"
	"crewchat/internal/app/rtc"
	"crewchat/internal/app/store"
	"crewchat/internal/configs"
	"crewchat/internal/handler"
	"crewchat/internal/pkg/logx"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := configs.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logx.InitGlobalLogger(cfg.Environment == "development")
	logx.Info("Configuration loaded.", "environment", cfg.Environment, "port", cfg.Port)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := store.NewPool(cfg.DatabaseDSN)
	if err != nil {
		logx.Fatal(err, "Failed to initialize the durable store")
	}
	defer pool.Close()

	queries := store.New(pool)

	redisCache := cache.NewRedis(cfg.RedisAddr)
	defer redisCache.Close()

	// The cache backs advisory state only. An unreachable cache means no typing
	// indicators, not a failed boot.
	if err := redisCache.Ping(ctx); err != nil {
		logx.Warn("Ephemeral cache unreachable at startup, typing indicators degraded", "error", err)
	}

	registry := rtc.NewRegistry()
	index := rtc.NewIndex(queries)
	engine := rtc.NewEngine(registry, index)
	typing := rtc.NewTypingStore(redisCache, engine)
	coordinator := rtc.NewCoordinator(queries, engine, index, registry, typing)
	hub := rtc.NewHub(registry, index, engine, typing, coordinator)

	auth := rtc.NewAuthenticator(cfg.JWTSecret, queries)

	deps := &handler.AppDeps{
		Config:      cfg,
		Auth:        auth,
		Hub:         hub,
		Coordinator: coordinator,
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler.NewRouter(deps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // websocket connections are long-lived
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logx.Info("Server starting.", "addr", srv.Addr)

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logx.Fatal(err, "Server failed to start")
		}
	}()

	<-ctx.Done()
	logx.Info("Shutdown signal received, draining connections.")

	// Close live websocket connections first so clients see a clean close frame
	// before the listener goes away.
	hub.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logx.Error(err, "Server shutdown failed")
		return
	}

	logx.Info("Server stopped cleanly.")
}
