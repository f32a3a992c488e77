// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	internal_live "github.com/rapidaai/live-bridge/api/bridge-api/internal/live"
	internal_session "github.com/rapidaai/live-bridge/api/bridge-api/internal/session"
	internal_socket "github.com/rapidaai/live-bridge/api/bridge-api/internal/socket"
	internal_store "github.com/rapidaai/live-bridge/api/bridge-api/internal/store"
	bridge_routers "github.com/rapidaai/live-bridge/api/bridge-api/router"
	"github.com/rapidaai/live-bridge/config"
	"github.com/rapidaai/live-bridge/pkg/commons"
	"github.com/rapidaai/live-bridge/pkg/connectors"
)

const shutdownTimeout = 10 * time.Second

func main() {
	vConfig, err := config.InitConfig()
	if err != nil {
		log.Fatalf("failed to read configuration: %v", err)
	}
	cfg, err := config.GetApplicationConfig(vConfig)
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	logger, err := commons.NewLogger(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redis, err := connectors.NewRedisConnector(ctx, &cfg.RedisConfig, logger)
	if err != nil {
		logger.Errorf("failed to connect to redis: %v", err)
		return
	}
	defer redis.Close()

	registry := internal_session.NewRegistry()
	store := internal_store.NewMetadataStore(logger, redis, time.Duration(cfg.SessionTTLSeconds)*time.Second)
	hub := internal_socket.NewHub(logger)
	opener := internal_live.NewGeminiOpener(logger, cfg.GeminiApiKey, cfg.GeminiModel)
	service := internal_session.NewService(logger, registry, store, hub, opener)

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(cors.New(cors.Config{
		AllowAllOrigins:  true,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
		AllowWebSockets:  true,
		MaxAge:           12 * time.Hour,
	}))

	bridge_routers.HealthCheckRoutes(cfg, engine, logger, redis)
	bridge_routers.SessionApiRoute(cfg, engine, logger, service, hub)

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: engine,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Infow("Starting server", "name", cfg.Name, "version", cfg.Version, "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		service.CloseAll(shutdownCtx)
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		logger.Errorf("server exited with error: %v", err)
	}
}
