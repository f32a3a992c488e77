// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package healthcheck_api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rapidaai/live-bridge/config"
	"github.com/rapidaai/live-bridge/pkg/commons"
	"github.com/rapidaai/live-bridge/pkg/connectors"
)

// HealthCheckApi exposes liveness and readiness probes.
type HealthCheckApi struct {
	cfg    *config.AppConfig
	logger commons.Logger
	redis  connectors.RedisConnector
}

// New builds the probe handlers.
func New(cfg *config.AppConfig, logger commons.Logger, redis connectors.RedisConnector) *HealthCheckApi {
	return &HealthCheckApi{
		cfg:    cfg,
		logger: logger,
		redis:  redis,
	}
}

// Healthz reports process liveness.
func (api *HealthCheckApi) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"name":    api.cfg.Name,
		"version": api.cfg.Version,
	})
}

// Readiness reports whether dependencies are reachable.
func (api *HealthCheckApi) Readiness(c *gin.Context) {
	if err := api.redis.HealthCheck(c.Request.Context()); err != nil {
		api.logger.Errorw("Readiness check failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": "redis unreachable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
