// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package bridge_routers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	healthcheck_api "github.com/rapidaai/live-bridge/api/bridge-api/api/healthcheck"
	"github.com/rapidaai/live-bridge/config"
	"github.com/rapidaai/live-bridge/pkg/commons"
	"github.com/rapidaai/live-bridge/pkg/connectors"
)

func HealthCheckRoutes(cfg *config.AppConfig, engine *gin.Engine, logger commons.Logger, redis connectors.RedisConnector) {
	logger.Info("Internal HealthCheckRoutes and Connectors added to engine.")
	apiv1 := engine.Group("")
	hcApi := healthcheck_api.New(cfg, logger, redis)
	{
		apiv1.GET("/readiness/", hcApi.Readiness)
		apiv1.GET("/healthz/", hcApi.Healthz)
		apiv1.GET("/", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"name": cfg.Name, "version": cfg.Version})
		})
	}
}
