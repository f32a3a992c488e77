// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package bridge_routers

import (
	"github.com/gin-gonic/gin"

	session_api "github.com/rapidaai/live-bridge/api/bridge-api/api/session"
	internal_session "github.com/rapidaai/live-bridge/api/bridge-api/internal/session"
	internal_socket "github.com/rapidaai/live-bridge/api/bridge-api/internal/socket"
	"github.com/rapidaai/live-bridge/config"
	"github.com/rapidaai/live-bridge/pkg/commons"
)

func SessionApiRoute(
	cfg *config.AppConfig,
	engine *gin.Engine,
	logger commons.Logger,
	service *internal_session.Service,
	hub *internal_socket.Hub,
) {
	apiv1 := engine.Group("v1")
	sessionApi := session_api.NewSessionApi(cfg, logger, service, hub)
	{
		apiv1.POST("/session", sessionApi.CreateSession)
		apiv1.GET("/session/:sessionId", sessionApi.GetSession)
		apiv1.POST("/session/:sessionId/answer", sessionApi.SubmitAnswer)
		apiv1.DELETE("/session/:sessionId", sessionApi.TerminateSession)
		apiv1.GET("/ws/:sessionId", sessionApi.Notifications)
	}
}
