// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package session_api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	internal_session "github.com/rapidaai/live-bridge/api/bridge-api/internal/session"
	internal_socket "github.com/rapidaai/live-bridge/api/bridge-api/internal/socket"
	"github.com/rapidaai/live-bridge/config"
	"github.com/rapidaai/live-bridge/pkg/commons"
)

var notificationUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// SessionApi exposes the session lifecycle over HTTP and the per-session
// notification stream over WebSocket. Media itself never touches these
// endpoints; it flows through the WebRTC peer.
type SessionApi struct {
	cfg     *config.AppConfig
	logger  commons.Logger
	service *internal_session.Service
	hub     *internal_socket.Hub
}

// NewSessionApi builds the handler set.
func NewSessionApi(cfg *config.AppConfig, logger commons.Logger, service *internal_session.Service, hub *internal_socket.Hub) *SessionApi {
	return &SessionApi{
		cfg:     cfg,
		logger:  logger,
		service: service,
		hub:     hub,
	}
}

type createSessionRequest struct {
	SystemInstruction string `json:"system_instruction"`
	SpeakerProfile    string `json:"speaker_profile"`
}

type sdpPayload struct {
	SDP  string `json:"sdp" binding:"required"`
	Type string `json:"type" binding:"required"`
}

type createSessionResponse struct {
	SessionID string     `json:"session_id"`
	Offer     sdpPayload `json:"offer"`
}

type sessionStateResponse struct {
	SessionID string                 `json:"session_id"`
	State     string                 `json:"state"`
	Stats     internal_session.Stats `json:"stats"`
}

type statusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// CreateSession allocates a session and returns its id with a complete SDP
// offer for the browser to answer.
//
// @Router /v1/session [post]
func (api *SessionApi) CreateSession(c *gin.Context) {
	var req createSessionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}

	sess, offer, err := api.service.Create(c.Request.Context(), req.SystemInstruction, req.SpeakerProfile)
	if err != nil {
		api.logger.Errorw("Failed to create session", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create session"})
		return
	}

	c.JSON(http.StatusCreated, createSessionResponse{
		SessionID: sess.ID,
		Offer:     sdpPayload{SDP: offer, Type: "offer"},
	})
}

// SubmitAnswer accepts the browser's SDP answer and activates the session.
//
// @Router /v1/session/:sessionId/answer [post]
func (api *SessionApi) SubmitAnswer(c *gin.Context) {
	sessionID := c.Param("sessionId")

	var req sdpPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if err := api.service.Answer(c.Request.Context(), sessionID, req.SDP); err != nil {
		api.respondError(c, sessionID, err)
		return
	}

	c.JSON(http.StatusOK, statusResponse{
		Status:  "success",
		Message: "WebRTC answer received and connection established.",
	})
}

// GetSession reports the session's lifecycle state and media counters.
//
// @Router /v1/session/:sessionId [get]
func (api *SessionApi) GetSession(c *gin.Context) {
	sessionID := c.Param("sessionId")

	sess, err := api.service.Get(sessionID)
	if err != nil {
		api.respondError(c, sessionID, err)
		return
	}

	c.JSON(http.StatusOK, sessionStateResponse{
		SessionID: sess.ID,
		State:     string(sess.State()),
		Stats:     sess.Stats(),
	})
}

// TerminateSession drives the session to CLOSED and releases its resources.
//
// @Router /v1/session/:sessionId [delete]
func (api *SessionApi) TerminateSession(c *gin.Context) {
	sessionID := c.Param("sessionId")

	if err := api.service.Terminate(c.Request.Context(), sessionID); err != nil {
		api.respondError(c, sessionID, err)
		return
	}

	c.JSON(http.StatusOK, statusResponse{
		Status:  "success",
		Message: "Session terminated.",
	})
}

// Notifications upgrades to WebSocket and attaches the connection as the
// session's notification stream: binary frames carry generated audio, text
// frames carry transcript and lifecycle envelopes.
//
// @Router /v1/ws/:sessionId [get]
func (api *SessionApi) Notifications(c *gin.Context) {
	sessionID := c.Param("sessionId")

	if _, err := api.service.Get(sessionID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	conn, err := notificationUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		api.logger.Errorf("WebSocket upgrade failed: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "unable to upgrade to WebSocket"})
		return
	}

	api.hub.Attach(sessionID, conn)

	// The hub owns writes; this loop exists to observe the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	api.hub.Detach(sessionID)
	api.logger.Infow("Notification socket closed by client", "session", sessionID)
}

func (api *SessionApi) respondError(c *gin.Context, sessionID string, err error) {
	var invalid *internal_session.InvalidTransitionError
	switch {
	case errors.Is(err, internal_session.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
	case errors.As(err, &invalid):
		c.JSON(http.StatusConflict, gin.H{"error": invalid.Error()})
	default:
		api.logger.Errorw("Session operation failed", "session", sessionID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
