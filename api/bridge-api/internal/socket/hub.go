// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_socket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rapidaai/live-bridge/pkg/commons"
)

const (
	// clientQueueSize bounds the per-socket outbound queue. A slow reader
	// overflows it and loses messages; the media path is never held up by
	// the notification socket.
	clientQueueSize = 100

	writeDeadline = 10 * time.Second
)

// Envelope is the JSON frame for non-binary notifications. Binary websocket
// frames carry raw audio and skip the envelope entirely.
type Envelope struct {
	Type    string `json:"type"`
	Source  string `json:"source,omitempty"`
	Text    string `json:"text,omitempty"`
	Final   bool   `json:"final,omitempty"`
	Message string `json:"message,omitempty"`
}

// message is one queued websocket write.
type message struct {
	messageType int
	payload     []byte
}

// client owns one websocket connection and its writer goroutine. All writes
// to the connection funnel through sendCh: gorilla allows one writer only.
type client struct {
	conn   *websocket.Conn
	sendCh chan message
	done   chan struct{}
	once   sync.Once
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// Hub fans session output out to at most one notification socket per
// session. Delivery is best-effort at-most-once: no socket attached means
// the message is dropped, a full queue means the oldest intent loses.
type Hub struct {
	logger commons.Logger

	mu      sync.Mutex
	clients map[string]*client
}

// NewHub builds an empty hub.
func NewHub(logger commons.Logger) *Hub {
	return &Hub{
		logger:  logger,
		clients: make(map[string]*client),
	}
}

// Attach registers conn as the session's notification socket, replacing and
// closing any previous one, and starts its writer. The hub owns the write
// side from here on; the caller keeps the read side (for close detection).
func (h *Hub) Attach(sessionID string, conn *websocket.Conn) {
	c := &client{
		conn:   conn,
		sendCh: make(chan message, clientQueueSize),
		done:   make(chan struct{}),
	}

	h.mu.Lock()
	previous := h.clients[sessionID]
	h.clients[sessionID] = c
	h.mu.Unlock()

	if previous != nil {
		previous.close()
	}

	go h.runWriter(sessionID, c)
	h.logger.Infow("Notification socket attached", "session", sessionID)
}

// Detach removes and closes the session's socket if one is attached.
func (h *Hub) Detach(sessionID string) {
	h.mu.Lock()
	c := h.clients[sessionID]
	delete(h.clients, sessionID)
	h.mu.Unlock()

	if c != nil {
		c.close()
		h.logger.Infow("Notification socket detached", "session", sessionID)
	}
}

// SendAudio queues a binary audio chunk for the session's socket.
func (h *Hub) SendAudio(sessionID string, pcm []byte) {
	h.enqueue(sessionID, message{messageType: websocket.BinaryMessage, payload: pcm})
}

// SendEnvelope queues a JSON notification for the session's socket.
func (h *Hub) SendEnvelope(sessionID string, env Envelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		h.logger.Errorw("Failed to encode socket envelope", "session", sessionID, "error", err)
		return
	}
	h.enqueue(sessionID, message{messageType: websocket.TextMessage, payload: payload})
}

func (h *Hub) enqueue(sessionID string, msg message) {
	h.mu.Lock()
	c := h.clients[sessionID]
	h.mu.Unlock()

	if c == nil {
		return
	}
	select {
	case c.sendCh <- msg:
	case <-c.done:
	default:
		// Queue full: the socket reader is not keeping up. Drop rather
		// than stall the media pipeline.
		h.logger.Warnw("Notification socket queue full, dropping message",
			"session", sessionID, "type", msg.messageType)
	}
}

func (h *Hub) runWriter(sessionID string, c *client) {
	defer c.close()
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.sendCh:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(msg.messageType, msg.payload); err != nil {
				h.logger.Warnw("Notification socket write failed",
					"session", sessionID, "error", err)
				h.mu.Lock()
				if h.clients[sessionID] == c {
					delete(h.clients, sessionID)
				}
				h.mu.Unlock()
				return
			}
		}
	}
}
