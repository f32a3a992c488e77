// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_socket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/live-bridge/pkg/commons"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// dialHub spins an httptest server that attaches every incoming socket to
// the hub under sessionID, and returns a connected client.
func dialHub(t *testing.T, hub *Hub, sessionID string) *websocket.Conn {
	t.Helper()

	hub.mu.Lock()
	previous := hub.clients[sessionID]
	hub.mu.Unlock()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.Attach(sessionID, conn)
	}))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	// The handler attaches after the handshake completes; wait until this
	// connection is actually registered before the test starts sending.
	require.Eventually(t, func() bool {
		hub.mu.Lock()
		defer hub.mu.Unlock()
		return hub.clients[sessionID] != nil && hub.clients[sessionID] != previous
	}, time.Second, time.Millisecond)
	return client
}

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	logger, err := commons.NewApplicationLogger()
	require.NoError(t, err)
	return NewHub(logger)
}

// ============================================================================
// Delivery
// ============================================================================

func TestHub_DeliversBinaryAudio(t *testing.T) {
	hub := newTestHub(t)
	client := dialHub(t, hub, "s1")

	hub.SendAudio("s1", []byte{0x01, 0x02, 0x03})

	client.SetReadDeadline(time.Now().Add(time.Second))
	messageType, payload, err := client.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, messageType)
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, payload)
}

func TestHub_DeliversJSONEnvelopes(t *testing.T) {
	hub := newTestHub(t)
	client := dialHub(t, hub, "s1")

	hub.SendEnvelope("s1", Envelope{
		Type:   "transcript",
		Source: "model",
		Text:   "hello there",
		Final:  true,
	})

	client.SetReadDeadline(time.Now().Add(time.Second))
	messageType, payload, err := client.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, messageType)

	var env Envelope
	require.NoError(t, json.Unmarshal(payload, &env))
	assert.Equal(t, "transcript", env.Type)
	assert.Equal(t, "model", env.Source)
	assert.Equal(t, "hello there", env.Text)
	assert.True(t, env.Final)
}

func TestHub_PreservesOrder(t *testing.T) {
	hub := newTestHub(t)
	client := dialHub(t, hub, "s1")

	for i := 0; i < 10; i++ {
		hub.SendAudio("s1", []byte{byte(i)})
	}

	client.SetReadDeadline(time.Now().Add(time.Second))
	for i := 0; i < 10; i++ {
		_, payload, err := client.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, []byte{byte(i)}, payload)
	}
}

// ============================================================================
// Absent / slow sockets
// ============================================================================

func TestHub_NoSocketDropsSilently(t *testing.T) {
	hub := newTestHub(t)

	// Must not block or panic.
	hub.SendAudio("ghost", []byte{1})
	hub.SendEnvelope("ghost", Envelope{Type: "transcript"})
}

func TestHub_SendNeverBlocksCaller(t *testing.T) {
	hub := newTestHub(t)
	// Client attached but never reading: queue fills, sends keep returning.
	dialHub(t, hub, "s1")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < clientQueueSize*3; i++ {
			hub.SendAudio("s1", make([]byte, 1024))
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("hub send blocked on a slow socket")
	}
}

// ============================================================================
// Attach / Detach
// ============================================================================

func TestHub_DetachStopsDelivery(t *testing.T) {
	hub := newTestHub(t)
	client := dialHub(t, hub, "s1")

	hub.Detach("s1")
	hub.SendAudio("s1", []byte{1})

	client.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, _, err := client.ReadMessage()
	assert.Error(t, err, "detached socket must receive nothing further")
}

func TestHub_ReattachReplacesPreviousSocket(t *testing.T) {
	hub := newTestHub(t)
	first := dialHub(t, hub, "s1")
	second := dialHub(t, hub, "s1")

	hub.SendAudio("s1", []byte{7})

	second.SetReadDeadline(time.Now().Add(time.Second))
	_, payload, err := second.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, []byte{7}, payload)

	first.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, _, err = first.ReadMessage()
	assert.Error(t, err, "replaced socket must be closed")
}
