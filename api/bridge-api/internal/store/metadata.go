// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rapidaai/live-bridge/pkg/commons"
	"github.com/rapidaai/live-bridge/pkg/connectors"
)

// ErrMetadataNotFound is returned when no record exists for a session id,
// either because it was never created or because its TTL expired.
var ErrMetadataNotFound = errors.New("session metadata not found")

// SessionStatus tracks the externally visible negotiation progress.
type SessionStatus string

const (
	SessionStatusPending SessionStatus = "pending" // offer issued, answer not yet received
	SessionStatusActive  SessionStatus = "active"  // media flowing
)

// SessionMetadata is the Redis-persisted view of a session. It intentionally
// carries only what an out-of-process reader needs; live state (queues,
// peer connections) stays in memory.
type SessionMetadata struct {
	Status            SessionStatus `json:"status"`
	SystemInstruction string        `json:"system_instruction,omitempty"`
	SpeakerProfile    string        `json:"speaker_profile,omitempty"`
}

// MetadataStore persists per-session metadata with a TTL so that abandoned
// sessions age out of Redis on their own.
type MetadataStore interface {
	Put(ctx context.Context, sessionID string, meta SessionMetadata) error
	Get(ctx context.Context, sessionID string) (*SessionMetadata, error)
	Delete(ctx context.Context, sessionID string) error
}

type redisMetadataStore struct {
	logger commons.Logger
	client *redis.Client
	ttl    time.Duration
}

// NewMetadataStore builds the Redis-backed store. Every Put refreshes the
// TTL, so an active session's record survives as long as it keeps changing
// state.
func NewMetadataStore(logger commons.Logger, connector connectors.RedisConnector, ttl time.Duration) MetadataStore {
	return &redisMetadataStore{
		logger: logger,
		client: connector.GetClient(),
		ttl:    ttl,
	}
}

// NewMetadataStoreWithClient is the test seam: redismock hands out a bare
// *redis.Client without a connector.
func NewMetadataStoreWithClient(logger commons.Logger, client *redis.Client, ttl time.Duration) MetadataStore {
	return &redisMetadataStore{
		logger: logger,
		client: client,
		ttl:    ttl,
	}
}

func sessionKey(sessionID string) string {
	return fmt.Sprintf("session:%s", sessionID)
}

func (s *redisMetadataStore) Put(ctx context.Context, sessionID string, meta SessionMetadata) error {
	payload, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to marshal session metadata: %w", err)
	}
	if err := s.client.Set(ctx, sessionKey(sessionID), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store session metadata: %w", err)
	}
	return nil
}

func (s *redisMetadataStore) Get(ctx context.Context, sessionID string) (*SessionMetadata, error) {
	payload, err := s.client.Get(ctx, sessionKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMetadataNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session metadata: %w", err)
	}
	var meta SessionMetadata
	if err := json.Unmarshal(payload, &meta); err != nil {
		return nil, fmt.Errorf("failed to decode session metadata: %w", err)
	}
	return &meta, nil
}

func (s *redisMetadataStore) Delete(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, sessionKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to delete session metadata: %w", err)
	}
	return nil
}
