// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/live-bridge/pkg/commons"
)

func newMockedStore(t *testing.T, ttl time.Duration) (MetadataStore, redismock.ClientMock) {
	t.Helper()
	logger, err := commons.NewApplicationLogger()
	require.NoError(t, err)

	client, mock := redismock.NewClientMock()
	return NewMetadataStoreWithClient(logger, client, ttl), mock
}

func TestMetadataStore_PutAppliesTTL(t *testing.T) {
	store, mock := newMockedStore(t, 5*time.Minute)

	meta := SessionMetadata{
		Status:            SessionStatusPending,
		SystemInstruction: "answer concisely",
	}
	payload, err := json.Marshal(meta)
	require.NoError(t, err)

	mock.ExpectSet("session:abc", payload, 5*time.Minute).SetVal("OK")

	require.NoError(t, store.Put(context.Background(), "abc", meta))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMetadataStore_GetRoundTrip(t *testing.T) {
	store, mock := newMockedStore(t, 5*time.Minute)

	payload, err := json.Marshal(SessionMetadata{
		Status:            SessionStatusActive,
		SystemInstruction: "be helpful",
		SpeakerProfile:    "Zephyr",
	})
	require.NoError(t, err)

	mock.ExpectGet("session:abc").SetVal(string(payload))

	meta, err := store.Get(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, SessionStatusActive, meta.Status)
	assert.Equal(t, "be helpful", meta.SystemInstruction)
	assert.Equal(t, "Zephyr", meta.SpeakerProfile)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMetadataStore_GetMissingKey(t *testing.T) {
	store, mock := newMockedStore(t, time.Minute)

	mock.ExpectGet("session:expired").RedisNil()

	_, err := store.Get(context.Background(), "expired")
	assert.ErrorIs(t, err, ErrMetadataNotFound)
}

func TestMetadataStore_GetCorruptPayload(t *testing.T) {
	store, mock := newMockedStore(t, time.Minute)

	mock.ExpectGet("session:abc").SetVal("{not json")

	_, err := store.Get(context.Background(), "abc")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrMetadataNotFound)
}

func TestMetadataStore_Delete(t *testing.T) {
	store, mock := newMockedStore(t, time.Minute)

	mock.ExpectDel("session:abc").SetVal(1)

	require.NoError(t, store.Delete(context.Background(), "abc"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
