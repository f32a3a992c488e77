// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package connectors

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/rapidaai/live-bridge/pkg/commons"
	"github.com/rapidaai/live-bridge/pkg/configs"
)

// RedisConnector owns the Redis client used for session metadata. It is the
// only persistence boundary of the service; nothing on the media hot path
// touches it.
type RedisConnector interface {
	GetClient() *redis.Client
	HealthCheck(ctx context.Context) error
	Close() error
}

type redisConnector struct {
	client *redis.Client
	logger commons.Logger
}

// NewRedisConnector connects to Redis and verifies the connection with a ping.
func NewRedisConnector(ctx context.Context, cfg *configs.RedisConfig, logger commons.Logger) (RedisConnector, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.Database,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s:%d: %w", cfg.Host, cfg.Port, err)
	}

	logger.Infow("Connected to redis", "host", cfg.Host, "port", cfg.Port, "db", cfg.Database)
	return &redisConnector{client: client, logger: logger}, nil
}

func (r *redisConnector) GetClient() *redis.Client {
	return r.client
}

func (r *redisConnector) HealthCheck(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *redisConnector) Close() error {
	r.logger.Info("Closing redis connection")
	return r.client.Close()
}
