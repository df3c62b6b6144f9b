// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package redis persists sessions and runtime configuration as JSON
// values in Redis. Secondary sets index the Active sessions per topic
// and all sessions per tenant; version checks run under WATCH so
// concurrent writers surface as ConcurrentModification, same as the
// SQL backends.
package redis

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/mottych/PurposePath-AI-sub003/pkg/observability"
	"github.com/mottych/PurposePath-AI-sub003/pkg/runtimeconfig"
	"github.com/mottych/PurposePath-AI-sub003/pkg/storage"
)

// Config holds Redis connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// Backend implements backend.StorageBackend over a Redis instance.
type Backend struct {
	rdb      *goredis.Client
	sessions *SessionStore
	configs  *ConfigStore
	tracer   observability.Tracer
}

// NewBackend creates a Redis storage backend and verifies
// connectivity.
func NewBackend(ctx context.Context, cfg Config, tracer observability.Tracer) (*Backend, error) {
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}

	ctx, span := tracer.StartSpan(ctx, "redis_backend.new")
	defer tracer.EndSpan(span)

	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis configuration requires an address")
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		span.RecordError(err)
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	codec, err := storage.NewCodec()
	if err != nil {
		_ = rdb.Close()
		span.RecordError(err)
		return nil, err
	}

	return &Backend{
		rdb:      rdb,
		sessions: NewSessionStore(rdb, codec, tracer),
		configs:  NewConfigStore(rdb, tracer),
		tracer:   tracer,
	}, nil
}

// Sessions returns the Redis session store.
func (b *Backend) Sessions() storage.SessionStore {
	return b.sessions
}

// Configs returns the Redis runtime configuration store.
func (b *Backend) Configs() runtimeconfig.Store {
	return b.configs
}

// Migrate is a no-op: the Redis layout is schema-less.
func (b *Backend) Migrate(ctx context.Context) error {
	return nil
}

// Ping verifies the Redis connection is healthy.
func (b *Backend) Ping(ctx context.Context) error {
	return b.rdb.Ping(ctx).Err()
}

// Close closes the Redis client.
func (b *Backend) Close() error {
	return b.rdb.Close()
}

// Client returns the underlying client for advanced operations.
func (b *Backend) Client() *goredis.Client {
	return b.rdb
}
