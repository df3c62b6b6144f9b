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

// Package postgres persists sessions and runtime configuration in
// PostgreSQL over pgx. Tenant-scoped queries run inside transactions
// that set app.current_tenant_id for the row-level security policies;
// explicit tenant_id filters remain in every statement, so RLS is
// defense in depth rather than the only gate.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mottych/PurposePath-AI-sub003/internal/pgxdriver"
	"github.com/mottych/PurposePath-AI-sub003/pkg/observability"
	"github.com/mottych/PurposePath-AI-sub003/pkg/runtimeconfig"
	"github.com/mottych/PurposePath-AI-sub003/pkg/storage"
)

// Backend implements backend.StorageBackend using PostgreSQL with pgx.
type Backend struct {
	pool     *pgxpool.Pool
	sessions *SessionStore
	configs  *ConfigStore
	migrator *Migrator
	tracer   observability.Tracer
}

// NewBackend creates a PostgreSQL storage backend and verifies
// connectivity.
func NewBackend(ctx context.Context, cfg pgxdriver.Config, tracer observability.Tracer) (*Backend, error) {
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}

	ctx, span := tracer.StartSpan(ctx, "postgres_backend.new")
	defer tracer.EndSpan(span)

	pool, err := pgxdriver.NewPool(ctx, cfg, tracer)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	codec, err := storage.NewCodec()
	if err != nil {
		pool.Close()
		span.RecordError(err)
		return nil, err
	}

	migrator, err := NewMigrator(pool, tracer)
	if err != nil {
		pool.Close()
		span.RecordError(err)
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}

	return &Backend{
		pool:     pool,
		sessions: NewSessionStore(pool, codec, tracer),
		configs:  NewConfigStore(pool, tracer),
		migrator: migrator,
		tracer:   tracer,
	}, nil
}

// Sessions returns the PostgreSQL session store.
func (b *Backend) Sessions() storage.SessionStore {
	return b.sessions
}

// Configs returns the PostgreSQL runtime configuration store.
func (b *Backend) Configs() runtimeconfig.Store {
	return b.configs
}

// Migrate runs all pending PostgreSQL migrations.
func (b *Backend) Migrate(ctx context.Context) error {
	return b.migrator.MigrateUp(ctx)
}

// Ping verifies the PostgreSQL connection is healthy.
func (b *Backend) Ping(ctx context.Context) error {
	return b.pool.Ping(ctx)
}

// Close closes the PostgreSQL connection pool.
func (b *Backend) Close() error {
	b.pool.Close()
	return nil
}

// Pool returns the underlying pgxpool.Pool for advanced operations.
func (b *Backend) Pool() *pgxpool.Pool {
	return b.pool
}

// Migrator returns the migration manager for manual migration
// operations.
func (b *Backend) Migrator() *Migrator {
	return b.migrator
}

// NOTE: Compile-time interface check is in pkg/storage/backend/factory.go
// to avoid import cycle between backend and postgres packages.
