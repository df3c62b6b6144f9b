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
package backend

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/mottych/PurposePath-AI-sub003/internal/pgxdriver"
	"github.com/mottych/PurposePath-AI-sub003/pkg/config"
	"github.com/mottych/PurposePath-AI-sub003/pkg/observability"
	"github.com/mottych/PurposePath-AI-sub003/pkg/storage/memory"
	"github.com/mottych/PurposePath-AI-sub003/pkg/storage/postgres"
	"github.com/mottych/PurposePath-AI-sub003/pkg/storage/redis"
	"github.com/mottych/PurposePath-AI-sub003/pkg/storage/sqlite"
)

// Config selects and configures a storage backend. Backend is one of
// "sqlite" (default), "memory", "postgres", or "redis"; only the
// matching sub-config is read.
type Config struct {
	Backend  string           `mapstructure:"backend" yaml:"backend"`
	SQLite   sqlite.Config    `mapstructure:"sqlite" yaml:"sqlite"`
	Postgres pgxdriver.Config `mapstructure:"postgres" yaml:"postgres"`
	Redis    redis.Config     `mapstructure:"redis" yaml:"redis"`
}

// NewStorageBackend creates a StorageBackend from configuration. An
// empty backend name defaults to SQLite under the coach data
// directory. The ctx parameter is used for PostgreSQL and Redis
// connection initialization; it is ignored for SQLite and memory
// backends.
func NewStorageBackend(ctx context.Context, cfg Config, tracer observability.Tracer) (StorageBackend, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "sqlite":
		sqliteCfg := cfg.SQLite
		if sqliteCfg.Path == "" {
			sqliteCfg.Path = filepath.Join(config.GetCoachDataDir(), "coachd.db")
		}
		sqliteBackend, err := sqlite.NewBackend(sqliteCfg, tracer)
		if err != nil {
			return nil, err
		}
		return &sqliteBackendWrapper{Backend: sqliteBackend}, nil

	case "memory":
		return memory.NewBackend(), nil

	case "postgres":
		pgBackend, err := postgres.NewBackend(ctx, cfg.Postgres, tracer)
		if err != nil {
			return nil, err
		}
		// Wrap to satisfy MigrationInspector without import cycle
		return &postgresBackendWrapper{Backend: pgBackend}, nil

	case "redis":
		// Redis is schema-less, so there is nothing to inspect.
		return redis.NewBackend(ctx, cfg.Redis, tracer)

	default:
		return nil, fmt.Errorf("unsupported storage backend: %q", cfg.Backend)
	}
}

// sqliteBackendWrapper wraps sqlite.Backend to add MigrationInspector
// without creating an import cycle (sqlite -> backend -> sqlite).
type sqliteBackendWrapper struct {
	*sqlite.Backend
}

// PendingMigrations implements MigrationInspector by adapting
// sqlite.Backend.PendingMigrations.
func (w *sqliteBackendWrapper) PendingMigrations(ctx context.Context) ([]*PendingMigration, error) {
	raw, err := w.Backend.PendingMigrations(ctx)
	if err != nil {
		return nil, err
	}
	result := make([]*PendingMigration, len(raw))
	for i, m := range raw {
		result[i] = &PendingMigration{
			Version:     m.Version,
			Description: m.Description,
			SQL:         m.UpSQL,
		}
	}
	return result, nil
}

// postgresBackendWrapper wraps postgres.Backend to add
// MigrationInspector without creating an import cycle
// (postgres -> backend -> postgres).
type postgresBackendWrapper struct {
	*postgres.Backend
}

// PendingMigrations implements MigrationInspector by adapting the
// backend's migrator.
func (w *postgresBackendWrapper) PendingMigrations(ctx context.Context) ([]*PendingMigration, error) {
	raw, err := w.Backend.Migrator().PendingMigrations(ctx)
	if err != nil {
		return nil, err
	}
	result := make([]*PendingMigration, len(raw))
	for i, m := range raw {
		result[i] = &PendingMigration{
			Version:     m.Version,
			Description: m.Description,
			SQL:         m.UpSQL,
		}
	}
	return result, nil
}

// Compile-time checks
var _ StorageBackend = (*sqliteBackendWrapper)(nil)
var _ MigrationInspector = (*sqliteBackendWrapper)(nil)
var _ StorageBackend = (*postgresBackendWrapper)(nil)
var _ MigrationInspector = (*postgresBackendWrapper)(nil)
var _ StorageBackend = (*memory.Backend)(nil)
var _ StorageBackend = (*redis.Backend)(nil)
var _ StorageBackend = (*postgres.Backend)(nil)
var _ StorageBackend = (*sqlite.Backend)(nil)
