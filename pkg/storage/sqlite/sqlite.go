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

// Package sqlite provides the single-file storage backend. All stores
// share one database in WAL mode; CGO builds support SQLCipher
// encryption, pure-Go builds fall back to modernc without it.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mottych/PurposePath-AI-sub003/internal/sqlitedriver" // registers "sqlite3" driver

	"github.com/mottych/PurposePath-AI-sub003/pkg/observability"
	"github.com/mottych/PurposePath-AI-sub003/pkg/runtimeconfig"
	"github.com/mottych/PurposePath-AI-sub003/pkg/storage"
)

// Config holds SQLite backend settings.
type Config struct {
	// Path is the database file. Parent directories are created as
	// needed.
	Path string

	// Encrypt opens the database with SQLCipher encryption. Requires
	// a CGO build; the key comes from EncryptionKey or the
	// COACHD_DB_KEY environment variable.
	Encrypt       bool
	EncryptionKey string
}

// Backend bundles the SQLite stores over a shared connection pool.
type Backend struct {
	db       *sql.DB
	sessions *SessionStore
	configs  *ConfigStore
	migrator *Migrator
	path     string
	tracer   observability.Tracer
}

// NewBackend opens (or creates) the database file, enables WAL mode,
// and wires the stores. Call Migrate before first use.
func NewBackend(cfg Config, tracer observability.Tracer) (*Backend, error) {
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite backend requires a database path")
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}

	// WAL lets the retention sweeper read while session turns write.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	codec, err := storage.NewCodec()
	if err != nil {
		db.Close()
		return nil, err
	}

	migrator, err := NewMigrator(db, tracer)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Backend{
		db:       db,
		sessions: NewSessionStore(db, codec, tracer),
		configs:  NewConfigStore(db, tracer),
		migrator: migrator,
		path:     cfg.Path,
		tracer:   tracer,
	}, nil
}

// openDB opens the file with the pre-registered "sqlite3" driver and
// applies the encryption key when configured.
func openDB(cfg Config) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.Encrypt {
		key := cfg.EncryptionKey
		if key == "" {
			key = os.Getenv("COACHD_DB_KEY")
		}
		if key == "" {
			db.Close()
			return nil, fmt.Errorf("encryption enabled but no key provided (set EncryptionKey or COACHD_DB_KEY env var)")
		}

		// Must be the first statement on an encrypted database.
		if _, err := db.Exec(fmt.Sprintf("PRAGMA key = '%s'", key)); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set encryption key: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		if cfg.Encrypt {
			return nil, fmt.Errorf("failed to verify encryption key (wrong key or corrupted database): %w", err)
		}
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return db, nil
}

// Sessions returns the session store.
func (b *Backend) Sessions() storage.SessionStore { return b.sessions }

// Configs returns the runtime configuration store.
func (b *Backend) Configs() runtimeconfig.Store { return b.configs }

// Migrate applies pending schema migrations.
func (b *Backend) Migrate(ctx context.Context) error {
	return b.migrator.MigrateUp(ctx)
}

// PendingMigrations reports migrations that Migrate would apply.
func (b *Backend) PendingMigrations(ctx context.Context) ([]Migration, error) {
	return b.migrator.PendingMigrations(ctx)
}

// Ping verifies the database file is accessible.
func (b *Backend) Ping(ctx context.Context) error {
	if err := b.db.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite ping failed: %w", err)
	}
	return nil
}

// Close closes the shared database handle.
func (b *Backend) Close() error {
	return b.db.Close()
}
