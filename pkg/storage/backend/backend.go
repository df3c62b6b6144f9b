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

// Package backend defines the StorageBackend composite interface and
// factory. It sits above pkg/session, pkg/runtimeconfig, and the
// concrete store packages so their interfaces compose without import
// cycles.
package backend

import (
	"context"

	"github.com/mottych/PurposePath-AI-sub003/pkg/runtimeconfig"
	"github.com/mottych/PurposePath-AI-sub003/pkg/storage"
)

// StorageBackend is the top-level composed interface for all storage
// operations. One StorageBackend per server; every tenant shares it.
// Implementations cover memory, SQLite, PostgreSQL, and Redis.
type StorageBackend interface {
	// Sessions returns the session store.
	Sessions() storage.SessionStore

	// Configs returns the runtime configuration store.
	Configs() runtimeconfig.Store

	// Migrate brings the storage schema to the latest version.
	Migrate(ctx context.Context) error

	// Ping verifies the storage backend is reachable and healthy.
	Ping(ctx context.Context) error

	// Close closes all underlying connections.
	Close() error
}

// MigrationInspector is an optional interface that StorageBackend
// implementations may satisfy to report which migrations a Migrate
// call would apply without running them. The migrate command uses it
// for dry runs; schema-less backends do not implement it.
type MigrationInspector interface {
	PendingMigrations(ctx context.Context) ([]*PendingMigration, error)
}

// PendingMigration describes a single migration that has not yet been
// applied.
type PendingMigration struct {
	// Version is the migration version number.
	Version int
	// Description is a human-readable summary of the migration.
	Description string
	// SQL is the SQL that would be executed.
	SQL string
}
