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
package session

import (
	"context"

	"github.com/mottych/PurposePath-AI-sub003/pkg/types"
)

// Store is the persistence port for session records.
//
// Tenancy: every operation is keyed by tenant. A session is
// unreachable under any other tenant id, which is what keeps
// SessionNotFound (rather than Forbidden) the answer for cross-tenant
// probes.
//
// Versioning: Create stamps Version to 1. Update writes only when the
// stored version still equals s.Version, then increments s.Version in
// place to match the store; a mismatch fails with
// ConcurrentModification and changes nothing. Reads return private
// copies, never shared records.
type Store interface {
	// Get returns the record, or SessionNotFound.
	Get(ctx context.Context, tenantID, sessionID string) (*Session, error)

	// FindResumable returns the non-terminal session for (tenant,
	// topic) regardless of owner, or SessionNotFound. Should a
	// creation race ever leave more than one candidate, the oldest
	// wins, deterministically.
	FindResumable(ctx context.Context, tenantID, topicID string) (*Session, error)

	// Create persists a new record. When the same (tenant, user,
	// topic) already holds a non-terminal record, Create fails with
	// ConcurrentModification so the caller re-runs its resolution
	// against fresh state.
	Create(ctx context.Context, s *Session) error

	// Update persists a mutated record under the version guard.
	Update(ctx context.Context, s *Session) error
}

// Lister extends Store for the administrative read surface.
type Lister interface {
	// ListSessions returns the tenant's sessions, newest first.
	ListSessions(ctx context.Context, tenantID string) ([]*Session, error)
}

// Purger extends Store for the retention sweeper.
type Purger interface {
	// ForEachSession visits every stored session across tenants.
	// Visits receive private copies; a non-nil return stops the walk
	// and is returned to the caller.
	ForEachSession(ctx context.Context, fn func(*Session) error) error

	// DeleteSession removes a record. Deleting a missing record is
	// not an error.
	DeleteSession(ctx context.Context, tenantID, sessionID string) error
}

// NotFoundError builds the canonical error for a missing session.
// Stores return it for unknown ids and for ids held by other tenants.
func NotFoundError(sessionID string) *types.Error {
	return types.NewError(types.KindSessionNotFound, "session not found").
		WithSession(sessionID)
}

// ConflictError builds the canonical error for a stale write.
func ConflictError(sessionID string, want, have int64) *types.Error {
	return types.Errorf(types.KindConcurrentModification,
		"session version advanced from %d to %d during the operation", want, have).
		WithSession(sessionID)
}
