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

// Package memory provides the in-process storage backend: full store
// semantics over maps, suitable for development, tests, and
// single-node deployments that accept losing state on restart.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/mottych/PurposePath-AI-sub003/pkg/runtimeconfig"
	"github.com/mottych/PurposePath-AI-sub003/pkg/session"
	"github.com/mottych/PurposePath-AI-sub003/pkg/storage"
)

// Backend bundles the in-memory stores. Migrate and Ping are no-ops;
// Close discards nothing because nothing is held open.
type Backend struct {
	sessions *SessionStore
	configs  *ConfigStore
}

// NewBackend creates an empty in-memory backend.
func NewBackend() *Backend {
	return &Backend{
		sessions: NewSessionStore(),
		configs:  NewConfigStore(),
	}
}

// Sessions returns the session store.
func (b *Backend) Sessions() storage.SessionStore { return b.sessions }

// Configs returns the runtime configuration store.
func (b *Backend) Configs() runtimeconfig.Store { return b.configs }

// Migrate is a no-op: maps have no schema.
func (b *Backend) Migrate(ctx context.Context) error { return nil }

// Ping always succeeds.
func (b *Backend) Ping(ctx context.Context) error { return nil }

// Close is a no-op.
func (b *Backend) Close() error { return nil }

// SessionStore keeps session records in a map keyed by tenant and id.
// All methods are safe for concurrent use; records are cloned on the
// way in and out so callers never share memory with the store.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*session.Session
}

// NewSessionStore creates an empty session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]*session.Session)}
}

func sessionKey(tenantID, sessionID string) string {
	return tenantID + "/" + sessionID
}

// Get returns the record, or SessionNotFound.
func (s *SessionStore) Get(_ context.Context, tenantID, sessionID string) (*session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionKey(tenantID, sessionID)]
	if !ok {
		return nil, session.NotFoundError(sessionID)
	}
	return sess.Clone(), nil
}

// FindResumable returns the oldest non-terminal session for (tenant,
// topic), or SessionNotFound. Ties on creation time break on id so
// concurrent creators resolve the same winner.
func (s *SessionStore) FindResumable(_ context.Context, tenantID, topicID string) (*session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found *session.Session
	for _, sess := range s.sessions {
		if sess.TenantID != tenantID || sess.TopicID != topicID || sess.Status.Terminal() {
			continue
		}
		if found == nil || sess.CreatedAt.Before(found.CreatedAt) ||
			(sess.CreatedAt.Equal(found.CreatedAt) && sess.ID < found.ID) {
			found = sess
		}
	}
	if found == nil {
		return nil, session.NotFoundError("")
	}
	return found.Clone(), nil
}

// Create persists a new record at version 1. An existing non-terminal
// record for the same (tenant, user, topic) rejects the create with
// ConcurrentModification.
func (s *SessionStore) Create(_ context.Context, sess *session.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.sessions {
		if existing.TenantID == sess.TenantID && existing.UserID == sess.UserID &&
			existing.TopicID == sess.TopicID && !existing.Status.Terminal() {
			return session.ConflictError(sess.ID, 0, existing.Version)
		}
	}

	sess.Version = 1
	s.sessions[sessionKey(sess.TenantID, sess.ID)] = sess.Clone()
	return nil
}

// Update persists a mutated record under the version guard and
// advances the caller's version to match the store.
func (s *SessionStore) Update(_ context.Context, sess *session.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.sessions[sessionKey(sess.TenantID, sess.ID)]
	if !ok {
		return session.NotFoundError(sess.ID)
	}
	if stored.Version != sess.Version {
		return session.ConflictError(sess.ID, sess.Version, stored.Version)
	}

	sess.Version++
	s.sessions[sessionKey(sess.TenantID, sess.ID)] = sess.Clone()
	return nil
}

// ListSessions returns the tenant's sessions, newest first.
func (s *SessionStore) ListSessions(_ context.Context, tenantID string) ([]*session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*session.Session
	for _, sess := range s.sessions {
		if sess.TenantID == tenantID {
			out = append(out, sess.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

// ForEachSession visits a private copy of every stored session. The
// snapshot is taken up front so the visitor may call back into the
// store (the retention sweeper deletes during its walk).
func (s *SessionStore) ForEachSession(_ context.Context, fn func(*session.Session) error) error {
	s.mu.RLock()
	keys := make([]string, 0, len(s.sessions))
	for k := range s.sessions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	snapshot := make([]*session.Session, 0, len(keys))
	for _, k := range keys {
		snapshot = append(snapshot, s.sessions[k].Clone())
	}
	s.mu.RUnlock()

	for _, sess := range snapshot {
		if err := fn(sess); err != nil {
			return err
		}
	}
	return nil
}

// DeleteSession removes a record. Missing records are not an error.
func (s *SessionStore) DeleteSession(_ context.Context, tenantID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, sessionKey(tenantID, sessionID))
	return nil
}

// ConfigStore keeps runtime configuration records in a map keyed by
// tenant and topic.
type ConfigStore struct {
	mu      sync.RWMutex
	records map[string]*runtimeconfig.Record
}

// NewConfigStore creates an empty configuration store.
func NewConfigStore() *ConfigStore {
	return &ConfigStore{records: make(map[string]*runtimeconfig.Record)}
}

func configKey(tenantID, topicID string) string {
	return tenantID + "/" + topicID
}

// GetConfig returns the record for (tenant, topic) or NotConfigured.
func (s *ConfigStore) GetConfig(_ context.Context, tenantID, topicID string) (*runtimeconfig.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[configKey(tenantID, topicID)]
	if !ok {
		return nil, runtimeconfig.NotConfiguredError(tenantID, topicID)
	}
	return rec.Clone(), nil
}

// PutConfig stores the record, overwriting any previous one.
func (s *ConfigStore) PutConfig(_ context.Context, record *runtimeconfig.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[configKey(record.TenantID, record.TopicID)] = record.Clone()
	return nil
}

// ListConfigs returns the tenant's records, filtered, ordered by
// topic id.
func (s *ConfigStore) ListConfigs(_ context.Context, tenantID string, filter runtimeconfig.Filter) ([]*runtimeconfig.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*runtimeconfig.Record
	for _, rec := range s.records {
		if rec.TenantID != tenantID {
			continue
		}
		if filter.Matches(rec) {
			out = append(out, rec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TopicID < out[j].TopicID })
	return out, nil
}

// Compile-time checks.
var (
	_ storage.SessionStore = (*SessionStore)(nil)
	_ runtimeconfig.Store  = (*ConfigStore)(nil)
)
