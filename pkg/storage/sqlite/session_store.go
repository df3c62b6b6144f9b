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

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mottych/PurposePath-AI-sub003/pkg/observability"
	"github.com/mottych/PurposePath-AI-sub003/pkg/session"
	"github.com/mottych/PurposePath-AI-sub003/pkg/storage"
)

// SessionStore persists session records in the sessions table. Writes
// serialize on a mutex: SQLite has a single writer and contending on
// the file lock is slower than queueing in process.
type SessionStore struct {
	db     *sql.DB
	codec  *storage.Codec
	tracer observability.Tracer
	mu     sync.Mutex
}

// NewSessionStore creates a session store over the shared handle.
func NewSessionStore(db *sql.DB, codec *storage.Codec, tracer observability.Tracer) *SessionStore {
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	return &SessionStore{db: db, codec: codec, tracer: tracer}
}

const sessionColumns = `id, tenant_id, user_id, topic_id, status, turn, max_turns,
	transcript, transcript_compressed, created_at, last_activity_at, expires_at,
	completed_at, extracted_result, extraction_schema_id, version`

// Get returns the record, or SessionNotFound.
func (s *SessionStore) Get(ctx context.Context, tenantID, sessionID string) (*session.Session, error) {
	ctx, span := s.tracer.StartSpan(ctx, "sqlite_session_store.get")
	defer s.tracer.EndSpan(span)
	span.SetAttribute("session_id", sessionID)

	row := s.db.QueryRowContext(ctx,
		"SELECT "+sessionColumns+" FROM sessions WHERE tenant_id = ? AND id = ?",
		tenantID, sessionID)

	sess, err := s.scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, session.NotFoundError(sessionID)
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return sess, nil
}

// FindResumable returns the oldest Active session for (tenant, topic),
// or SessionNotFound.
func (s *SessionStore) FindResumable(ctx context.Context, tenantID, topicID string) (*session.Session, error) {
	ctx, span := s.tracer.StartSpan(ctx, "sqlite_session_store.find_resumable")
	defer s.tracer.EndSpan(span)
	span.SetAttribute("topic_id", topicID)

	row := s.db.QueryRowContext(ctx,
		"SELECT "+sessionColumns+` FROM sessions
		 WHERE tenant_id = ? AND topic_id = ? AND status = 'Active'
		 ORDER BY created_at ASC, id ASC LIMIT 1`,
		tenantID, topicID)

	sess, err := s.scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, session.NotFoundError("")
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to find resumable session: %w", err)
	}
	return sess, nil
}

// Create inserts the record at version 1. The partial unique index on
// (tenant, user, topic) rejects a second open session for the same
// owner; the violation surfaces as ConcurrentModification.
func (s *SessionStore) Create(ctx context.Context, sess *session.Session) error {
	ctx, span := s.tracer.StartSpan(ctx, "sqlite_session_store.create")
	defer s.tracer.EndSpan(span)
	span.SetAttribute("session_id", sess.ID)

	s.mu.Lock()
	defer s.mu.Unlock()

	transcript, compressed, err := s.codec.EncodeMessages(sess.Messages)
	if err != nil {
		span.RecordError(err)
		return err
	}

	extracted, err := marshalExtracted(sess.ExtractedResult)
	if err != nil {
		span.RecordError(err)
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
		sess.ID, sess.TenantID, sess.UserID, sess.TopicID, string(sess.Status),
		sess.Turn, sess.MaxTurns, transcript, compressed,
		sess.CreatedAt.UnixNano(), sess.LastActivityAt.UnixNano(), sess.ExpiresAt.UnixNano(),
		nullableTime(sess.CompletedAt), extracted, nullableString(sess.ExtractionSchemaID),
	)
	if err != nil {
		if isUniqueViolation(err) {
			var have int64
			_ = s.db.QueryRowContext(ctx, `
				SELECT version FROM sessions
				WHERE tenant_id = ? AND user_id = ? AND topic_id = ? AND status = 'Active'`,
				sess.TenantID, sess.UserID, sess.TopicID).Scan(&have)
			return session.ConflictError(sess.ID, 0, have)
		}
		span.RecordError(err)
		return fmt.Errorf("failed to create session: %w", err)
	}

	sess.Version = 1
	return nil
}

// Update rewrites the record under the version guard and advances the
// caller's version on success.
func (s *SessionStore) Update(ctx context.Context, sess *session.Session) error {
	ctx, span := s.tracer.StartSpan(ctx, "sqlite_session_store.update")
	defer s.tracer.EndSpan(span)
	span.SetAttribute("session_id", sess.ID)

	s.mu.Lock()
	defer s.mu.Unlock()

	transcript, compressed, err := s.codec.EncodeMessages(sess.Messages)
	if err != nil {
		span.RecordError(err)
		return err
	}

	extracted, err := marshalExtracted(sess.ExtractedResult)
	if err != nil {
		span.RecordError(err)
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET
			status = ?, turn = ?, max_turns = ?,
			transcript = ?, transcript_compressed = ?,
			last_activity_at = ?, expires_at = ?, completed_at = ?,
			extracted_result = ?, extraction_schema_id = ?,
			version = version + 1
		WHERE tenant_id = ? AND id = ? AND version = ?`,
		string(sess.Status), sess.Turn, sess.MaxTurns,
		transcript, compressed,
		sess.LastActivityAt.UnixNano(), sess.ExpiresAt.UnixNano(), nullableTime(sess.CompletedAt),
		extracted, nullableString(sess.ExtractionSchemaID),
		sess.TenantID, sess.ID, sess.Version,
	)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to update session: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if affected == 0 {
		var have int64
		err := s.db.QueryRowContext(ctx,
			"SELECT version FROM sessions WHERE tenant_id = ? AND id = ?",
			sess.TenantID, sess.ID).Scan(&have)
		if errors.Is(err, sql.ErrNoRows) {
			return session.NotFoundError(sess.ID)
		}
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("failed to diagnose update conflict: %w", err)
		}
		return session.ConflictError(sess.ID, sess.Version, have)
	}

	sess.Version++
	return nil
}

// ListSessions returns the tenant's sessions, newest first.
func (s *SessionStore) ListSessions(ctx context.Context, tenantID string) ([]*session.Session, error) {
	ctx, span := s.tracer.StartSpan(ctx, "sqlite_session_store.list_sessions")
	defer s.tracer.EndSpan(span)

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+sessionColumns+" FROM sessions WHERE tenant_id = ? ORDER BY created_at DESC, id DESC",
		tenantID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	sessions, err := s.collect(rows)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttribute("count", len(sessions))
	return sessions, nil
}

// ForEachSession visits every stored session across tenants. The
// result set is drained before the first visit so the visitor may
// write back into the store.
func (s *SessionStore) ForEachSession(ctx context.Context, fn func(*session.Session) error) error {
	ctx, span := s.tracer.StartSpan(ctx, "sqlite_session_store.for_each_session")
	defer s.tracer.EndSpan(span)

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+sessionColumns+" FROM sessions ORDER BY tenant_id ASC, id ASC")
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to scan sessions: %w", err)
	}
	sessions, err := s.collect(rows)
	rows.Close()
	if err != nil {
		span.RecordError(err)
		return err
	}

	for _, sess := range sessions {
		if err := fn(sess); err != nil {
			return err
		}
	}
	return nil
}

// DeleteSession removes a record. Missing records are not an error.
func (s *SessionStore) DeleteSession(ctx context.Context, tenantID, sessionID string) error {
	ctx, span := s.tracer.StartSpan(ctx, "sqlite_session_store.delete_session")
	defer s.tracer.EndSpan(span)
	span.SetAttribute("session_id", sessionID)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM sessions WHERE tenant_id = ? AND id = ?", tenantID, sessionID); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (s *SessionStore) collect(rows *sql.Rows) ([]*session.Session, error) {
	var out []*session.Session
	for rows.Next() {
		sess, err := s.scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}
	return out, nil
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *SessionStore) scanSession(row rowScanner) (*session.Session, error) {
	var (
		sess        session.Session
		status      string
		transcript  []byte
		compressed  bool
		createdNs   int64
		activityNs  int64
		expiresNs   int64
		completedNs sql.NullInt64
		extracted   sql.NullString
		schemaID    sql.NullString
	)

	err := row.Scan(
		&sess.ID, &sess.TenantID, &sess.UserID, &sess.TopicID, &status,
		&sess.Turn, &sess.MaxTurns, &transcript, &compressed,
		&createdNs, &activityNs, &expiresNs,
		&completedNs, &extracted, &schemaID, &sess.Version,
	)
	if err != nil {
		return nil, err
	}

	sess.Status = session.Status(status)
	sess.CreatedAt = time.Unix(0, createdNs).UTC()
	sess.LastActivityAt = time.Unix(0, activityNs).UTC()
	sess.ExpiresAt = time.Unix(0, expiresNs).UTC()
	if completedNs.Valid {
		t := time.Unix(0, completedNs.Int64).UTC()
		sess.CompletedAt = &t
	}
	if schemaID.Valid {
		sess.ExtractionSchemaID = schemaID.String
	}
	if extracted.Valid && extracted.String != "" {
		if err := json.Unmarshal([]byte(extracted.String), &sess.ExtractedResult); err != nil {
			return nil, fmt.Errorf("failed to unmarshal extracted result: %w", err)
		}
	}

	sess.Messages, err = s.codec.DecodeMessages(transcript, compressed)
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func marshalExtracted(result map[string]interface{}) (interface{}, error) {
	if result == nil {
		return nil, nil
	}
	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal extracted result: %w", err)
	}
	return string(data), nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// Compile-time check.
var _ storage.SessionStore = (*SessionStore)(nil)
