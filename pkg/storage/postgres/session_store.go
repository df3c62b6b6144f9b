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

package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mottych/PurposePath-AI-sub003/internal/pgxdriver"
	"github.com/mottych/PurposePath-AI-sub003/pkg/observability"
	"github.com/mottych/PurposePath-AI-sub003/pkg/session"
	"github.com/mottych/PurposePath-AI-sub003/pkg/storage"
)

// SessionStore persists session records in the sessions table. Every
// tenant-scoped operation runs inside a transaction with the tenant set
// for row-level security.
type SessionStore struct {
	pool   *pgxpool.Pool
	codec  *storage.Codec
	tracer observability.Tracer
}

// NewSessionStore creates a session store over the shared pool.
func NewSessionStore(pool *pgxpool.Pool, codec *storage.Codec, tracer observability.Tracer) *SessionStore {
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	return &SessionStore{pool: pool, codec: codec, tracer: tracer}
}

const sessionColumns = `id, tenant_id, user_id, topic_id, status, turn, max_turns,
	transcript, transcript_compressed, created_at, last_activity_at, expires_at,
	completed_at, extracted_result, extraction_schema_id, version`

// Get returns the record, or SessionNotFound.
func (s *SessionStore) Get(ctx context.Context, tenantID, sessionID string) (*session.Session, error) {
	ctx, span := s.tracer.StartSpan(ctx, "pg_session_store.get")
	defer s.tracer.EndSpan(span)
	span.SetAttribute("session_id", sessionID)

	var sess *session.Session
	err := pgxdriver.WithTenant(ctx, s.pool, tenantID, func(ctx context.Context, tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			"SELECT "+sessionColumns+" FROM sessions WHERE tenant_id = $1 AND id = $2",
			tenantID, sessionID)
		got, err := s.scanSession(row)
		if err != nil {
			return err
		}
		sess = got
		return nil
	})
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, session.NotFoundError(sessionID)
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return sess, nil
}

// FindResumable returns the oldest Active session for (tenant, topic),
// or SessionNotFound.
func (s *SessionStore) FindResumable(ctx context.Context, tenantID, topicID string) (*session.Session, error) {
	ctx, span := s.tracer.StartSpan(ctx, "pg_session_store.find_resumable")
	defer s.tracer.EndSpan(span)
	span.SetAttribute("topic_id", topicID)

	var sess *session.Session
	err := pgxdriver.WithTenant(ctx, s.pool, tenantID, func(ctx context.Context, tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			"SELECT "+sessionColumns+` FROM sessions
			 WHERE tenant_id = $1 AND topic_id = $2 AND status = 'Active'
			 ORDER BY created_at ASC, id ASC LIMIT 1`,
			tenantID, topicID)
		got, err := s.scanSession(row)
		if err != nil {
			return err
		}
		sess = got
		return nil
	})
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, session.NotFoundError("")
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to find resumable session: %w", err)
	}
	return sess, nil
}

// Create inserts the record at version 1. The partial unique index on
// (tenant, user, topic) rejects a second open session for the same
// owner; the violation surfaces as ConcurrentModification.
func (s *SessionStore) Create(ctx context.Context, sess *session.Session) error {
	ctx, span := s.tracer.StartSpan(ctx, "pg_session_store.create")
	defer s.tracer.EndSpan(span)
	span.SetAttribute("session_id", sess.ID)

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

	err = pgxdriver.WithTenant(ctx, s.pool, sess.TenantID, func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO sessions (`+sessionColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, 1)`,
			sess.ID, sess.TenantID, sess.UserID, sess.TopicID, string(sess.Status),
			sess.Turn, sess.MaxTurns, transcript, compressed,
			sess.CreatedAt, sess.LastActivityAt, sess.ExpiresAt,
			sess.CompletedAt, extracted, nullableString(sess.ExtractionSchemaID),
		)
		return err
	})
	if err != nil {
		if isUniqueViolation(err) {
			var have int64
			_ = pgxdriver.WithTenant(ctx, s.pool, sess.TenantID, func(ctx context.Context, tx pgx.Tx) error {
				return tx.QueryRow(ctx, `
					SELECT version FROM sessions
					WHERE tenant_id = $1 AND user_id = $2 AND topic_id = $3 AND status = 'Active'`,
					sess.TenantID, sess.UserID, sess.TopicID).Scan(&have)
			})
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
	ctx, span := s.tracer.StartSpan(ctx, "pg_session_store.update")
	defer s.tracer.EndSpan(span)
	span.SetAttribute("session_id", sess.ID)

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

	var affected int64
	err = pgxdriver.WithTenant(ctx, s.pool, sess.TenantID, func(ctx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE sessions SET
				status = $1, turn = $2, max_turns = $3,
				transcript = $4, transcript_compressed = $5,
				last_activity_at = $6, expires_at = $7, completed_at = $8,
				extracted_result = $9, extraction_schema_id = $10,
				version = version + 1
			WHERE tenant_id = $11 AND id = $12 AND version = $13`,
			string(sess.Status), sess.Turn, sess.MaxTurns,
			transcript, compressed,
			sess.LastActivityAt, sess.ExpiresAt, sess.CompletedAt,
			extracted, nullableString(sess.ExtractionSchemaID),
			sess.TenantID, sess.ID, sess.Version,
		)
		if err != nil {
			return err
		}
		affected = tag.RowsAffected()
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to update session: %w", err)
	}

	if affected == 0 {
		var have int64
		err := pgxdriver.WithTenant(ctx, s.pool, sess.TenantID, func(ctx context.Context, tx pgx.Tx) error {
			return tx.QueryRow(ctx,
				"SELECT version FROM sessions WHERE tenant_id = $1 AND id = $2",
				sess.TenantID, sess.ID).Scan(&have)
		})
		if err != nil {
			if err == pgx.ErrNoRows {
				return session.NotFoundError(sess.ID)
			}
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
	ctx, span := s.tracer.StartSpan(ctx, "pg_session_store.list_sessions")
	defer s.tracer.EndSpan(span)

	var sessions []*session.Session
	err := pgxdriver.WithTenant(ctx, s.pool, tenantID, func(ctx context.Context, tx pgx.Tx) error {
		rows, err := tx.Query(ctx,
			"SELECT "+sessionColumns+" FROM sessions WHERE tenant_id = $1 ORDER BY created_at DESC, id DESC",
			tenantID)
		if err != nil {
			return err
		}
		defer rows.Close()

		sessions, err = s.collect(rows)
		return err
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	span.SetAttribute("count", len(sessions))
	return sessions, nil
}

// ForEachSession visits every stored session across tenants. The walk
// runs without a tenant scope; the pool's role owns the tables, so the
// row-security policies do not filter it. Rows are drained before the
// first visit so the visitor may write back into the store.
func (s *SessionStore) ForEachSession(ctx context.Context, fn func(*session.Session) error) error {
	ctx, span := s.tracer.StartSpan(ctx, "pg_session_store.for_each_session")
	defer s.tracer.EndSpan(span)

	var sessions []*session.Session
	err := pgxdriver.WithTenant(ctx, s.pool, "", func(ctx context.Context, tx pgx.Tx) error {
		rows, err := tx.Query(ctx,
			"SELECT "+sessionColumns+" FROM sessions ORDER BY tenant_id ASC, id ASC")
		if err != nil {
			return err
		}
		defer rows.Close()

		sessions, err = s.collect(rows)
		return err
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to scan sessions: %w", err)
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
	ctx, span := s.tracer.StartSpan(ctx, "pg_session_store.delete_session")
	defer s.tracer.EndSpan(span)
	span.SetAttribute("session_id", sessionID)

	err := pgxdriver.WithTenant(ctx, s.pool, tenantID, func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			"DELETE FROM sessions WHERE tenant_id = $1 AND id = $2", tenantID, sessionID)
		return err
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (s *SessionStore) collect(rows pgx.Rows) ([]*session.Session, error) {
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

// rowScanner covers pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *SessionStore) scanSession(row rowScanner) (*session.Session, error) {
	var (
		sess        session.Session
		status      string
		transcript  []byte
		compressed  bool
		completedAt *time.Time
		extracted   []byte
		schemaID    *string
	)

	err := row.Scan(
		&sess.ID, &sess.TenantID, &sess.UserID, &sess.TopicID, &status,
		&sess.Turn, &sess.MaxTurns, &transcript, &compressed,
		&sess.CreatedAt, &sess.LastActivityAt, &sess.ExpiresAt,
		&completedAt, &extracted, &schemaID, &sess.Version,
	)
	if err != nil {
		return nil, err
	}

	sess.Status = session.Status(status)
	sess.CreatedAt = sess.CreatedAt.UTC()
	sess.LastActivityAt = sess.LastActivityAt.UTC()
	sess.ExpiresAt = sess.ExpiresAt.UTC()
	if completedAt != nil {
		t := completedAt.UTC()
		sess.CompletedAt = &t
	}
	if schemaID != nil {
		sess.ExtractionSchemaID = *schemaID
	}
	if len(extracted) > 0 {
		if err := json.Unmarshal(extracted, &sess.ExtractedResult); err != nil {
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
	return data, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Compile-time check.
var _ storage.SessionStore = (*SessionStore)(nil)
