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

package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/mottych/PurposePath-AI-sub003/pkg/observability"
	"github.com/mottych/PurposePath-AI-sub003/pkg/session"
	"github.com/mottych/PurposePath-AI-sub003/pkg/storage"
	"github.com/mottych/PurposePath-AI-sub003/pkg/types"
)

// retentionGrace keeps records alive past their session deadline so
// the retention sweeper can still walk and account for them. Key
// expiry is the backstop when the sweeper is down.
const retentionGrace = 30 * 24 * time.Hour

func sessionKey(tenantID, sessionID string) string {
	return fmt.Sprintf("coach:%s:session:%s", tenantID, sessionID)
}

// openOwnerKey guards the one-open-session rule: its value is the ID
// of the owner's open session for the topic.
func openOwnerKey(tenantID, userID, topicID string) string {
	return fmt.Sprintf("coach:%s:open:%s:%s", tenantID, userID, topicID)
}

func topicIndexKey(tenantID, topicID string) string {
	return fmt.Sprintf("coach:%s:resumable:%s", tenantID, topicID)
}

func tenantIndexKey(tenantID string) string {
	return fmt.Sprintf("coach:%s:sessions", tenantID)
}

// sessionRecord is the stored envelope: the session row with the
// transcript carried separately so large conversations go through the
// shared codec.
type sessionRecord struct {
	Session    *session.Session `json:"session"`
	Transcript []byte           `json:"transcript,omitempty"`
	Compressed bool             `json:"compressed,omitempty"`
}

// SessionStore persists session records as JSON values keyed by
// (tenant, session).
type SessionStore struct {
	rdb    *goredis.Client
	codec  *storage.Codec
	tracer observability.Tracer
}

// NewSessionStore creates a session store over the shared client.
func NewSessionStore(rdb *goredis.Client, codec *storage.Codec, tracer observability.Tracer) *SessionStore {
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	return &SessionStore{rdb: rdb, codec: codec, tracer: tracer}
}

// Get returns the record, or SessionNotFound.
func (s *SessionStore) Get(ctx context.Context, tenantID, sessionID string) (*session.Session, error) {
	ctx, span := s.tracer.StartSpan(ctx, "redis_session_store.get")
	defer s.tracer.EndSpan(span)
	span.SetAttribute("session_id", sessionID)

	data, err := s.rdb.Get(ctx, sessionKey(tenantID, sessionID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, session.NotFoundError(sessionID)
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return s.decode(data)
}

// FindResumable returns the oldest Active session for (tenant, topic),
// or SessionNotFound. Index members whose record is gone or terminal
// are removed on the way.
func (s *SessionStore) FindResumable(ctx context.Context, tenantID, topicID string) (*session.Session, error) {
	ctx, span := s.tracer.StartSpan(ctx, "redis_session_store.find_resumable")
	defer s.tracer.EndSpan(span)
	span.SetAttribute("topic_id", topicID)

	indexKey := topicIndexKey(tenantID, topicID)
	ids, err := s.rdb.SMembers(ctx, indexKey).Result()
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to read resumable index: %w", err)
	}
	if len(ids) == 0 {
		return nil, session.NotFoundError("")
	}
	sort.Strings(ids)

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = sessionKey(tenantID, id)
	}
	values, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to load resumable sessions: %w", err)
	}

	var (
		found    *session.Session
		dangling []interface{}
	)
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			dangling = append(dangling, ids[i])
			continue
		}
		sess, err := s.decode([]byte(raw))
		if err != nil {
			return nil, err
		}
		if sess.Status != session.StatusActive {
			dangling = append(dangling, ids[i])
			continue
		}
		if found == nil || sess.CreatedAt.Before(found.CreatedAt) ||
			(sess.CreatedAt.Equal(found.CreatedAt) && sess.ID < found.ID) {
			found = sess
		}
	}
	if len(dangling) > 0 {
		_ = s.rdb.SRem(ctx, indexKey, dangling...).Err()
	}
	if found == nil {
		return nil, session.NotFoundError("")
	}
	return found, nil
}

// Create writes the record at version 1. SET NX on the owner key
// rejects a second open session for the same (tenant, user, topic);
// the rejection surfaces as ConcurrentModification.
func (s *SessionStore) Create(ctx context.Context, sess *session.Session) error {
	ctx, span := s.tracer.StartSpan(ctx, "redis_session_store.create")
	defer s.tracer.EndSpan(span)
	span.SetAttribute("session_id", sess.ID)

	row := sess.Clone()
	row.Version = 1
	data, err := s.encode(row)
	if err != nil {
		span.RecordError(err)
		return err
	}

	ownerKey := openOwnerKey(sess.TenantID, sess.UserID, sess.TopicID)
	ok, err := s.rdb.SetNX(ctx, ownerKey, sess.ID, time.Until(retentionDeadline(sess))).Result()
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to reserve open session slot: %w", err)
	}
	if !ok {
		var have int64
		if openID, err := s.rdb.Get(ctx, ownerKey).Result(); err == nil {
			if existing, err := s.Get(ctx, sess.TenantID, openID); err == nil {
				have = existing.Version
			}
		}
		return session.ConflictError(sess.ID, 0, have)
	}

	key := sessionKey(sess.TenantID, sess.ID)
	_, err = s.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, key, data, 0)
		pipe.PExpireAt(ctx, key, retentionDeadline(sess))
		pipe.SAdd(ctx, topicIndexKey(sess.TenantID, sess.TopicID), sess.ID)
		pipe.SAdd(ctx, tenantIndexKey(sess.TenantID), sess.ID)
		return nil
	})
	if err != nil {
		// Release the slot so the owner is not locked out of a retry.
		_ = s.rdb.Del(ctx, ownerKey).Err()
		span.RecordError(err)
		return fmt.Errorf("failed to create session: %w", err)
	}

	sess.Version = 1
	return nil
}

// Update rewrites the record under the version guard and advances the
// caller's version on success. The check-and-set runs under WATCH on
// the record and owner keys; a racing writer fails the transaction and
// surfaces as ConcurrentModification.
func (s *SessionStore) Update(ctx context.Context, sess *session.Session) error {
	ctx, span := s.tracer.StartSpan(ctx, "redis_session_store.update")
	defer s.tracer.EndSpan(span)
	span.SetAttribute("session_id", sess.ID)

	key := sessionKey(sess.TenantID, sess.ID)
	ownerKey := openOwnerKey(sess.TenantID, sess.UserID, sess.TopicID)

	err := s.rdb.Watch(ctx, func(tx *goredis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, goredis.Nil) {
			return session.NotFoundError(sess.ID)
		}
		if err != nil {
			return fmt.Errorf("failed to load session: %w", err)
		}
		stored, err := s.decode(data)
		if err != nil {
			return err
		}
		if stored.Version != sess.Version {
			return session.ConflictError(sess.ID, sess.Version, stored.Version)
		}

		ownerID, err := tx.Get(ctx, ownerKey).Result()
		if err != nil && !errors.Is(err, goredis.Nil) {
			return fmt.Errorf("failed to load open session slot: %w", err)
		}

		row := sess.Clone()
		row.Version = sess.Version + 1
		next, err := s.encode(row)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, next, 0)
			pipe.PExpireAt(ctx, key, retentionDeadline(sess))
			if sess.Status.Terminal() {
				pipe.SRem(ctx, topicIndexKey(sess.TenantID, sess.TopicID), sess.ID)
				if ownerID == sess.ID {
					pipe.Del(ctx, ownerKey)
				}
			} else {
				pipe.PExpireAt(ctx, ownerKey, retentionDeadline(sess))
			}
			return nil
		})
		return err
	}, key, ownerKey)

	if err != nil {
		if errors.Is(err, goredis.TxFailedErr) {
			have := sess.Version
			if current, gerr := s.Get(ctx, sess.TenantID, sess.ID); gerr == nil {
				have = current.Version
			}
			return session.ConflictError(sess.ID, sess.Version, have)
		}
		if types.KindOf(err) == types.KindInternal {
			span.RecordError(err)
		}
		return err
	}

	sess.Version++
	return nil
}

// ListSessions returns the tenant's sessions, newest first. Index
// members whose record expired are removed on the way.
func (s *SessionStore) ListSessions(ctx context.Context, tenantID string) ([]*session.Session, error) {
	ctx, span := s.tracer.StartSpan(ctx, "redis_session_store.list_sessions")
	defer s.tracer.EndSpan(span)

	indexKey := tenantIndexKey(tenantID)
	ids, err := s.rdb.SMembers(ctx, indexKey).Result()
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to read session index: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	sort.Strings(ids)

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = sessionKey(tenantID, id)
	}
	values, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to load sessions: %w", err)
	}

	var (
		out      []*session.Session
		dangling []interface{}
	)
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			dangling = append(dangling, ids[i])
			continue
		}
		sess, err := s.decode([]byte(raw))
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	if len(dangling) > 0 {
		_ = s.rdb.SRem(ctx, indexKey, dangling...).Err()
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	span.SetAttribute("count", len(out))
	return out, nil
}

// ForEachSession visits every stored session across tenants. Keys are
// collected before the first visit so the visitor may write back into
// the store; records deleted mid-walk are skipped.
func (s *SessionStore) ForEachSession(ctx context.Context, fn func(*session.Session) error) error {
	ctx, span := s.tracer.StartSpan(ctx, "redis_session_store.for_each_session")
	defer s.tracer.EndSpan(span)

	var keys []string
	iter := s.rdb.Scan(ctx, 0, "coach:*:session:*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to scan sessions: %w", err)
	}

	// SCAN may repeat keys; visit each session once, in key order.
	sort.Strings(keys)
	seen := ""
	for _, key := range keys {
		if key == seen {
			continue
		}
		seen = key

		data, err := s.rdb.Get(ctx, key).Bytes()
		if errors.Is(err, goredis.Nil) {
			continue
		}
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("failed to load session: %w", err)
		}
		sess, err := s.decode(data)
		if err != nil {
			return err
		}
		if err := fn(sess); err != nil {
			return err
		}
	}
	return nil
}

// DeleteSession removes a record and its index entries. Missing
// records are not an error.
func (s *SessionStore) DeleteSession(ctx context.Context, tenantID, sessionID string) error {
	ctx, span := s.tracer.StartSpan(ctx, "redis_session_store.delete_session")
	defer s.tracer.EndSpan(span)
	span.SetAttribute("session_id", sessionID)

	key := sessionKey(tenantID, sessionID)
	data, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil
	}
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to load session: %w", err)
	}
	sess, err := s.decode(data)
	if err != nil {
		return err
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.SRem(ctx, topicIndexKey(tenantID, sess.TopicID), sessionID)
		pipe.SRem(ctx, tenantIndexKey(tenantID), sessionID)
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete session: %w", err)
	}

	// Release the open-session slot if this session still holds it.
	ownerKey := openOwnerKey(tenantID, sess.UserID, sess.TopicID)
	if openID, err := s.rdb.Get(ctx, ownerKey).Result(); err == nil && openID == sessionID {
		_ = s.rdb.Del(ctx, ownerKey).Err()
	}
	return nil
}

func (s *SessionStore) encode(sess *session.Session) ([]byte, error) {
	transcript, compressed, err := s.codec.EncodeMessages(sess.Messages)
	if err != nil {
		return nil, err
	}
	row := sess.Clone()
	row.Messages = nil
	data, err := json.Marshal(sessionRecord{Session: row, Transcript: transcript, Compressed: compressed})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session record: %w", err)
	}
	return data, nil
}

func (s *SessionStore) decode(data []byte) (*session.Session, error) {
	var rec sessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session record: %w", err)
	}
	sess := rec.Session
	msgs, err := s.codec.DecodeMessages(rec.Transcript, rec.Compressed)
	if err != nil {
		return nil, err
	}
	sess.Messages = msgs
	return sess, nil
}

// retentionDeadline is when a record may be dropped outright: past its
// session deadline plus the sweeper's widest horizon.
func retentionDeadline(sess *session.Session) time.Time {
	deadline := sess.ExpiresAt
	if sess.LastActivityAt.After(deadline) {
		deadline = sess.LastActivityAt
	}
	return deadline.Add(retentionGrace)
}

// Compile-time check.
var _ storage.SessionStore = (*SessionStore)(nil)
