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

// Package session implements the coaching session lifecycle: creation
// and resumption, per-turn message exchange, and completion with
// structured-output extraction.
//
// The Orchestrator is the aggregate root. It composes the topic
// registry, the runtime configuration store, the template renderer,
// and the provider gateway; all mutations of one session are
// serialized through optimistic concurrency on the persisted record.
package session

import (
	"time"

	"github.com/mottych/PurposePath-AI-sub003/pkg/types"
)

// Status is the lifecycle state of a session.
type Status string

const (
	// StatusActive sessions accept messages and can be resumed.
	StatusActive Status = "Active"

	// StatusCompleted sessions finished normally and keep their
	// extracted result until retention elapses.
	StatusCompleted Status = "Completed"

	// StatusExpired sessions outlived expires-at without resumption.
	// Reads detect the transition lazily; the retention sweeper
	// persists it.
	StatusExpired Status = "Expired"

	// StatusAbandoned is terminal and recognized on read, but no
	// engine path produces it: idle time never terminates a session,
	// only TTL does.
	StatusAbandoned Status = "Abandoned"

	// StatusCancelled sessions were aborted by their owner before
	// completion. No extraction ran.
	StatusCancelled Status = "Cancelled"
)

// Terminal reports whether the status forbids further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusExpired, StatusAbandoned, StatusCancelled:
		return true
	}
	return false
}

// ValidStatus reports whether s is a declared session status.
func ValidStatus(s Status) bool {
	return s == StatusActive || s.Terminal()
}

// Session is one persisted coaching conversation.
//
// The struct is a plain record: callers obtain a private copy from the
// store, mutate it, and write it back under the version guard. It is
// not safe for concurrent mutation; the orchestrator's retry loop is
// what serializes writers.
//
// Message layout: the first message is the system prompt (turn 0), the
// second is the rendered initiation prompt (a user-role message
// opening turn 1), the third is the assistant's opening reply
// (turn 1). Each subsequent exchange appends a user and an assistant
// message sharing a turn number. Resume prompts and their replies are
// appended under the turn they re-engage. Messages are immutable once
// appended.
type Session struct {
	ID       string `json:"session_id"`
	TenantID string `json:"tenant_id"`
	UserID   string `json:"user_id"`
	TopicID  string `json:"topic_id"`

	Status Status `json:"status"`

	// Turn counts assistant coaching replies: the initiation reply is
	// turn 1 and every AddMessage reply increments it. Resume replies
	// re-engage the current turn without advancing it.
	Turn     int `json:"turn"`
	MaxTurns int `json:"max_turns"`

	Messages []types.Message `json:"messages"`

	CreatedAt      time.Time  `json:"created_at"`
	LastActivityAt time.Time  `json:"last_activity_at"`
	ExpiresAt      time.Time  `json:"expires_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`

	// ExtractedResult is the structured object pulled from the
	// conversation at completion, conforming to the schema named by
	// ExtractionSchemaID. Nil for freeform topics.
	ExtractedResult    map[string]interface{} `json:"extracted_result,omitempty"`
	ExtractionSchemaID string                 `json:"extraction_schema_id,omitempty"`

	// Version guards concurrent writers: stores reject a write whose
	// version no longer matches the stored record. Stores own the
	// arithmetic; see the Store contract.
	Version int64 `json:"version"`
}

// New builds an Active session owned by identity for the topic. The
// caller appends messages and persists through Store.Create.
func New(id string, identity types.Identity, topicID string, maxTurns int, ttl time.Duration, now time.Time) *Session {
	return &Session{
		ID:             id,
		TenantID:       identity.TenantID,
		UserID:         identity.UserID,
		TopicID:        topicID,
		Status:         StatusActive,
		MaxTurns:       maxTurns,
		CreatedAt:      now,
		LastActivityAt: now,
		ExpiresAt:      now.Add(ttl),
	}
}

// Append adds a message stamped with the given turn and time.
func (s *Session) Append(role types.Role, content string, turn int, now time.Time) {
	s.Messages = append(s.Messages, types.Message{
		Role:      role,
		Content:   content,
		Timestamp: now,
		Turn:      turn,
	})
}

// Expired reports whether an Active session has outlived expires-at.
// Terminal sessions never report expired; StatusExpired already is
// one.
func (s *Session) Expired(now time.Time) bool {
	return s.Status == StatusActive && now.After(s.ExpiresAt)
}

// EffectiveStatus surfaces lazy expiry without persisting it.
func (s *Session) EffectiveStatus(now time.Time) Status {
	if s.Expired(now) {
		return StatusExpired
	}
	return s.Status
}

// Touch advances the activity clock and pushes expires-at out by ttl.
// expires-at never moves backwards, so shortening a topic's TTL cannot
// retroactively cut an open session short.
func (s *Session) Touch(now time.Time, ttl time.Duration) {
	s.LastActivityAt = now
	if e := now.Add(ttl); e.After(s.ExpiresAt) {
		s.ExpiresAt = e
	}
}

// Complete transitions to Completed and stores the extraction output.
// result and schemaID are empty for freeform topics.
func (s *Session) Complete(result map[string]interface{}, schemaID string, now time.Time) error {
	if s.Status != StatusActive {
		return types.Errorf(types.KindSessionNotActive,
			"cannot complete a %s session", s.Status).WithSession(s.ID)
	}
	s.Status = StatusCompleted
	s.CompletedAt = &now
	s.ExtractedResult = result
	s.ExtractionSchemaID = schemaID
	s.stamp(now)
	return nil
}

// Cancel transitions to Cancelled.
func (s *Session) Cancel(now time.Time) error {
	if s.Status != StatusActive {
		return types.Errorf(types.KindSessionNotActive,
			"cannot cancel a %s session", s.Status).WithSession(s.ID)
	}
	s.Status = StatusCancelled
	s.stamp(now)
	return nil
}

// MarkExpired persists the lazy-expiry transition for an Active
// session; callers are the retention sweeper and the orchestrator's
// resumable lookup. A no-op on terminal sessions.
func (s *Session) MarkExpired() {
	if s.Status == StatusActive {
		s.Status = StatusExpired
	}
}

// stamp records activity while keeping expires-at >= last-activity-at.
func (s *Session) stamp(now time.Time) {
	s.LastActivityAt = now
	if now.After(s.ExpiresAt) {
		s.ExpiresAt = now
	}
}

// Clone returns a deep copy: the message slice, result map, and
// completion timestamp are not shared with the original.
func (s *Session) Clone() *Session {
	c := *s
	if s.Messages != nil {
		c.Messages = make([]types.Message, len(s.Messages))
		copy(c.Messages, s.Messages)
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		c.CompletedAt = &t
	}
	if s.ExtractedResult != nil {
		m := make(map[string]interface{}, len(s.ExtractedResult))
		for k, v := range s.ExtractedResult {
			m[k] = v
		}
		c.ExtractedResult = m
	}
	return &c
}

// LastAssistantMessage returns the most recent assistant message, or
// nil when none exists.
func (s *Session) LastAssistantMessage() *types.Message {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == types.RoleAssistant {
			m := s.Messages[i]
			return &m
		}
	}
	return nil
}

// Snapshot is the read-only view session reads return. Result is only
// populated on completed sessions and must be treated as read-only.
type Snapshot struct {
	SessionID      string                 `json:"session_id"`
	TopicID        string                 `json:"topic_id"`
	Status         Status                 `json:"status"`
	Turn           int                    `json:"turn"`
	MaxTurns       int                    `json:"max_turns"`
	CreatedAt      time.Time              `json:"created_at"`
	LastActivityAt time.Time              `json:"last_activity_at"`
	ExpiresAt      time.Time              `json:"expires_at"`
	CompletedAt    *time.Time             `json:"completed_at,omitempty"`
	Result         map[string]interface{} `json:"result,omitempty"`
}

// SnapshotAt renders the session as of now, surfacing lazy expiry.
func (s *Session) SnapshotAt(now time.Time) *Snapshot {
	return &Snapshot{
		SessionID:      s.ID,
		TopicID:        s.TopicID,
		Status:         s.EffectiveStatus(now),
		Turn:           s.Turn,
		MaxTurns:       s.MaxTurns,
		CreatedAt:      s.CreatedAt,
		LastActivityAt: s.LastActivityAt,
		ExpiresAt:      s.ExpiresAt,
		CompletedAt:    s.CompletedAt,
		Result:         s.ExtractedResult,
	}
}
