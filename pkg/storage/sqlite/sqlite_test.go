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
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mottych/PurposePath-AI-sub003/pkg/runtimeconfig"
	"github.com/mottych/PurposePath-AI-sub003/pkg/session"
	"github.com/mottych/PurposePath-AI-sub003/pkg/types"
)

var testEpoch = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

// newTestBackend creates a migrated backend over a temporary database
// file.
func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	backend, err := NewBackend(Config{Path: filepath.Join(t.TempDir(), "coachd.db")}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })
	require.NoError(t, backend.Migrate(context.Background()))
	return backend
}

func tableExists(t *testing.T, b *Backend, name string) bool {
	t.Helper()
	var count int
	err := b.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name,
	).Scan(&count)
	require.NoError(t, err)
	return count > 0
}

func newTestSession(id, tenantID, userID, topicID string, createdAt time.Time) *session.Session {
	identity := types.Identity{TenantID: tenantID, UserID: userID}
	sess := session.New(id, identity, topicID, 10, 24*time.Hour, createdAt)
	sess.Append(types.RoleSystem, "You are a coach.", 0, createdAt)
	sess.Append(types.RoleAssistant, "Welcome back.", 1, createdAt)
	return sess
}

func TestMigrateFreshDatabase(t *testing.T) {
	backend := newTestBackend(t)
	ctx := context.Background()

	assert.True(t, tableExists(t, backend, "schema_migrations"))
	assert.True(t, tableExists(t, backend, "sessions"))
	assert.True(t, tableExists(t, backend, "topic_configs"))

	version, err := backend.migrator.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, version)

	pending, err := backend.PendingMigrations(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	// Running again is a no-op.
	require.NoError(t, backend.Migrate(ctx))
	version, err = backend.migrator.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, version)
}

func TestMigrateDownDropsSchema(t *testing.T) {
	backend := newTestBackend(t)
	ctx := context.Background()

	require.NoError(t, backend.migrator.MigrateDown(ctx, 1))

	version, err := backend.migrator.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, version)
	assert.False(t, tableExists(t, backend, "sessions"))
	assert.False(t, tableExists(t, backend, "topic_configs"))
}

func TestSessionRoundTrip(t *testing.T) {
	backend := newTestBackend(t)
	ctx := context.Background()
	store := backend.Sessions()

	sess := newTestSession("sess_1", "tenant-a", "user-1", "COACHING:core_values", testEpoch)
	require.NoError(t, store.Create(ctx, sess))
	assert.Equal(t, int64(1), sess.Version)

	got, err := store.Get(ctx, "tenant-a", "sess_1")
	require.NoError(t, err)
	assert.Equal(t, sess.ID, got.ID)
	assert.Equal(t, sess.UserID, got.UserID)
	assert.Equal(t, session.StatusActive, got.Status)
	assert.Equal(t, sess.Messages, got.Messages)
	assert.True(t, got.CreatedAt.Equal(testEpoch))
	assert.True(t, got.ExpiresAt.Equal(testEpoch.Add(24*time.Hour)))
	assert.Nil(t, got.CompletedAt)
	assert.Nil(t, got.ExtractedResult)

	_, err = store.Get(ctx, "tenant-a", "sess_missing")
	assert.Equal(t, types.KindSessionNotFound, types.KindOf(err))

	// Cross-tenant probes miss.
	_, err = store.Get(ctx, "tenant-b", "sess_1")
	assert.Equal(t, types.KindSessionNotFound, types.KindOf(err))
}

func TestSessionRoundTripCompletedWithResult(t *testing.T) {
	backend := newTestBackend(t)
	ctx := context.Background()
	store := backend.Sessions()

	sess := newTestSession("sess_1", "tenant-a", "user-1", "COACHING:core_values", testEpoch)
	require.NoError(t, store.Create(ctx, sess))

	completed := testEpoch.Add(time.Hour)
	sess.Turn = 3
	require.NoError(t, sess.Complete(
		map[string]interface{}{"values": []interface{}{"integrity", "growth"}, "confidence": 0.9},
		"CoreValuesResult", completed))
	require.NoError(t, store.Update(ctx, sess))

	got, err := store.Get(ctx, "tenant-a", "sess_1")
	require.NoError(t, err)
	assert.Equal(t, session.StatusCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, got.CompletedAt.Equal(completed))
	assert.Equal(t, "CoreValuesResult", got.ExtractionSchemaID)
	assert.Equal(t, map[string]interface{}{
		"values":     []interface{}{"integrity", "growth"},
		"confidence": 0.9,
	}, got.ExtractedResult)
}

func TestSessionLargeTranscriptCompresses(t *testing.T) {
	backend := newTestBackend(t)
	ctx := context.Background()
	store := backend.Sessions()

	sess := newTestSession("sess_1", "tenant-a", "user-1", "COACHING:core_values", testEpoch)
	long := strings.Repeat("I keep coming back to honesty and craftsmanship. ", 100)
	sess.Append(types.RoleUser, long, 1, testEpoch)
	require.NoError(t, store.Create(ctx, sess))

	var compressed bool
	require.NoError(t, backend.db.QueryRow(
		"SELECT transcript_compressed FROM sessions WHERE tenant_id = ? AND id = ?",
		"tenant-a", "sess_1").Scan(&compressed))
	assert.True(t, compressed, "large transcripts are stored compressed")

	got, err := store.Get(ctx, "tenant-a", "sess_1")
	require.NoError(t, err)
	assert.Equal(t, long, got.Messages[2].Content)
}

func TestCreateEnforcesSingleOpenSession(t *testing.T) {
	backend := newTestBackend(t)
	ctx := context.Background()
	store := backend.Sessions()

	require.NoError(t, store.Create(ctx, newTestSession("sess_1", "tenant-a", "user-1", "COACHING:core_values", testEpoch)))

	err := store.Create(ctx, newTestSession("sess_2", "tenant-a", "user-1", "COACHING:core_values", testEpoch.Add(time.Minute)))
	assert.Equal(t, types.KindConcurrentModification, types.KindOf(err))

	// Different user, different topic, different tenant all pass.
	assert.NoError(t, store.Create(ctx, newTestSession("sess_3", "tenant-a", "user-2", "COACHING:core_values", testEpoch)))
	assert.NoError(t, store.Create(ctx, newTestSession("sess_4", "tenant-a", "user-1", "COACHING:open_reflection", testEpoch)))
	assert.NoError(t, store.Create(ctx, newTestSession("sess_5", "tenant-b", "user-1", "COACHING:core_values", testEpoch)))

	// A terminal session frees the slot.
	first, err := store.Get(ctx, "tenant-a", "sess_1")
	require.NoError(t, err)
	first.Status = session.StatusCancelled
	require.NoError(t, store.Update(ctx, first))
	assert.NoError(t, store.Create(ctx, newTestSession("sess_6", "tenant-a", "user-1", "COACHING:core_values", testEpoch.Add(time.Hour))))
}

func TestUpdateVersionGuard(t *testing.T) {
	backend := newTestBackend(t)
	ctx := context.Background()
	store := backend.Sessions()

	sess := newTestSession("sess_1", "tenant-a", "user-1", "COACHING:core_values", testEpoch)
	require.NoError(t, store.Create(ctx, sess))

	sess.Turn = 1
	sess.Append(types.RoleUser, "Let's begin.", 1, testEpoch.Add(time.Minute))
	require.NoError(t, store.Update(ctx, sess))
	assert.Equal(t, int64(2), sess.Version)

	stale := sess.Clone()
	stale.Version = 1
	stale.Turn = 9
	err := store.Update(ctx, stale)
	assert.Equal(t, types.KindConcurrentModification, types.KindOf(err))

	got, err := store.Get(ctx, "tenant-a", "sess_1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Turn)
	assert.Equal(t, int64(2), got.Version)
	assert.Len(t, got.Messages, 3)

	ghost := newTestSession("sess_ghost", "tenant-a", "user-9", "COACHING:core_values", testEpoch)
	ghost.Version = 1
	err = store.Update(ctx, ghost)
	assert.Equal(t, types.KindSessionNotFound, types.KindOf(err))
}

func TestFindResumablePicksOldest(t *testing.T) {
	backend := newTestBackend(t)
	ctx := context.Background()
	store := backend.Sessions()

	_, err := store.FindResumable(ctx, "tenant-a", "COACHING:core_values")
	assert.Equal(t, types.KindSessionNotFound, types.KindOf(err))

	require.NoError(t, store.Create(ctx, newTestSession("sess_new", "tenant-a", "user-2", "COACHING:core_values", testEpoch.Add(time.Minute))))
	require.NoError(t, store.Create(ctx, newTestSession("sess_old", "tenant-a", "user-1", "COACHING:core_values", testEpoch)))

	found, err := store.FindResumable(ctx, "tenant-a", "COACHING:core_values")
	require.NoError(t, err)
	assert.Equal(t, "sess_old", found.ID)

	// Terminal transitions drop a session out of the lookup.
	found.Status = session.StatusExpired
	require.NoError(t, store.Update(ctx, found))
	next, err := store.FindResumable(ctx, "tenant-a", "COACHING:core_values")
	require.NoError(t, err)
	assert.Equal(t, "sess_new", next.ID)
}

func TestListSessionsNewestFirst(t *testing.T) {
	backend := newTestBackend(t)
	ctx := context.Background()
	store := backend.Sessions()

	for i, id := range []string{"sess_a", "sess_b", "sess_c"} {
		sess := newTestSession(id, "tenant-a", "user-"+id, "COACHING:core_values", testEpoch.Add(time.Duration(i)*time.Minute))
		require.NoError(t, store.Create(ctx, sess))
	}

	listed, err := store.ListSessions(ctx, "tenant-a")
	require.NoError(t, err)
	require.Len(t, listed, 3)
	assert.Equal(t, "sess_c", listed[0].ID)
	assert.Equal(t, "sess_a", listed[2].ID)

	empty, err := store.ListSessions(ctx, "tenant-z")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestPurgerWalkAndDelete(t *testing.T) {
	backend := newTestBackend(t)
	ctx := context.Background()
	store := backend.Sessions()

	require.NoError(t, store.Create(ctx, newTestSession("sess_1", "tenant-a", "user-1", "COACHING:core_values", testEpoch)))
	require.NoError(t, store.Create(ctx, newTestSession("sess_2", "tenant-b", "user-2", "COACHING:core_values", testEpoch)))

	var visited []string
	require.NoError(t, store.ForEachSession(ctx, func(s *session.Session) error {
		visited = append(visited, s.TenantID+"/"+s.ID)
		return nil
	}))
	assert.Equal(t, []string{"tenant-a/sess_1", "tenant-b/sess_2"}, visited)

	// Deleting while walking is supported.
	require.NoError(t, store.ForEachSession(ctx, func(s *session.Session) error {
		return store.DeleteSession(ctx, s.TenantID, s.ID)
	}))
	_, err := store.Get(ctx, "tenant-a", "sess_1")
	assert.Equal(t, types.KindSessionNotFound, types.KindOf(err))

	assert.NoError(t, store.DeleteSession(ctx, "tenant-a", "sess_1"))
}

func TestConfigStoreSQLite(t *testing.T) {
	backend := newTestBackend(t)
	ctx := context.Background()
	store := backend.Configs()

	_, err := store.GetConfig(ctx, "tenant-a", "COACHING:core_values")
	assert.Equal(t, types.KindNotConfigured, types.KindOf(err))

	rec := &runtimeconfig.Record{
		TenantID:            "tenant-a",
		TopicID:             "COACHING:core_values",
		ModelCode:           "coach-primary",
		FallbackModelCode:   "coach-fallback",
		Temperature:         0.7,
		MaxTokens:           800,
		MaxTurns:            10,
		SessionTTLHours:     24,
		IdleTimeoutMinutes:  15,
		ExtractionModelCode: "coach-mini",
		IsActive:            true,
		CreatedAt:           testEpoch,
		UpdatedAt:           testEpoch,
	}
	require.NoError(t, store.PutConfig(ctx, rec))

	got, err := store.GetConfig(ctx, "tenant-a", "COACHING:core_values")
	require.NoError(t, err)
	assert.Equal(t, rec, got)

	// Upsert replaces in place.
	rec.MaxTurns = 6
	rec.FallbackModelCode = ""
	rec.UpdatedAt = testEpoch.Add(time.Hour)
	require.NoError(t, store.PutConfig(ctx, rec))
	got, err = store.GetConfig(ctx, "tenant-a", "COACHING:core_values")
	require.NoError(t, err)
	assert.Equal(t, 6, got.MaxTurns)
	assert.Empty(t, got.FallbackModelCode)
	assert.True(t, got.UpdatedAt.Equal(testEpoch.Add(time.Hour)))

	// Listing filters server-side rows through the shared matcher.
	require.NoError(t, store.PutConfig(ctx, &runtimeconfig.Record{
		TenantID: "tenant-a", TopicID: "COACHING:open_reflection",
		ModelCode: "coach-primary", MaxTokens: 800, MaxTurns: 10,
		SessionTTLHours: 24, IdleTimeoutMinutes: 15, IsActive: false,
		CreatedAt: testEpoch, UpdatedAt: testEpoch,
	}))

	all, err := store.ListConfigs(ctx, "tenant-a", runtimeconfig.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "COACHING:core_values", all[0].TopicID)

	active, err := store.ListConfigs(ctx, "tenant-a", runtimeconfig.Filter{ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "COACHING:core_values", active[0].TopicID)
}

func TestBackendRequiresPath(t *testing.T) {
	_, err := NewBackend(Config{}, nil)
	assert.Error(t, err)
}

func TestBackendPing(t *testing.T) {
	backend := newTestBackend(t)
	assert.NoError(t, backend.Ping(context.Background()))
}
