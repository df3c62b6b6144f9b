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
package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mottych/PurposePath-AI-sub003/pkg/runtimeconfig"
	"github.com/mottych/PurposePath-AI-sub003/pkg/session"
	"github.com/mottych/PurposePath-AI-sub003/pkg/types"
)

var storeEpoch = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func newSession(id, tenantID, userID, topicID string, createdAt time.Time) *session.Session {
	identity := types.Identity{TenantID: tenantID, UserID: userID}
	sess := session.New(id, identity, topicID, 10, 24*time.Hour, createdAt)
	sess.Append(types.RoleSystem, "You are a coach.", 0, createdAt)
	return sess
}

func TestSessionStoreCreateAndGet(t *testing.T) {
	ctx := context.Background()
	store := NewSessionStore()

	sess := newSession("sess_1", "tenant-a", "user-1", "COACHING:core_values", storeEpoch)
	require.NoError(t, store.Create(ctx, sess))
	assert.Equal(t, int64(1), sess.Version, "create stamps version 1")

	got, err := store.Get(ctx, "tenant-a", "sess_1")
	require.NoError(t, err)
	assert.Equal(t, sess.ID, got.ID)
	assert.Equal(t, session.StatusActive, got.Status)

	// Reads return private copies.
	got.Messages[0].Content = "mutated"
	again, err := store.Get(ctx, "tenant-a", "sess_1")
	require.NoError(t, err)
	assert.Equal(t, "You are a coach.", again.Messages[0].Content)

	_, err = store.Get(ctx, "tenant-a", "sess_missing")
	assert.Equal(t, types.KindSessionNotFound, types.KindOf(err))

	// The same id under another tenant is invisible.
	_, err = store.Get(ctx, "tenant-b", "sess_1")
	assert.Equal(t, types.KindSessionNotFound, types.KindOf(err))
}

func TestSessionStoreCreateConflict(t *testing.T) {
	ctx := context.Background()
	store := NewSessionStore()

	first := newSession("sess_1", "tenant-a", "user-1", "COACHING:core_values", storeEpoch)
	require.NoError(t, store.Create(ctx, first))

	// A second open session for the same (tenant, user, topic) is
	// rejected.
	dup := newSession("sess_2", "tenant-a", "user-1", "COACHING:core_values", storeEpoch.Add(time.Minute))
	err := store.Create(ctx, dup)
	assert.Equal(t, types.KindConcurrentModification, types.KindOf(err))

	// Another user and another topic are both fine.
	other := newSession("sess_3", "tenant-a", "user-2", "COACHING:core_values", storeEpoch)
	assert.NoError(t, store.Create(ctx, other))
	topic := newSession("sess_4", "tenant-a", "user-1", "COACHING:open_reflection", storeEpoch)
	assert.NoError(t, store.Create(ctx, topic))

	// Once the first session terminates, the slot frees up.
	first.Status = session.StatusCancelled
	require.NoError(t, store.Update(ctx, first))
	again := newSession("sess_5", "tenant-a", "user-1", "COACHING:core_values", storeEpoch.Add(time.Hour))
	assert.NoError(t, store.Create(ctx, again))
}

func TestSessionStoreUpdateVersionGuard(t *testing.T) {
	ctx := context.Background()
	store := NewSessionStore()

	sess := newSession("sess_1", "tenant-a", "user-1", "COACHING:core_values", storeEpoch)
	require.NoError(t, store.Create(ctx, sess))

	sess.Turn = 1
	require.NoError(t, store.Update(ctx, sess))
	assert.Equal(t, int64(2), sess.Version, "update advances the caller's version")

	// A writer holding the old version loses.
	stale := sess.Clone()
	stale.Version = 1
	err := store.Update(ctx, stale)
	assert.Equal(t, types.KindConcurrentModification, types.KindOf(err))

	stored, err := store.Get(ctx, "tenant-a", "sess_1")
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Turn)
	assert.Equal(t, int64(2), stored.Version)

	missing := newSession("sess_ghost", "tenant-a", "user-9", "COACHING:core_values", storeEpoch)
	missing.Version = 1
	err = store.Update(ctx, missing)
	assert.Equal(t, types.KindSessionNotFound, types.KindOf(err))
}

func TestSessionStoreFindResumable(t *testing.T) {
	ctx := context.Background()
	store := NewSessionStore()

	_, err := store.FindResumable(ctx, "tenant-a", "COACHING:core_values")
	assert.Equal(t, types.KindSessionNotFound, types.KindOf(err))

	// Two open sessions on the topic from different users: the oldest
	// wins.
	older := newSession("sess_old", "tenant-a", "user-1", "COACHING:core_values", storeEpoch)
	newer := newSession("sess_new", "tenant-a", "user-2", "COACHING:core_values", storeEpoch.Add(time.Minute))
	require.NoError(t, store.Create(ctx, newer))
	require.NoError(t, store.Create(ctx, older))

	found, err := store.FindResumable(ctx, "tenant-a", "COACHING:core_values")
	require.NoError(t, err)
	assert.Equal(t, "sess_old", found.ID)

	// Terminal sessions drop out of the lookup.
	older.Status = session.StatusCompleted
	require.NoError(t, store.Update(ctx, older))
	found, err = store.FindResumable(ctx, "tenant-a", "COACHING:core_values")
	require.NoError(t, err)
	assert.Equal(t, "sess_new", found.ID)

	// Other tenants see nothing.
	_, err = store.FindResumable(ctx, "tenant-b", "COACHING:core_values")
	assert.Equal(t, types.KindSessionNotFound, types.KindOf(err))
}

func TestSessionStoreListSessions(t *testing.T) {
	ctx := context.Background()
	store := NewSessionStore()

	for i, id := range []string{"sess_a", "sess_b", "sess_c"} {
		sess := newSession(id, "tenant-a", "user-"+id, "COACHING:core_values", storeEpoch.Add(time.Duration(i)*time.Minute))
		require.NoError(t, store.Create(ctx, sess))
	}
	other := newSession("sess_d", "tenant-b", "user-d", "COACHING:core_values", storeEpoch)
	require.NoError(t, store.Create(ctx, other))

	listed, err := store.ListSessions(ctx, "tenant-a")
	require.NoError(t, err)
	require.Len(t, listed, 3)
	assert.Equal(t, "sess_c", listed[0].ID, "newest first")
	assert.Equal(t, "sess_a", listed[2].ID)

	empty, err := store.ListSessions(ctx, "tenant-z")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestSessionStorePurger(t *testing.T) {
	ctx := context.Background()
	store := NewSessionStore()

	require.NoError(t, store.Create(ctx, newSession("sess_1", "tenant-a", "user-1", "COACHING:core_values", storeEpoch)))
	require.NoError(t, store.Create(ctx, newSession("sess_2", "tenant-b", "user-2", "COACHING:core_values", storeEpoch)))

	var visited []string
	err := store.ForEachSession(ctx, func(s *session.Session) error {
		visited = append(visited, s.TenantID+"/"+s.ID)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"tenant-a/sess_1", "tenant-b/sess_2"}, visited)

	// Deleting during the walk is allowed.
	err = store.ForEachSession(ctx, func(s *session.Session) error {
		return store.DeleteSession(ctx, s.TenantID, s.ID)
	})
	require.NoError(t, err)
	_, err = store.Get(ctx, "tenant-a", "sess_1")
	assert.Equal(t, types.KindSessionNotFound, types.KindOf(err))

	// Deleting a missing record is not an error.
	assert.NoError(t, store.DeleteSession(ctx, "tenant-a", "sess_1"))

	// A visitor error stops the walk and surfaces.
	require.NoError(t, store.Create(ctx, newSession("sess_3", "tenant-a", "user-1", "COACHING:core_values", storeEpoch)))
	boom := errors.New("boom")
	err = store.ForEachSession(ctx, func(*session.Session) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestConfigStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewConfigStore()

	_, err := store.GetConfig(ctx, "tenant-a", "COACHING:core_values")
	assert.Equal(t, types.KindNotConfigured, types.KindOf(err))

	rec := &runtimeconfig.Record{
		TenantID:           "tenant-a",
		TopicID:            "COACHING:core_values",
		ModelCode:          "coach-primary",
		Temperature:        0.7,
		MaxTokens:          800,
		MaxTurns:           10,
		SessionTTLHours:    24,
		IdleTimeoutMinutes: 15,
		IsActive:           true,
		CreatedAt:          storeEpoch,
		UpdatedAt:          storeEpoch,
	}
	require.NoError(t, store.PutConfig(ctx, rec))

	got, err := store.GetConfig(ctx, "tenant-a", "COACHING:core_values")
	require.NoError(t, err)
	assert.Equal(t, rec, got)

	// Reads return private copies.
	got.ModelCode = "mutated"
	again, err := store.GetConfig(ctx, "tenant-a", "COACHING:core_values")
	require.NoError(t, err)
	assert.Equal(t, "coach-primary", again.ModelCode)

	// Put overwrites wholesale.
	rec.MaxTurns = 5
	require.NoError(t, store.PutConfig(ctx, rec))
	again, err = store.GetConfig(ctx, "tenant-a", "COACHING:core_values")
	require.NoError(t, err)
	assert.Equal(t, 5, again.MaxTurns)
}

func TestConfigStoreListFilters(t *testing.T) {
	ctx := context.Background()
	store := NewConfigStore()

	put := func(topicID string, active bool) {
		t.Helper()
		require.NoError(t, store.PutConfig(ctx, &runtimeconfig.Record{
			TenantID:           "tenant-a",
			TopicID:            topicID,
			ModelCode:          "coach-primary",
			MaxTokens:          800,
			MaxTurns:           10,
			SessionTTLHours:    24,
			IdleTimeoutMinutes: 15,
			IsActive:           active,
		}))
	}
	put("COACHING:core_values", true)
	put("COACHING:open_reflection", false)
	put("COACHING:session_recap", true)

	all, err := store.ListConfigs(ctx, "tenant-a", runtimeconfig.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "COACHING:core_values", all[0].TopicID, "ordered by topic id")

	active, err := store.ListConfigs(ctx, "tenant-a", runtimeconfig.Filter{ActiveOnly: true})
	require.NoError(t, err)
	assert.Len(t, active, 2)

	narrowed, err := store.ListConfigs(ctx, "tenant-a", runtimeconfig.Filter{
		TopicIDs: []string{"COACHING:open_reflection"},
	})
	require.NoError(t, err)
	require.Len(t, narrowed, 1)
	assert.Equal(t, "COACHING:open_reflection", narrowed[0].TopicID)

	none, err := store.ListConfigs(ctx, "tenant-b", runtimeconfig.Filter{})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestBackendLifecycle(t *testing.T) {
	ctx := context.Background()
	backend := NewBackend()

	assert.NotNil(t, backend.Sessions())
	assert.NotNil(t, backend.Configs())
	assert.NoError(t, backend.Migrate(ctx))
	assert.NoError(t, backend.Ping(ctx))
	assert.NoError(t, backend.Close())
}
