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
package prompts

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mottych/PurposePath-AI-sub003/pkg/types"
)

func TestTieredStore_OverrideWins(t *testing.T) {
	defaults := NewMemoryStore()
	defaults.Put("coaching/system", "default system prompt")
	defaults.Put("coaching/initiation", "default initiation prompt")

	overrides := NewMemoryStore()
	overrides.Put("coaching/system", "custom system prompt")

	store := NewTieredStore(overrides, defaults)

	p, err := store.Get(context.Background(), "coaching/system")
	require.NoError(t, err)
	assert.Equal(t, "custom system prompt", p.Text)

	p, err = store.Get(context.Background(), "coaching/initiation")
	require.NoError(t, err)
	assert.Equal(t, "default initiation prompt", p.Text, "unoverridden refs fall through")
}

func TestTieredStore_MissingEverywhere(t *testing.T) {
	store := NewTieredStore(NewMemoryStore(), NewMemoryStore())

	_, err := store.Get(context.Background(), "coaching/absent")
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindNotFound))
}

func TestTieredStore_BatchMixesTiers(t *testing.T) {
	defaults := NewMemoryStore()
	defaults.Put("a", "default a")
	defaults.Put("b", "default b")
	overrides := NewMemoryStore()
	overrides.Put("b", "custom b")

	store := NewTieredStore(overrides, defaults)

	batch, err := store.GetBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, "default a", batch["a"].Text)
	assert.Equal(t, "custom b", batch["b"].Text)

	_, err = store.GetBatch(context.Background(), []string{"a", "missing"})
	assert.Error(t, err, "one missing ref fails the whole batch")
}

func TestTieredStore_ListMergesAndDedupes(t *testing.T) {
	defaults := NewMemoryStore()
	defaults.Put("coaching/system", "x")
	defaults.Put("coaching/resume", "x")
	overrides := NewMemoryStore()
	overrides.Put("coaching/system", "y")

	store := NewTieredStore(overrides, defaults)

	refs, err := store.List(context.Background(), "coaching/")
	require.NoError(t, err)
	assert.Equal(t, []string{"coaching/resume", "coaching/system"}, refs)
}

func TestTieredStore_WatchFansIn(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	defaults := NewMemoryStore()
	overrides := NewMemoryStore()
	store := NewTieredStore(overrides, defaults)

	updates, err := store.Watch(ctx)
	require.NoError(t, err)

	overrides.Put("coaching/system", "v1")
	u := <-updates
	assert.Equal(t, "coaching/system", u.Ref)

	defaults.Put("coaching/resume", "v1")
	u = <-updates
	assert.Equal(t, "coaching/resume", u.Ref)
}
