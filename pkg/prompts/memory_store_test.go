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
	"reflect"
	"testing"
	"time"

	"github.com/mottych/PurposePath-AI-sub003/pkg/types"
)

func TestMemoryStore_PutGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	store.Put("a/system", "first")
	p, err := store.Get(ctx, "a/system")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if p.Text != "first" || p.Version != "1" {
		t.Errorf("Get() = %q v%s, want first v1", p.Text, p.Version)
	}

	// Updating bumps the revision.
	store.Put("a/system", "second")
	p, err = store.Get(ctx, "a/system")
	if err != nil {
		t.Fatal(err)
	}
	if p.Text != "second" || p.Version != "2" {
		t.Errorf("Get() = %q v%s, want second v2", p.Text, p.Version)
	}
}

func TestMemoryStore_Delete(t *testing.T) {
	store := NewMemoryStore()
	store.Put("a/system", "text")
	store.Delete("a/system")

	_, err := store.Get(context.Background(), "a/system")
	if !types.IsKind(err, types.KindNotFound) {
		t.Errorf("Get() after delete: kind = %v, want not_found", types.KindOf(err))
	}
}

func TestMemoryStore_List(t *testing.T) {
	store := NewMemoryStore()
	store.Put("coaching/a/system", "A")
	store.Put("coaching/b/system", "B")
	store.Put("other/system", "O")

	refs, err := store.List(context.Background(), "coaching/")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"coaching/a/system", "coaching/b/system"}
	if !reflect.DeepEqual(refs, want) {
		t.Errorf("List() = %v, want %v", refs, want)
	}
}

func TestMemoryStore_Watch(t *testing.T) {
	store := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates, err := store.Watch(ctx)
	if err != nil {
		t.Fatal(err)
	}

	store.Put("a/system", "text")

	select {
	case update := <-updates:
		if update.Ref != "a/system" || update.Action != "created" {
			t.Errorf("update = %+v, want created a/system", update)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for created update")
	}

	store.Put("a/system", "text 2")
	select {
	case update := <-updates:
		if update.Action != "modified" {
			t.Errorf("update.Action = %q, want modified", update.Action)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for modified update")
	}

	store.Delete("a/system")
	select {
	case update := <-updates:
		if update.Action != "deleted" {
			t.Errorf("update.Action = %q, want deleted", update.Action)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for deleted update")
	}
}

func TestBumpVersion(t *testing.T) {
	tests := []struct {
		prev string
		want string
	}{
		{"1", "2"},
		{"41", "42"},
		{"1.2.0", "2"}, // Sscanf reads the leading integer
	}
	for _, tt := range tests {
		if got := bumpVersion(tt.prev); got != tt.want {
			t.Errorf("bumpVersion(%q) = %q, want %q", tt.prev, got, tt.want)
		}
	}
}
