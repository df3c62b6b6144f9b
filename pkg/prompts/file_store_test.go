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
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/mottych/PurposePath-AI-sub003/pkg/types"
)

func writePromptFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestFileStore_LoadAndGet(t *testing.T) {
	tmpDir := t.TempDir()

	content := `---
version: 1.2.0
description: System prompt for core values discovery
---
You are a reflective coach guiding {{user_name}} through {{topic_focus}}.`

	writePromptFile(t, tmpDir, "coaching/core_values/system.md", content)

	store := NewFileStore(tmpDir)
	ctx := context.Background()

	if err := store.Reload(ctx); err != nil {
		t.Fatalf("Reload() failed: %v", err)
	}

	prompt, err := store.Get(ctx, "coaching/core_values/system")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}

	if prompt.Ref != "coaching/core_values/system" {
		t.Errorf("Ref = %q, want %q", prompt.Ref, "coaching/core_values/system")
	}
	if prompt.Version != "1.2.0" {
		t.Errorf("Version = %q, want %q", prompt.Version, "1.2.0")
	}
	if prompt.Description != "System prompt for core values discovery" {
		t.Errorf("Description = %q", prompt.Description)
	}
	want := "You are a reflective coach guiding {{user_name}} through {{topic_focus}}."
	if prompt.Text != want {
		t.Errorf("Text =\n%q\nwant\n%q", prompt.Text, want)
	}
}

func TestFileStore_NotFound(t *testing.T) {
	tmpDir := t.TempDir()
	store := NewFileStore(tmpDir)
	ctx := context.Background()

	if err := store.Reload(ctx); err != nil {
		t.Fatalf("Reload() failed: %v", err)
	}

	_, err := store.Get(ctx, "does/not/exist")
	if err == nil {
		t.Fatal("Get() expected error for unknown ref")
	}
	if !types.IsKind(err, types.KindNotFound) {
		t.Errorf("Get() error kind = %v, want not_found", types.KindOf(err))
	}
}

func TestFileStore_InvalidFrontmatter(t *testing.T) {
	tmpDir := t.TempDir()
	writePromptFile(t, tmpDir, "broken.md", "no frontmatter at all")

	store := NewFileStore(tmpDir)
	if err := store.Reload(context.Background()); err == nil {
		t.Fatal("Reload() expected error for file without frontmatter")
	}
}

func TestFileStore_GetBatch(t *testing.T) {
	tmpDir := t.TempDir()
	writePromptFile(t, tmpDir, "a/system.md", "---\nversion: \"1\"\n---\nA system")
	writePromptFile(t, tmpDir, "a/initiation.md", "---\nversion: \"1\"\n---\nA initiation")

	store := NewFileStore(tmpDir)
	ctx := context.Background()
	if err := store.Reload(ctx); err != nil {
		t.Fatal(err)
	}

	batch, err := store.GetBatch(ctx, []string{"a/system", "a/initiation"})
	if err != nil {
		t.Fatalf("GetBatch() failed: %v", err)
	}
	if len(batch) != 2 {
		t.Fatalf("GetBatch() returned %d prompts, want 2", len(batch))
	}
	if batch["a/system"].Text != "A system" {
		t.Errorf("batch[a/system].Text = %q", batch["a/system"].Text)
	}

	// A single missing ref fails the whole batch.
	_, err = store.GetBatch(ctx, []string{"a/system", "a/missing"})
	if err == nil {
		t.Fatal("GetBatch() expected error when one ref is missing")
	}
	if !types.IsKind(err, types.KindNotFound) {
		t.Errorf("GetBatch() error kind = %v, want not_found", types.KindOf(err))
	}
}

func TestFileStore_List(t *testing.T) {
	tmpDir := t.TempDir()
	writePromptFile(t, tmpDir, "coaching/core_values/system.md", "---\n---\nS")
	writePromptFile(t, tmpDir, "coaching/core_values/initiation.md", "---\n---\nI")
	writePromptFile(t, tmpDir, "coaching/career/system.md", "---\n---\nC")

	store := NewFileStore(tmpDir)
	ctx := context.Background()
	if err := store.Reload(ctx); err != nil {
		t.Fatal(err)
	}

	all, err := store.List(ctx, "")
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	wantAll := []string{
		"coaching/career/system",
		"coaching/core_values/initiation",
		"coaching/core_values/system",
	}
	if !reflect.DeepEqual(all, wantAll) {
		t.Errorf("List(\"\") = %v, want %v", all, wantAll)
	}

	filtered, err := store.List(ctx, "coaching/core_values/")
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(filtered) != 2 {
		t.Errorf("List(prefix) = %v, want 2 refs", filtered)
	}
}

func TestFileStore_Reload(t *testing.T) {
	tmpDir := t.TempDir()
	writePromptFile(t, tmpDir, "greeting.md", "---\nversion: \"1\"\n---\nHello")

	store := NewFileStore(tmpDir)
	ctx := context.Background()
	if err := store.Reload(ctx); err != nil {
		t.Fatal(err)
	}

	p, err := store.Get(ctx, "greeting")
	if err != nil {
		t.Fatal(err)
	}
	if p.Text != "Hello" {
		t.Errorf("Text = %q, want Hello", p.Text)
	}

	writePromptFile(t, tmpDir, "greeting.md", "---\nversion: \"2\"\n---\nGoodbye")
	if err := store.Reload(ctx); err != nil {
		t.Fatal(err)
	}

	p, err = store.Get(ctx, "greeting")
	if err != nil {
		t.Fatal(err)
	}
	if p.Text != "Goodbye" {
		t.Errorf("Text after reload = %q, want Goodbye", p.Text)
	}
	if p.Version != "2" {
		t.Errorf("Version after reload = %q, want 2", p.Version)
	}
}

func TestFileStore_IgnoresNonMarkdown(t *testing.T) {
	tmpDir := t.TempDir()
	writePromptFile(t, tmpDir, "real.md", "---\n---\nReal")
	writePromptFile(t, tmpDir, "notes.txt", "not a prompt")
	writePromptFile(t, tmpDir, "config.yaml", "key: value")

	store := NewFileStore(tmpDir)
	ctx := context.Background()
	if err := store.Reload(ctx); err != nil {
		t.Fatal(err)
	}

	refs, err := store.List(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(refs) != 1 || refs[0] != "real" {
		t.Errorf("List() = %v, want [real]", refs)
	}
}

func TestFileStore_Watch(t *testing.T) {
	tmpDir := t.TempDir()
	writePromptFile(t, tmpDir, "watched.md", "---\nversion: \"1\"\n---\nBefore")

	store := NewFileStore(tmpDir)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := store.Reload(ctx); err != nil {
		t.Fatal(err)
	}

	updates, err := store.Watch(ctx)
	if err != nil {
		t.Fatalf("Watch() failed: %v", err)
	}

	writePromptFile(t, tmpDir, "watched.md", "---\nversion: \"2\"\n---\nAfter")

	select {
	case update := <-updates:
		if update.Error != nil {
			t.Fatalf("unexpected watch error: %v", update.Error)
		}
		if update.Ref != "watched" {
			t.Errorf("update.Ref = %q, want watched", update.Ref)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for watch update")
	}

	// The store already reflects the change by the time the update fires.
	p, err := store.Get(ctx, "watched")
	if err != nil {
		t.Fatal(err)
	}
	if p.Text != "After" {
		t.Errorf("Text = %q, want After", p.Text)
	}
}
