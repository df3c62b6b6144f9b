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
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/mottych/PurposePath-AI-sub003/pkg/types"
)

// FileStore loads prompt templates from markdown files in a directory.
//
// Directory structure:
//
//	prompts/
//	  coaching/
//	    core_values/
//	      system.md      # Ref: "coaching/core_values/system"
//	      initiation.md  # Ref: "coaching/core_values/initiation"
//
// File format (YAML frontmatter, then the template body):
//
//	---
//	version: 1.2.0
//	description: System prompt for the core values discovery topic
//	---
//	You are a reflective coach guiding {{user_name}}...
type FileStore struct {
	rootDir string
	mu      sync.RWMutex
	prompts map[string]*Prompt // ref -> prompt
}

// fileMeta is the YAML frontmatter of a template file.
type fileMeta struct {
	Version     string    `yaml:"version"`
	Description string    `yaml:"description"`
	UpdatedAt   time.Time `yaml:"updated_at"`
}

// NewFileStore creates a file-backed template store rooted at rootDir.
// Call Reload before first use.
//
// Example:
//
//	store := prompts.NewFileStore("./prompts")
//	if err := store.Reload(ctx); err != nil {
//	    log.Fatal(err)
//	}
func NewFileStore(rootDir string) *FileStore {
	return &FileStore{
		rootDir: rootDir,
		prompts: make(map[string]*Prompt),
	}
}

// Get retrieves a template by reference.
func (s *FileStore) Get(ctx context.Context, ref string) (*Prompt, error) {
	s.mu.RLock()
	prompt, ok := s.prompts[ref]
	s.mu.RUnlock()

	if !ok {
		return nil, types.NewError(types.KindNotFound, "prompt not found: "+ref)
	}

	// Return a copy so callers cannot mutate the cached entry.
	p := *prompt
	return &p, nil
}

// GetBatch retrieves several templates at once. Any missing reference
// fails the whole batch.
func (s *FileStore) GetBatch(ctx context.Context, refs []string) (map[string]*Prompt, error) {
	out := make(map[string]*Prompt, len(refs))
	for _, ref := range refs {
		p, err := s.Get(ctx, ref)
		if err != nil {
			return nil, err
		}
		out[ref] = p
	}
	return out, nil
}

// List returns all references with the given prefix, sorted. An empty
// prefix lists everything.
func (s *FileStore) List(ctx context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var refs []string
	for ref := range s.prompts {
		if prefix != "" && !strings.HasPrefix(ref, prefix) {
			continue
		}
		refs = append(refs, ref)
	}
	sort.Strings(refs)

	return refs, nil
}

// Reload re-reads all templates from the filesystem.
func (s *FileStore) Reload(ctx context.Context) error {
	newPrompts := make(map[string]*Prompt)

	err := filepath.Walk(s.rootDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if filepath.Ext(path) != ".md" {
			return nil
		}

		prompt, err := s.loadFile(path, info)
		if err != nil {
			return fmt.Errorf("failed to load %s: %w", path, err)
		}
		newPrompts[prompt.Ref] = prompt

		return nil
	})

	if err != nil {
		return fmt.Errorf("failed to reload prompts: %w", err)
	}

	// Atomically replace the prompt map
	s.mu.Lock()
	s.prompts = newPrompts
	s.mu.Unlock()

	return nil
}

// Watch returns a channel that receives updates when template files
// change. Uses fsnotify to watch the prompt directory tree.
func (s *FileStore) Watch(ctx context.Context) (<-chan Update, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	// Add root directory and all subdirectories
	if err := s.watchDirectory(watcher, s.rootDir); err != nil {
		watcher.Close()
		return nil, err
	}

	ch := make(chan Update, 10)

	go func() {
		defer watcher.Close()
		defer close(ch)

		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}

				if !strings.HasSuffix(event.Name, ".md") {
					continue
				}

				if event.Op&fsnotify.Write == fsnotify.Write {
					s.handleFileChange(ch, event.Name, "modified")
				} else if event.Op&fsnotify.Create == fsnotify.Create {
					s.handleFileChange(ch, event.Name, "created")
				} else if event.Op&fsnotify.Remove == fsnotify.Remove {
					s.handleFileChange(ch, event.Name, "deleted")
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				ch <- Update{
					Action: "error",
					Error:  err,
				}
			}
		}
	}()

	return ch, nil
}

// watchDirectory recursively adds directories to the watcher.
func (s *FileStore) watchDirectory(watcher *fsnotify.Watcher, dir string) error {
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch directory %s: %w", dir, err)
	}

	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() && path != dir {
			if err := watcher.Add(path); err != nil {
				return fmt.Errorf("failed to watch directory %s: %w", path, err)
			}
		}
		return nil
	})
}

// handleFileChange reloads from disk and sends an update notification.
func (s *FileStore) handleFileChange(ch chan<- Update, path string, action string) {
	ref := s.refFromPath(path)

	if err := s.Reload(context.Background()); err != nil {
		ch <- Update{
			Ref:    ref,
			Action: "error",
			Error:  fmt.Errorf("failed to reload prompts: %w", err),
		}
		return
	}

	s.mu.RLock()
	version := ""
	if p, ok := s.prompts[ref]; ok {
		version = p.Version
	}
	s.mu.RUnlock()

	ch <- Update{
		Ref:       ref,
		Version:   version,
		Action:    action,
		Timestamp: time.Now(),
	}
}

// refFromPath converts a file path to a template reference.
// Example: "prompts/coaching/core_values/system.md" -> "coaching/core_values/system"
func (s *FileStore) refFromPath(path string) string {
	relPath, err := filepath.Rel(s.rootDir, path)
	if err != nil {
		relPath = filepath.Base(path)
	}

	relPath = strings.TrimSuffix(relPath, ".md")

	// References always use forward slashes regardless of platform.
	return filepath.ToSlash(relPath)
}

// loadFile loads a single template file.
func (s *FileStore) loadFile(path string, info os.FileInfo) (*Prompt, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	meta, text, err := parseTemplate(data)
	if err != nil {
		return nil, err
	}

	updatedAt := meta.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = info.ModTime()
	}

	return &Prompt{
		Ref:         s.refFromPath(path),
		Text:        text,
		Version:     meta.Version,
		Description: meta.Description,
		UpdatedAt:   updatedAt,
	}, nil
}

// parseTemplate splits a template file into YAML frontmatter and body.
func parseTemplate(data []byte) (fileMeta, string, error) {
	var meta fileMeta

	// Frontmatter is delimited by --- markers
	parts := strings.SplitN(string(data), "---", 3)
	if len(parts) < 3 {
		return meta, "", fmt.Errorf("invalid format: expected YAML frontmatter with --- separator")
	}

	if err := yaml.Unmarshal([]byte(parts[1]), &meta); err != nil {
		return meta, "", fmt.Errorf("failed to parse metadata: %w", err)
	}

	return meta, strings.TrimSpace(parts[2]), nil
}
