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
	"io/fs"
	"sort"
	"strings"
	"sync"

	"github.com/mottych/PurposePath-AI-sub003/pkg/types"
)

// FSStore loads templates from an fs.FS, typically the embedded
// defaults compiled into the binary. The same markdown-with-frontmatter
// format as FileStore applies. The backing FS is immutable, so Watch
// never fires.
type FSStore struct {
	fsys fs.FS

	mu      sync.RWMutex
	prompts map[string]*Prompt
}

// NewFSStore creates a store over fsys and loads it eagerly.
func NewFSStore(fsys fs.FS) (*FSStore, error) {
	s := &FSStore{
		fsys:    fsys,
		prompts: make(map[string]*Prompt),
	}
	if err := s.Reload(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

// Get retrieves a template by reference.
func (s *FSStore) Get(ctx context.Context, ref string) (*Prompt, error) {
	s.mu.RLock()
	prompt, ok := s.prompts[ref]
	s.mu.RUnlock()

	if !ok {
		return nil, types.NewError(types.KindNotFound, "prompt not found: "+ref)
	}
	p := *prompt
	return &p, nil
}

// GetBatch retrieves several templates at once. Any missing reference
// fails the whole batch.
func (s *FSStore) GetBatch(ctx context.Context, refs []string) (map[string]*Prompt, error) {
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

// List returns all references with the given prefix, sorted.
func (s *FSStore) List(ctx context.Context, prefix string) ([]string, error) {
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

// Reload re-walks the FS. Embedded content never changes at runtime,
// so this only matters for tests that swap the FS.
func (s *FSStore) Reload(ctx context.Context) error {
	newPrompts := make(map[string]*Prompt)

	err := fs.WalkDir(s.fsys, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".md") {
			return nil
		}

		data, err := fs.ReadFile(s.fsys, path)
		if err != nil {
			return err
		}
		meta, text, err := parseTemplate(data)
		if err != nil {
			return fmt.Errorf("failed to load %s: %w", path, err)
		}

		ref := strings.TrimSuffix(path, ".md")
		newPrompts[ref] = &Prompt{
			Ref:         ref,
			Text:        text,
			Version:     meta.Version,
			Description: meta.Description,
			UpdatedAt:   meta.UpdatedAt,
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to load embedded prompts: %w", err)
	}

	s.mu.Lock()
	s.prompts = newPrompts
	s.mu.Unlock()

	return nil
}

// Watch returns a channel that closes with the context and never
// receives updates.
func (s *FSStore) Watch(ctx context.Context) (<-chan Update, error) {
	ch := make(chan Update)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}
