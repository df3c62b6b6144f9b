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
	"sort"
	"strings"
	"time"

	"github.com/mottych/PurposePath-AI-sub003/internal/csync"
	"github.com/mottych/PurposePath-AI-sub003/internal/pubsub"
	"github.com/mottych/PurposePath-AI-sub003/pkg/types"
)

// MemoryStore is an in-memory template store. Used in tests and for
// embedded default templates that ship with the binary.
type MemoryStore struct {
	prompts *csync.Map[string, *Prompt]
	broker  *pubsub.Broker[Update]
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		prompts: csync.NewMap[string, *Prompt](),
		broker:  pubsub.NewBroker[Update](),
	}
}

// Put stores a template under ref. The revision counter in Version is
// bumped automatically when the caller leaves it empty.
func (s *MemoryStore) Put(ref, text string) *Prompt {
	p := &Prompt{
		Ref:       ref,
		Text:      text,
		Version:   "1",
		UpdatedAt: time.Now().UTC(),
	}

	action := "created"
	if prev, ok := s.prompts.Get(ref); ok {
		action = "modified"
		p.Version = bumpVersion(prev.Version)
		p.Description = prev.Description
	}
	s.prompts.Set(ref, p)

	s.broker.Publish(pubsub.UpdatedEvent, Update{
		Ref:       ref,
		Version:   p.Version,
		Action:    action,
		Timestamp: p.UpdatedAt,
	})

	return p
}

// Delete removes a template.
func (s *MemoryStore) Delete(ref string) {
	s.prompts.Delete(ref)
	s.broker.Publish(pubsub.DeletedEvent, Update{
		Ref:       ref,
		Action:    "deleted",
		Timestamp: time.Now().UTC(),
	})
}

// Get retrieves a template by reference.
func (s *MemoryStore) Get(ctx context.Context, ref string) (*Prompt, error) {
	prompt, ok := s.prompts.Get(ref)
	if !ok {
		return nil, types.NewError(types.KindNotFound, "prompt not found: "+ref)
	}
	p := *prompt
	return &p, nil
}

// GetBatch retrieves several templates at once. Any missing reference
// fails the whole batch.
func (s *MemoryStore) GetBatch(ctx context.Context, refs []string) (map[string]*Prompt, error) {
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
func (s *MemoryStore) List(ctx context.Context, prefix string) ([]string, error) {
	var refs []string
	for ref := range s.prompts.Seq2() {
		if prefix == "" || strings.HasPrefix(ref, prefix) {
			refs = append(refs, ref)
		}
	}
	sort.Strings(refs)
	return refs, nil
}

// Reload is a no-op for the in-memory store.
func (s *MemoryStore) Reload(ctx context.Context) error {
	return nil
}

// Watch returns a channel of update notifications for Put and Delete.
func (s *MemoryStore) Watch(ctx context.Context) (<-chan Update, error) {
	events := s.broker.Subscribe(ctx)

	ch := make(chan Update, 10)
	go func() {
		defer close(ch)
		for ev := range events {
			ch <- ev.Payload
		}
	}()

	return ch, nil
}

// bumpVersion increments a numeric revision, falling back to appending
// when the previous version was not a plain counter.
func bumpVersion(prev string) string {
	var n int
	if _, err := fmt.Sscanf(prev, "%d", &n); err == nil {
		return fmt.Sprintf("%d", n+1)
	}
	return prev + "+1"
}
