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
	"sort"

	"github.com/mottych/PurposePath-AI-sub003/pkg/types"
)

// TieredStore layers template stores in priority order: lookups try
// each tier front to back and the first hit wins. The serve path uses
// it to let an operator's prompt directory override the embedded
// defaults without touching them.
type TieredStore struct {
	tiers []Store
}

// NewTieredStore builds a store over the given tiers, highest priority
// first. At least one tier is required.
func NewTieredStore(tiers ...Store) *TieredStore {
	if len(tiers) == 0 {
		panic("prompts: tiered store needs at least one tier")
	}
	return &TieredStore{tiers: tiers}
}

// Get returns the template from the highest-priority tier that has it.
func (s *TieredStore) Get(ctx context.Context, ref string) (*Prompt, error) {
	var lastErr error
	for _, tier := range s.tiers {
		p, err := tier.Get(ctx, ref)
		if err == nil {
			return p, nil
		}
		if !types.IsKind(err, types.KindNotFound) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// GetBatch resolves each reference independently so a batch may mix
// overridden and default templates. Any missing reference fails the
// whole batch.
func (s *TieredStore) GetBatch(ctx context.Context, refs []string) (map[string]*Prompt, error) {
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

// List merges references across tiers, deduplicated and sorted.
func (s *TieredStore) List(ctx context.Context, prefix string) ([]string, error) {
	seen := make(map[string]struct{})
	for _, tier := range s.tiers {
		refs, err := tier.List(ctx, prefix)
		if err != nil {
			return nil, err
		}
		for _, ref := range refs {
			seen[ref] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for ref := range seen {
		out = append(out, ref)
	}
	sort.Strings(out)
	return out, nil
}

// Reload reloads every tier. The first failure aborts so the caller
// never serves a half-refreshed set.
func (s *TieredStore) Reload(ctx context.Context) error {
	for _, tier := range s.tiers {
		if err := tier.Reload(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Watch fans in update notifications from all tiers. The channel
// closes when ctx is cancelled.
func (s *TieredStore) Watch(ctx context.Context) (<-chan Update, error) {
	out := make(chan Update, 10)
	for _, tier := range s.tiers {
		updates, err := tier.Watch(ctx)
		if err != nil {
			return nil, err
		}
		go func() {
			for u := range updates {
				select {
				case out <- u:
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	return out, nil
}
