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
	"sync"
	"time"

	"github.com/mottych/PurposePath-AI-sub003/pkg/observability"
)

// CachedStore wraps a Store with an in-memory TTL cache.
//
// This reduces load on the underlying store (file I/O, database reads)
// for templates fetched on every session turn.
//
// Example:
//
//	fileStore := prompts.NewFileStore("./prompts")
//	cached := prompts.NewCachedStore(fileStore, 5*time.Minute, tracer)
//
//	// First call: cache miss, loads from file
//	p1, _ := cached.Get(ctx, "coaching/core_values/system")
//
//	// Second call: cache hit, instant
//	p2, _ := cached.Get(ctx, "coaching/core_values/system")
type CachedStore struct {
	underlying Store
	ttl        time.Duration
	tracer     observability.Tracer

	mu      sync.RWMutex
	entries map[string]*cacheEntry

	// Metrics
	hits   uint64
	misses uint64
}

// cacheEntry is one cached template.
type cacheEntry struct {
	prompt    *Prompt
	expiresAt time.Time
}

// NewCachedStore creates a cached store with the given TTL.
//
// A typical TTL is 5-10 minutes for production, or 1 minute for
// development with frequent prompt changes.
func NewCachedStore(underlying Store, ttl time.Duration, tracer observability.Tracer) *CachedStore {
	if tracer == nil {
		tracer = &observability.NoOpTracer{}
	}
	return &CachedStore{
		underlying: underlying,
		ttl:        ttl,
		tracer:     tracer,
		entries:    make(map[string]*cacheEntry),
	}
}

// Get retrieves a template, serving from cache when fresh.
func (c *CachedStore) Get(ctx context.Context, ref string) (*Prompt, error) {
	c.mu.RLock()
	entry, found := c.entries[ref]
	c.mu.RUnlock()

	if found && time.Now().Before(entry.expiresAt) {
		c.mu.Lock()
		c.hits++
		c.mu.Unlock()
		c.tracer.RecordMetric(observability.MetricPromptCacheHits, 1, map[string]string{
			observability.AttrPromptRef: ref,
		})

		p := *entry.prompt
		return &p, nil
	}

	c.mu.Lock()
	c.misses++
	c.mu.Unlock()
	c.tracer.RecordMetric(observability.MetricPromptCacheMisses, 1, map[string]string{
		observability.AttrPromptRef: ref,
	})

	prompt, err := c.underlying.Get(ctx, ref)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[ref] = &cacheEntry{
		prompt:    prompt,
		expiresAt: time.Now().Add(c.ttl),
	}
	c.mu.Unlock()

	p := *prompt
	return &p, nil
}

// GetBatch retrieves several templates at once, each served from cache
// when fresh. Any missing reference fails the whole batch.
func (c *CachedStore) GetBatch(ctx context.Context, refs []string) (map[string]*Prompt, error) {
	out := make(map[string]*Prompt, len(refs))
	for _, ref := range refs {
		p, err := c.Get(ctx, ref)
		if err != nil {
			return nil, err
		}
		out[ref] = p
	}
	return out, nil
}

// List is not cached; listings are an administrative operation.
func (c *CachedStore) List(ctx context.Context, prefix string) ([]string, error) {
	return c.underlying.List(ctx, prefix)
}

// Reload reloads the underlying store and clears the cache.
func (c *CachedStore) Reload(ctx context.Context) error {
	if err := c.underlying.Reload(ctx); err != nil {
		return err
	}
	c.Invalidate()
	return nil
}

// Watch forwards update notifications from the underlying store.
// Updates automatically invalidate the affected cache entry.
func (c *CachedStore) Watch(ctx context.Context) (<-chan Update, error) {
	updates, err := c.underlying.Watch(ctx)
	if err != nil {
		return nil, err
	}

	forward := make(chan Update)

	go func() {
		defer close(forward)

		for {
			select {
			case <-ctx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					return
				}

				c.InvalidateRef(update.Ref)

				select {
				case forward <- update:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return forward, nil
}

// Invalidate clears the entire cache.
func (c *CachedStore) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*cacheEntry)
}

// InvalidateRef clears the cache entry for one template.
func (c *CachedStore) InvalidateRef(ref string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, ref)
}

// Stats returns cache hit/miss counters.
func (c *CachedStore) Stats() (hits, misses uint64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hits, c.misses
}

// ResetStats resets hit/miss counters to zero.
func (c *CachedStore) ResetStats() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hits = 0
	c.misses = 0
}
