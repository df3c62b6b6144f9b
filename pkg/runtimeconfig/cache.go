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
package runtimeconfig

import (
	"context"
	"sync"
	"time"

	"github.com/mottych/PurposePath-AI-sub003/pkg/observability"
)

// CachedStore wraps a Store with an in-memory TTL cache.
//
// Runtime configuration is read on every session operation but changes
// rarely, so a short TTL removes nearly all backend reads. Writes go
// through to the backend and invalidate the affected key, which keeps
// a single process read-your-writes consistent; other processes
// converge within the TTL.
type CachedStore struct {
	underlying Store
	ttl        time.Duration
	tracer     observability.Tracer

	mu      sync.RWMutex
	entries map[string]*configEntry

	hits   uint64
	misses uint64
}

// configEntry is one cached record.
type configEntry struct {
	record    *Record
	expiresAt time.Time
}

// NewCachedStore creates a cached store with the given TTL.
func NewCachedStore(underlying Store, ttl time.Duration, tracer observability.Tracer) *CachedStore {
	if tracer == nil {
		tracer = &observability.NoOpTracer{}
	}
	return &CachedStore{
		underlying: underlying,
		ttl:        ttl,
		tracer:     tracer,
		entries:    make(map[string]*configEntry),
	}
}

func cacheKey(tenantID, topicID string) string {
	return tenantID + "/" + topicID
}

// GetConfig returns the record for (tenant, topic), serving from cache
// when fresh.
func (c *CachedStore) GetConfig(ctx context.Context, tenantID, topicID string) (*Record, error) {
	key := cacheKey(tenantID, topicID)

	c.mu.RLock()
	entry, found := c.entries[key]
	c.mu.RUnlock()

	if found && time.Now().Before(entry.expiresAt) {
		c.mu.Lock()
		c.hits++
		c.mu.Unlock()
		c.tracer.RecordMetric(observability.MetricConfigCacheHits, 1, map[string]string{
			observability.AttrTenantID: tenantID,
			observability.AttrTopicID:  topicID,
		})
		return entry.record.Clone(), nil
	}

	c.mu.Lock()
	c.misses++
	c.mu.Unlock()
	c.tracer.RecordMetric(observability.MetricConfigCacheMisses, 1, map[string]string{
		observability.AttrTenantID: tenantID,
		observability.AttrTopicID:  topicID,
	})

	record, err := c.underlying.GetConfig(ctx, tenantID, topicID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[key] = &configEntry{
		record:    record,
		expiresAt: time.Now().Add(c.ttl),
	}
	c.mu.Unlock()

	return record.Clone(), nil
}

// PutConfig writes through to the backend and invalidates the key.
func (c *CachedStore) PutConfig(ctx context.Context, record *Record) error {
	if err := c.underlying.PutConfig(ctx, record); err != nil {
		return err
	}
	c.InvalidateKey(record.TenantID, record.TopicID)
	return nil
}

// ListConfigs is not cached; listings are an administrative operation.
func (c *CachedStore) ListConfigs(ctx context.Context, tenantID string, filter Filter) ([]*Record, error) {
	return c.underlying.ListConfigs(ctx, tenantID, filter)
}

// Invalidate clears the entire cache.
func (c *CachedStore) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*configEntry)
}

// InvalidateKey clears the cache entry for one (tenant, topic) pair.
func (c *CachedStore) InvalidateKey(tenantID, topicID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, cacheKey(tenantID, topicID))
}

// Stats returns cache hit/miss counters.
func (c *CachedStore) Stats() (hits, misses uint64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hits, c.misses
}
