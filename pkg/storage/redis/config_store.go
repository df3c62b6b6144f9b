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

package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	goredis "github.com/redis/go-redis/v9"

	"github.com/mottych/PurposePath-AI-sub003/pkg/observability"
	"github.com/mottych/PurposePath-AI-sub003/pkg/runtimeconfig"
)

func configKey(tenantID, topicID string) string {
	return fmt.Sprintf("coach:%s:config:%s", tenantID, topicID)
}

func configIndexKey(tenantID string) string {
	return fmt.Sprintf("coach:%s:configs", tenantID)
}

// ConfigStore persists runtime configuration records as JSON values
// keyed by (tenant, topic). Configuration never expires.
type ConfigStore struct {
	rdb    *goredis.Client
	tracer observability.Tracer
}

// NewConfigStore creates a configuration store over the shared client.
func NewConfigStore(rdb *goredis.Client, tracer observability.Tracer) *ConfigStore {
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	return &ConfigStore{rdb: rdb, tracer: tracer}
}

// GetConfig returns the record for (tenant, topic) or NotConfigured.
func (s *ConfigStore) GetConfig(ctx context.Context, tenantID, topicID string) (*runtimeconfig.Record, error) {
	ctx, span := s.tracer.StartSpan(ctx, "redis_config_store.get_config")
	defer s.tracer.EndSpan(span)
	span.SetAttribute("topic_id", topicID)

	data, err := s.rdb.Get(ctx, configKey(tenantID, topicID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, runtimeconfig.NotConfiguredError(tenantID, topicID)
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	var rec runtimeconfig.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to unmarshal config record: %w", err)
	}
	return &rec, nil
}

// PutConfig stores the record, overwriting any previous one.
func (s *ConfigStore) PutConfig(ctx context.Context, record *runtimeconfig.Record) error {
	ctx, span := s.tracer.StartSpan(ctx, "redis_config_store.put_config")
	defer s.tracer.EndSpan(span)
	span.SetAttribute("topic_id", record.TopicID)

	data, err := json.Marshal(record)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to marshal config record: %w", err)
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, configKey(record.TenantID, record.TopicID), data, 0)
		pipe.SAdd(ctx, configIndexKey(record.TenantID), record.TopicID)
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to store config: %w", err)
	}
	return nil
}

// ListConfigs returns the tenant's records, filtered, ordered by
// topic id. Index members whose record is gone are removed on the way.
func (s *ConfigStore) ListConfigs(ctx context.Context, tenantID string, filter runtimeconfig.Filter) ([]*runtimeconfig.Record, error) {
	ctx, span := s.tracer.StartSpan(ctx, "redis_config_store.list_configs")
	defer s.tracer.EndSpan(span)

	indexKey := configIndexKey(tenantID)
	topicIDs, err := s.rdb.SMembers(ctx, indexKey).Result()
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to read config index: %w", err)
	}
	if len(topicIDs) == 0 {
		return nil, nil
	}
	sort.Strings(topicIDs)

	keys := make([]string, len(topicIDs))
	for i, topicID := range topicIDs {
		keys[i] = configKey(tenantID, topicID)
	}
	values, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to load configs: %w", err)
	}

	var (
		out      []*runtimeconfig.Record
		dangling []interface{}
	)
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			dangling = append(dangling, topicIDs[i])
			continue
		}
		var rec runtimeconfig.Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to unmarshal config record: %w", err)
		}
		if filter.Matches(&rec) {
			out = append(out, &rec)
		}
	}
	if len(dangling) > 0 {
		_ = s.rdb.SRem(ctx, indexKey, dangling...).Err()
	}

	span.SetAttribute("count", len(out))
	return out, nil
}

// Compile-time check.
var _ runtimeconfig.Store = (*ConfigStore)(nil)
