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

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mottych/PurposePath-AI-sub003/pkg/observability"
	"github.com/mottych/PurposePath-AI-sub003/pkg/runtimeconfig"
)

// ConfigStore persists runtime configuration records in the
// topic_configs table.
type ConfigStore struct {
	db     *sql.DB
	tracer observability.Tracer
	mu     sync.Mutex
}

// NewConfigStore creates a configuration store over the shared handle.
func NewConfigStore(db *sql.DB, tracer observability.Tracer) *ConfigStore {
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	return &ConfigStore{db: db, tracer: tracer}
}

const configColumns = `tenant_id, topic_id, model_code, fallback_model_code, temperature,
	max_tokens, max_turns, session_ttl_hours, idle_timeout_minutes,
	extraction_model_code, is_active, created_at, updated_at`

// GetConfig returns the record for (tenant, topic) or NotConfigured.
func (s *ConfigStore) GetConfig(ctx context.Context, tenantID, topicID string) (*runtimeconfig.Record, error) {
	ctx, span := s.tracer.StartSpan(ctx, "sqlite_config_store.get_config")
	defer s.tracer.EndSpan(span)
	span.SetAttribute("topic_id", topicID)

	row := s.db.QueryRowContext(ctx,
		"SELECT "+configColumns+" FROM topic_configs WHERE tenant_id = ? AND topic_id = ?",
		tenantID, topicID)

	rec, err := scanConfig(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, runtimeconfig.NotConfiguredError(tenantID, topicID)
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return rec, nil
}

// PutConfig stores the record, overwriting any previous one.
func (s *ConfigStore) PutConfig(ctx context.Context, record *runtimeconfig.Record) error {
	ctx, span := s.tracer.StartSpan(ctx, "sqlite_config_store.put_config")
	defer s.tracer.EndSpan(span)
	span.SetAttribute("topic_id", record.TopicID)

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO topic_configs (`+configColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, topic_id) DO UPDATE SET
			model_code = excluded.model_code,
			fallback_model_code = excluded.fallback_model_code,
			temperature = excluded.temperature,
			max_tokens = excluded.max_tokens,
			max_turns = excluded.max_turns,
			session_ttl_hours = excluded.session_ttl_hours,
			idle_timeout_minutes = excluded.idle_timeout_minutes,
			extraction_model_code = excluded.extraction_model_code,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at`,
		record.TenantID, record.TopicID, record.ModelCode,
		nullableString(record.FallbackModelCode), record.Temperature,
		record.MaxTokens, record.MaxTurns, record.SessionTTLHours, record.IdleTimeoutMinutes,
		nullableString(record.ExtractionModelCode), record.IsActive,
		record.CreatedAt.UnixNano(), record.UpdatedAt.UnixNano(),
	)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to store config: %w", err)
	}
	return nil
}

// ListConfigs returns the tenant's records, filtered, ordered by
// topic id.
func (s *ConfigStore) ListConfigs(ctx context.Context, tenantID string, filter runtimeconfig.Filter) ([]*runtimeconfig.Record, error) {
	ctx, span := s.tracer.StartSpan(ctx, "sqlite_config_store.list_configs")
	defer s.tracer.EndSpan(span)

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+configColumns+" FROM topic_configs WHERE tenant_id = ? ORDER BY topic_id ASC",
		tenantID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list configs: %w", err)
	}
	defer rows.Close()

	var out []*runtimeconfig.Record
	for rows.Next() {
		rec, err := scanConfig(rows)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to scan config row: %w", err)
		}
		if filter.Matches(rec) {
			out = append(out, rec)
		}
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to iterate configs: %w", err)
	}
	span.SetAttribute("count", len(out))
	return out, nil
}

func scanConfig(row rowScanner) (*runtimeconfig.Record, error) {
	var (
		rec        runtimeconfig.Record
		fallback   sql.NullString
		extraction sql.NullString
		createdNs  int64
		updatedNs  int64
	)

	err := row.Scan(
		&rec.TenantID, &rec.TopicID, &rec.ModelCode, &fallback, &rec.Temperature,
		&rec.MaxTokens, &rec.MaxTurns, &rec.SessionTTLHours, &rec.IdleTimeoutMinutes,
		&extraction, &rec.IsActive, &createdNs, &updatedNs,
	)
	if err != nil {
		return nil, err
	}

	rec.FallbackModelCode = fallback.String
	rec.ExtractionModelCode = extraction.String
	rec.CreatedAt = time.Unix(0, createdNs).UTC()
	rec.UpdatedAt = time.Unix(0, updatedNs).UTC()
	return &rec, nil
}

// Compile-time check.
var _ runtimeconfig.Store = (*ConfigStore)(nil)
