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

package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mottych/PurposePath-AI-sub003/internal/pgxdriver"
	"github.com/mottych/PurposePath-AI-sub003/pkg/observability"
	"github.com/mottych/PurposePath-AI-sub003/pkg/runtimeconfig"
)

// ConfigStore persists runtime configuration records in the
// topic_configs table.
type ConfigStore struct {
	pool   *pgxpool.Pool
	tracer observability.Tracer
}

// NewConfigStore creates a configuration store over the shared pool.
func NewConfigStore(pool *pgxpool.Pool, tracer observability.Tracer) *ConfigStore {
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	return &ConfigStore{pool: pool, tracer: tracer}
}

const configColumns = `tenant_id, topic_id, model_code, fallback_model_code, temperature,
	max_tokens, max_turns, session_ttl_hours, idle_timeout_minutes,
	extraction_model_code, is_active, created_at, updated_at`

// GetConfig returns the record for (tenant, topic) or NotConfigured.
func (s *ConfigStore) GetConfig(ctx context.Context, tenantID, topicID string) (*runtimeconfig.Record, error) {
	ctx, span := s.tracer.StartSpan(ctx, "pg_config_store.get_config")
	defer s.tracer.EndSpan(span)
	span.SetAttribute("topic_id", topicID)

	var rec *runtimeconfig.Record
	err := pgxdriver.WithTenant(ctx, s.pool, tenantID, func(ctx context.Context, tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			"SELECT "+configColumns+" FROM topic_configs WHERE tenant_id = $1 AND topic_id = $2",
			tenantID, topicID)
		got, err := scanConfig(row)
		if err != nil {
			return err
		}
		rec = got
		return nil
	})
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, runtimeconfig.NotConfiguredError(tenantID, topicID)
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return rec, nil
}

// PutConfig stores the record, overwriting any previous one.
func (s *ConfigStore) PutConfig(ctx context.Context, record *runtimeconfig.Record) error {
	ctx, span := s.tracer.StartSpan(ctx, "pg_config_store.put_config")
	defer s.tracer.EndSpan(span)
	span.SetAttribute("topic_id", record.TopicID)

	err := pgxdriver.WithTenant(ctx, s.pool, record.TenantID, func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO topic_configs (`+configColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			ON CONFLICT (tenant_id, topic_id) DO UPDATE SET
				model_code = EXCLUDED.model_code,
				fallback_model_code = EXCLUDED.fallback_model_code,
				temperature = EXCLUDED.temperature,
				max_tokens = EXCLUDED.max_tokens,
				max_turns = EXCLUDED.max_turns,
				session_ttl_hours = EXCLUDED.session_ttl_hours,
				idle_timeout_minutes = EXCLUDED.idle_timeout_minutes,
				extraction_model_code = EXCLUDED.extraction_model_code,
				is_active = EXCLUDED.is_active,
				updated_at = EXCLUDED.updated_at`,
			record.TenantID, record.TopicID, record.ModelCode,
			nullableString(record.FallbackModelCode), record.Temperature,
			record.MaxTokens, record.MaxTurns, record.SessionTTLHours, record.IdleTimeoutMinutes,
			nullableString(record.ExtractionModelCode), record.IsActive,
			record.CreatedAt, record.UpdatedAt,
		)
		return err
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to store config: %w", err)
	}
	return nil
}

// ListConfigs returns the tenant's records, filtered, ordered by
// topic id.
func (s *ConfigStore) ListConfigs(ctx context.Context, tenantID string, filter runtimeconfig.Filter) ([]*runtimeconfig.Record, error) {
	ctx, span := s.tracer.StartSpan(ctx, "pg_config_store.list_configs")
	defer s.tracer.EndSpan(span)

	var out []*runtimeconfig.Record
	err := pgxdriver.WithTenant(ctx, s.pool, tenantID, func(ctx context.Context, tx pgx.Tx) error {
		rows, err := tx.Query(ctx,
			"SELECT "+configColumns+" FROM topic_configs WHERE tenant_id = $1 ORDER BY topic_id ASC",
			tenantID)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			rec, err := scanConfig(rows)
			if err != nil {
				return fmt.Errorf("failed to scan config row: %w", err)
			}
			if filter.Matches(rec) {
				out = append(out, rec)
			}
		}
		return rows.Err()
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list configs: %w", err)
	}
	span.SetAttribute("count", len(out))
	return out, nil
}

func scanConfig(row rowScanner) (*runtimeconfig.Record, error) {
	var (
		rec        runtimeconfig.Record
		fallback   *string
		extraction *string
	)

	err := row.Scan(
		&rec.TenantID, &rec.TopicID, &rec.ModelCode, &fallback, &rec.Temperature,
		&rec.MaxTokens, &rec.MaxTurns, &rec.SessionTTLHours, &rec.IdleTimeoutMinutes,
		&extraction, &rec.IsActive, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if fallback != nil {
		rec.FallbackModelCode = *fallback
	}
	if extraction != nil {
		rec.ExtractionModelCode = *extraction
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return &rec, nil
}

// Compile-time check.
var _ runtimeconfig.Store = (*ConfigStore)(nil)
