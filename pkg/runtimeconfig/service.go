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
	"time"

	"github.com/mottych/PurposePath-AI-sub003/pkg/observability"
	"github.com/mottych/PurposePath-AI-sub003/pkg/types"
)

// Service is the administrative surface over a config store. It
// validates writes against the model registry and stamps timestamps;
// reads are delegated as-is.
type Service struct {
	store  Store
	models Models
	tracer observability.Tracer
}

// NewService creates a config service. models may be nil, in which
// case writes are validated structurally only.
func NewService(store Store, models Models, tracer observability.Tracer) *Service {
	if tracer == nil {
		tracer = &observability.NoOpTracer{}
	}
	return &Service{store: store, models: models, tracer: tracer}
}

// Get returns the record for (tenant, topic) or a NotConfigured error.
func (s *Service) Get(ctx context.Context, tenantID, topicID string) (*Record, error) {
	ctx, span := s.tracer.StartSpan(ctx, observability.SpanStoreConfigRead,
		observability.WithAttribute(observability.AttrTenantID, tenantID),
		observability.WithAttribute(observability.AttrTopicID, topicID))
	defer s.tracer.EndSpan(span)

	record, err := s.store.GetConfig(ctx, tenantID, topicID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return record, nil
}

// Put validates and stores a record, preserving the original creation
// time on overwrite. The stored record is returned.
func (s *Service) Put(ctx context.Context, record *Record) (*Record, error) {
	if record == nil {
		return nil, types.NewError(types.KindInvalidArgument, "record is required")
	}

	stored := record.Clone()
	if err := stored.Validate(s.models); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	if existing, err := s.store.GetConfig(ctx, stored.TenantID, stored.TopicID); err == nil {
		stored.CreatedAt = existing.CreatedAt
	}

	if err := s.store.PutConfig(ctx, stored); err != nil {
		return nil, err
	}

	s.tracer.RecordMetric(observability.MetricConfigWrites, 1, map[string]string{
		observability.AttrTenantID: stored.TenantID,
		observability.AttrTopicID:  stored.TopicID,
	})

	return stored.Clone(), nil
}

// List returns the tenant's records, filtered.
func (s *Service) List(ctx context.Context, tenantID string, filter Filter) ([]*Record, error) {
	return s.store.ListConfigs(ctx, tenantID, filter)
}
