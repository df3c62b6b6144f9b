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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mottych/PurposePath-AI-sub003/pkg/types"
)

// memStore is a map-backed Store for tests, with a read counter so
// cache tests can observe backend traffic.
type memStore struct {
	mu   sync.Mutex
	recs map[string]*Record
	gets int
}

func newMemStore() *memStore {
	return &memStore{recs: make(map[string]*Record)}
}

func (m *memStore) GetConfig(_ context.Context, tenantID, topicID string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	rec, ok := m.recs[tenantID+"/"+topicID]
	if !ok {
		return nil, NotConfiguredError(tenantID, topicID)
	}
	return rec.Clone(), nil
}

func (m *memStore) PutConfig(_ context.Context, record *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs[record.TenantID+"/"+record.TopicID] = record.Clone()
	return nil
}

func (m *memStore) ListConfigs(_ context.Context, tenantID string, filter Filter) ([]*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Record
	for _, rec := range m.recs {
		if rec.TenantID != tenantID {
			continue
		}
		if filter.Matches(rec) {
			out = append(out, rec.Clone())
		}
	}
	return out, nil
}

func (m *memStore) getCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gets
}

// staticModels implements Models over a fixed code set.
type staticModels struct {
	active map[string]bool
	min    float64
	max    float64
}

func testModels() *staticModels {
	return &staticModels{
		active: map[string]bool{
			"sonnet-4":  true,
			"haiku-3.5": true,
			"gpt-4o":    false,
		},
		min: 0.0,
		max: 1.0,
	}
}

func (m *staticModels) CheckModel(code string) error {
	active, ok := m.active[code]
	if !ok {
		return types.NewError(types.KindModelUnavailable, "unknown model: "+code)
	}
	if !active {
		return types.NewError(types.KindModelUnavailable, "model is inactive: "+code)
	}
	return nil
}

func (m *staticModels) TemperatureBounds(string) (float64, float64) {
	return m.min, m.max
}

func validRecord() *Record {
	return &Record{
		TenantID:           "tenant-a",
		TopicID:            "COACHING:core_values",
		ModelCode:          "sonnet-4",
		Temperature:        0.7,
		MaxTokens:          2048,
		MaxTurns:           5,
		SessionTTLHours:    72,
		IdleTimeoutMinutes: 30,
		IsActive:           true,
	}
}

func TestRecord_Validate(t *testing.T) {
	models := testModels()

	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, validRecord().Validate(models))
	})

	t.Run("valid with extraction override", func(t *testing.T) {
		rec := validRecord()
		rec.ExtractionModelCode = "haiku-3.5"
		assert.NoError(t, rec.Validate(models))
	})

	structural := []struct {
		name   string
		mutate func(*Record)
	}{
		{"missing tenant", func(r *Record) { r.TenantID = "" }},
		{"missing topic", func(r *Record) { r.TopicID = "" }},
		{"missing model", func(r *Record) { r.ModelCode = "" }},
		{"zero max turns", func(r *Record) { r.MaxTurns = 0 }},
		{"negative max turns", func(r *Record) { r.MaxTurns = -1 }},
		{"zero max tokens", func(r *Record) { r.MaxTokens = 0 }},
		{"zero ttl", func(r *Record) { r.SessionTTLHours = 0 }},
		{"negative ttl", func(r *Record) { r.SessionTTLHours = -4 }},
		{"zero idle timeout", func(r *Record) { r.IdleTimeoutMinutes = 0 }},
	}
	for _, tc := range structural {
		t.Run(tc.name, func(t *testing.T) {
			rec := validRecord()
			tc.mutate(rec)
			err := rec.Validate(models)
			require.Error(t, err)
			assert.True(t, types.IsKind(err, types.KindInvalidArgument))
		})
	}

	t.Run("unknown model", func(t *testing.T) {
		rec := validRecord()
		rec.ModelCode = "nonexistent"
		err := rec.Validate(models)
		require.Error(t, err)
		assert.True(t, types.IsKind(err, types.KindInvalidArgument))
		assert.Contains(t, err.Error(), "nonexistent")
	})

	t.Run("inactive model", func(t *testing.T) {
		rec := validRecord()
		rec.ModelCode = "gpt-4o"
		err := rec.Validate(models)
		require.Error(t, err)
		assert.True(t, types.IsKind(err, types.KindInvalidArgument))
	})

	t.Run("unknown extraction model", func(t *testing.T) {
		rec := validRecord()
		rec.ExtractionModelCode = "nonexistent"
		err := rec.Validate(models)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "nonexistent")
	})

	t.Run("temperature above bounds", func(t *testing.T) {
		rec := validRecord()
		rec.Temperature = 1.5
		err := rec.Validate(models)
		require.Error(t, err)
		assert.True(t, types.IsKind(err, types.KindInvalidArgument))
		assert.Contains(t, err.Error(), "temperature")
	})

	t.Run("temperature below bounds", func(t *testing.T) {
		rec := validRecord()
		rec.Temperature = -0.1
		assert.Error(t, rec.Validate(models))
	})

	t.Run("nil models skips registry checks", func(t *testing.T) {
		rec := validRecord()
		rec.ModelCode = "nonexistent"
		rec.Temperature = 99
		assert.NoError(t, rec.Validate(nil))
	})
}

func TestFilter_Matches(t *testing.T) {
	active := validRecord()
	inactive := validRecord()
	inactive.TopicID = "COACHING:open_reflection"
	inactive.IsActive = false

	assert.True(t, Filter{}.Matches(active))
	assert.True(t, Filter{}.Matches(inactive))

	assert.True(t, Filter{ActiveOnly: true}.Matches(active))
	assert.False(t, Filter{ActiveOnly: true}.Matches(inactive))

	byTopic := Filter{TopicIDs: []string{"COACHING:open_reflection"}}
	assert.False(t, byTopic.Matches(active))
	assert.True(t, byTopic.Matches(inactive))

	both := Filter{ActiveOnly: true, TopicIDs: []string{"COACHING:open_reflection"}}
	assert.False(t, both.Matches(inactive))
}

func TestRecord_Durations(t *testing.T) {
	rec := validRecord()
	assert.Equal(t, "72h0m0s", rec.TTL().String())
	assert.Equal(t, "30m0s", rec.IdleTimeout().String())
}

func TestRecord_CloneIsolation(t *testing.T) {
	rec := validRecord()
	clone := rec.Clone()
	clone.ModelCode = "haiku-3.5"
	assert.Equal(t, "sonnet-4", rec.ModelCode)
}
