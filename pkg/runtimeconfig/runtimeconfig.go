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

// Package runtimeconfig stores how a topic is executed per tenant:
// model choice, sampling, turn and time budgets, active flag.
//
// Topic identity and shape live in the topics package and change
// through deployment; runtime configuration is data, written by the
// admin surface and read on every session operation.
package runtimeconfig

import (
	"context"
	"fmt"
	"time"

	"github.com/mottych/PurposePath-AI-sub003/pkg/types"
)

// Record is the effective runtime configuration for one (tenant,
// topic) pair.
type Record struct {
	TenantID string `json:"tenant_id"`
	TopicID  string `json:"topic_id"`

	// ModelCode names a model registry entry used for session turns.
	ModelCode string `json:"model_code"`

	// FallbackModelCode optionally names a second model the gateway
	// tries when the primary fails with a transient error.
	FallbackModelCode string `json:"fallback_model_code,omitempty"`

	// Temperature is the sampling temperature for session turns; the
	// provider's declared bounds apply.
	Temperature float64 `json:"temperature"`

	// MaxTokens caps the assistant output per turn.
	MaxTokens int `json:"max_tokens"`

	// MaxTurns bounds the session length; the initiation response
	// counts as turn one.
	MaxTurns int `json:"max_turns"`

	// SessionTTLHours sets how long a session stays resumable after
	// its last activity.
	SessionTTLHours int `json:"session_ttl_hours"`

	// IdleTimeoutMinutes sets how long a returning user is treated as
	// continuing rather than re-engaging: resumes within the window
	// skip the resume prompt.
	IdleTimeoutMinutes int `json:"idle_timeout_minutes"`

	// ExtractionModelCode optionally overrides the model for the
	// extraction call, e.g. a cheaper model.
	ExtractionModelCode string `json:"extraction_model_code,omitempty"`

	// IsActive gates session initiation for this topic and tenant.
	IsActive bool `json:"is_active"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a copy of the record.
func (r *Record) Clone() *Record {
	c := *r
	return &c
}

// Models is the slice of the model registry that configuration
// validation needs.
type Models interface {
	// CheckModel returns an error when code is unknown or inactive.
	CheckModel(code string) error

	// TemperatureBounds returns the sampling bounds for code's
	// provider.
	TemperatureBounds(code string) (min, max float64)
}

// Validate checks the record invariants. Model references are checked
// when models is non-nil; stores that cannot reach the model registry
// validate structure only.
func (r *Record) Validate(models Models) error {
	if r.TenantID == "" {
		return types.NewError(types.KindInvalidArgument, "tenant id is required")
	}
	if r.TopicID == "" {
		return types.NewError(types.KindInvalidArgument, "topic id is required")
	}
	if r.ModelCode == "" {
		return types.NewError(types.KindInvalidArgument, "model code is required").WithTopic(r.TopicID)
	}
	if r.MaxTurns < 1 {
		return types.NewError(types.KindInvalidArgument,
			fmt.Sprintf("max turns must be >= 1, got %d", r.MaxTurns)).WithTopic(r.TopicID)
	}
	if r.MaxTokens < 1 {
		return types.NewError(types.KindInvalidArgument,
			fmt.Sprintf("max tokens must be >= 1, got %d", r.MaxTokens)).WithTopic(r.TopicID)
	}
	if r.SessionTTLHours <= 0 {
		return types.NewError(types.KindInvalidArgument,
			fmt.Sprintf("session ttl must be > 0 hours, got %d", r.SessionTTLHours)).WithTopic(r.TopicID)
	}
	if r.IdleTimeoutMinutes <= 0 {
		return types.NewError(types.KindInvalidArgument,
			fmt.Sprintf("idle timeout must be > 0 minutes, got %d", r.IdleTimeoutMinutes)).WithTopic(r.TopicID)
	}

	if models == nil {
		return nil
	}

	for _, code := range r.modelCodes() {
		if err := models.CheckModel(code); err != nil {
			return types.Wrap(types.KindInvalidArgument, err,
				"configuration references an unusable model: "+code).WithTopic(r.TopicID)
		}
	}

	min, max := models.TemperatureBounds(r.ModelCode)
	if r.Temperature < min || r.Temperature > max {
		return types.NewError(types.KindInvalidArgument,
			fmt.Sprintf("temperature %.2f outside provider bounds [%.2f, %.2f]",
				r.Temperature, min, max)).WithTopic(r.TopicID)
	}

	return nil
}

// modelCodes returns every model code the record references.
func (r *Record) modelCodes() []string {
	codes := []string{r.ModelCode}
	for _, code := range []string{r.FallbackModelCode, r.ExtractionModelCode} {
		if code != "" && code != r.ModelCode {
			codes = append(codes, code)
		}
	}
	return codes
}

// TTL returns the session time-to-live as a duration.
func (r *Record) TTL() time.Duration {
	return time.Duration(r.SessionTTLHours) * time.Hour
}

// IdleTimeout returns the idle window as a duration.
func (r *Record) IdleTimeout() time.Duration {
	return time.Duration(r.IdleTimeoutMinutes) * time.Minute
}

// Filter narrows administrative listings.
type Filter struct {
	// ActiveOnly restricts to records with IsActive set.
	ActiveOnly bool

	// TopicIDs restricts to the given topics. Kind filters are
	// expressed this way: the caller derives the topic id set for a
	// kind from the topic registry.
	TopicIDs []string
}

// Matches reports whether the record passes the filter.
func (f Filter) Matches(r *Record) bool {
	if f.ActiveOnly && !r.IsActive {
		return false
	}
	if len(f.TopicIDs) > 0 {
		found := false
		for _, id := range f.TopicIDs {
			if id == r.TopicID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Store is the persistence port for runtime configuration records.
// Implementations must scope every operation by tenant.
type Store interface {
	// GetConfig returns the record for (tenant, topic) or an error of
	// kind NotConfigured.
	GetConfig(ctx context.Context, tenantID, topicID string) (*Record, error)

	// PutConfig stores the record, overwriting any previous one.
	PutConfig(ctx context.Context, record *Record) error

	// ListConfigs returns the tenant's records, filtered.
	ListConfigs(ctx context.Context, tenantID string, filter Filter) ([]*Record, error)
}

// NotConfiguredError builds the canonical error for a missing record.
func NotConfiguredError(tenantID, topicID string) *types.Error {
	return types.NewError(types.KindNotConfigured,
		fmt.Sprintf("no runtime configuration for topic %s in tenant %s", topicID, tenantID)).
		WithTopic(topicID)
}
