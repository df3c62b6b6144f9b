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
package llm

import (
	"fmt"
	"sort"
	"sync"

	"github.com/mottych/PurposePath-AI-sub003/pkg/types"
)

// Capability flags what a model supports. Entries declare capabilities
// so callers can filter; the engine itself only requires chat.
type Capability string

const (
	CapabilityChat            Capability = "chat"
	CapabilityStreaming       Capability = "streaming"
	CapabilityFunctionCalling Capability = "function_calling"
)

// Entry describes one dispatchable model: the engine-level code that
// runtime configuration references, the provider adapter that serves
// it, and the identifier that provider expects on the wire.
type Entry struct {
	// Code is the engine-level model code, unique across the registry.
	Code string

	// Provider is the adapter tag the gateway routes this entry to. It
	// must match the Name() of a wired-in provider.
	Provider string

	// ProviderModel is the provider-specific model identifier.
	ProviderModel string

	// Capabilities the model supports.
	Capabilities []Capability

	// Active gates dispatch. Inactive entries stay listed for admin
	// reads but resolve to ModelUnavailable.
	Active bool

	// MinTemperature and MaxTemperature are the provider-declared
	// sampling bounds, enforced when runtime configuration is written.
	MinTemperature float64
	MaxTemperature float64

	// InputCostPerMTok and OutputCostPerMTok price a million tokens in
	// USD. Zero means unpriced; Cost then reports zero.
	InputCostPerMTok  float64
	OutputCostPerMTok float64
}

// HasCapability reports whether the entry declares the capability.
func (e Entry) HasCapability(c Capability) bool {
	for _, have := range e.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// Cost computes the USD cost of a usage record at this entry's rates.
func (e Entry) Cost(usage types.Usage) float64 {
	inputCost := float64(usage.InputTokens) * e.InputCostPerMTok / 1_000_000
	outputCost := float64(usage.OutputTokens) * e.OutputCostPerMTok / 1_000_000
	return inputCost + outputCost
}

// Registry maps engine model codes to provider entries. Entries are
// registered at startup and read on every dispatch and configuration
// write; lookups are safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

// DefaultRegistry builds a registry preloaded with the builtin model
// catalog.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, e := range DefaultEntries() {
		// Builtin entries are well formed; Register only rejects
		// duplicates and empty fields.
		if err := r.Register(e); err != nil {
			panic(fmt.Sprintf("builtin model catalog is invalid: %v", err))
		}
	}
	return r
}

// Register adds an entry. Codes are unique; re-registering a code is
// an error so deployments cannot silently shadow a model.
func (r *Registry) Register(e Entry) error {
	if e.Code == "" {
		return types.NewError(types.KindInvalidArgument, "model entry requires a code")
	}
	if e.Provider == "" {
		return types.Errorf(types.KindInvalidArgument, "model %s requires a provider tag", e.Code)
	}
	if e.ProviderModel == "" {
		return types.Errorf(types.KindInvalidArgument, "model %s requires a provider model identifier", e.Code)
	}
	if e.MaxTemperature < e.MinTemperature {
		return types.Errorf(types.KindInvalidArgument,
			"model %s declares inverted temperature bounds [%.2f, %.2f]",
			e.Code, e.MinTemperature, e.MaxTemperature)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[e.Code]; exists {
		return types.Errorf(types.KindInvalidArgument, "model code %s is already registered", e.Code)
	}
	r.entries[e.Code] = e
	return nil
}

// Resolve returns the entry for a dispatchable model code. Unknown and
// inactive codes both fail with ModelUnavailable; the gateway fails
// fast on this before touching any provider.
func (r *Registry) Resolve(code string) (Entry, error) {
	r.mu.RLock()
	e, ok := r.entries[code]
	r.mu.RUnlock()

	if !ok {
		return Entry{}, types.Errorf(types.KindModelUnavailable, "unknown model code %s", code)
	}
	if !e.Active {
		return Entry{}, types.Errorf(types.KindModelUnavailable, "model %s is inactive", code)
	}
	return e, nil
}

// Get returns the entry regardless of its active flag, for admin
// reads. The second result reports existence.
func (r *Registry) Get(code string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[code]
	return e, ok
}

// List returns all entries sorted by code.
func (r *Registry) List() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// CheckModel reports whether the code resolves to an active entry.
// Satisfies the model slice the runtimeconfig package validates
// against.
func (r *Registry) CheckModel(code string) error {
	_, err := r.Resolve(code)
	return err
}

// TemperatureBounds returns the sampling bounds for the code's entry.
// Unknown codes report the widest bounds seen in practice so structural
// validation can still proceed; CheckModel rejects the code itself.
func (r *Registry) TemperatureBounds(code string) (min, max float64) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if e, ok := r.entries[code]; ok {
		return e.MinTemperature, e.MaxTemperature
	}
	return 0.0, 2.0
}

// DefaultEntries returns the builtin model catalog. Pricing follows
// published provider rates; deployments override the catalog through
// Register at startup.
func DefaultEntries() []Entry {
	chat := []Capability{CapabilityChat, CapabilityStreaming, CapabilityFunctionCalling}

	return []Entry{
		{
			Code:              "sonnet-4",
			Provider:          "anthropic",
			ProviderModel:     "claude-sonnet-4-5-20250929",
			Capabilities:      chat,
			Active:            true,
			MinTemperature:    0.0,
			MaxTemperature:    1.0,
			InputCostPerMTok:  3.0,
			OutputCostPerMTok: 15.0,
		},
		{
			Code:              "haiku-4",
			Provider:          "anthropic",
			ProviderModel:     "claude-haiku-4-5-20251001",
			Capabilities:      chat,
			Active:            true,
			MinTemperature:    0.0,
			MaxTemperature:    1.0,
			InputCostPerMTok:  0.8,
			OutputCostPerMTok: 4.0,
		},
		{
			Code:              "opus-4",
			Provider:          "anthropic",
			ProviderModel:     "claude-opus-4-1-20250805",
			Capabilities:      chat,
			Active:            true,
			MinTemperature:    0.0,
			MaxTemperature:    1.0,
			InputCostPerMTok:  15.0,
			OutputCostPerMTok: 75.0,
		},
		{
			Code:              "bedrock-sonnet-4",
			Provider:          "bedrock",
			ProviderModel:     "us.anthropic.claude-sonnet-4-5-20250929-v1:0",
			Capabilities:      chat,
			Active:            true,
			MinTemperature:    0.0,
			MaxTemperature:    1.0,
			InputCostPerMTok:  3.0,
			OutputCostPerMTok: 15.0,
		},
		{
			Code:              "bedrock-haiku-4",
			Provider:          "bedrock",
			ProviderModel:     "us.anthropic.claude-haiku-4-5-20251001-v1:0",
			Capabilities:      chat,
			Active:            true,
			MinTemperature:    0.0,
			MaxTemperature:    1.0,
			InputCostPerMTok:  0.8,
			OutputCostPerMTok: 4.0,
		},
		{
			Code:              "gpt-4.1",
			Provider:          "openai",
			ProviderModel:     "gpt-4.1",
			Capabilities:      chat,
			Active:            true,
			MinTemperature:    0.0,
			MaxTemperature:    2.0,
			InputCostPerMTok:  2.0,
			OutputCostPerMTok: 8.0,
		},
		{
			Code:              "gpt-4o",
			Provider:          "openai",
			ProviderModel:     "gpt-4o",
			Capabilities:      chat,
			Active:            true,
			MinTemperature:    0.0,
			MaxTemperature:    2.0,
			InputCostPerMTok:  2.5,
			OutputCostPerMTok: 10.0,
		},
		{
			Code:              "gpt-4o-mini",
			Provider:          "openai",
			ProviderModel:     "gpt-4o-mini",
			Capabilities:      chat,
			Active:            true,
			MinTemperature:    0.0,
			MaxTemperature:    2.0,
			InputCostPerMTok:  0.15,
			OutputCostPerMTok: 0.6,
		},
	}
}
