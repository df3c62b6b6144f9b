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

// Package llm dispatches rendered message sequences to LLM backends.
//
// The Gateway is the single entry point for callers: it resolves an
// engine-level model code through the Registry, bounds in-flight calls
// per provider, retries transient failures once with backoff, and
// falls back to an optional secondary model before surfacing
// ProviderUnavailable. Provider adapters (anthropic, bedrock, openai)
// normalize wire-level failures into the shared error taxonomy so the
// gateway can branch on kinds instead of message text.
package llm

import (
	"context"
	"fmt"

	"github.com/mottych/PurposePath-AI-sub003/pkg/types"
)

// Request is a single provider dispatch: a message sequence plus
// sampling parameters. By the time an adapter sees the request, Model
// carries the provider-specific model identifier; Gateway callers use
// engine-level model codes instead and never build a Request directly.
type Request struct {
	// Messages is the full conversation to send, in order. System
	// messages may appear anywhere; adapters that need a separate
	// system field extract them.
	Messages []types.Message

	// Model is the provider-specific model identifier.
	Model string

	// Temperature is the sampling temperature. Bounds are enforced
	// upstream against the registry entry; adapters pass it through.
	Temperature float64

	// MaxTokens caps the assistant output.
	MaxTokens int
}

// Validate checks the request shape before it reaches the wire.
func (r Request) Validate() error {
	if len(r.Messages) == 0 {
		return types.NewError(types.KindInvalidArgument, "dispatch requires at least one message")
	}
	if r.Model == "" {
		return types.NewError(types.KindInvalidArgument, "dispatch requires a model identifier")
	}
	if r.MaxTokens < 1 {
		return types.NewError(types.KindInvalidArgument,
			fmt.Sprintf("max tokens must be >= 1, got %d", r.MaxTokens))
	}
	return nil
}

// Provider is the adapter port for one concrete LLM backend.
//
// Complete returns the full assistant response; streaming is not part
// of the contract. Implementations must honor ctx cancellation and
// normalize failures into *types.Error values: ProviderRejected for
// non-retryable failures (invalid request, content policy, auth) and
// ProviderUnavailable for transient ones (network, rate limit, 5xx).
// Errors of any other shape are treated as transient by the gateway.
type Provider interface {
	// Complete sends the request and blocks until the full response
	// arrives or ctx is done.
	Complete(ctx context.Context, req Request) (*types.Completion, error)

	// Name returns the provider tag registry entries reference
	// ("anthropic", "bedrock", "openai").
	Name() string
}
