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

// Package prompts provides prompt template storage and rendering.
//
// Topic templates (system, initiation, resume, extraction) are
// externalized behind the Store interface. This enables:
//   - Version control (track prompt changes)
//   - Hot-reload (update prompts without restarts)
//   - Admin-managed prompt text decoupled from topic code
//
// Example usage:
//
//	store := prompts.NewFileStore("./prompts")
//	renderer := prompts.NewRenderer(store, nil, tracer)
//	text, err := renderer.RenderRef(ctx, "coaching/core_values/system", params, bag)
package prompts

import (
	"context"
	"time"

	"github.com/mottych/PurposePath-AI-sub003/pkg/types"
)

// Prompt is one stored template: raw text plus metadata.
type Prompt struct {
	// Ref is the opaque reference topics use to name the template.
	// File-backed stores map it to a relative path, e.g.
	// "coaching/core_values/system".
	Ref string

	// Text is the raw template body with {{name}} placeholders.
	Text string

	// Version is the admin-assigned revision, e.g. "1.2.0".
	Version string

	// Description of what this template does.
	Description string

	// UpdatedAt is when the template was last written.
	UpdatedAt time.Time
}

// Update represents a change notification for a stored prompt.
// Sent via Watch() channel when prompts are updated.
type Update struct {
	Ref       string
	Version   string
	Action    string // "created", "modified", "deleted", "error"
	Timestamp time.Time
	Error     error // Set if Action is "error"
}

// Store loads prompt templates by reference.
//
// Implementations can load from files, object stores, databases, etc.
// The renderer does not assume the backing store is immutable; cached
// wrappers bound staleness with a TTL and honor Watch notifications.
type Store interface {
	// Get retrieves a template by reference.
	Get(ctx context.Context, ref string) (*Prompt, error)

	// GetBatch retrieves several templates at once. Missing references
	// fail the whole batch so callers never assemble a partial prompt
	// set.
	GetBatch(ctx context.Context, refs []string) (map[string]*Prompt, error)

	// List returns all references with the given prefix ("" for all).
	List(ctx context.Context, prefix string) ([]string, error)

	// Reload re-reads templates from the source.
	Reload(ctx context.Context) error

	// Watch returns a channel that receives updates when templates
	// change. Used for hot-reload and cache invalidation.
	Watch(ctx context.Context) (<-chan Update, error)
}

// Parameter declares one substitutable template parameter: the contract
// a topic exposes to its callers.
type Parameter struct {
	// Name is the placeholder name, matched against {{name}}.
	Name string

	// Kind is the declared value kind; caller values are checked
	// against it before substitution.
	Kind types.ParamKind

	// Required parameters fail rendering when unresolved or null.
	Required bool

	// Description for the administrative surface.
	Description string

	// Default is used when neither the caller bag nor a resolver
	// produced a value.
	Default interface{}

	// Resolver names a registered resolver hook consulted when the
	// caller bag has no value. Empty means no hook.
	Resolver string
}

// ResolverFunc produces a parameter value from surrounding services.
// Hooks must be idempotent, side-effect-free observers; the caller
// identity is read from the context.
type ResolverFunc func(ctx context.Context) (interface{}, error)
