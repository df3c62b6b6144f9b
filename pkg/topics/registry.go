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
package topics

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/mottych/PurposePath-AI-sub003/pkg/prompts"
	"github.com/mottych/PurposePath-AI-sub003/pkg/types"
)

// Registry is the process-wide topic catalog. Registrations are
// append-only within a process lifetime; lookups are read-only and
// cheap. Constructed once at startup and threaded explicitly, never a
// package-level singleton.
type Registry struct {
	store prompts.Store

	mu    sync.RWMutex
	defs  map[string]*Definition
	order []string
}

// NewRegistry creates an empty registry. Template references are
// resolved against store at registration time so that placeholder
// mismatches fail at startup, not mid-session.
func NewRegistry(store prompts.Store) *Registry {
	return &Registry{
		store: store,
		defs:  make(map[string]*Definition),
	}
}

// Register adds a topic definition.
//
// Fails with DuplicateTopic when the identifier is already present and
// with InvalidTemplateRefs when a template reference does not resolve
// or contains a placeholder outside the declared parameter set. The
// placeholder check is eager: render time never discovers an
// undeclared placeholder for a registered topic.
func (r *Registry) Register(ctx context.Context, def *Definition) error {
	if err := validateDefinition(def); err != nil {
		return err
	}
	if err := r.checkTemplates(ctx, def); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.defs[def.ID]; exists {
		return types.NewError(types.KindDuplicateTopic,
			"topic already registered: "+def.ID).WithTopic(def.ID)
	}

	r.defs[def.ID] = def.clone()
	r.order = append(r.order, def.ID)
	return nil
}

// MustRegister panics on registration failure. For builtin catalog
// wiring at startup, where a failure is a programming error.
func (r *Registry) MustRegister(ctx context.Context, def *Definition) {
	if err := r.Register(ctx, def); err != nil {
		panic(fmt.Sprintf("topic registration failed: %v", err))
	}
}

// Lookup returns the definition for id. The returned definition is
// shared and must be treated as immutable.
func (r *Registry) Lookup(id string) (*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.defs[id]
	if !ok {
		return nil, types.NewError(types.KindNotFound,
			"topic not found: "+id).WithTopic(id)
	}
	return def, nil
}

// ListConversationTopics returns conversation-kind definitions in
// registration order. Informational, for the administrative surface.
func (r *Registry) ListConversationTopics() []*Definition {
	return r.listKind(Conversation)
}

// ListSingleShotTopics returns single-shot definitions in registration
// order. Informational, for the administrative surface.
func (r *Registry) ListSingleShotTopics() []*Definition {
	return r.listKind(SingleShot)
}

// ListAll returns every definition in registration order.
func (r *Registry) ListAll() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Definition, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.defs[id])
	}
	return out
}

// Len reports the number of registered topics.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.defs)
}

func (r *Registry) listKind(kind Kind) []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Definition
	for _, id := range r.order {
		if def := r.defs[id]; def.Kind == kind {
			out = append(out, def)
		}
	}
	return out
}

// validateDefinition checks the definition's own shape, independent of
// the template store.
func validateDefinition(def *Definition) error {
	if def == nil || def.ID == "" {
		return types.NewError(types.KindInvalidArgument, "topic id is required")
	}
	if !ValidKind(def.Kind) {
		return types.NewError(types.KindInvalidArgument,
			fmt.Sprintf("invalid topic kind %q", def.Kind)).WithTopic(def.ID)
	}

	seen := make(map[string]bool, len(def.Parameters))
	for _, p := range def.Parameters {
		if p.Name == "" {
			return types.NewError(types.KindInvalidArgument,
				"parameter name is required").WithTopic(def.ID)
		}
		if seen[p.Name] {
			return types.NewError(types.KindInvalidArgument,
				"duplicate parameter name: "+p.Name).WithTopic(def.ID).WithParameter(p.Name)
		}
		seen[p.Name] = true
		if !types.ValidParamKind(p.Kind) {
			return types.NewError(types.KindInvalidArgument,
				fmt.Sprintf("parameter %s has invalid kind %q", p.Name, p.Kind)).
				WithTopic(def.ID).WithParameter(p.Name)
		}
	}

	if def.Kind == Conversation {
		if _, ok := def.Templates[RoleSystem]; !ok {
			return types.NewError(types.KindInvalidArgument,
				"conversation topic requires a System template").WithTopic(def.ID)
		}
		if _, ok := def.Templates[RoleInitiation]; !ok {
			return types.NewError(types.KindInvalidArgument,
				"conversation topic requires an Initiation template").WithTopic(def.ID)
		}
		if def.ResultSchema == nil && !def.Freeform {
			return types.NewError(types.KindInvalidArgument,
				"conversation topic requires a result schema or the freeform flag").WithTopic(def.ID)
		}
	}

	if def.ResultSchema != nil {
		if _, ok := def.Templates[RoleExtraction]; !ok {
			return types.NewError(types.KindInvalidArgument,
				"result schema requires an Extraction template").WithTopic(def.ID)
		}
		if err := def.ResultSchema.Validate(); err != nil {
			return types.Wrap(types.KindInvalidArgument, err,
				"invalid result schema").WithTopic(def.ID)
		}
	}

	return nil
}

// checkTemplates resolves every template reference and verifies its
// placeholders against the declared parameter set. Extraction
// templates additionally must not reference required parameters: they
// render at completion time, when the initiate-time parameter bag is
// no longer available.
func (r *Registry) checkTemplates(ctx context.Context, def *Definition) error {
	declared := make(map[string]prompts.Parameter, len(def.Parameters))
	for _, p := range def.Parameters {
		declared[p.Name] = p
	}

	for _, role := range roleOrder {
		ref, ok := def.Templates[role]
		if !ok {
			continue
		}

		prompt, err := r.store.Get(ctx, ref)
		if err != nil {
			return types.Wrap(types.KindInvalidTemplateRefs, err,
				fmt.Sprintf("%s template %q does not resolve", role, ref)).
				WithTopic(def.ID)
		}

		var undeclared []string
		for _, name := range prompts.Placeholders(prompt.Text) {
			param, ok := declared[name]
			if !ok {
				undeclared = append(undeclared, name)
				continue
			}
			if role == RoleExtraction && param.Required {
				return types.NewError(types.KindInvalidTemplateRefs,
					fmt.Sprintf("extraction template %q uses required parameter %s, which is unavailable at completion time",
						ref, name)).
					WithTopic(def.ID).WithParameter(name)
			}
		}
		if len(undeclared) > 0 {
			sort.Strings(undeclared)
			return types.NewError(types.KindInvalidTemplateRefs,
				fmt.Sprintf("%s template %q uses undeclared parameters: %s",
					role, ref, strings.Join(undeclared, ", "))).
				WithTopic(def.ID)
		}
	}

	return nil
}
