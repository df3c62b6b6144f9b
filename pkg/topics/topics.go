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

// Package topics holds the static topic catalog: the identity, shape,
// and prompt contract of every AI operation the engine can run.
//
// A topic's identity and shape are code, not data. Changing a
// parameter contract or a result schema has compatibility implications
// and flows through review and deployment. How a topic is executed
// (model choice, temperature, TTLs) is data and lives in the runtime
// configuration store.
package topics

import (
	"github.com/mottych/PurposePath-AI-sub003/pkg/prompts"
	"github.com/mottych/PurposePath-AI-sub003/pkg/schema"
)

// Kind distinguishes one-off operations from multi-turn sessions.
type Kind string

const (
	// SingleShot topics run as a single prompt/response exchange.
	SingleShot Kind = "SingleShot"
	// Conversation topics run as stateful multi-turn coaching sessions.
	Conversation Kind = "Conversation"
)

// ValidKind reports whether k is a declared topic kind.
func ValidKind(k Kind) bool {
	return k == SingleShot || k == Conversation
}

// TemplateRole names one of the independently stored prompt texts a
// topic references.
type TemplateRole string

const (
	RoleSystem     TemplateRole = "System"
	RoleInitiation TemplateRole = "Initiation"
	RoleResume     TemplateRole = "Resume"
	RoleExtraction TemplateRole = "Extraction"
)

// roleOrder fixes the visitation order for validation and listings.
var roleOrder = []TemplateRole{RoleSystem, RoleInitiation, RoleResume, RoleExtraction}

// Definition is one topic: immutable after registration.
type Definition struct {
	// ID is the stable string identifier, e.g. "COACHING:core_values".
	ID string

	// Name is the human-readable display name.
	Name string

	// Description for the administrative surface.
	Description string

	// Kind is SingleShot or Conversation.
	Kind Kind

	// Parameters declares the substitutable parameters, in order.
	// Every placeholder in every template must name one of these.
	Parameters []prompts.Parameter

	// Templates maps each role to a reference the template store can
	// resolve. Conversation topics must provide System and Initiation;
	// a result schema implies Extraction.
	Templates map[TemplateRole]string

	// ResultSchema describes the structured output extracted at
	// session completion. Required for Conversation topics unless
	// Freeform is set.
	ResultSchema *schema.Schema

	// Freeform marks a Conversation topic that deliberately produces
	// no structured result; Complete skips extraction.
	Freeform bool

	// CompletionMarker is the conventional textual marker the
	// assistant emits when it judges the session complete. The
	// system template documents it. Empty disables marker detection.
	CompletionMarker string
}

// TemplateRef returns the template reference for a role.
func (d *Definition) TemplateRef(role TemplateRole) (string, bool) {
	ref, ok := d.Templates[role]
	return ref, ok
}

// DeclaredNames returns the set of declared parameter names.
func (d *Definition) DeclaredNames() map[string]bool {
	names := make(map[string]bool, len(d.Parameters))
	for _, p := range d.Parameters {
		names[p.Name] = true
	}
	return names
}

// RequiredParameters returns the descriptors of required parameters.
func (d *Definition) RequiredParameters() []prompts.Parameter {
	var required []prompts.Parameter
	for _, p := range d.Parameters {
		if p.Required {
			required = append(required, p)
		}
	}
	return required
}

// clone returns a shallow copy so registry internals stay immutable
// even if the caller keeps mutating the definition it registered.
func (d *Definition) clone() *Definition {
	c := *d

	c.Parameters = make([]prompts.Parameter, len(d.Parameters))
	copy(c.Parameters, d.Parameters)

	c.Templates = make(map[TemplateRole]string, len(d.Templates))
	for role, ref := range d.Templates {
		c.Templates[role] = ref
	}

	return &c
}
