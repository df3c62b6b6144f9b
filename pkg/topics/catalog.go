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
	"embed"
	"io/fs"

	"github.com/mottych/PurposePath-AI-sub003/pkg/prompts"
	"github.com/mottych/PurposePath-AI-sub003/pkg/schema"
	"github.com/mottych/PurposePath-AI-sub003/pkg/types"
)

// Builtin topic identifiers.
const (
	TopicCoreValues     = "COACHING:core_values"
	TopicOpenReflection = "COACHING:open_reflection"
	TopicSessionRecap   = "COACHING:session_recap"
)

// DefaultCompletionMarker is the textual marker the builtin coaching
// templates instruct the assistant to emit when the session goal is
// reached.
const DefaultCompletionMarker = "[SESSION_COMPLETE]"

// templatesFS carries the default prompt templates compiled into the
// binary, so the engine works without an external prompt directory.
//
//go:embed templates
var templatesFS embed.FS

// EmbeddedTemplates returns a read-only store over the builtin
// templates. References match the on-disk layout used by FileStore,
// e.g. "coaching/core_values/system".
func EmbeddedTemplates() (*prompts.FSStore, error) {
	sub, err := fs.Sub(templatesFS, "templates")
	if err != nil {
		return nil, err
	}
	return prompts.NewFSStore(sub)
}

// CoreValuesSchema describes the structured outcome of a core values
// discovery session.
func CoreValuesSchema() *schema.Schema {
	one := 1.0
	return &schema.Schema{
		ID:          "CoreValuesResult",
		Description: "Core values surfaced during a discovery session.",
		Fields: []schema.Field{
			{
				Name:        "values",
				Kind:        schema.Array,
				Required:    true,
				Description: "Discovered core values, most important first.",
				Items: &schema.Field{
					Kind: schema.Object,
					Fields: []schema.Field{
						{Name: "name", Kind: schema.String, Required: true, Description: "Short name of the value."},
						{Name: "importance_rank", Kind: schema.Integer, Required: true, Minimum: &one, Description: "1 is most important."},
						{Name: "reflection", Kind: schema.String, Description: "Why this value matters to the user, in their words."},
					},
				},
			},
			{Name: "summary", Kind: schema.String, Description: "One-paragraph summary of the session."},
		},
	}
}

// SessionRecapSchema describes the structured output of the
// single-shot session recap topic.
func SessionRecapSchema() *schema.Schema {
	return &schema.Schema{
		ID:          "SessionRecapResult",
		Description: "Condensed recap of a coaching conversation.",
		Fields: []schema.Field{
			{
				Name:        "highlights",
				Kind:        schema.Array,
				Required:    true,
				Description: "Key moments, chronological.",
				Items:       &schema.Field{Kind: schema.String},
			},
			{Name: "next_step", Kind: schema.String, Required: true, Description: "The single most concrete next step."},
		},
	}
}

// BuiltinDefinitions returns the topics shipped with the engine.
func BuiltinDefinitions() []*Definition {
	return []*Definition{
		{
			ID:          TopicCoreValues,
			Name:        "Core Values Discovery",
			Description: "Multi-turn coaching session that surfaces the user's core values and ranks them.",
			Kind:        Conversation,
			Parameters: []prompts.Parameter{
				{Name: "business_context", Kind: types.ParamString, Required: true,
					Description: "What the user is building or working on."},
				{Name: "user_name", Kind: types.ParamString, Default: "there",
					Description: "How the coach addresses the user."},
				{Name: "conversation_summary", Kind: types.ParamString,
					Description: "Digest of prior turns, supplied by the engine on resume."},
			},
			Templates: map[TemplateRole]string{
				RoleSystem:     "coaching/core_values/system",
				RoleInitiation: "coaching/core_values/initiation",
				RoleResume:     "coaching/core_values/resume",
				RoleExtraction: "coaching/core_values/extraction",
			},
			ResultSchema:     CoreValuesSchema(),
			CompletionMarker: DefaultCompletionMarker,
		},
		{
			ID:          TopicOpenReflection,
			Name:        "Open Reflection",
			Description: "Freeform reflective conversation with no structured outcome.",
			Kind:        Conversation,
			Parameters: []prompts.Parameter{
				{Name: "focus_area", Kind: types.ParamString, Required: true,
					Description: "The theme the user wants to reflect on."},
				{Name: "user_name", Kind: types.ParamString, Default: "there",
					Description: "How the coach addresses the user."},
				{Name: "conversation_summary", Kind: types.ParamString,
					Description: "Digest of prior turns, supplied by the engine on resume."},
			},
			Templates: map[TemplateRole]string{
				RoleSystem:     "coaching/open_reflection/system",
				RoleInitiation: "coaching/open_reflection/initiation",
				RoleResume:     "coaching/open_reflection/resume",
			},
			Freeform:         true,
			CompletionMarker: DefaultCompletionMarker,
		},
		{
			ID:          TopicSessionRecap,
			Name:        "Session Recap",
			Description: "Single-shot recap of a finished conversation transcript.",
			Kind:        SingleShot,
			Parameters: []prompts.Parameter{
				{Name: "transcript", Kind: types.ParamString, Required: true,
					Description: "Role-prefixed conversation transcript to recap."},
			},
			Templates: map[TemplateRole]string{
				RoleSystem:     "coaching/session_recap/system",
				RoleInitiation: "coaching/session_recap/initiation",
				RoleExtraction: "coaching/session_recap/extraction",
			},
			ResultSchema: SessionRecapSchema(),
		},
	}
}

// RegisterBuiltins registers every builtin topic. The registry's
// template store must be able to resolve the builtin references;
// EmbeddedTemplates always can.
func RegisterBuiltins(ctx context.Context, reg *Registry) error {
	for _, def := range BuiltinDefinitions() {
		if err := reg.Register(ctx, def); err != nil {
			return err
		}
	}
	return nil
}
