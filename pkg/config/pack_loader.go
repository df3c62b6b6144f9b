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

// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mottych/PurposePath-AI-sub003/pkg/prompts"
	"github.com/mottych/PurposePath-AI-sub003/pkg/schema"
	"github.com/mottych/PurposePath-AI-sub003/pkg/topics"
	"github.com/mottych/PurposePath-AI-sub003/pkg/types"
)

// TopicPackYAML represents the YAML structure for a topic pack file.
// A pack declares additional topics beyond the builtins; operators
// drop pack files into the topics directory and the server registers
// them at startup.
type TopicPackYAML struct {
	APIVersion string           `yaml:"apiVersion"`
	Kind       string           `yaml:"kind"`
	Metadata   PackMetadataYAML `yaml:"metadata"`
	Spec       PackSpecYAML     `yaml:"spec"`
}

type PackMetadataYAML struct {
	Name        string            `yaml:"name"`
	Version     string            `yaml:"version"`
	Description string            `yaml:"description"`
	Labels      map[string]string `yaml:"labels"`
}

type PackSpecYAML struct {
	Topics []PackTopicYAML `yaml:"topics"`
}

type PackTopicYAML struct {
	ID               string                      `yaml:"id"`
	Name             string                      `yaml:"name"`
	Description      string                      `yaml:"description"`
	Kind             string                      `yaml:"kind"`
	Freeform         bool                        `yaml:"freeform"`
	CompletionMarker string                      `yaml:"completion_marker"`
	Parameters       []PackParameterYAML         `yaml:"parameters"`
	Templates        map[string]PackTemplateYAML `yaml:"templates"`
	ResultSchema     *PackSchemaYAML             `yaml:"result_schema"`
}

type PackParameterYAML struct {
	Name        string      `yaml:"name"`
	Kind        string      `yaml:"kind"`
	Required    bool        `yaml:"required"`
	Description string      `yaml:"description"`
	Default     interface{} `yaml:"default"`
	Resolver    string      `yaml:"resolver"`
}

// PackTemplateYAML is one template source: either a file path relative
// to the pack file, or the template text inline. Exactly one must be
// set.
type PackTemplateYAML struct {
	File string `yaml:"file"`
	Text string `yaml:"text"`
}

type PackSchemaYAML struct {
	ID                 string          `yaml:"id"`
	Description        string          `yaml:"description"`
	AllowUnknownFields bool            `yaml:"allow_unknown_fields"`
	Fields             []PackFieldYAML `yaml:"fields"`
}

type PackFieldYAML struct {
	Name        string          `yaml:"name"`
	Kind        string          `yaml:"kind"`
	Required    bool            `yaml:"required"`
	Description string          `yaml:"description"`
	Minimum     *float64        `yaml:"minimum"`
	Items       *PackFieldYAML  `yaml:"items"`
	Fields      []PackFieldYAML `yaml:"fields"`
}

// TopicPack is a loaded, validated pack: topic definitions ready for
// registration plus the template texts they reference. Template
// references derive from the topic ID ("COACHING:budget_review" yields
// "coaching/budget_review/system"), matching the layout FileStore and
// the embedded store use.
type TopicPack struct {
	Name        string
	Version     string
	Description string
	Labels      map[string]string

	Definitions []*topics.Definition

	// Templates maps each generated reference to its raw text, loaded
	// from inline blocks and referenced files.
	Templates map[string]string
}

// templateRoleKeys fixes the accepted YAML keys and their visitation
// order.
var templateRoleKeys = []struct {
	key  string
	role topics.TemplateRole
}{
	{"system", topics.RoleSystem},
	{"initiation", topics.RoleInitiation},
	{"resume", topics.RoleResume},
	{"extraction", topics.RoleExtraction},
}

// LoadTopicPack loads a topic pack from a YAML file.
//
// Environment variables referenced as ${VAR} in the pack file are
// expanded before parsing. Template files are resolved relative to the
// pack file location and read verbatim.
func LoadTopicPack(path string) (*TopicPack, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read topic pack file %s: %w", path, err)
	}

	// Expand environment variables
	dataStr := expandEnvVars(string(data))

	var yamlPack TopicPackYAML
	if err := yaml.Unmarshal([]byte(dataStr), &yamlPack); err != nil {
		return nil, fmt.Errorf("failed to parse topic pack YAML: %w", err)
	}

	// Validate structure
	if err := validatePackYAML(&yamlPack); err != nil {
		return nil, fmt.Errorf("invalid topic pack %s: %w", path, err)
	}

	pack := &TopicPack{
		Name:        yamlPack.Metadata.Name,
		Version:     yamlPack.Metadata.Version,
		Description: yamlPack.Metadata.Description,
		Labels:      yamlPack.Metadata.Labels,
		Templates:   make(map[string]string),
	}

	// Convert topics, resolving template files against the pack
	// directory.
	packDir := filepath.Dir(path)
	for i := range yamlPack.Spec.Topics {
		topicYAML := &yamlPack.Spec.Topics[i]
		def, err := yamlToDefinition(topicYAML, packDir, pack.Templates)
		if err != nil {
			return nil, fmt.Errorf("invalid topic pack %s: topic[%d] (%s): %w", path, i, topicYAML.ID, err)
		}
		pack.Definitions = append(pack.Definitions, def)
	}

	return pack, nil
}

// LoadTopicPackDir loads every *.yaml / *.yml pack in a directory, in
// name order. A missing directory is not an error: packs are optional.
func LoadTopicPackDir(dir string) ([]*TopicPack, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read topic pack directory %s: %w", dir, err)
	}

	var packs []*TopicPack
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		pack, err := LoadTopicPack(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		packs = append(packs, pack)
	}
	return packs, nil
}

// validatePackYAML validates the YAML structure (basic validation during parsing)
func validatePackYAML(pack *TopicPackYAML) error {
	if pack.APIVersion == "" {
		return fmt.Errorf("apiVersion is required")
	}
	if pack.APIVersion != "coaching/v1" {
		return fmt.Errorf("unsupported apiVersion: %s (expected: coaching/v1)", pack.APIVersion)
	}
	if pack.Kind != "TopicPack" {
		return fmt.Errorf("kind must be 'TopicPack', got: %s", pack.Kind)
	}
	if pack.Metadata.Name == "" {
		return fmt.Errorf("metadata.name is required")
	}
	if len(pack.Spec.Topics) == 0 {
		return fmt.Errorf("spec.topics must not be empty")
	}
	return nil
}

// yamlToDefinition converts one pack topic to a Definition, loading
// its template texts into templates keyed by generated reference.
func yamlToDefinition(topicYAML *PackTopicYAML, packDir string, templates map[string]string) (*topics.Definition, error) {
	if topicYAML.ID == "" {
		return nil, fmt.Errorf("id is required")
	}

	kind, err := topicKindFromYAML(topicYAML.Kind)
	if err != nil {
		return nil, err
	}

	params, err := parametersFromYAML(topicYAML.Parameters)
	if err != nil {
		return nil, err
	}

	refBase := strings.ToLower(strings.ReplaceAll(topicYAML.ID, ":", "/"))
	defTemplates := make(map[topics.TemplateRole]string, len(topicYAML.Templates))
	claimed := make(map[string]bool, len(topicYAML.Templates))
	for _, rk := range templateRoleKeys {
		src, ok := topicYAML.Templates[rk.key]
		if !ok {
			continue
		}
		claimed[rk.key] = true

		text, err := loadTemplateSource(packDir, &src)
		if err != nil {
			return nil, fmt.Errorf("template %q: %w", rk.key, err)
		}

		ref := refBase + "/" + rk.key
		templates[ref] = text
		defTemplates[rk.role] = ref
	}
	for key := range topicYAML.Templates {
		if !claimed[key] {
			return nil, fmt.Errorf("unknown template role %q (valid roles: system, initiation, resume, extraction)", key)
		}
	}

	def := &topics.Definition{
		ID:               topicYAML.ID,
		Name:             topicYAML.Name,
		Description:      topicYAML.Description,
		Kind:             kind,
		Parameters:       params,
		Templates:        defTemplates,
		Freeform:         topicYAML.Freeform,
		CompletionMarker: topicYAML.CompletionMarker,
	}

	if topicYAML.ResultSchema != nil {
		resultSchema, err := schemaFromYAML(topicYAML.ResultSchema)
		if err != nil {
			return nil, fmt.Errorf("invalid result_schema: %w", err)
		}
		def.ResultSchema = resultSchema
	}

	return def, nil
}

// loadTemplateSource returns the template text from exactly one of the
// declared sources.
func loadTemplateSource(packDir string, src *PackTemplateYAML) (string, error) {
	switch {
	case src.File != "" && src.Text != "":
		return "", fmt.Errorf("must set exactly one of file or text, not both")
	case src.File != "":
		path := resolveRelativePath(packDir, src.File)
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("failed to read template file: %w", err)
		}
		return string(data), nil
	case src.Text != "":
		return src.Text, nil
	default:
		return "", fmt.Errorf("must set one of file or text")
	}
}

func topicKindFromYAML(kind string) (topics.Kind, error) {
	switch strings.ToLower(kind) {
	case "", "conversation":
		return topics.Conversation, nil
	case "singleshot":
		return topics.SingleShot, nil
	default:
		return "", fmt.Errorf("invalid kind: %s (must be: Conversation, SingleShot)", kind)
	}
}

func parametersFromYAML(yamlParams []PackParameterYAML) ([]prompts.Parameter, error) {
	var params []prompts.Parameter
	for i, p := range yamlParams {
		if p.Name == "" {
			return nil, fmt.Errorf("parameter[%d]: name is required", i)
		}
		kind, err := paramKindFromYAML(p.Kind)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", p.Name, err)
		}
		params = append(params, prompts.Parameter{
			Name:        p.Name,
			Kind:        kind,
			Required:    p.Required,
			Description: p.Description,
			Default:     p.Default,
			Resolver:    p.Resolver,
		})
	}
	return params, nil
}

func paramKindFromYAML(kind string) (types.ParamKind, error) {
	switch strings.ToLower(kind) {
	case "", "string":
		return types.ParamString, nil
	case "number":
		return types.ParamNumber, nil
	case "boolean":
		return types.ParamBoolean, nil
	case "array":
		return types.ParamArray, nil
	case "object":
		return types.ParamObject, nil
	default:
		return "", fmt.Errorf("invalid parameter kind: %s (must be: String, Number, Boolean, Array, Object)", kind)
	}
}

func schemaFromYAML(yamlSchema *PackSchemaYAML) (*schema.Schema, error) {
	fields, err := fieldsFromYAML(yamlSchema.Fields)
	if err != nil {
		return nil, err
	}

	converted := &schema.Schema{
		ID:                 yamlSchema.ID,
		Description:        yamlSchema.Description,
		Fields:             fields,
		AllowUnknownFields: yamlSchema.AllowUnknownFields,
	}
	if err := converted.Validate(); err != nil {
		return nil, err
	}
	return converted, nil
}

func fieldsFromYAML(yamlFields []PackFieldYAML) ([]schema.Field, error) {
	var fields []schema.Field
	for i := range yamlFields {
		field, err := fieldFromYAML(&yamlFields[i])
		if err != nil {
			return nil, err
		}
		fields = append(fields, field)
	}
	return fields, nil
}

func fieldFromYAML(yamlField *PackFieldYAML) (schema.Field, error) {
	field := schema.Field{
		Name:        yamlField.Name,
		Kind:        schema.Kind(strings.ToLower(yamlField.Kind)),
		Required:    yamlField.Required,
		Description: yamlField.Description,
		Minimum:     yamlField.Minimum,
	}

	if yamlField.Items != nil {
		items, err := fieldFromYAML(yamlField.Items)
		if err != nil {
			return schema.Field{}, err
		}
		field.Items = &items
	}

	if len(yamlField.Fields) > 0 {
		nested, err := fieldsFromYAML(yamlField.Fields)
		if err != nil {
			return schema.Field{}, err
		}
		field.Fields = nested
	}

	return field, nil
}

// resolveRelativePath resolves a relative path to absolute
func resolveRelativePath(baseDir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

// expandEnvVars expands environment variables in YAML content
func expandEnvVars(s string) string {
	return os.Expand(s, func(key string) string {
		return os.Getenv(key)
	})
}
