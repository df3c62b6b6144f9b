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

package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/mottych/PurposePath-AI-sub003/pkg/types"
)

// JSONSchema converts the declaration into a draft-07 JSON Schema
// document suitable for gojsonschema.
func (s *Schema) JSONSchema() map[string]interface{} {
	doc := objectSchema(s.Fields, s.AllowUnknownFields)
	doc["$schema"] = "http://json-schema.org/draft-07/schema#"
	doc["title"] = s.ID
	if s.Description != "" {
		doc["description"] = s.Description
	}
	return doc
}

func objectSchema(fields []Field, allowUnknown bool) map[string]interface{} {
	properties := make(map[string]interface{}, len(fields))
	required := make([]string, 0, len(fields))
	for i := range fields {
		f := &fields[i]
		properties[f.Name] = fieldSchema(f)
		if f.Required {
			required = append(required, f.Name)
		}
	}
	doc := map[string]interface{}{
		"type":                 "object",
		"properties":           properties,
		"additionalProperties": allowUnknown,
	}
	if len(required) > 0 {
		doc["required"] = required
	}
	return doc
}

func fieldSchema(f *Field) map[string]interface{} {
	var doc map[string]interface{}
	switch f.Kind {
	case Array:
		doc = map[string]interface{}{
			"type":  "array",
			"items": fieldSchema(f.Items),
		}
	case Object:
		// Nested objects inherit strictness from their declaration:
		// unknown members are always rejected below the top level.
		doc = objectSchema(f.Fields, false)
	default:
		doc = map[string]interface{}{"type": string(f.Kind)}
	}
	if f.Minimum != nil {
		doc["minimum"] = *f.Minimum
	}
	if f.Description != "" {
		doc["description"] = f.Description
	}
	return doc
}

// ParseAndValidate parses raw model output as a JSON object and
// validates it against the schema. Parsing is strict: the top level
// must be an object; unknown fields are tolerated only when the schema
// declares AllowUnknownFields; missing required fields fail.
//
// Model output is commonly wrapped in a markdown code fence; the fence
// is stripped before parsing. Anything else around the object is a
// failure.
func (s *Schema) ParseAndValidate(raw string) (map[string]interface{}, error) {
	text := StripCodeFence(raw)

	var doc interface{}
	decoder := json.NewDecoder(strings.NewReader(text))
	decoder.UseNumber()
	if err := decoder.Decode(&doc); err != nil {
		return nil, types.Wrap(types.KindExtractionFailed, err, "output is not valid JSON")
	}
	// Reject trailing content after the object.
	if decoder.More() {
		return nil, types.NewError(types.KindExtractionFailed, "output contains trailing content after the JSON object")
	}

	obj, ok := doc.(map[string]interface{})
	if !ok {
		return nil, types.Errorf(types.KindExtractionFailed, "top-level JSON value is %T, expected an object", doc)
	}

	if err := s.ValidateDocument(obj); err != nil {
		return nil, err
	}
	return obj, nil
}

// ValidateDocument checks a decoded object against the schema.
func (s *Schema) ValidateDocument(doc map[string]interface{}) error {
	schemaLoader := gojsonschema.NewGoLoader(s.JSONSchema())
	docLoader := gojsonschema.NewGoLoader(doc)

	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return types.Wrap(types.KindExtractionFailed, err, "schema validation failed")
	}

	if !result.Valid() {
		issues := make([]string, len(result.Errors()))
		for i, verr := range result.Errors() {
			issues[i] = verr.String()
		}
		return types.Errorf(types.KindExtractionFailed, "output does not match schema %s: %s",
			s.ID, strings.Join(issues, "; "))
	}
	return nil
}

// StripCodeFence removes a surrounding markdown code fence
// (``` or ```json) when the entire payload is fenced.
func StripCodeFence(raw string) string {
	text := strings.TrimSpace(raw)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	// Drop an optional language tag on the opening fence line.
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		firstLine := strings.TrimSpace(text[:idx])
		if firstLine == "" || isLanguageTag(firstLine) {
			text = text[idx+1:]
		}
	}
	text = strings.TrimSpace(text)
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

func isLanguageTag(s string) bool {
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') {
			return false
		}
	}
	return len(s) > 0
}

// MustValidate panics when the schema declaration is invalid. Used by
// the builtin topic catalog, where a bad declaration is a programming
// error caught at startup.
func MustValidate(s *Schema) *Schema {
	if err := s.Validate(); err != nil {
		panic(fmt.Sprintf("invalid result schema %s: %v", s.ID, err))
	}
	return s
}
