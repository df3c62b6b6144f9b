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

// Package schema defines the declarative result schemas topics attach
// to their extraction step. A schema is a language-neutral description
// of a nested record; the extractor renders it into the extraction
// prompt and validates the model's JSON output against the same
// description.
package schema

import (
	"fmt"
)

// Kind is the value kind of a schema field.
type Kind string

const (
	String  Kind = "string"
	Number  Kind = "number"
	Integer Kind = "integer"
	Boolean Kind = "boolean"
	Array   Kind = "array"
	Object  Kind = "object"
)

// ValidKind reports whether k is a known field kind.
func ValidKind(k Kind) bool {
	switch k {
	case String, Number, Integer, Boolean, Array, Object:
		return true
	}
	return false
}

// Field describes one named field of an object, or the element shape
// of an array (in which case Name is empty).
type Field struct {
	Name        string
	Kind        Kind
	Required    bool
	Description string

	// Minimum applies to number/integer fields. Nil means unbounded.
	Minimum *float64

	// Items describes array elements. Required when Kind is Array.
	Items *Field

	// Fields describes object members in declaration order. Required
	// when Kind is Object.
	Fields []Field
}

// Schema is the declared shape of a topic's extracted result. The top
// level is always an object.
type Schema struct {
	// ID names the schema, e.g. "CoreValuesResult". Stored on the
	// session alongside the extracted object.
	ID string

	Description string

	// Fields are the top-level object members in declaration order.
	Fields []Field

	// AllowUnknownFields tolerates undeclared members in the model
	// output. When false, unknown fields fail validation.
	AllowUnknownFields bool
}

// Validate checks the schema declaration itself: non-empty id, unique
// field names per object, valid kinds, element shapes for arrays, and
// member lists for objects.
func (s *Schema) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("schema id must not be empty")
	}
	if len(s.Fields) == 0 {
		return fmt.Errorf("schema %s declares no fields", s.ID)
	}
	return validateFields(s.ID, s.Fields)
}

func validateFields(path string, fields []Field) error {
	seen := make(map[string]bool, len(fields))
	for i := range fields {
		f := &fields[i]
		if f.Name == "" {
			return fmt.Errorf("%s: field %d has no name", path, i)
		}
		if seen[f.Name] {
			return fmt.Errorf("%s: duplicate field %q", path, f.Name)
		}
		seen[f.Name] = true
		if err := validateField(path+"."+f.Name, f); err != nil {
			return err
		}
	}
	return nil
}

func validateField(path string, f *Field) error {
	if !ValidKind(f.Kind) {
		return fmt.Errorf("%s: unknown kind %q", path, f.Kind)
	}
	if f.Minimum != nil && f.Kind != Number && f.Kind != Integer {
		return fmt.Errorf("%s: minimum constraint requires a numeric kind", path)
	}
	switch f.Kind {
	case Array:
		if f.Items == nil {
			return fmt.Errorf("%s: array field must declare its element shape", path)
		}
		if f.Items.Name != "" {
			return fmt.Errorf("%s: array element shape must be unnamed", path)
		}
		return validateField(path+"[]", f.Items)
	case Object:
		if len(f.Fields) == 0 {
			return fmt.Errorf("%s: object field must declare its members", path)
		}
		return validateFields(path, f.Fields)
	}
	return nil
}

// RequiredFieldNames returns the names of required top-level fields.
func (s *Schema) RequiredFieldNames() []string {
	var names []string
	for _, f := range s.Fields {
		if f.Required {
			names = append(names, f.Name)
		}
	}
	return names
}
