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
	"fmt"
	"strings"
)

// NormalizedString renders the schema as a deterministic JSON-shaped
// skeleton for inclusion in the extraction prompt. Fields appear in
// declaration order; two renders of the same schema are byte-identical,
// which keeps extraction prompts (and thus temperature-0 extractions)
// reproducible.
//
// Example output:
//
//	CoreValuesResult (respond with a single JSON object of this shape):
//	{
//	  "values": [            // required array
//	    {
//	      "name": string,            // required: the core value
//	      "importance_rank": integer // required, minimum 1
//	    }
//	  ],
//	  "summary": string // optional
//	}
func (s *Schema) NormalizedString() string {
	var b strings.Builder
	b.WriteString(s.ID)
	b.WriteString(" (respond with a single JSON object of this shape):\n")
	writeObject(&b, s.Fields, 0)
	if !s.AllowUnknownFields {
		b.WriteString("\nDo not add fields that are not listed above.")
	}
	return b.String()
}

func writeObject(b *strings.Builder, fields []Field, depth int) {
	pad := strings.Repeat("  ", depth)
	b.WriteString(pad)
	b.WriteString("{\n")
	for i := range fields {
		writeField(b, &fields[i], depth+1, i == len(fields)-1)
	}
	b.WriteString(pad)
	b.WriteString("}")
}

func writeField(b *strings.Builder, f *Field, depth int, last bool) {
	pad := strings.Repeat("  ", depth)
	b.WriteString(pad)
	fmt.Fprintf(b, "%q: ", f.Name)

	switch f.Kind {
	case Array:
		b.WriteString("[\n")
		writeElement(b, f.Items, depth+1)
		b.WriteString("\n")
		b.WriteString(pad)
		b.WriteString("]")
	case Object:
		b.WriteString("\n")
		writeObject(b, f.Fields, depth)
	default:
		b.WriteString(string(f.Kind))
	}

	if !last {
		b.WriteString(",")
	}
	b.WriteString(" // ")
	b.WriteString(fieldAnnotation(f))
	b.WriteString("\n")
}

func writeElement(b *strings.Builder, item *Field, depth int) {
	pad := strings.Repeat("  ", depth)
	switch item.Kind {
	case Object:
		writeObject(b, item.Fields, depth)
	case Array:
		b.WriteString(pad)
		b.WriteString("[ ")
		b.WriteString(string(item.Items.Kind))
		b.WriteString(" ]")
	default:
		b.WriteString(pad)
		b.WriteString(string(item.Kind))
	}
}

func fieldAnnotation(f *Field) string {
	parts := make([]string, 0, 3)
	if f.Required {
		parts = append(parts, "required")
	} else {
		parts = append(parts, "optional")
	}
	if f.Kind == Array {
		parts[0] += " array"
	}
	if f.Minimum != nil {
		parts = append(parts, fmt.Sprintf("minimum %g", *f.Minimum))
	}
	if f.Description != "" {
		parts = append(parts, f.Description)
	}
	return strings.Join(parts, ", ")
}
