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

package types

import (
	"encoding/json"
	"fmt"
)

// ParamKind is the variant tag for topic parameter values. Request
// parameter bags arrive as untyped JSON; the renderer checks each value
// against its declared kind before substitution.
type ParamKind string

const (
	ParamString  ParamKind = "String"
	ParamNumber  ParamKind = "Number"
	ParamBoolean ParamKind = "Boolean"
	ParamArray   ParamKind = "Array"
	ParamObject  ParamKind = "Object"
)

// ValidParamKind reports whether k is a declared value kind.
func ValidParamKind(k ParamKind) bool {
	switch k {
	case ParamString, ParamNumber, ParamBoolean, ParamArray, ParamObject:
		return true
	}
	return false
}

// CheckKind verifies that a decoded JSON value matches the declared
// kind. Values come from encoding/json, so numbers may be float64 or
// json.Number and arrays/objects are []interface{} / map[string]interface{}.
// Arrays and objects are opaque: no structural recursion is performed.
func CheckKind(value interface{}, kind ParamKind) error {
	if value == nil {
		return nil // nil handling is the renderer's null-parameter rule
	}
	switch kind {
	case ParamString:
		if _, ok := value.(string); ok {
			return nil
		}
	case ParamNumber:
		switch value.(type) {
		case float64, float32, int, int32, int64, json.Number:
			return nil
		}
	case ParamBoolean:
		if _, ok := value.(bool); ok {
			return nil
		}
	case ParamArray:
		if _, ok := value.([]interface{}); ok {
			return nil
		}
		if _, ok := value.([]string); ok {
			return nil
		}
	case ParamObject:
		if _, ok := value.(map[string]interface{}); ok {
			return nil
		}
	default:
		return fmt.Errorf("unknown parameter kind %q", kind)
	}
	return fmt.Errorf("value of type %T does not match declared kind %s", value, kind)
}
