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
package prompts

import (
	"context"
	"encoding/json"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/mottych/PurposePath-AI-sub003/pkg/observability"
	"github.com/mottych/PurposePath-AI-sub003/pkg/types"
)

// placeholderRegex matches {{name}} placeholders: a double-braced bare
// name, optionally padded with spaces. No paths, filters, or loops.
var placeholderRegex = regexp.MustCompile(`\{\{\s*([A-Za-z_]\w*)\s*\}\}`)

// Placeholders returns the unique placeholder names appearing in a
// template, in order of first appearance.
func Placeholders(text string) []string {
	matches := placeholderRegex.FindAllStringSubmatch(text, -1)

	seen := make(map[string]bool, len(matches))
	var names []string
	for _, m := range matches {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}

// Renderer substitutes parameter values into template text.
//
// Resolution order per parameter, first hit wins:
//  1. Caller-supplied value in the parameter bag.
//  2. Named resolver hook declared on the parameter descriptor.
//  3. Declared default value.
//  4. Required and still unresolved: MissingParameter error.
//
// Resolver hooks must be idempotent, side-effect-free observers; they
// read the caller identity from the context.
type Renderer struct {
	store  Store
	tracer observability.Tracer

	mu        sync.RWMutex
	resolvers map[string]ResolverFunc
}

// NewRenderer creates a renderer backed by the given template store.
func NewRenderer(store Store, tracer observability.Tracer) *Renderer {
	if tracer == nil {
		tracer = &observability.NoOpTracer{}
	}
	return &Renderer{
		store:     store,
		tracer:    tracer,
		resolvers: make(map[string]ResolverFunc),
	}
}

// RegisterResolver registers a named resolver hook. Parameter
// descriptors reference hooks by this name.
func (r *Renderer) RegisterResolver(name string, fn ResolverFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolvers[name] = fn
}

// RenderRef loads a template by reference and renders it.
func (r *Renderer) RenderRef(ctx context.Context, ref string, params []Parameter, bag map[string]interface{}) (string, error) {
	ctx, span := r.tracer.StartSpan(ctx, observability.SpanPromptRender)
	defer r.tracer.EndSpan(span)
	span.SetAttribute(observability.AttrPromptRef, ref)

	prompt, err := r.store.Get(ctx, ref)
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	span.SetAttribute(observability.AttrPromptVersion, prompt.Version)

	text, err := r.Render(ctx, prompt.Text, params, bag)
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	return text, nil
}

// Render substitutes every placeholder in text with its resolved value.
//
// Placeholders that do not correspond to a declared parameter fail
// with UndeclaredPlaceholder. Registration-time validation makes this
// unreachable for registered topics; it is re-detected here for
// templates rendered outside a topic.
func (r *Renderer) Render(ctx context.Context, text string, params []Parameter, bag map[string]interface{}) (string, error) {
	declared := make(map[string]Parameter, len(params))
	for _, p := range params {
		declared[p.Name] = p
	}

	// Resolve each unique placeholder once, before substitution, so a
	// failed resolution never produces a half-rendered template.
	values := make(map[string]string)
	for _, name := range Placeholders(text) {
		param, ok := declared[name]
		if !ok {
			return "", types.NewError(types.KindUndeclaredPlaceholder,
				"template placeholder has no declared parameter: "+name).
				WithParameter(name)
		}

		value, err := r.resolve(ctx, param, bag)
		if err != nil {
			return "", err
		}

		rendered, err := renderValue(value, param)
		if err != nil {
			return "", err
		}
		values[name] = rendered
	}

	out := placeholderRegex.ReplaceAllStringFunc(text, func(match string) string {
		name := placeholderRegex.FindStringSubmatch(match)[1]
		return values[name]
	})

	return out, nil
}

// resolve produces the raw value for one parameter. A nil result with
// a nil error means the optional parameter renders as empty text.
func (r *Renderer) resolve(ctx context.Context, param Parameter, bag map[string]interface{}) (interface{}, error) {
	// 1. Caller-supplied value. An explicit null is a caller decision,
	// not an absence: required parameters reject it.
	if value, ok := bag[param.Name]; ok {
		if value == nil {
			if param.Required {
				return nil, types.NewError(types.KindNullParameter,
					"required parameter is null: "+param.Name).
					WithParameter(param.Name)
			}
			return nil, nil
		}
		return value, nil
	}

	// 2. Resolver hook.
	if param.Resolver != "" {
		r.mu.RLock()
		fn, ok := r.resolvers[param.Resolver]
		r.mu.RUnlock()
		if !ok {
			return nil, types.NewError(types.KindInternal,
				"parameter resolver not registered: "+param.Resolver).
				WithParameter(param.Name)
		}
		value, err := fn(ctx)
		if err != nil {
			return nil, types.Wrap(types.KindInternal, err,
				"parameter resolver failed: "+param.Resolver).
				WithParameter(param.Name)
		}
		if value != nil {
			return value, nil
		}
		// A hook that produced nothing falls through to the default.
	}

	// 3. Declared default.
	if param.Default != nil {
		return param.Default, nil
	}

	// 4. Unresolved.
	if param.Required {
		return nil, types.NewError(types.KindMissingParameter,
			"required parameter missing: "+param.Name).
			WithParameter(param.Name)
	}
	return nil, nil
}

// renderValue converts a resolved value to its template text form.
//
// Fixed policy: strings are sanitized, numbers and booleans use their
// canonical forms, arrays and objects render as compact deterministic
// JSON. Arrays and objects are opaque: no structural recursion.
func renderValue(value interface{}, param Parameter) (string, error) {
	if value == nil {
		return "", nil
	}

	if err := types.CheckKind(value, param.Kind); err != nil {
		return "", types.Wrap(types.KindInvalidArgument, err,
			"parameter value does not match declared kind").
			WithParameter(param.Name)
	}

	switch v := value.(type) {
	case string:
		return sanitizeString(v), nil
	case bool:
		return strconv.FormatBool(v), nil
	case int:
		return strconv.Itoa(v), nil
	case int32:
		return strconv.FormatInt(int64(v), 10), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case json.Number:
		return v.String(), nil
	case []string:
		sanitized := make([]string, len(v))
		for i, s := range v {
			sanitized[i] = sanitizeString(s)
		}
		return marshalDeterministic(sanitized)
	default:
		// Arrays and objects: compact JSON. encoding/json sorts map
		// keys, which keeps the output deterministic.
		return marshalDeterministic(v)
	}
}

// marshalDeterministic renders an opaque array or object value.
func marshalDeterministic(value interface{}) (string, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return "", types.Wrap(types.KindInvalidArgument, err,
			"parameter value is not representable")
	}
	return string(data), nil
}

// sanitizeString strips null bytes, invalid UTF-8, and control
// characters from a parameter value. Newlines and tabs are kept:
// coaching parameters are prose and white space carries meaning. No
// markup escaping takes place since the output is an LLM prompt, not
// HTML.
func sanitizeString(s string) string {
	s = strings.ReplaceAll(s, "\x00", "")
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsControl(r) && r != '\n' && r != '\t' && r != '\r' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// RenderPreview renders a template against only defaults and example
// text for the administrative surface. Required parameters without
// defaults render as <name>.
func RenderPreview(text string, params []Parameter) string {
	declared := make(map[string]Parameter, len(params))
	for _, p := range params {
		declared[p.Name] = p
	}

	return placeholderRegex.ReplaceAllStringFunc(text, func(match string) string {
		name := placeholderRegex.FindStringSubmatch(match)[1]
		param, ok := declared[name]
		if !ok {
			return match
		}
		if param.Default != nil {
			if rendered, err := renderValue(param.Default, param); err == nil {
				return rendered
			}
		}
		return "<" + name + ">"
	})
}

// SortParameters orders parameter descriptors by name for stable
// listings on the administrative surface.
func SortParameters(params []Parameter) []Parameter {
	out := make([]Parameter, len(params))
	copy(out, params)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
