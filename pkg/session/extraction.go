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
package session

import (
	"context"

	"go.uber.org/zap"

	"github.com/mottych/PurposePath-AI-sub003/internal/log"
	"github.com/mottych/PurposePath-AI-sub003/pkg/llm"
	"github.com/mottych/PurposePath-AI-sub003/pkg/observability"
	"github.com/mottych/PurposePath-AI-sub003/pkg/prompts"
	"github.com/mottych/PurposePath-AI-sub003/pkg/runtimeconfig"
	"github.com/mottych/PurposePath-AI-sub003/pkg/topics"
	"github.com/mottych/PurposePath-AI-sub003/pkg/types"
)

// Dispatcher is the slice of the provider gateway the session package
// consumes. *llm.Gateway implements it.
type Dispatcher interface {
	Complete(ctx context.Context, d llm.Dispatch) (*types.Completion, error)
}

// Extraction sampling: deterministic output, with enough room for the
// largest declared schemas regardless of how tightly the topic caps
// conversational replies.
const (
	extractionTemperature = 0
	extractionMinTokens   = 1024
)

// correctiveReminder opens the retry message after a first extraction
// attempt fails schema validation.
const correctiveReminder = "Your previous output did not match the required schema. " +
	"Respond again with JSON only, conforming exactly to the schema given in the system message."

// Extractor runs the structured-output extraction that closes a
// conversation session: transcript in, schema-conforming object out.
type Extractor struct {
	renderer *prompts.Renderer
	gateway  Dispatcher
	tracer   observability.Tracer
}

// NewExtractor builds an extractor. A nil tracer selects the no-op
// implementation.
func NewExtractor(renderer *prompts.Renderer, gateway Dispatcher, tracer observability.Tracer) *Extractor {
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	return &Extractor{renderer: renderer, gateway: gateway, tracer: tracer}
}

// Run extracts the topic's result object from the session's
// conversation. The extraction prompt pairs the topic's rendered
// extraction instructions plus the normalized schema (system) with the
// serialized transcript (user). One parse failure is retried once with
// a corrective reminder; a second failure returns ExtractionFailed and
// the session is left untouched so the caller may retry. Provider
// failures surface as themselves, never as ExtractionFailed.
//
// The returned completion carries the token usage of every attempt.
func (e *Extractor) Run(ctx context.Context, def *topics.Definition, cfg *runtimeconfig.Record, sess *Session) (map[string]interface{}, *types.Completion, error) {
	ctx, span := e.tracer.StartSpan(ctx, observability.SpanExtractionRun)
	defer e.tracer.EndSpan(span)

	sc := def.ResultSchema
	if sc == nil {
		return nil, nil, types.NewError(types.KindInternal,
			"extraction requires a result schema").WithTopic(def.ID)
	}
	span.SetAttribute(observability.AttrSchemaID, sc.ID)
	span.SetAttribute(observability.AttrSessionID, sess.ID)

	ref, ok := def.TemplateRef(topics.RoleExtraction)
	if !ok {
		return nil, nil, types.NewError(types.KindInternal,
			"topic declares a result schema but no extraction template").WithTopic(def.ID)
	}

	// Extraction templates render without the initiate-time parameter
	// bag; registration rejects templates that need it.
	instructions, err := e.renderer.RenderRef(ctx, ref, def.Parameters, nil)
	if err != nil {
		span.RecordError(err)
		return nil, nil, err
	}

	model := cfg.ExtractionModelCode
	if model == "" {
		model = cfg.ModelCode
	}
	maxTokens := cfg.MaxTokens
	if maxTokens < extractionMinTokens {
		maxTokens = extractionMinTokens
	}

	system := instructions + "\n\nThe result object must conform to this schema:\n\n" + sc.NormalizedString()
	messages := []types.Message{
		{Role: types.RoleSystem, Content: system},
		{Role: types.RoleUser, Content: Transcript(sess.Messages)},
	}

	var totalUsage types.Usage
	var lastErr error
	for attempt := 1; attempt <= 2; attempt++ {
		span.SetAttribute(observability.AttrExtractionAttempt, attempt)
		e.tracer.RecordMetric(observability.MetricExtractionRuns, 1, map[string]string{
			observability.AttrSchemaID: sc.ID,
		})

		comp, err := e.gateway.Complete(ctx, llm.Dispatch{
			Messages:          messages,
			ModelCode:         model,
			FallbackModelCode: cfg.FallbackModelCode,
			Temperature:       extractionTemperature,
			MaxTokens:         maxTokens,
		})
		if err != nil {
			span.RecordError(err)
			return nil, nil, err
		}
		totalUsage.Add(comp.Usage)

		result, perr := sc.ParseAndValidate(comp.Text)
		if perr == nil {
			comp.Usage = totalUsage
			return result, comp, nil
		}
		lastErr = perr

		if attempt == 1 {
			e.tracer.RecordMetric(observability.MetricExtractionRetries, 1, map[string]string{
				observability.AttrSchemaID: sc.ID,
			})
			log.Warn("extraction output failed schema validation, retrying",
				zap.String("session_id", sess.ID),
				zap.String("schema_id", sc.ID),
				zap.String("correlation_id", types.CorrelationIDFromContext(ctx)),
				zap.Error(perr))
			messages = append(messages,
				types.Message{Role: types.RoleAssistant, Content: comp.Text},
				types.Message{Role: types.RoleUser, Content: correctiveReminder + "\n\nValidation failure: " + perr.Error()},
			)
		}
	}

	e.tracer.RecordMetric(observability.MetricExtractionFailed, 1, map[string]string{
		observability.AttrSchemaID: sc.ID,
	})
	err = types.Wrap(types.KindExtractionFailed, lastErr,
		"model output did not conform to the result schema after a corrective retry").
		WithTopic(def.ID).WithSession(sess.ID)
	span.RecordError(err)
	return nil, nil, err
}
