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
package llm

import (
	"context"
	"time"

	"github.com/mottych/PurposePath-AI-sub003/pkg/observability"
	"github.com/mottych/PurposePath-AI-sub003/pkg/types"
)

// InstrumentedProvider wraps a Provider with observability tracing.
// It creates spans for each completion call and records metrics for
// latency, token usage, and errors. The wrapped provider's behavior
// is unchanged.
type InstrumentedProvider struct {
	provider Provider
	tracer   observability.Tracer
	name     string
}

var _ Provider = (*InstrumentedProvider)(nil)

// NewInstrumentedProvider wraps a provider with instrumentation.
// A nil tracer selects the no-op implementation, making the wrapper
// safe to apply unconditionally.
func NewInstrumentedProvider(provider Provider, tracer observability.Tracer) *InstrumentedProvider {
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	return &InstrumentedProvider{
		provider: provider,
		tracer:   tracer,
		name:     provider.Name(),
	}
}

// Complete wraps the underlying provider's Complete with a span and
// call/latency/token/error metrics labeled by provider and model.
func (ip *InstrumentedProvider) Complete(ctx context.Context, req Request) (*types.Completion, error) {
	ctx, span := ip.tracer.StartSpan(ctx, observability.SpanLLMCompletion)
	defer ip.tracer.EndSpan(span)

	span.SetAttribute(observability.AttrLLMProvider, ip.name)
	span.SetAttribute(observability.AttrLLMModel, req.Model)
	span.SetAttribute(observability.AttrLLMTemperature, req.Temperature)
	span.SetAttribute(observability.AttrLLMMaxTokens, req.MaxTokens)

	span.AddEvent("llm.call.started", map[string]interface{}{
		"message_count": len(req.Messages),
	})

	labels := map[string]string{
		observability.AttrLLMProvider: ip.name,
		observability.AttrLLMModel:    req.Model,
	}

	start := time.Now()
	comp, err := ip.provider.Complete(ctx, req)
	elapsed := time.Since(start)

	ip.tracer.RecordMetric(observability.MetricLLMCalls, 1, labels)
	ip.tracer.RecordMetric(observability.MetricLLMLatency, elapsed.Seconds(), labels)

	if err != nil {
		span.RecordError(err)
		span.SetAttribute(observability.AttrErrorKind, types.KindOf(err).String())
		span.AddEvent("llm.call.failed", map[string]interface{}{
			"error":      err.Error(),
			"elapsed_ms": elapsed.Milliseconds(),
		})
		ip.tracer.RecordMetric(observability.MetricLLMErrors, 1, map[string]string{
			observability.AttrLLMProvider: ip.name,
			observability.AttrLLMModel:    req.Model,
			observability.AttrErrorKind:   types.KindOf(err).String(),
		})
		return nil, err
	}

	span.SetAttribute(observability.AttrLLMFinish, comp.FinishReason)
	span.AddEvent("llm.call.completed", map[string]interface{}{
		"input_tokens":  comp.Usage.InputTokens,
		"output_tokens": comp.Usage.OutputTokens,
		"elapsed_ms":    elapsed.Milliseconds(),
	})

	ip.tracer.RecordMetric(observability.MetricLLMTokensInput, float64(comp.Usage.InputTokens), labels)
	ip.tracer.RecordMetric(observability.MetricLLMTokensOutput, float64(comp.Usage.OutputTokens), labels)

	return comp, nil
}

// Name returns the wrapped provider's tag.
func (ip *InstrumentedProvider) Name() string {
	return ip.provider.Name()
}
