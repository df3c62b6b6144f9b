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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mottych/PurposePath-AI-sub003/pkg/observability"
	"github.com/mottych/PurposePath-AI-sub003/pkg/types"
)

func instrumentedTestRequest() Request {
	return Request{
		Messages:    []types.Message{{Role: types.RoleUser, Content: "hello"}},
		Model:       "fake-primary-v1",
		Temperature: 0.5,
		MaxTokens:   256,
	}
}

func TestInstrumentedProvider_RecordsSuccessMetrics(t *testing.T) {
	provider := &scriptedProvider{name: "fake-a"}
	tracer := &recordingTracer{}
	ip := NewInstrumentedProvider(provider, tracer)

	comp, err := ip.Complete(context.Background(), instrumentedTestRequest())
	require.NoError(t, err)
	require.NotNil(t, comp)

	assert.Equal(t, 1.0, tracer.metricTotal(observability.MetricLLMCalls))
	assert.Equal(t, 100.0, tracer.metricTotal(observability.MetricLLMTokensInput))
	assert.Equal(t, 50.0, tracer.metricTotal(observability.MetricLLMTokensOutput))
	assert.Equal(t, 0.0, tracer.metricTotal(observability.MetricLLMErrors))
	assert.Contains(t, tracer.spans, observability.SpanLLMCompletion)

	// Labels carry the provider tag and the wire model id.
	tracer.mu.Lock()
	defer tracer.mu.Unlock()
	for _, m := range tracer.metrics {
		if m.name == observability.MetricLLMCalls {
			assert.Equal(t, "fake-a", m.labels[observability.AttrLLMProvider])
			assert.Equal(t, "fake-primary-v1", m.labels[observability.AttrLLMModel])
		}
	}
}

func TestInstrumentedProvider_RecordsErrorMetrics(t *testing.T) {
	wantErr := types.NewError(types.KindProviderUnavailable, "down")
	provider := &scriptedProvider{name: "fake-a", results: []scriptedResult{{err: wantErr}}}
	tracer := &recordingTracer{}
	ip := NewInstrumentedProvider(provider, tracer)

	_, err := ip.Complete(context.Background(), instrumentedTestRequest())
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindProviderUnavailable))

	assert.Equal(t, 1.0, tracer.metricTotal(observability.MetricLLMCalls))
	assert.Equal(t, 1.0, tracer.metricTotal(observability.MetricLLMErrors))
	assert.Equal(t, 0.0, tracer.metricTotal(observability.MetricLLMTokensInput))

	tracer.mu.Lock()
	defer tracer.mu.Unlock()
	for _, m := range tracer.metrics {
		if m.name == observability.MetricLLMErrors {
			assert.Equal(t, "provider_unavailable", m.labels[observability.AttrErrorKind])
		}
	}
}

func TestInstrumentedProvider_NamePassthrough(t *testing.T) {
	provider := &scriptedProvider{name: "fake-a"}
	ip := NewInstrumentedProvider(provider, nil)

	assert.Equal(t, "fake-a", ip.Name())

	// Nil tracer falls back to the no-op; calls still work.
	comp, err := ip.Complete(context.Background(), instrumentedTestRequest())
	require.NoError(t, err)
	assert.Equal(t, "ok", comp.Text)
}
