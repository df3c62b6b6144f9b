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
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mottych/PurposePath-AI-sub003/pkg/observability"
	"github.com/mottych/PurposePath-AI-sub003/pkg/types"
)

// scriptedProvider returns queued results in order, repeating the last
// one, and records every request it served. Peak concurrency is
// tracked for semaphore assertions; a non-nil gate blocks Complete
// until the channel closes.
type scriptedProvider struct {
	name string

	mu      sync.Mutex
	results []scriptedResult
	calls   []Request

	inFlight    atomic.Int32
	maxInFlight atomic.Int32

	gate chan struct{}
}

type scriptedResult struct {
	text string
	err  error
}

func (p *scriptedProvider) Complete(ctx context.Context, req Request) (*types.Completion, error) {
	cur := p.inFlight.Add(1)
	defer p.inFlight.Add(-1)
	for {
		peak := p.maxInFlight.Load()
		if cur <= peak || p.maxInFlight.CompareAndSwap(peak, cur) {
			break
		}
	}

	if p.gate != nil {
		select {
		case <-p.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p.mu.Lock()
	p.calls = append(p.calls, req)
	var res scriptedResult
	if len(p.results) > 0 {
		res = p.results[0]
		if len(p.results) > 1 {
			p.results = p.results[1:]
		}
	}
	p.mu.Unlock()

	if res.err != nil {
		return nil, res.err
	}
	text := res.text
	if text == "" {
		text = "ok"
	}
	return &types.Completion{
		Text:         text,
		FinishReason: "end_turn",
		Usage:        types.Usage{InputTokens: 100, OutputTokens: 50, TotalTokens: 150},
	}, nil
}

func (p *scriptedProvider) Name() string { return p.name }

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

// recordingTracer captures metric points for assertions.
type recordingTracer struct {
	mu      sync.Mutex
	metrics []metricPoint
	spans   []string
}

type metricPoint struct {
	name   string
	value  float64
	labels map[string]string
}

func (rt *recordingTracer) StartSpan(ctx context.Context, name string, opts ...observability.SpanOption) (context.Context, *observability.Span) {
	rt.mu.Lock()
	rt.spans = append(rt.spans, name)
	rt.mu.Unlock()
	span := &observability.Span{Name: name, StartTime: time.Now()}
	for _, opt := range opts {
		opt(span)
	}
	return ctx, span
}

func (rt *recordingTracer) EndSpan(span *observability.Span) {}

func (rt *recordingTracer) RecordMetric(name string, value float64, labels map[string]string) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.metrics = append(rt.metrics, metricPoint{name: name, value: value, labels: labels})
}

func (rt *recordingTracer) RecordEvent(ctx context.Context, name string, attributes map[string]interface{}) {
}

func (rt *recordingTracer) Flush(ctx context.Context) error { return nil }

func (rt *recordingTracer) metricTotal(name string) float64 {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	var total float64
	for _, m := range rt.metrics {
		if m.name == name {
			total += m.value
		}
	}
	return total
}

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()
	require.NoError(t, r.Register(Entry{
		Code:              "primary-model",
		Provider:          "fake-a",
		ProviderModel:     "fake-primary-v1",
		Capabilities:      []Capability{CapabilityChat},
		Active:            true,
		MaxTemperature:    1.0,
		InputCostPerMTok:  3.0,
		OutputCostPerMTok: 15.0,
	}))
	require.NoError(t, r.Register(Entry{
		Code:              "fallback-model",
		Provider:          "fake-b",
		ProviderModel:     "fake-fallback-v1",
		Capabilities:      []Capability{CapabilityChat},
		Active:            true,
		MaxTemperature:    1.0,
		InputCostPerMTok:  0.8,
		OutputCostPerMTok: 4.0,
	}))
	return r
}

func testDispatch() Dispatch {
	return Dispatch{
		Messages: []types.Message{
			{Role: types.RoleSystem, Content: "You are a coach."},
			{Role: types.RoleUser, Content: "Let's begin."},
		},
		ModelCode:         "primary-model",
		FallbackModelCode: "fallback-model",
		Temperature:       0.7,
		MaxTokens:         1024,
	}
}

func fastGatewayConfig() GatewayConfig {
	cfg := DefaultGatewayConfig()
	cfg.RetryBackoff = time.Millisecond
	return cfg
}

func transientErr(msg string) error {
	return types.NewError(types.KindProviderUnavailable, msg)
}

func TestGateway_CompleteSuccess(t *testing.T) {
	primary := &scriptedProvider{name: "fake-a"}
	fallback := &scriptedProvider{name: "fake-b"}
	g := NewGateway(testRegistry(t), []Provider{primary, fallback}, fastGatewayConfig(), nil)

	comp, err := g.Complete(context.Background(), testDispatch())
	require.NoError(t, err)

	// The completion reports the engine-level code, not the wire id.
	assert.Equal(t, "primary-model", comp.ModelUsed)
	assert.InDelta(t, 0.00105, comp.Usage.CostUSD, 1e-9)
	assert.GreaterOrEqual(t, comp.ElapsedMS, int64(0))

	// The provider saw the wire id.
	require.Equal(t, 1, primary.callCount())
	assert.Equal(t, "fake-primary-v1", primary.calls[0].Model)
	assert.Equal(t, 0.7, primary.calls[0].Temperature)
	assert.Equal(t, 0, fallback.callCount())
}

func TestGateway_RetriesTransientOnce(t *testing.T) {
	primary := &scriptedProvider{
		name:    "fake-a",
		results: []scriptedResult{{err: transientErr("connection reset")}, {text: "recovered"}},
	}
	g := NewGateway(testRegistry(t), []Provider{primary}, fastGatewayConfig(), nil)

	d := testDispatch()
	d.FallbackModelCode = ""
	comp, err := g.Complete(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, "recovered", comp.Text)
	assert.Equal(t, "primary-model", comp.ModelUsed)
	assert.Equal(t, 2, primary.callCount())
}

func TestGateway_FallsBackAfterRetryExhausted(t *testing.T) {
	primary := &scriptedProvider{
		name:    "fake-a",
		results: []scriptedResult{{err: transientErr("timeout")}},
	}
	fallback := &scriptedProvider{name: "fake-b", results: []scriptedResult{{text: "from fallback"}}}
	tracer := &recordingTracer{}
	g := NewGateway(testRegistry(t), []Provider{primary, fallback}, fastGatewayConfig(), tracer)

	comp, err := g.Complete(context.Background(), testDispatch())
	require.NoError(t, err)

	assert.Equal(t, "from fallback", comp.Text)
	assert.Equal(t, "fallback-model", comp.ModelUsed)
	// Priced at the fallback entry's rates.
	assert.InDelta(t, 0.00028, comp.Usage.CostUSD, 1e-9)

	assert.Equal(t, 2, primary.callCount()) // initial + one retry
	assert.Equal(t, 1, fallback.callCount())
	assert.Equal(t, "fake-fallback-v1", fallback.calls[0].Model)

	assert.Equal(t, 1.0, tracer.metricTotal(observability.MetricLLMRetries))
	assert.Equal(t, 1.0, tracer.metricTotal(observability.MetricLLMFallbacks))
}

func TestGateway_RejectionNotRetried(t *testing.T) {
	primary := &scriptedProvider{
		name:    "fake-a",
		results: []scriptedResult{{err: types.NewError(types.KindProviderRejected, "content policy refusal")}},
	}
	fallback := &scriptedProvider{name: "fake-b"}
	g := NewGateway(testRegistry(t), []Provider{primary, fallback}, fastGatewayConfig(), nil)

	_, err := g.Complete(context.Background(), testDispatch())
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindProviderRejected))
	assert.Equal(t, 1, primary.callCount())
	assert.Equal(t, 0, fallback.callCount())
}

func TestGateway_UnknownModelFailsFast(t *testing.T) {
	primary := &scriptedProvider{name: "fake-a"}
	g := NewGateway(testRegistry(t), []Provider{primary}, fastGatewayConfig(), nil)

	d := testDispatch()
	d.ModelCode = "no-such-model"
	_, err := g.Complete(context.Background(), d)
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindModelUnavailable))
	assert.Equal(t, 0, primary.callCount())
}

func TestGateway_InactiveModelFailsFast(t *testing.T) {
	r := testRegistry(t)
	require.NoError(t, r.Register(Entry{
		Code:          "retired-model",
		Provider:      "fake-a",
		ProviderModel: "fake-retired-v1",
		Active:        false,
	}))
	primary := &scriptedProvider{name: "fake-a"}
	g := NewGateway(r, []Provider{primary}, fastGatewayConfig(), nil)

	d := testDispatch()
	d.ModelCode = "retired-model"
	_, err := g.Complete(context.Background(), d)
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindModelUnavailable))
	assert.Equal(t, 0, primary.callCount())
}

func TestGateway_AllAttemptsExhausted(t *testing.T) {
	primary := &scriptedProvider{
		name:    "fake-a",
		results: []scriptedResult{{err: transientErr("down")}},
	}
	fallback := &scriptedProvider{
		name:    "fake-b",
		results: []scriptedResult{{err: transientErr("also down")}},
	}
	g := NewGateway(testRegistry(t), []Provider{primary, fallback}, fastGatewayConfig(), nil)

	_, err := g.Complete(context.Background(), testDispatch())
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindProviderUnavailable))
	assert.Equal(t, 2, primary.callCount())
	assert.Equal(t, 1, fallback.callCount())
}

func TestGateway_NoFallbackConfigured(t *testing.T) {
	primary := &scriptedProvider{
		name:    "fake-a",
		results: []scriptedResult{{err: transientErr("down")}},
	}
	g := NewGateway(testRegistry(t), []Provider{primary}, fastGatewayConfig(), nil)

	d := testDispatch()
	d.FallbackModelCode = ""
	_, err := g.Complete(context.Background(), d)
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindProviderUnavailable))
	assert.Equal(t, 2, primary.callCount())
}

func TestGateway_UnresolvableFallbackSurfacesPrimaryFailure(t *testing.T) {
	primary := &scriptedProvider{
		name:    "fake-a",
		results: []scriptedResult{{err: transientErr("down")}},
	}
	fallback := &scriptedProvider{name: "fake-b"}
	g := NewGateway(testRegistry(t), []Provider{primary, fallback}, fastGatewayConfig(), nil)

	d := testDispatch()
	d.FallbackModelCode = "no-such-model"
	_, err := g.Complete(context.Background(), d)
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindProviderUnavailable))
	assert.Equal(t, 0, fallback.callCount())
}

func TestGateway_CancelledDuringBackoff(t *testing.T) {
	primary := &scriptedProvider{
		name:    "fake-a",
		results: []scriptedResult{{err: transientErr("down")}},
	}
	cfg := DefaultGatewayConfig()
	cfg.RetryBackoff = 200 * time.Millisecond
	g := NewGateway(testRegistry(t), []Provider{primary}, cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := g.Complete(ctx, testDispatch())
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindCancelled))
	assert.Equal(t, 1, primary.callCount())
}

func TestGateway_MissingProviderAdapter(t *testing.T) {
	// Registry references fake-b but only fake-a is wired.
	primary := &scriptedProvider{name: "fake-a"}
	g := NewGateway(testRegistry(t), []Provider{primary}, fastGatewayConfig(), nil)

	d := testDispatch()
	d.ModelCode = "fallback-model" // served by fake-b
	d.FallbackModelCode = ""
	_, err := g.Complete(context.Background(), d)
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindModelUnavailable))
	assert.Contains(t, err.Error(), "no provider wired")
}

func TestGateway_ValidatesDispatch(t *testing.T) {
	primary := &scriptedProvider{name: "fake-a"}
	g := NewGateway(testRegistry(t), []Provider{primary}, fastGatewayConfig(), nil)

	d := testDispatch()
	d.Messages = nil
	_, err := g.Complete(context.Background(), d)
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindInvalidArgument))

	d = testDispatch()
	d.MaxTokens = 0
	_, err = g.Complete(context.Background(), d)
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindInvalidArgument))
	assert.Equal(t, 0, primary.callCount())
}

func TestGateway_ConcurrencyBound(t *testing.T) {
	gate := make(chan struct{})
	primary := &scriptedProvider{name: "fake-a", gate: gate}
	cfg := fastGatewayConfig()
	cfg.MaxConcurrent = map[string]int{"fake-a": 1}
	g := NewGateway(testRegistry(t), []Provider{primary}, cfg, nil)

	d := testDispatch()
	d.FallbackModelCode = ""

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := g.Complete(context.Background(), d)
			assert.NoError(t, err)
		}()
	}

	// Let the dispatches pile up on the semaphore, then release.
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()

	assert.Equal(t, int32(1), primary.maxInFlight.Load())
	assert.Equal(t, 3, primary.callCount())
}

func TestGateway_CostRecordedOnMetric(t *testing.T) {
	primary := &scriptedProvider{name: "fake-a"}
	tracer := &recordingTracer{}
	g := NewGateway(testRegistry(t), []Provider{primary}, fastGatewayConfig(), tracer)

	d := testDispatch()
	d.FallbackModelCode = ""
	comp, err := g.Complete(context.Background(), d)
	require.NoError(t, err)

	assert.InDelta(t, comp.Usage.CostUSD, tracer.metricTotal(observability.MetricLLMCost), 1e-12)
	assert.Contains(t, tracer.spans, observability.SpanProviderDispatch)
	// The instrumenting wrapper ran under the dispatch span.
	assert.Contains(t, tracer.spans, observability.SpanLLMCompletion)
}
