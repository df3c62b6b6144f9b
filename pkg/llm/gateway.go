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
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/mottych/PurposePath-AI-sub003/internal/log"
	"github.com/mottych/PurposePath-AI-sub003/pkg/observability"
	"github.com/mottych/PurposePath-AI-sub003/pkg/types"
)

// Dispatch names one gateway call: the message sequence, the
// engine-level model code to resolve, sampling parameters, and an
// optional secondary code tried after the primary's retry fails.
type Dispatch struct {
	Messages          []types.Message
	ModelCode         string
	FallbackModelCode string
	Temperature       float64
	MaxTokens         int
}

// GatewayConfig tunes dispatch behavior.
type GatewayConfig struct {
	// RetryBackoff is the delay before the single retry against the
	// primary model. The fallback attempt follows without further
	// delay.
	RetryBackoff time.Duration

	// MaxConcurrent bounds in-flight calls per provider tag. Providers
	// absent from the map use DefaultConcurrency.
	MaxConcurrent map[string]int

	// DefaultConcurrency is the per-provider bound when MaxConcurrent
	// has no entry.
	DefaultConcurrency int
}

// DefaultGatewayConfig returns conservative defaults.
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		RetryBackoff:       500 * time.Millisecond,
		DefaultConcurrency: 8,
	}
}

// Gateway routes dispatches to provider adapters. Calls are stateless
// and independent: the gateway holds no conversation state and callers
// that need ordering serialize above it. Concurrency toward each
// provider is bounded by a semaphore sized at construction.
type Gateway struct {
	registry  *Registry
	providers map[string]Provider
	sems      map[string]chan struct{}
	backoff   time.Duration
	tracer    observability.Tracer
}

// NewGateway builds a gateway over the given providers. Every provider
// is wrapped in the instrumenting decorator; passing a nil tracer
// selects the no-op implementation.
func NewGateway(registry *Registry, providers []Provider, cfg GatewayConfig, tracer observability.Tracer) *Gateway {
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultGatewayConfig().RetryBackoff
	}
	if cfg.DefaultConcurrency <= 0 {
		cfg.DefaultConcurrency = DefaultGatewayConfig().DefaultConcurrency
	}

	g := &Gateway{
		registry:  registry,
		providers: make(map[string]Provider, len(providers)),
		sems:      make(map[string]chan struct{}, len(providers)),
		backoff:   cfg.RetryBackoff,
		tracer:    tracer,
	}
	for _, p := range providers {
		tag := p.Name()
		g.providers[tag] = NewInstrumentedProvider(p, tracer)

		limit := cfg.DefaultConcurrency
		if n, ok := cfg.MaxConcurrent[tag]; ok && n > 0 {
			limit = n
		}
		g.sems[tag] = make(chan struct{}, limit)
	}
	return g
}

// Registry returns the model registry the gateway resolves codes
// against, for admin reads.
func (g *Gateway) Registry() *Registry {
	return g.registry
}

// Complete resolves the model code and dispatches. On transient
// failure it retries the primary once after a backoff, then tries the
// fallback code once; rejections surface immediately and are never
// retried. The returned completion carries the engine-level code that
// actually served the call, priced usage, and the total elapsed time
// including retries.
func (g *Gateway) Complete(ctx context.Context, d Dispatch) (*types.Completion, error) {
	started := time.Now()

	ctx, span := g.tracer.StartSpan(ctx, observability.SpanProviderDispatch)
	defer g.tracer.EndSpan(span)
	span.SetAttribute(observability.AttrLLMModel, d.ModelCode)

	primary, err := g.registry.Resolve(d.ModelCode)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if err := (Request{Messages: d.Messages, Model: primary.ProviderModel, MaxTokens: d.MaxTokens}).Validate(); err != nil {
		span.RecordError(err)
		return nil, err
	}

	correlationID := types.CorrelationIDFromContext(ctx)

	// First attempt against the primary.
	comp, err := g.attempt(ctx, primary, d)
	if err == nil {
		return g.finish(span, comp, primary, started), nil
	}
	if final, ferr := finalize(err); final {
		span.RecordError(ferr)
		return nil, ferr
	}

	// Single retry against the primary after backoff.
	log.Warn("provider dispatch failed, retrying primary",
		zap.String("model_code", primary.Code),
		zap.String("provider", primary.Provider),
		zap.String("correlation_id", correlationID),
		zap.Duration("backoff", g.backoff),
		zap.Error(err))
	g.tracer.RecordMetric(observability.MetricLLMRetries, 1, map[string]string{
		observability.AttrLLMProvider: primary.Provider,
		observability.AttrLLMModel:    primary.Code,
	})
	if serr := sleepContext(ctx, g.backoff); serr != nil {
		cerr := types.Wrap(types.KindCancelled, serr, "dispatch cancelled during retry backoff")
		span.RecordError(cerr)
		return nil, cerr
	}

	comp, retryErr := g.attempt(ctx, primary, d)
	if retryErr == nil {
		return g.finish(span, comp, primary, started), nil
	}
	if final, ferr := finalize(retryErr); final {
		span.RecordError(ferr)
		return nil, ferr
	}

	// One attempt against the fallback, when a usable one is named.
	if d.FallbackModelCode == "" || d.FallbackModelCode == d.ModelCode {
		err := allAttemptsFailed(retryErr)
		span.RecordError(err)
		return nil, err
	}
	fallback, resolveErr := g.registry.Resolve(d.FallbackModelCode)
	if resolveErr != nil {
		// A misconfigured fallback must not mask the transient
		// failure the caller can act on.
		log.Warn("fallback model is not dispatchable",
			zap.String("fallback_code", d.FallbackModelCode),
			zap.String("correlation_id", correlationID),
			zap.Error(resolveErr))
		err := allAttemptsFailed(retryErr)
		span.RecordError(err)
		return nil, err
	}

	log.Warn("falling back to secondary model",
		zap.String("model_code", primary.Code),
		zap.String("fallback_code", fallback.Code),
		zap.String("correlation_id", correlationID),
		zap.Error(retryErr))
	g.tracer.RecordMetric(observability.MetricLLMFallbacks, 1, map[string]string{
		observability.AttrLLMModel:     primary.Code,
		observability.AttrLLMModelUsed: fallback.Code,
	})
	span.SetAttribute(observability.AttrLLMAttempt, 3)

	comp, fbErr := g.attempt(ctx, fallback, d)
	if fbErr == nil {
		return g.finish(span, comp, fallback, started), nil
	}
	if final, ferr := finalize(fbErr); final {
		span.RecordError(ferr)
		return nil, ferr
	}
	err = allAttemptsFailed(fbErr)
	span.RecordError(err)
	return nil, err
}

// attempt performs one bounded call against one entry's provider.
func (g *Gateway) attempt(ctx context.Context, entry Entry, d Dispatch) (*types.Completion, error) {
	provider, ok := g.providers[entry.Provider]
	if !ok {
		return nil, types.Errorf(types.KindModelUnavailable,
			"no provider wired for tag %s (model %s)", entry.Provider, entry.Code)
	}

	sem := g.sems[entry.Provider]
	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return nil, types.Wrap(types.KindCancelled, ctx.Err(), "dispatch cancelled while waiting for provider slot")
	}
	defer func() { <-sem }()

	return provider.Complete(ctx, Request{
		Messages:    d.Messages,
		Model:       entry.ProviderModel,
		Temperature: d.Temperature,
		MaxTokens:   d.MaxTokens,
	})
}

// finish stamps gateway-level fields onto a successful completion.
func (g *Gateway) finish(span *observability.Span, comp *types.Completion, served Entry, started time.Time) *types.Completion {
	comp.ModelUsed = served.Code
	comp.Usage.CostUSD = served.Cost(comp.Usage)
	comp.ElapsedMS = time.Since(started).Milliseconds()

	span.SetAttribute(observability.AttrLLMModelUsed, served.Code)
	span.SetAttribute(observability.AttrLLMFinish, comp.FinishReason)
	g.tracer.RecordMetric(observability.MetricLLMCost, comp.Usage.CostUSD, map[string]string{
		observability.AttrLLMProvider: served.Provider,
		observability.AttrLLMModel:    served.Code,
	})
	return comp
}

// finalize classifies a dispatch error. It reports true with the error
// to surface when the failure is final (rejection, cancellation,
// unusable model); false means the failure is transient and the
// caller may keep trying.
func finalize(err error) (bool, error) {
	if types.IsKind(err, types.KindCancelled) {
		return true, err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true, types.Wrap(types.KindCancelled, err, "dispatch cancelled")
	}

	var e *types.Error
	if errors.As(err, &e) {
		if e.Kind == types.KindProviderUnavailable {
			return false, nil
		}
		return true, err
	}
	// Adapters normalize wire failures; anything that escaped
	// normalization is network-shaped and treated as transient.
	return false, nil
}

// allAttemptsFailed wraps the last transient error once retry and
// fallback are exhausted.
func allAttemptsFailed(last error) error {
	return types.Wrap(types.KindProviderUnavailable, last,
		"provider dispatch failed after retry and fallback")
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
