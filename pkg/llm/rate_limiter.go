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
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ErrRateLimiterClosed is returned by Do after Close.
var ErrRateLimiterClosed = errors.New("rate limiter closed")

const (
	tokenWindow     = time.Minute
	tokenWindowPoll = time.Second
	maxRetryBackoff = 60 * time.Second
)

// RateLimiterConfig configures client-side pacing toward one provider
// account. Zero fields are filled from DefaultRateLimiterConfig.
type RateLimiterConfig struct {
	// Enabled turns pacing off entirely when false; Do then invokes
	// the call directly.
	Enabled bool

	// RequestsPerSecond is the steady-state dispatch rate.
	RequestsPerSecond float64

	// TokensPerMinute caps recorded token usage over a sliding window.
	// Zero disables the budget.
	TokensPerMinute int

	// BurstCapacity is the bucket size: how many calls may go out
	// back-to-back before the steady rate applies.
	BurstCapacity int

	// MinDelay is the minimum spacing between consecutive dispatches.
	MinDelay time.Duration

	// MaxRetries bounds throttle-driven retries inside Do.
	MaxRetries int

	// RetryBackoff is the base for exponential backoff on throttling.
	RetryBackoff time.Duration

	// QueueTimeout bounds how long a call may sit queued before Do
	// gives up.
	QueueTimeout time.Duration

	// Logger receives throttling and budget warnings. Nil means no
	// logging.
	Logger *zap.Logger
}

// DefaultRateLimiterConfig returns settings safe for a single
// provider account of the lowest paid tier.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		Enabled:           true,
		RequestsPerSecond: 2.0,
		TokensPerMinute:   160000,
		BurstCapacity:     4,
		MinDelay:          100 * time.Millisecond,
		MaxRetries:        8,
		RetryBackoff:      time.Second,
		QueueTimeout:      5 * time.Minute,
	}
}

// RateLimiterMetrics is a point-in-time snapshot of limiter activity.
type RateLimiterMetrics struct {
	TotalCalls     int64
	Throttled      int64
	Retries        int64
	Failed         int64
	QueueDepth     int
	TokensInWindow int
}

type callResult struct {
	value interface{}
	err   error
}

type queuedCall struct {
	ctx      context.Context
	call     func(ctx context.Context) (interface{}, error)
	resultCh chan callResult
	enqueued time.Time
}

// RateLimiter serializes calls toward one provider behind a token
// bucket, spacing them with MinDelay, respecting a sliding
// tokens-per-minute budget, and retrying throttling responses with
// exponential backoff. One limiter guards one provider account; it is
// safe for concurrent use.
type RateLimiter struct {
	config RateLimiterConfig
	logger *zap.Logger

	tokens chan struct{}
	queue  chan *queuedCall

	mu      sync.Mutex
	usage   []tokenSample
	lastRun time.Time

	totalCalls atomic.Int64
	throttled  atomic.Int64
	retries    atomic.Int64
	failed     atomic.Int64

	stopCh chan struct{}
	wg     sync.WaitGroup
	closed atomic.Bool
}

type tokenSample struct {
	at     time.Time
	tokens int
}

// NewRateLimiter builds a limiter and starts its refill and dispatch
// goroutines. Call Close to stop them.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	def := DefaultRateLimiterConfig()
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = def.RequestsPerSecond
	}
	if config.BurstCapacity <= 0 {
		config.BurstCapacity = def.BurstCapacity
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = def.MaxRetries
	}
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = def.RetryBackoff
	}
	if config.QueueTimeout <= 0 {
		config.QueueTimeout = def.QueueTimeout
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	rl := &RateLimiter{
		config: config,
		logger: logger,
		tokens: make(chan struct{}, config.BurstCapacity),
		queue:  make(chan *queuedCall, 256),
		stopCh: make(chan struct{}),
	}
	for i := 0; i < config.BurstCapacity; i++ {
		rl.tokens <- struct{}{}
	}

	rl.wg.Add(3)
	go rl.refill()
	go rl.dispatch()
	go rl.report()
	return rl
}

// Do runs call under the limiter's pacing. The call may be invoked
// multiple times when the provider throttles; it must be safe to
// repeat. A nil or disabled limiter invokes the call directly.
func (rl *RateLimiter) Do(ctx context.Context, call func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	if rl == nil || !rl.config.Enabled {
		return call(ctx)
	}
	if rl.closed.Load() {
		return nil, ErrRateLimiterClosed
	}
	rl.totalCalls.Add(1)

	qc := &queuedCall{
		ctx:      ctx,
		call:     call,
		resultCh: make(chan callResult, 1),
		enqueued: time.Now(),
	}

	select {
	case rl.queue <- qc:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-rl.stopCh:
		return nil, ErrRateLimiterClosed
	}

	timeout := time.NewTimer(rl.config.QueueTimeout)
	defer timeout.Stop()

	select {
	case res := <-qc.resultCh:
		return res.value, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timeout.C:
		return nil, fmt.Errorf("rate limiter queue timeout after %s", rl.config.QueueTimeout)
	case <-rl.stopCh:
		return nil, ErrRateLimiterClosed
	}
}

// RecordTokenUsage feeds provider-reported token counts into the
// sliding per-minute budget. Callers report after each completion.
func (rl *RateLimiter) RecordTokenUsage(tokens int) {
	if rl == nil || tokens <= 0 {
		return
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.usage = append(rl.usage, tokenSample{at: time.Now(), tokens: tokens})
	rl.pruneLocked()
}

// GetMetrics returns a snapshot of limiter counters.
func (rl *RateLimiter) GetMetrics() RateLimiterMetrics {
	return RateLimiterMetrics{
		TotalCalls:     rl.totalCalls.Load(),
		Throttled:      rl.throttled.Load(),
		Retries:        rl.retries.Load(),
		Failed:         rl.failed.Load(),
		QueueDepth:     len(rl.queue),
		TokensInWindow: rl.tokensInWindow(),
	}
}

// Close stops the limiter's goroutines. Pending Do calls return
// ErrRateLimiterClosed. Close is idempotent.
func (rl *RateLimiter) Close() {
	if rl == nil || !rl.closed.CompareAndSwap(false, true) {
		return
	}
	close(rl.stopCh)
	rl.wg.Wait()
}

// refill returns tokens to the bucket at the steady rate.
func (rl *RateLimiter) refill() {
	defer rl.wg.Done()
	interval := time.Duration(float64(time.Second) / rl.config.RequestsPerSecond)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			select {
			case rl.tokens <- struct{}{}:
			default:
			}
		case <-rl.stopCh:
			return
		}
	}
}

// dispatch serves queued calls one at a time.
func (rl *RateLimiter) dispatch() {
	defer rl.wg.Done()
	for {
		select {
		case <-rl.stopCh:
			return
		case qc := <-rl.queue:
			rl.serve(qc)
		}
	}
}

func (rl *RateLimiter) serve(qc *queuedCall) {
	if err := qc.ctx.Err(); err != nil {
		qc.resultCh <- callResult{err: err}
		return
	}

	// Take a bucket token.
	select {
	case <-rl.tokens:
	case <-qc.ctx.Done():
		qc.resultCh <- callResult{err: qc.ctx.Err()}
		return
	case <-rl.stopCh:
		qc.resultCh <- callResult{err: ErrRateLimiterClosed}
		return
	}

	// Hold while the token budget is exhausted.
	for rl.config.TokensPerMinute > 0 && rl.tokensInWindow() >= rl.config.TokensPerMinute {
		rl.logger.Warn("token budget exhausted, holding call until window clears",
			zap.Int("tokens_in_window", rl.tokensInWindow()),
			zap.Int("tokens_per_minute", rl.config.TokensPerMinute),
			zap.Duration("queued_for", time.Since(qc.enqueued)))
		select {
		case <-time.After(tokenWindowPoll):
		case <-qc.ctx.Done():
			qc.resultCh <- callResult{err: qc.ctx.Err()}
			return
		case <-rl.stopCh:
			qc.resultCh <- callResult{err: ErrRateLimiterClosed}
			return
		}
	}

	// Enforce minimum spacing between dispatches.
	if rl.config.MinDelay > 0 {
		rl.mu.Lock()
		since := time.Since(rl.lastRun)
		rl.mu.Unlock()
		if since < rl.config.MinDelay {
			select {
			case <-time.After(rl.config.MinDelay - since):
			case <-qc.ctx.Done():
				qc.resultCh <- callResult{err: qc.ctx.Err()}
				return
			case <-rl.stopCh:
				qc.resultCh <- callResult{err: ErrRateLimiterClosed}
				return
			}
		}
	}

	value, err := rl.callWithRetry(qc.ctx, qc.call)

	rl.mu.Lock()
	rl.lastRun = time.Now()
	rl.mu.Unlock()

	qc.resultCh <- callResult{value: value, err: err}
}

// callWithRetry invokes the call, backing off exponentially on
// throttling responses up to MaxRetries.
func (rl *RateLimiter) callWithRetry(ctx context.Context, call func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	var lastErr error
	for attempt := 0; attempt <= rl.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := rl.config.RetryBackoff * time.Duration(1<<uint(attempt-1))
			if backoff > maxRetryBackoff {
				backoff = maxRetryBackoff
			}
			rl.retries.Add(1)
			rl.logger.Warn("provider throttled, backing off",
				zap.Int("attempt", attempt),
				zap.Int("max_retries", rl.config.MaxRetries),
				zap.Duration("backoff", backoff),
				zap.Error(lastErr))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		value, err := call(ctx)
		if err == nil {
			return value, nil
		}
		if !isThrottlingError(err) {
			rl.failed.Add(1)
			return nil, err
		}
		rl.throttled.Add(1)
		lastErr = err
	}
	rl.failed.Add(1)
	return nil, fmt.Errorf("rate limit retries exhausted after %d attempts: %w", rl.config.MaxRetries+1, lastErr)
}

// report logs limiter counters once a minute while active.
func (rl *RateLimiter) report() {
	defer rl.wg.Done()
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m := rl.GetMetrics()
			if m.TotalCalls == 0 {
				continue
			}
			rl.logger.Debug("rate limiter status",
				zap.Int64("total_calls", m.TotalCalls),
				zap.Int64("throttled", m.Throttled),
				zap.Int64("retries", m.Retries),
				zap.Int64("failed", m.Failed),
				zap.Int("queue_depth", m.QueueDepth),
				zap.Int("tokens_in_window", m.TokensInWindow))
		case <-rl.stopCh:
			return
		}
	}
}

func (rl *RateLimiter) tokensInWindow() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.pruneLocked()
	total := 0
	for _, s := range rl.usage {
		total += s.tokens
	}
	return total
}

func (rl *RateLimiter) pruneLocked() {
	cutoff := time.Now().Add(-tokenWindow)
	kept := rl.usage[:0]
	for _, s := range rl.usage {
		if s.at.After(cutoff) {
			kept = append(kept, s)
		}
	}
	rl.usage = kept
}

// isThrottlingError reports whether a provider response asked us to
// slow down. Matching is on message text because the raw wire errors
// from all three providers funnel through here before normalization.
func isThrottlingError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"429", "throttl", "too many requests", "rate limit", "overloaded", "529"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
