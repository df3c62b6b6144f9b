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
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mottych/PurposePath-AI-sub003/internal/pubsub"
	"github.com/mottych/PurposePath-AI-sub003/pkg/llm"
	"github.com/mottych/PurposePath-AI-sub003/pkg/observability"
	"github.com/mottych/PurposePath-AI-sub003/pkg/runtimeconfig"
	"github.com/mottych/PurposePath-AI-sub003/pkg/topics"
	"github.com/mottych/PurposePath-AI-sub003/pkg/types"
)

var (
	alice = types.Identity{TenantID: "tenant-a", UserID: "user-alice"}
	bob   = types.Identity{TenantID: "tenant-a", UserID: "user-bob"}
	eve   = types.Identity{TenantID: "tenant-b", UserID: "user-eve"}
)

func coreValuesParams() map[string]interface{} {
	return map[string]interface{}{
		"business_context": "a bootstrapped analytics startup",
		"user_name":        "Alice",
	}
}

// fakeStore is an in-memory Store with the contract's version
// semantics and injectable write conflicts.
type fakeStore struct {
	mu       sync.Mutex
	sessions map[string]*Session

	// failUpdates makes the next N Update calls fail with
	// ConcurrentModification before touching state.
	failUpdates int

	creates int
	updates int
}

func newFakeStore() *fakeStore {
	return &fakeStore{sessions: make(map[string]*Session)}
}

func skey(tenantID, sessionID string) string { return tenantID + "/" + sessionID }

func (f *fakeStore) Get(_ context.Context, tenantID, sessionID string) (*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[skey(tenantID, sessionID)]
	if !ok {
		return nil, NotFoundError(sessionID)
	}
	return s.Clone(), nil
}

func (f *fakeStore) FindResumable(_ context.Context, tenantID, topicID string) (*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var found *Session
	for _, s := range f.sessions {
		if s.TenantID != tenantID || s.TopicID != topicID || s.Status.Terminal() {
			continue
		}
		if found == nil || s.CreatedAt.Before(found.CreatedAt) {
			found = s
		}
	}
	if found == nil {
		return nil, NotFoundError("")
	}
	return found.Clone(), nil
}

func (f *fakeStore) Create(_ context.Context, s *Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	for _, existing := range f.sessions {
		if existing.TenantID == s.TenantID && existing.UserID == s.UserID &&
			existing.TopicID == s.TopicID && !existing.Status.Terminal() {
			return ConflictError(s.ID, 0, existing.Version)
		}
	}
	s.Version = 1
	f.sessions[skey(s.TenantID, s.ID)] = s.Clone()
	return nil
}

func (f *fakeStore) Update(_ context.Context, s *Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++
	if f.failUpdates > 0 {
		f.failUpdates--
		return ConflictError(s.ID, s.Version, s.Version+1)
	}
	stored, ok := f.sessions[skey(s.TenantID, s.ID)]
	if !ok {
		return NotFoundError(s.ID)
	}
	if stored.Version != s.Version {
		return ConflictError(s.ID, s.Version, stored.Version)
	}
	s.Version++
	f.sessions[skey(s.TenantID, s.ID)] = s.Clone()
	return nil
}

// stored returns the persisted record for assertions.
func (f *fakeStore) stored(t *testing.T, tenantID, sessionID string) *Session {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[skey(tenantID, sessionID)]
	require.True(t, ok, "session %s not stored", sessionID)
	return s.Clone()
}

// fakeConfigs is an in-memory runtimeconfig.Store.
type fakeConfigs struct {
	mu      sync.Mutex
	records map[string]*runtimeconfig.Record
}

func newFakeConfigs() *fakeConfigs {
	return &fakeConfigs{records: make(map[string]*runtimeconfig.Record)}
}

func (f *fakeConfigs) GetConfig(_ context.Context, tenantID, topicID string) (*runtimeconfig.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[tenantID+"/"+topicID]
	if !ok {
		return nil, runtimeconfig.NotConfiguredError(tenantID, topicID)
	}
	return r.Clone(), nil
}

func (f *fakeConfigs) PutConfig(_ context.Context, r *runtimeconfig.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[r.TenantID+"/"+r.TopicID] = r.Clone()
	return nil
}

func (f *fakeConfigs) ListConfigs(_ context.Context, tenantID string, filter runtimeconfig.Filter) ([]*runtimeconfig.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*runtimeconfig.Record
	for _, r := range f.records {
		if r.TenantID == tenantID && filter.Matches(r) {
			out = append(out, r.Clone())
		}
	}
	return out, nil
}

// fakeClock is a settable clock for the orchestrator's now hook.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (d *scriptedDispatcher) push(results ...dispatchResult) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.results = append(d.results, results...)
}

type orchEnv struct {
	orch    *Orchestrator
	store   *fakeStore
	gateway *scriptedDispatcher
	configs *fakeConfigs
	tracer  *observability.MockTracer
	clock   *fakeClock
}

func newOrchEnv(t *testing.T) *orchEnv {
	t.Helper()
	reg, renderer := testTopicEnv(t)
	store := newFakeStore()
	gateway := &scriptedDispatcher{}
	configs := newFakeConfigs()
	require.NoError(t, configs.PutConfig(context.Background(), coreValuesConfig()))
	tracer := observability.NewMockTracer()

	orch := NewOrchestrator(reg, configs, renderer, gateway, store, Config{}, tracer)
	clock := &fakeClock{now: testStart}
	orch.now = clock.Now

	var mu sync.Mutex
	seq := 0
	orch.newID = func() string {
		mu.Lock()
		defer mu.Unlock()
		seq++
		return fmt.Sprintf("sess_%04d", seq)
	}

	t.Cleanup(orch.Close)
	return &orchEnv{orch: orch, store: store, gateway: gateway, configs: configs, tracer: tracer, clock: clock}
}

func (e *orchEnv) putConfig(t *testing.T, mutate func(*runtimeconfig.Record)) {
	t.Helper()
	cfg := coreValuesConfig()
	mutate(cfg)
	require.NoError(t, e.configs.PutConfig(context.Background(), cfg))
}

// Three turns end to end: initiation, a middle exchange, a closing
// reply carrying the completion marker, then automatic extraction.
func TestSessionLifecycleToCompletion(t *testing.T) {
	env := newOrchEnv(t)
	ctx := context.Background()
	env.gateway.push(
		dispatchResult{text: "Welcome Alice! What matters most to you in your work?"},
		dispatchResult{text: "Thank you. How does integrity show up day to day?"},
		dispatchResult{text: "Here is your summary.\n[SESSION_COMPLETE]"},
		dispatchResult{text: validCoreValuesJSON},
	)

	res1, err := env.orch.Initiate(ctx, alice, topics.TopicCoreValues, coreValuesParams())
	require.NoError(t, err)
	assert.Equal(t, "sess_0001", res1.SessionID)
	assert.Equal(t, 1, res1.Turn)
	assert.Equal(t, 3, res1.MaxTurns)
	assert.False(t, res1.IsFinal)
	assert.False(t, res1.Resumed)
	assert.Equal(t, "Welcome Alice! What matters most to you in your work?", res1.Message)
	assert.Equal(t, "coach-primary", res1.Metadata.Model)
	assert.Equal(t, 120, res1.Metadata.InputTokens)

	// The opening dispatch is the rendered system prompt plus the
	// rendered initiation prompt as the first user message.
	first := env.gateway.call(0)
	require.Len(t, first.Messages, 2)
	assert.Equal(t, types.RoleSystem, first.Messages[0].Role)
	assert.Contains(t, first.Messages[0].Content, "experienced leadership coach")
	assert.Contains(t, first.Messages[0].Content, "Alice")
	assert.Contains(t, first.Messages[0].Content, "a bootstrapped analytics startup")
	assert.Equal(t, types.RoleUser, first.Messages[1].Role)
	assert.Contains(t, first.Messages[1].Content, "Greet Alice by name")
	assert.Equal(t, 0.7, first.Temperature)
	assert.Equal(t, 800, first.MaxTokens)

	res2, err := env.orch.AddMessage(ctx, alice, res1.SessionID, "Integrity matters most; I want to build honestly.")
	require.NoError(t, err)
	assert.Equal(t, 2, res2.Turn)
	assert.False(t, res2.IsFinal)

	// The turn dispatch carries the whole conversation, alternating
	// after the system prompt.
	second := env.gateway.call(1)
	require.Len(t, second.Messages, 4)
	assert.Equal(t, types.RoleAssistant, second.Messages[2].Role)
	assert.Equal(t, types.RoleUser, second.Messages[3].Role)
	assert.Equal(t, "Integrity matters most; I want to build honestly.", second.Messages[3].Content)

	res3, err := env.orch.AddMessage(ctx, alice, res1.SessionID, "Integrity first, then candor.")
	require.NoError(t, err)
	assert.Equal(t, 3, res3.Turn)
	assert.True(t, res3.IsFinal)
	assert.Equal(t, "Here is your summary.", res3.Message, "the marker never reaches the user")

	// The final turn triggered completion inline: one extraction
	// dispatch, then the persisted transition.
	require.Equal(t, 4, env.gateway.callCount())
	extraction := env.gateway.call(3)
	assert.Equal(t, 0.0, extraction.Temperature)
	assert.NotContains(t, extraction.Messages[1].Content, "[SESSION_COMPLETE]",
		"the stripped reply is what the transcript carries")
	assert.Contains(t, extraction.Messages[1].Content, "Assistant: Here is your summary.")

	snap, err := env.orch.Get(ctx, alice, res1.SessionID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, snap.Status)
	require.NotNil(t, snap.Result)
	assert.Equal(t, "Integrity came through in every answer.", snap.Result["summary"])
	require.NotNil(t, snap.CompletedAt)

	stored := env.store.stored(t, alice.TenantID, res1.SessionID)
	assert.Equal(t, "CoreValuesResult", stored.ExtractionSchemaID)
	assert.NotContains(t, stored.Messages[len(stored.Messages)-1].Content, "[SESSION_COMPLETE]")

	assert.Len(t, env.tracer.GetMetricsByName(observability.MetricSessionsInitiated), 1)
	assert.Len(t, env.tracer.GetMetricsByName(observability.MetricSessionTurns), 2)
	assert.Len(t, env.tracer.GetMetricsByName(observability.MetricSessionsCompleted), 1)
}

// Initiating again is how a user returns: within the idle window the
// previous assistant message is re-served without a model call, past
// it the resume prompt re-engages with a digest of the conversation.
func TestInitiateResumesOwnSession(t *testing.T) {
	env := newOrchEnv(t)
	ctx := context.Background()
	env.gateway.push(
		dispatchResult{text: "Welcome Alice! What matters most to you?"},
		dispatchResult{text: "Welcome back. We were exploring integrity; what else?"},
	)

	res1, err := env.orch.Initiate(ctx, alice, topics.TopicCoreValues, coreValuesParams())
	require.NoError(t, err)

	// Back-to-back initiation: same session, same message, no dispatch,
	// no write.
	res2, err := env.orch.Initiate(ctx, alice, topics.TopicCoreValues, coreValuesParams())
	require.NoError(t, err)
	assert.Equal(t, res1.SessionID, res2.SessionID)
	assert.True(t, res2.Resumed)
	assert.Equal(t, res1.Turn, res2.Turn)
	assert.Equal(t, res1.Message, res2.Message)
	assert.Equal(t, "coach-primary", res2.Metadata.Model)
	assert.Equal(t, 1, env.gateway.callCount())
	assert.Equal(t, int64(1), env.store.stored(t, alice.TenantID, res1.SessionID).Version)

	// Past the idle window the resume template goes to the model with
	// the conversation digest.
	env.clock.Advance(20 * time.Minute)
	res3, err := env.orch.Initiate(ctx, alice, topics.TopicCoreValues, coreValuesParams())
	require.NoError(t, err)
	assert.Equal(t, res1.SessionID, res3.SessionID)
	assert.True(t, res3.Resumed)
	assert.Equal(t, res1.Turn, res3.Turn, "resume does not advance the turn")
	assert.Equal(t, "Welcome back. We were exploring integrity; what else?", res3.Message)
	require.Equal(t, 2, env.gateway.callCount())

	resume := env.gateway.call(1)
	last := resume.Messages[len(resume.Messages)-1]
	assert.Equal(t, types.RoleUser, last.Role)
	assert.Contains(t, last.Content, "has returned to an in-progress core values session")
	assert.Contains(t, last.Content, "Assistant: Welcome Alice! What matters most to you?",
		"the digest quotes the conversation")

	stored := env.store.stored(t, alice.TenantID, res1.SessionID)
	assert.Equal(t, int64(2), stored.Version)
	assert.Len(t, stored.Messages, 5, "resume prompt and reply were persisted")
	assert.Equal(t, env.clock.Now(), stored.LastActivityAt)
	assert.Equal(t, env.clock.Now().Add(24*time.Hour), stored.ExpiresAt,
		"activity pushes expiry out")
	assert.Len(t, env.tracer.GetMetricsByName(observability.MetricSessionsResumed), 2)
}

// One open session per topic per tenant: a second user's initiation
// fails with a conflict naming the holder's opaque id.
func TestInitiateConflictAcrossUsers(t *testing.T) {
	env := newOrchEnv(t)
	ctx := context.Background()
	env.gateway.push(dispatchResult{text: "Welcome Alice!"})

	_, err := env.orch.Initiate(ctx, alice, topics.TopicCoreValues, coreValuesParams())
	require.NoError(t, err)

	_, err = env.orch.Initiate(ctx, bob, topics.TopicCoreValues, coreValuesParams())
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindSessionConflict))
	assert.Equal(t, "user-alice", types.AsError(err).OtherUserID)
	assert.Equal(t, 1, env.gateway.callCount(), "the conflicting initiation never dispatched")
	assert.Len(t, env.tracer.GetMetricsByName(observability.MetricSessionConflicts), 1)
	assert.Equal(t, 1, env.store.creates)
}

// Hitting the turn budget finalizes the turn and completes inline,
// surviving one malformed extraction output on the way.
func TestMaxTurnsTriggersCompletionWithExtractionRetry(t *testing.T) {
	env := newOrchEnv(t)
	ctx := context.Background()
	env.putConfig(t, func(c *runtimeconfig.Record) { c.MaxTurns = 2 })
	env.gateway.push(
		dispatchResult{text: "Welcome Alice! What matters most?"},
		dispatchResult{text: "Noted. We are out of time; thank you."},
		dispatchResult{text: `{"oops": true}`},
		dispatchResult{text: validCoreValuesJSON},
	)

	res1, err := env.orch.Initiate(ctx, alice, topics.TopicCoreValues, coreValuesParams())
	require.NoError(t, err)
	assert.False(t, res1.IsFinal)

	res2, err := env.orch.AddMessage(ctx, alice, res1.SessionID, "Integrity, then candor.")
	require.NoError(t, err)
	assert.Equal(t, 2, res2.Turn)
	assert.True(t, res2.IsFinal, "the turn budget is the signal here, no marker needed")

	require.Equal(t, 4, env.gateway.callCount(), "two turns plus two extraction attempts")
	assert.Len(t, env.tracer.GetMetricsByName(observability.MetricExtractionRetries), 1)

	snap, err := env.orch.Get(ctx, alice, res1.SessionID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, snap.Status)
	require.NotNil(t, snap.Result)

	// The completed session refuses further turns.
	_, err = env.orch.AddMessage(ctx, alice, res1.SessionID, "one more thought")
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindSessionNotActive))
}

// stubProvider is a minimal llm.Provider for gateway-in-the-loop tests.
type stubProvider struct {
	name string
	text string
	err  error

	mu    sync.Mutex
	calls int
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) Complete(_ context.Context, _ llm.Request) (*types.Completion, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	return &types.Completion{
		Text:         p.text,
		FinishReason: "end_turn",
		Usage:        types.Usage{InputTokens: 100, OutputTokens: 50, TotalTokens: 150},
	}, nil
}

func (p *stubProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// With the real gateway wired, a configured fallback model serves the
// turn when the primary stays down, and the result reports the model
// that actually answered.
func TestInitiateFallsBackToConfiguredModel(t *testing.T) {
	reg, renderer := testTopicEnv(t)

	models := llm.NewRegistry()
	require.NoError(t, models.Register(llm.Entry{
		Code:              "coach-primary",
		Provider:          "stub-a",
		ProviderModel:     "stub-primary-v1",
		Capabilities:      []llm.Capability{llm.CapabilityChat},
		Active:            true,
		MaxTemperature:    1.0,
		InputCostPerMTok:  3.0,
		OutputCostPerMTok: 15.0,
	}))
	require.NoError(t, models.Register(llm.Entry{
		Code:              "coach-fallback",
		Provider:          "stub-b",
		ProviderModel:     "stub-fallback-v1",
		Capabilities:      []llm.Capability{llm.CapabilityChat},
		Active:            true,
		MaxTemperature:    1.0,
		InputCostPerMTok:  0.8,
		OutputCostPerMTok: 4.0,
	}))

	primary := &stubProvider{name: "stub-a", err: types.NewError(types.KindProviderUnavailable, "overloaded")}
	fallback := &stubProvider{name: "stub-b", text: "Welcome! Picking up on the fallback model."}
	gcfg := llm.DefaultGatewayConfig()
	gcfg.RetryBackoff = time.Millisecond
	gateway := llm.NewGateway(models, []llm.Provider{primary, fallback}, gcfg, nil)

	store := newFakeStore()
	configs := newFakeConfigs()
	cfg := coreValuesConfig()
	cfg.FallbackModelCode = "coach-fallback"
	require.NoError(t, configs.PutConfig(context.Background(), cfg))

	orch := NewOrchestrator(reg, configs, renderer, gateway, store, Config{}, nil)
	t.Cleanup(orch.Close)

	res, err := orch.Initiate(context.Background(), alice, topics.TopicCoreValues, coreValuesParams())
	require.NoError(t, err)
	assert.Equal(t, "coach-fallback", res.Metadata.Model)
	assert.Equal(t, "Welcome! Picking up on the fallback model.", res.Message)
	assert.Equal(t, 2, primary.callCount(), "initial attempt plus one retry")
	assert.Equal(t, 1, fallback.callCount())
}

// Cross-tenant probes read as not-found; same-tenant probes by another
// user read as forbidden. The distinction is what keeps session ids
// unconfirmable across tenants.
func TestSessionIsolation(t *testing.T) {
	env := newOrchEnv(t)
	ctx := context.Background()
	env.gateway.push(dispatchResult{text: "Welcome Alice!"})

	res, err := env.orch.Initiate(ctx, alice, topics.TopicCoreValues, coreValuesParams())
	require.NoError(t, err)

	_, err = env.orch.Get(ctx, eve, res.SessionID)
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindSessionNotFound))

	_, err = env.orch.AddMessage(ctx, eve, res.SessionID, "let me in")
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindSessionNotFound))

	_, err = env.orch.Get(ctx, bob, res.SessionID)
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindForbidden))

	_, err = env.orch.Complete(ctx, bob, res.SessionID)
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindForbidden))
}

func TestInitiatePreconditions(t *testing.T) {
	env := newOrchEnv(t)
	ctx := context.Background()

	_, err := env.orch.Initiate(ctx, alice, "COACHING:does_not_exist", nil)
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindTopicNotAvailable))

	// Registered but single-shot: sessions do not apply.
	require.NoError(t, env.configs.PutConfig(ctx, &runtimeconfig.Record{
		TenantID: alice.TenantID, TopicID: topics.TopicSessionRecap,
		ModelCode: "coach-primary", MaxTokens: 512, MaxTurns: 1,
		SessionTTLHours: 1, IdleTimeoutMinutes: 1, IsActive: true,
	}))
	_, err = env.orch.Initiate(ctx, alice, topics.TopicSessionRecap,
		map[string]interface{}{"transcript": "User: hi"})
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindTopicNotAvailable))

	// Configured for tenant-a only: tenant-b cannot see it.
	_, err = env.orch.Initiate(ctx, eve, topics.TopicCoreValues, coreValuesParams())
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindTopicNotAvailable))

	// Deactivated configuration.
	env.putConfig(t, func(c *runtimeconfig.Record) { c.IsActive = false })
	_, err = env.orch.Initiate(ctx, alice, topics.TopicCoreValues, coreValuesParams())
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindTopicNotAvailable))

	assert.Equal(t, 0, env.gateway.callCount())

	_, err = env.orch.Initiate(ctx, types.Identity{TenantID: "tenant-a"}, topics.TopicCoreValues, nil)
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindInvalidArgument))
}

func TestInitiateMissingRequiredParameter(t *testing.T) {
	env := newOrchEnv(t)
	ctx := context.Background()

	_, err := env.orch.Initiate(ctx, alice, topics.TopicCoreValues,
		map[string]interface{}{"user_name": "Alice"})
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindMissingParameter))
	assert.Equal(t, "business_context", types.AsError(err).Parameter)
	assert.Equal(t, 0, env.gateway.callCount())
	assert.Equal(t, 0, env.store.creates)
}

func TestAddMessageValidation(t *testing.T) {
	env := newOrchEnv(t)
	ctx := context.Background()
	env.gateway.push(dispatchResult{text: "Welcome Alice!"})

	res, err := env.orch.Initiate(ctx, alice, topics.TopicCoreValues, coreValuesParams())
	require.NoError(t, err)

	_, err = env.orch.AddMessage(ctx, alice, res.SessionID, "")
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindInvalidArgument))

	_, err = env.orch.AddMessage(ctx, alice, res.SessionID, "   \n\t ")
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindInvalidArgument))

	_, err = env.orch.AddMessage(ctx, alice, res.SessionID, strings.Repeat("a", 8193))
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindInvalidArgument))

	_, err = env.orch.AddMessage(ctx, alice, "sess_unknown", "hello")
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindSessionNotFound))

	assert.Equal(t, 1, env.gateway.callCount(), "nothing invalid reached the model")
}

// TTL expiry is lazy: reads and turns report it immediately, while the
// next initiation persists the transition and starts fresh.
func TestExpiryLifecycle(t *testing.T) {
	env := newOrchEnv(t)
	ctx := context.Background()
	env.gateway.push(
		dispatchResult{text: "Welcome Alice!"},
		dispatchResult{text: "Welcome to a fresh session."},
	)

	res1, err := env.orch.Initiate(ctx, alice, topics.TopicCoreValues, coreValuesParams())
	require.NoError(t, err)

	env.clock.Advance(25 * time.Hour)

	snap, err := env.orch.Get(ctx, alice, res1.SessionID)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, snap.Status)
	assert.Equal(t, StatusActive, env.store.stored(t, alice.TenantID, res1.SessionID).Status,
		"reads never write")

	_, err = env.orch.AddMessage(ctx, alice, res1.SessionID, "still there?")
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindSessionExpired))

	_, err = env.orch.Complete(ctx, alice, res1.SessionID)
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindSessionExpired))

	_, err = env.orch.Cancel(ctx, alice, res1.SessionID)
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindSessionExpired))

	// Initiation persists the expiry and creates a new session.
	res2, err := env.orch.Initiate(ctx, alice, topics.TopicCoreValues, coreValuesParams())
	require.NoError(t, err)
	assert.NotEqual(t, res1.SessionID, res2.SessionID)
	assert.False(t, res2.Resumed)
	assert.Equal(t, 1, res2.Turn)
	assert.Equal(t, StatusExpired, env.store.stored(t, alice.TenantID, res1.SessionID).Status)
	assert.Len(t, env.tracer.GetMetricsByName(observability.MetricSessionsExpired), 1)
}

// A write conflict re-runs the whole turn against fresh state; the
// session never records the losing attempt.
func TestWriteConflictRetries(t *testing.T) {
	env := newOrchEnv(t)
	ctx := context.Background()
	env.gateway.push(
		dispatchResult{text: "Welcome Alice!"},
		dispatchResult{text: "Turn reply."},
	)

	res, err := env.orch.Initiate(ctx, alice, topics.TopicCoreValues, coreValuesParams())
	require.NoError(t, err)

	env.store.mu.Lock()
	env.store.failUpdates = 1
	env.store.mu.Unlock()

	res2, err := env.orch.AddMessage(ctx, alice, res.SessionID, "Integrity.")
	require.NoError(t, err)
	assert.Equal(t, 2, res2.Turn)
	assert.Equal(t, 3, env.gateway.callCount(), "the losing attempt dispatched too")
	assert.Len(t, env.tracer.GetMetricsByName(observability.MetricSessionRetries), 1)

	stored := env.store.stored(t, alice.TenantID, res.SessionID)
	assert.Len(t, stored.Messages, 5, "no duplicated exchange from the retry")
}

func TestWriteConflictExhaustionSurfacesBusy(t *testing.T) {
	env := newOrchEnv(t)
	ctx := context.Background()
	env.gateway.push(
		dispatchResult{text: "Welcome Alice!"},
		dispatchResult{text: "Turn reply."},
	)

	res, err := env.orch.Initiate(ctx, alice, topics.TopicCoreValues, coreValuesParams())
	require.NoError(t, err)

	env.store.mu.Lock()
	env.store.failUpdates = 10
	env.store.mu.Unlock()

	_, err = env.orch.AddMessage(ctx, alice, res.SessionID, "Integrity.")
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindBusy))
	assert.Equal(t, 4, env.gateway.callCount(), "three bounded attempts after the initiation")

	env.store.mu.Lock()
	env.store.failUpdates = 0
	env.store.mu.Unlock()

	stored := env.store.stored(t, alice.TenantID, res.SessionID)
	assert.Equal(t, 1, stored.Turn, "no attempt was persisted")
	assert.Len(t, stored.Messages, 3)
}

// Freeform topics complete without extraction and without a result.
func TestCompleteFreeformTopic(t *testing.T) {
	env := newOrchEnv(t)
	ctx := context.Background()
	env.putConfig(t, func(c *runtimeconfig.Record) { c.TopicID = topics.TopicOpenReflection })
	env.gateway.push(
		dispatchResult{text: "What would you like to reflect on?"},
		dispatchResult{text: "Say more about that tension."},
	)

	params := map[string]interface{}{"focus_area": "delegation", "user_name": "Alice"}
	res, err := env.orch.Initiate(ctx, alice, topics.TopicOpenReflection, params)
	require.NoError(t, err)

	_, err = env.orch.AddMessage(ctx, alice, res.SessionID, "I find it hard to hand work off.")
	require.NoError(t, err)

	done, err := env.orch.Complete(ctx, alice, res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)
	assert.Nil(t, done.Result)
	assert.Equal(t, 2, env.gateway.callCount(), "no extraction dispatch for freeform topics")

	// Completing again is idempotent.
	updatesBefore := env.store.updates
	again, err := env.orch.Complete(ctx, alice, res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, again.Status)
	assert.Nil(t, again.Result)
	assert.Equal(t, updatesBefore, env.store.updates, "idempotent completion does not write")
}

// A failed extraction leaves the session Active so completion can be
// retried; the earlier turn result already succeeded.
func TestCompleteExtractionFailureLeavesActive(t *testing.T) {
	env := newOrchEnv(t)
	ctx := context.Background()
	env.gateway.push(
		dispatchResult{text: "Welcome Alice!"},
		dispatchResult{text: "not json"},
		dispatchResult{text: "still not json"},
	)

	res, err := env.orch.Initiate(ctx, alice, topics.TopicCoreValues, coreValuesParams())
	require.NoError(t, err)

	_, err = env.orch.Complete(ctx, alice, res.SessionID)
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindExtractionFailed))
	assert.Equal(t, StatusActive, env.store.stored(t, alice.TenantID, res.SessionID).Status)

	env.gateway.push(dispatchResult{text: validCoreValuesJSON})
	done, err := env.orch.Complete(ctx, alice, res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)
	assert.Equal(t, "Integrity came through in every answer.", done.Result["summary"])
}

// An automatic completion that fails to extract is swallowed: the
// final turn stands, the session stays Active and resumable, and an
// explicit Complete finishes the job.
func TestAutoCompletionFailureKeepsSessionResumable(t *testing.T) {
	env := newOrchEnv(t)
	ctx := context.Background()
	env.putConfig(t, func(c *runtimeconfig.Record) { c.MaxTurns = 1 })
	env.gateway.push(
		dispatchResult{text: "Welcome Alice! That was quick."},
		dispatchResult{text: "no json here"},
		dispatchResult{text: "still no json"},
	)

	res, err := env.orch.Initiate(ctx, alice, topics.TopicCoreValues, coreValuesParams())
	require.NoError(t, err)
	assert.True(t, res.IsFinal)
	assert.Equal(t, 3, env.gateway.callCount(), "initiation plus two extraction attempts")
	assert.Equal(t, StatusActive, env.store.stored(t, alice.TenantID, res.SessionID).Status)

	// Re-initiating within the idle window re-serves the final reply.
	res2, err := env.orch.Initiate(ctx, alice, topics.TopicCoreValues, coreValuesParams())
	require.NoError(t, err)
	assert.True(t, res2.Resumed)
	assert.True(t, res2.IsFinal)
	assert.Equal(t, res.SessionID, res2.SessionID)
	assert.Equal(t, 3, env.gateway.callCount())

	env.gateway.push(dispatchResult{text: validCoreValuesJSON})
	done, err := env.orch.Complete(ctx, alice, res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)
}

// A stop_sequence finish reason is the provider-level completion
// signal, independent of the textual marker.
func TestFinishReasonSignalsCompletion(t *testing.T) {
	env := newOrchEnv(t)
	ctx := context.Background()
	env.gateway.push(
		dispatchResult{text: "Welcome Alice!"},
		dispatchResult{text: "A good place to stop.", finishReason: "stop_sequence"},
		dispatchResult{text: validCoreValuesJSON},
	)

	res, err := env.orch.Initiate(ctx, alice, topics.TopicCoreValues, coreValuesParams())
	require.NoError(t, err)

	res2, err := env.orch.AddMessage(ctx, alice, res.SessionID, "Integrity.")
	require.NoError(t, err)
	assert.True(t, res2.IsFinal)
	assert.Equal(t, "A good place to stop.", res2.Message)

	snap, err := env.orch.Get(ctx, alice, res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, snap.Status)
}

func TestCancel(t *testing.T) {
	env := newOrchEnv(t)
	ctx := context.Background()
	env.gateway.push(dispatchResult{text: "Welcome Alice!"})

	res, err := env.orch.Initiate(ctx, alice, topics.TopicCoreValues, coreValuesParams())
	require.NoError(t, err)

	snap, err := env.orch.Cancel(ctx, alice, res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, snap.Status)
	assert.Equal(t, StatusCancelled, env.store.stored(t, alice.TenantID, res.SessionID).Status)
	assert.Len(t, env.tracer.GetMetricsByName(observability.MetricSessionsCancelled), 1)

	_, err = env.orch.AddMessage(ctx, alice, res.SessionID, "wait")
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindSessionNotActive))

	_, err = env.orch.Cancel(ctx, alice, res.SessionID)
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindSessionNotActive))
}

// A terminal session releases the topic: the next initiation starts a
// fresh session instead of resuming.
func TestInitiateAfterTerminalSession(t *testing.T) {
	env := newOrchEnv(t)
	ctx := context.Background()
	env.gateway.push(
		dispatchResult{text: "Welcome Alice!"},
		dispatchResult{text: "A fresh start."},
	)

	res1, err := env.orch.Initiate(ctx, alice, topics.TopicCoreValues, coreValuesParams())
	require.NoError(t, err)
	_, err = env.orch.Cancel(ctx, alice, res1.SessionID)
	require.NoError(t, err)

	res2, err := env.orch.Initiate(ctx, alice, topics.TopicCoreValues, coreValuesParams())
	require.NoError(t, err)
	assert.NotEqual(t, res1.SessionID, res2.SessionID)
	assert.False(t, res2.Resumed)
	assert.Equal(t, 1, res2.Turn)
	assert.Equal(t, "A fresh start.", res2.Message)
}

func TestLifecycleEvents(t *testing.T) {
	env := newOrchEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := env.orch.Events().Subscribe(ctx)

	env.gateway.push(
		dispatchResult{text: "Welcome Alice!"},
		dispatchResult{text: "Turn reply."},
	)

	res, err := env.orch.Initiate(ctx, alice, topics.TopicCoreValues, coreValuesParams())
	require.NoError(t, err)
	_, err = env.orch.AddMessage(ctx, alice, res.SessionID, "Integrity.")
	require.NoError(t, err)
	_, err = env.orch.Cancel(ctx, alice, res.SessionID)
	require.NoError(t, err)

	env.orch.Close()
	var events []pubsub.Event[Event]
	for e := range ch {
		events = append(events, e)
	}

	require.Len(t, events, 3)
	assert.Equal(t, pubsub.CreatedEvent, events[0].Type)
	assert.Equal(t, StatusActive, events[0].Payload.Status)
	assert.Equal(t, 1, events[0].Payload.Turn)
	assert.Equal(t, res.SessionID, events[0].Payload.SessionID)

	assert.Equal(t, pubsub.UpdatedEvent, events[1].Type)
	assert.Equal(t, 2, events[1].Payload.Turn)

	assert.Equal(t, pubsub.UpdatedEvent, events[2].Type)
	assert.Equal(t, StatusCancelled, events[2].Payload.Status)
}

func TestGetReturnsSnapshot(t *testing.T) {
	env := newOrchEnv(t)
	ctx := context.Background()
	env.gateway.push(dispatchResult{text: "Welcome Alice!"})

	res, err := env.orch.Initiate(ctx, alice, topics.TopicCoreValues, coreValuesParams())
	require.NoError(t, err)

	updatesBefore := env.store.updates
	snap, err := env.orch.Get(ctx, alice, res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, res.SessionID, snap.SessionID)
	assert.Equal(t, topics.TopicCoreValues, snap.TopicID)
	assert.Equal(t, StatusActive, snap.Status)
	assert.Equal(t, 1, snap.Turn)
	assert.Equal(t, 3, snap.MaxTurns)
	assert.Equal(t, updatesBefore, env.store.updates)

	_, err = env.orch.Get(ctx, alice, "sess_unknown")
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindSessionNotFound))
}

func TestCancelledContextNormalizes(t *testing.T) {
	env := newOrchEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := env.orch.Initiate(ctx, alice, topics.TopicCoreValues, coreValuesParams())
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindCancelled))
	assert.Equal(t, 0, env.gateway.callCount())
}
