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
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mottych/PurposePath-AI-sub003/internal/log"
	"github.com/mottych/PurposePath-AI-sub003/internal/pubsub"
	"github.com/mottych/PurposePath-AI-sub003/pkg/llm"
	"github.com/mottych/PurposePath-AI-sub003/pkg/observability"
	"github.com/mottych/PurposePath-AI-sub003/pkg/prompts"
	"github.com/mottych/PurposePath-AI-sub003/pkg/runtimeconfig"
	"github.com/mottych/PurposePath-AI-sub003/pkg/topics"
	"github.com/mottych/PurposePath-AI-sub003/pkg/types"
)

// Config tunes the orchestrator.
type Config struct {
	// MaxWriteRetries bounds how many times a whole operation re-runs
	// after a concurrent-modification write failure before Busy
	// surfaces to the caller.
	MaxWriteRetries int

	// MaxUserMessageBytes bounds AddMessage text.
	MaxUserMessageBytes int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MaxWriteRetries:     3,
		MaxUserMessageBytes: 8192,
	}
}

// TurnResult is what Initiate and AddMessage return: the assistant
// message of the turn plus the session's position.
type TurnResult struct {
	SessionID string         `json:"session_id"`
	Message   string         `json:"message"`
	Turn      int            `json:"turn"`
	MaxTurns  int            `json:"max_turns"`
	IsFinal   bool           `json:"is_final"`
	Resumed   bool           `json:"resumed,omitempty"`
	Metadata  types.Metadata `json:"metadata"`
}

// CompleteResult is what Complete returns. Result is nil for freeform
// topics.
type CompleteResult struct {
	SessionID string                 `json:"session_id"`
	Status    Status                 `json:"status"`
	Result    map[string]interface{} `json:"result,omitempty"`
	Metadata  types.Metadata         `json:"metadata"`
}

// Orchestrator owns the session state machine. It enforces tenant and
// user isolation, serializes per-session mutations through the store's
// version guard, and composes the topic registry, runtime
// configuration, template renderer, and provider gateway into the
// initiate / add-message / complete operations.
type Orchestrator struct {
	topics    *topics.Registry
	configs   runtimeconfig.Store
	renderer  *prompts.Renderer
	gateway   Dispatcher
	store     Store
	extractor *Extractor
	broker    *pubsub.Broker[Event]
	tracer    observability.Tracer
	cfg       Config

	// now and newID are replaced in tests.
	now   func() time.Time
	newID func() string
}

// NewOrchestrator wires the session aggregate root. A nil tracer
// selects the no-op implementation.
func NewOrchestrator(reg *topics.Registry, configs runtimeconfig.Store, renderer *prompts.Renderer, gateway Dispatcher, store Store, cfg Config, tracer observability.Tracer) *Orchestrator {
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	defaults := DefaultConfig()
	if cfg.MaxWriteRetries <= 0 {
		cfg.MaxWriteRetries = defaults.MaxWriteRetries
	}
	if cfg.MaxUserMessageBytes <= 0 {
		cfg.MaxUserMessageBytes = defaults.MaxUserMessageBytes
	}
	return &Orchestrator{
		topics:    reg,
		configs:   configs,
		renderer:  renderer,
		gateway:   gateway,
		store:     store,
		extractor: NewExtractor(renderer, gateway, tracer),
		broker:    pubsub.NewBroker[Event](),
		tracer:    tracer,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     func() string { return "sess_" + uuid.New().String() },
	}
}

// Events exposes the lifecycle broker for observability consumers.
func (o *Orchestrator) Events() *pubsub.Broker[Event] {
	return o.broker
}

// Close releases the lifecycle broker.
func (o *Orchestrator) Close() {
	o.broker.Shutdown()
}

// Initiate starts or resumes the caller's session for a topic.
//
// When another user of the same tenant already holds a resumable
// session for the topic, initiation fails with SessionConflict naming
// that user's opaque id. When the caller holds one, it is resumed:
// within the idle window the previous assistant message is re-served
// without a provider call, so back-to-back initiations are idempotent;
// past the window the resume prompt re-engages the model with a
// bounded digest of the conversation.
func (o *Orchestrator) Initiate(ctx context.Context, id types.Identity, topicID string, params map[string]interface{}) (*TurnResult, error) {
	ctx, span := o.tracer.StartSpan(ctx, observability.SpanSessionInitiate)
	defer o.tracer.EndSpan(span)
	span.SetAttribute(observability.AttrTopicID, topicID)

	if err := id.Validate(); err != nil {
		span.RecordError(err)
		return nil, err
	}

	def, cfg, err := o.resolveTopic(ctx, span, id, topicID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	var result *TurnResult
	err = o.withWriteRetry(ctx, "initiate", func(ctx context.Context) error {
		r, err := o.initiateOnce(ctx, span, id, def, cfg, params)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttribute(observability.AttrSessionID, result.SessionID)
	span.SetAttribute(observability.AttrSessionTurn, result.Turn)
	return result, nil
}

// AddMessage appends the caller's message, obtains the assistant
// reply, and advances the turn counter. When the reply is final, the
// session is completed in the same call; a failed automatic completion
// leaves it Active without failing the turn.
func (o *Orchestrator) AddMessage(ctx context.Context, id types.Identity, sessionID, text string) (*TurnResult, error) {
	ctx, span := o.tracer.StartSpan(ctx, observability.SpanSessionMessage)
	defer o.tracer.EndSpan(span)
	span.SetAttribute(observability.AttrSessionID, sessionID)

	if err := id.Validate(); err != nil {
		span.RecordError(err)
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		err := types.NewError(types.KindInvalidArgument, "message text must not be empty").
			WithSession(sessionID)
		span.RecordError(err)
		return nil, err
	}
	if len(text) > o.cfg.MaxUserMessageBytes {
		err := types.Errorf(types.KindInvalidArgument,
			"message text exceeds %d bytes (got %d)", o.cfg.MaxUserMessageBytes, len(text)).
			WithSession(sessionID)
		span.RecordError(err)
		return nil, err
	}

	var result *TurnResult
	err := o.withWriteRetry(ctx, "add_message", func(ctx context.Context) error {
		r, err := o.addMessageOnce(ctx, span, id, sessionID, text)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttribute(observability.AttrSessionTurn, result.Turn)
	return result, nil
}

// Complete finishes an Active session: it serializes the conversation,
// extracts the topic's result object, and transitions to Completed.
// Freeform topics complete without extraction. Completing an
// already-Completed session is idempotent and returns the stored
// result. An ExtractionFailed error leaves the session Active so the
// caller may retry.
func (o *Orchestrator) Complete(ctx context.Context, id types.Identity, sessionID string) (*CompleteResult, error) {
	ctx, span := o.tracer.StartSpan(ctx, observability.SpanSessionComplete)
	defer o.tracer.EndSpan(span)
	span.SetAttribute(observability.AttrSessionID, sessionID)

	if err := id.Validate(); err != nil {
		span.RecordError(err)
		return nil, err
	}

	var result *CompleteResult
	err := o.withWriteRetry(ctx, "complete", func(ctx context.Context) error {
		sess, err := o.getOwned(ctx, span, id, sessionID)
		if err != nil {
			return err
		}

		if sess.Status == StatusCompleted {
			result = &CompleteResult{
				SessionID: sess.ID,
				Status:    StatusCompleted,
				Result:    sess.ExtractedResult,
			}
			return nil
		}

		now := o.now()
		if sess.Expired(now) {
			return types.NewError(types.KindSessionExpired, "session has expired").
				WithSession(sessionID)
		}
		if sess.Status != StatusActive {
			return types.Errorf(types.KindSessionNotActive, "session is %s", sess.Status).
				WithSession(sessionID)
		}

		def, cfg, err := o.topicConfig(ctx, span, id, sess.TopicID, sessionID)
		if err != nil {
			return err
		}
		r, err := o.completeLoaded(ctx, span, def, cfg, sess)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttribute(observability.AttrSessionStatus, string(result.Status))
	return result, nil
}

// Cancel aborts the caller's Active session. No extraction runs; the
// record stays readable until retention elapses.
func (o *Orchestrator) Cancel(ctx context.Context, id types.Identity, sessionID string) (*Snapshot, error) {
	ctx, span := o.tracer.StartSpan(ctx, observability.SpanSessionCancel)
	defer o.tracer.EndSpan(span)
	span.SetAttribute(observability.AttrSessionID, sessionID)

	if err := id.Validate(); err != nil {
		span.RecordError(err)
		return nil, err
	}

	var snap *Snapshot
	err := o.withWriteRetry(ctx, "cancel", func(ctx context.Context) error {
		sess, err := o.getOwned(ctx, span, id, sessionID)
		if err != nil {
			return err
		}
		now := o.now()
		if sess.Expired(now) {
			return types.NewError(types.KindSessionExpired, "session has expired").
				WithSession(sessionID)
		}
		if err := sess.Cancel(now); err != nil {
			return err
		}
		span.SetAttribute(observability.AttrLastStage, "persist")
		if err := o.store.Update(ctx, sess); err != nil {
			return err
		}
		o.tracer.RecordMetric(observability.MetricSessionsCancelled, 1, map[string]string{
			observability.AttrTopicID: sess.TopicID,
		})
		o.publish(pubsub.UpdatedEvent, sess)
		log.Info("session cancelled",
			zap.String("session_id", sess.ID),
			zap.String("topic_id", sess.TopicID),
			zap.String("correlation_id", types.CorrelationIDFromContext(ctx)))
		snap = sess.SnapshotAt(now)
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttribute(observability.AttrSessionStatus, string(snap.Status))
	return snap, nil
}

// Get returns a read-only snapshot of the caller's session. Expiry is
// surfaced lazily: a session past expires-at reports Expired without a
// write, and the retention sweeper persists the transition later.
func (o *Orchestrator) Get(ctx context.Context, id types.Identity, sessionID string) (*Snapshot, error) {
	ctx, span := o.tracer.StartSpan(ctx, observability.SpanSessionGet)
	defer o.tracer.EndSpan(span)
	span.SetAttribute(observability.AttrSessionID, sessionID)

	if err := id.Validate(); err != nil {
		span.RecordError(err)
		return nil, err
	}
	sess, err := o.getOwned(ctx, span, id, sessionID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	snap := sess.SnapshotAt(o.now())
	span.SetAttribute(observability.AttrSessionStatus, string(snap.Status))
	return snap, nil
}

// resolveTopic checks the initiation preconditions: a registered
// Conversation topic with an active runtime configuration for the
// tenant. Both misses surface as TopicNotAvailable; what exists for
// other tenants is not revealed.
func (o *Orchestrator) resolveTopic(ctx context.Context, span *observability.Span, id types.Identity, topicID string) (*topics.Definition, *runtimeconfig.Record, error) {
	span.SetAttribute(observability.AttrLastStage, "resolve_topic")
	def, err := o.topics.Lookup(topicID)
	if err != nil {
		return nil, nil, types.Wrap(types.KindTopicNotAvailable, err, "topic is not available").
			WithTopic(topicID)
	}
	if def.Kind != topics.Conversation {
		return nil, nil, types.Errorf(types.KindTopicNotAvailable,
			"topic %s does not support sessions", topicID).WithTopic(topicID)
	}

	span.SetAttribute(observability.AttrLastStage, "load_config")
	cfg, err := o.configs.GetConfig(ctx, id.TenantID, topicID)
	if err != nil {
		if types.IsKind(err, types.KindNotConfigured) {
			return nil, nil, types.Wrap(types.KindTopicNotAvailable, err,
				"topic is not configured for this tenant").WithTopic(topicID)
		}
		return nil, nil, err
	}
	if !cfg.IsActive {
		return nil, nil, types.Errorf(types.KindTopicNotAvailable,
			"topic %s is deactivated for this tenant", topicID).WithTopic(topicID)
	}
	return def, cfg, nil
}

// initiateOnce runs one attempt of the initiate resolution against
// fresh store state.
func (o *Orchestrator) initiateOnce(ctx context.Context, span *observability.Span, id types.Identity, def *topics.Definition, cfg *runtimeconfig.Record, params map[string]interface{}) (*TurnResult, error) {
	now := o.now()

	span.SetAttribute(observability.AttrLastStage, "find_resumable")
	existing, err := o.store.FindResumable(ctx, id.TenantID, def.ID)
	switch {
	case err == nil && !existing.Expired(now):
		if existing.UserID != id.UserID {
			o.tracer.RecordMetric(observability.MetricSessionConflicts, 1, map[string]string{
				observability.AttrTopicID: def.ID,
			})
			return nil, types.NewError(types.KindSessionConflict,
				"another user holds an open session for this topic").
				WithTopic(def.ID).WithOtherUser(existing.UserID)
		}
		return o.resume(ctx, span, id, def, cfg, existing, params, now)

	case err == nil:
		// Expired but not yet swept. Persist the lazy transition so
		// the resumable lookup frees up, then create fresh.
		existing.MarkExpired()
		span.SetAttribute(observability.AttrLastStage, "persist_expiry")
		if uerr := o.store.Update(ctx, existing); uerr != nil {
			return nil, uerr
		}
		o.tracer.RecordMetric(observability.MetricSessionsExpired, 1, map[string]string{
			observability.AttrTopicID: def.ID,
		})
		o.publish(pubsub.UpdatedEvent, existing)

	case !types.IsKind(err, types.KindSessionNotFound):
		return nil, err
	}

	return o.create(ctx, span, id, def, cfg, params, now)
}

// create builds a new session: render system and initiation prompts,
// obtain the assistant's opening reply, persist.
func (o *Orchestrator) create(ctx context.Context, span *observability.Span, id types.Identity, def *topics.Definition, cfg *runtimeconfig.Record, params map[string]interface{}, now time.Time) (*TurnResult, error) {
	span.SetAttribute(observability.AttrLastStage, "render_templates")
	sysRef, ok := def.TemplateRef(topics.RoleSystem)
	if !ok {
		return nil, types.NewError(types.KindInternal,
			"conversation topic lacks a system template").WithTopic(def.ID)
	}
	initRef, ok := def.TemplateRef(topics.RoleInitiation)
	if !ok {
		return nil, types.NewError(types.KindInternal,
			"conversation topic lacks an initiation template").WithTopic(def.ID)
	}
	systemText, err := o.renderer.RenderRef(ctx, sysRef, def.Parameters, params)
	if err != nil {
		return nil, err
	}
	initiationText, err := o.renderer.RenderRef(ctx, initRef, def.Parameters, params)
	if err != nil {
		return nil, err
	}

	sess := New(o.newID(), id, def.ID, cfg.MaxTurns, cfg.TTL(), now)
	sess.Append(types.RoleSystem, systemText, 0, now)
	sess.Append(types.RoleUser, initiationText, 1, now)

	span.SetAttribute(observability.AttrLastStage, "dispatch")
	comp, err := o.gateway.Complete(ctx, llm.Dispatch{
		Messages:          sess.Messages,
		ModelCode:         cfg.ModelCode,
		FallbackModelCode: cfg.FallbackModelCode,
		Temperature:       cfg.Temperature,
		MaxTokens:         cfg.MaxTokens,
	})
	if err != nil {
		return nil, err
	}

	reply, signalled := assistantText(def, comp)
	sess.Append(types.RoleAssistant, reply, 1, o.now())
	sess.Turn = 1
	isFinal := signalled || sess.Turn >= sess.MaxTurns

	span.SetAttribute(observability.AttrLastStage, "persist")
	if err := o.store.Create(ctx, sess); err != nil {
		return nil, err
	}
	o.tracer.RecordMetric(observability.MetricSessionsInitiated, 1, map[string]string{
		observability.AttrTopicID: def.ID,
	})
	o.publish(pubsub.CreatedEvent, sess)

	log.Info("session initiated",
		zap.String("session_id", sess.ID),
		zap.String("topic_id", def.ID),
		zap.String("tenant_id", id.TenantID),
		zap.String("model_used", comp.ModelUsed),
		zap.String("correlation_id", types.CorrelationIDFromContext(ctx)))

	if isFinal {
		o.finishInline(ctx, id, sess.ID)
	}

	return &TurnResult{
		SessionID: sess.ID,
		Message:   reply,
		Turn:      sess.Turn,
		MaxTurns:  sess.MaxTurns,
		IsFinal:   isFinal,
		Metadata:  metadataFrom(comp),
	}, nil
}

// resume re-engages the caller's own open session.
func (o *Orchestrator) resume(ctx context.Context, span *observability.Span, id types.Identity, def *topics.Definition, cfg *runtimeconfig.Record, sess *Session, params map[string]interface{}, now time.Time) (*TurnResult, error) {
	started := time.Now()
	o.tracer.RecordMetric(observability.MetricSessionsResumed, 1, map[string]string{
		observability.AttrTopicID: def.ID,
	})

	// Within the idle window the user is continuing, not re-engaging:
	// re-serve the previous assistant message without touching state.
	if now.Sub(sess.LastActivityAt) <= cfg.IdleTimeout() {
		last := sess.LastAssistantMessage()
		if last == nil {
			return nil, types.NewError(types.KindInternal,
				"resumable session has no assistant message").WithSession(sess.ID)
		}
		return &TurnResult{
			SessionID: sess.ID,
			Message:   last.Content,
			Turn:      sess.Turn,
			MaxTurns:  sess.MaxTurns,
			IsFinal:   sess.Turn >= sess.MaxTurns,
			Resumed:   true,
			Metadata: types.Metadata{
				Model:            cfg.ModelCode,
				ProcessingTimeMS: time.Since(started).Milliseconds(),
			},
		}, nil
	}

	span.SetAttribute(observability.AttrLastStage, "render_templates")
	resumeRef, ok := def.TemplateRef(topics.RoleResume)
	if !ok {
		return nil, types.NewError(types.KindInternal,
			"conversation topic lacks a resume template").WithTopic(def.ID)
	}
	bag := make(map[string]interface{}, len(params)+1)
	for k, v := range params {
		bag[k] = v
	}
	bag["conversation_summary"] = Digest(sess.Messages)
	resumeText, err := o.renderer.RenderRef(ctx, resumeRef, def.Parameters, bag)
	if err != nil {
		return nil, err
	}

	// The resume exchange re-engages the current turn; the counter
	// does not advance.
	sess.Append(types.RoleUser, resumeText, sess.Turn, now)

	span.SetAttribute(observability.AttrLastStage, "dispatch")
	comp, err := o.gateway.Complete(ctx, llm.Dispatch{
		Messages:          sess.Messages,
		ModelCode:         cfg.ModelCode,
		FallbackModelCode: cfg.FallbackModelCode,
		Temperature:       cfg.Temperature,
		MaxTokens:         cfg.MaxTokens,
	})
	if err != nil {
		return nil, err
	}

	reply, signalled := assistantText(def, comp)
	sess.Append(types.RoleAssistant, reply, sess.Turn, o.now())
	sess.Touch(o.now(), cfg.TTL())
	isFinal := signalled || sess.Turn >= sess.MaxTurns

	span.SetAttribute(observability.AttrLastStage, "persist")
	if err := o.store.Update(ctx, sess); err != nil {
		return nil, err
	}
	o.publish(pubsub.UpdatedEvent, sess)

	log.Info("session resumed",
		zap.String("session_id", sess.ID),
		zap.String("topic_id", def.ID),
		zap.Int("turn", sess.Turn),
		zap.String("correlation_id", types.CorrelationIDFromContext(ctx)))

	if isFinal {
		o.finishInline(ctx, id, sess.ID)
	}

	return &TurnResult{
		SessionID: sess.ID,
		Message:   reply,
		Turn:      sess.Turn,
		MaxTurns:  sess.MaxTurns,
		IsFinal:   isFinal,
		Resumed:   true,
		Metadata:  metadataFrom(comp),
	}, nil
}

// addMessageOnce runs one attempt of the message turn against fresh
// store state.
func (o *Orchestrator) addMessageOnce(ctx context.Context, span *observability.Span, id types.Identity, sessionID, text string) (*TurnResult, error) {
	sess, err := o.getOwned(ctx, span, id, sessionID)
	if err != nil {
		return nil, err
	}

	now := o.now()
	if sess.Expired(now) {
		return nil, types.NewError(types.KindSessionExpired, "session has expired").
			WithSession(sessionID)
	}
	if sess.Status != StatusActive {
		return nil, types.Errorf(types.KindSessionNotActive, "session is %s", sess.Status).
			WithSession(sessionID)
	}
	if sess.Turn >= sess.MaxTurns {
		return nil, types.Errorf(types.KindMaxTurnsReached,
			"session reached its %d-turn limit", sess.MaxTurns).WithSession(sessionID)
	}

	def, cfg, err := o.topicConfig(ctx, span, id, sess.TopicID, sessionID)
	if err != nil {
		return nil, err
	}

	turn := sess.Turn + 1
	sess.Append(types.RoleUser, text, turn, now)

	span.SetAttribute(observability.AttrLastStage, "dispatch")
	comp, err := o.gateway.Complete(ctx, llm.Dispatch{
		Messages:          sess.Messages,
		ModelCode:         cfg.ModelCode,
		FallbackModelCode: cfg.FallbackModelCode,
		Temperature:       cfg.Temperature,
		MaxTokens:         cfg.MaxTokens,
	})
	if err != nil {
		return nil, err
	}

	reply, signalled := assistantText(def, comp)
	sess.Append(types.RoleAssistant, reply, turn, o.now())
	sess.Turn = turn
	sess.Touch(o.now(), cfg.TTL())
	isFinal := signalled || sess.Turn >= sess.MaxTurns

	span.SetAttribute(observability.AttrLastStage, "persist")
	if err := o.store.Update(ctx, sess); err != nil {
		return nil, err
	}
	o.tracer.RecordMetric(observability.MetricSessionTurns, 1, map[string]string{
		observability.AttrTopicID: sess.TopicID,
	})
	o.publish(pubsub.UpdatedEvent, sess)

	log.Debug("session turn completed",
		zap.String("session_id", sess.ID),
		zap.Int("turn", sess.Turn),
		zap.Bool("is_final", isFinal),
		zap.String("correlation_id", types.CorrelationIDFromContext(ctx)))

	if isFinal {
		o.finishInline(ctx, id, sess.ID)
	}

	return &TurnResult{
		SessionID: sess.ID,
		Message:   reply,
		Turn:      sess.Turn,
		MaxTurns:  sess.MaxTurns,
		IsFinal:   isFinal,
		Metadata:  metadataFrom(comp),
	}, nil
}

// completeLoaded finishes a loaded, writable session: extraction when
// the topic declares a schema, the Completed transition, persistence.
func (o *Orchestrator) completeLoaded(ctx context.Context, span *observability.Span, def *topics.Definition, cfg *runtimeconfig.Record, sess *Session) (*CompleteResult, error) {
	now := o.now()
	meta := types.Metadata{Model: cfg.ModelCode}

	var result map[string]interface{}
	var schemaID string
	if !def.Freeform && def.ResultSchema != nil {
		span.SetAttribute(observability.AttrLastStage, "extract")
		parsed, comp, err := o.extractor.Run(ctx, def, cfg, sess)
		if err != nil {
			return nil, err
		}
		result = parsed
		schemaID = def.ResultSchema.ID
		meta = metadataFrom(comp)
	}

	if err := sess.Complete(result, schemaID, now); err != nil {
		return nil, err
	}
	span.SetAttribute(observability.AttrLastStage, "persist")
	if err := o.store.Update(ctx, sess); err != nil {
		return nil, err
	}
	o.tracer.RecordMetric(observability.MetricSessionsCompleted, 1, map[string]string{
		observability.AttrTopicID: sess.TopicID,
	})
	o.publish(pubsub.UpdatedEvent, sess)

	log.Info("session completed",
		zap.String("session_id", sess.ID),
		zap.String("topic_id", sess.TopicID),
		zap.Bool("extracted", result != nil),
		zap.String("correlation_id", types.CorrelationIDFromContext(ctx)))

	return &CompleteResult{
		SessionID: sess.ID,
		Status:    sess.Status,
		Result:    sess.ExtractedResult,
		Metadata:  meta,
	}, nil
}

// finishInline runs Complete after a final turn. A failure is
// deliberately swallowed: the turn already succeeded and persisted,
// the session stays Active, and the caller can invoke Complete again.
func (o *Orchestrator) finishInline(ctx context.Context, id types.Identity, sessionID string) {
	if _, err := o.Complete(ctx, id, sessionID); err != nil {
		log.Warn("automatic completion failed, session stays active",
			zap.String("session_id", sessionID),
			zap.String("correlation_id", types.CorrelationIDFromContext(ctx)),
			zap.Error(err))
	}
}

// getOwned reads the session and enforces isolation: an unknown or
// other-tenant id is SessionNotFound, a same-tenant other-user session
// is Forbidden.
func (o *Orchestrator) getOwned(ctx context.Context, span *observability.Span, id types.Identity, sessionID string) (*Session, error) {
	span.SetAttribute(observability.AttrLastStage, "load_session")
	sess, err := o.store.Get(ctx, id.TenantID, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.UserID != id.UserID {
		return nil, types.NewError(types.KindForbidden, "session belongs to another user").
			WithSession(sessionID)
	}
	return sess, nil
}

// topicConfig reloads the definition and runtime configuration behind
// an existing session. Their disappearance mid-session is an internal
// inconsistency, not a caller error: initiation already proved both.
func (o *Orchestrator) topicConfig(ctx context.Context, span *observability.Span, id types.Identity, topicID, sessionID string) (*topics.Definition, *runtimeconfig.Record, error) {
	span.SetAttribute(observability.AttrLastStage, "load_config")
	def, err := o.topics.Lookup(topicID)
	if err != nil {
		return nil, nil, types.Wrap(types.KindInternal, err,
			"session references an unregistered topic").
			WithSession(sessionID).WithTopic(topicID)
	}
	cfg, err := o.configs.GetConfig(ctx, id.TenantID, topicID)
	if err != nil {
		return nil, nil, types.Wrap(types.KindInternal, err,
			"session topic lost its runtime configuration").
			WithSession(sessionID).WithTopic(topicID)
	}
	return def, cfg, nil
}

// withWriteRetry runs op, re-running the whole closure against freshly
// loaded state when a write hits ConcurrentModification. Attempts are
// bounded; persistent contention surfaces as Busy. Context errors
// normalize to Cancelled.
func (o *Orchestrator) withWriteRetry(ctx context.Context, op string, fn func(context.Context) error) error {
	var err error
	for attempt := 0; ; attempt++ {
		if cerr := ctx.Err(); cerr != nil {
			return types.Wrap(types.KindCancelled, cerr, "operation cancelled").WithOp(op)
		}
		err = fn(ctx)
		if err == nil || !types.IsKind(err, types.KindConcurrentModification) {
			break
		}
		if attempt+1 >= o.cfg.MaxWriteRetries {
			return types.Wrap(types.KindBusy,
				err, "session is contended, retry shortly").WithOp(op)
		}
		o.tracer.RecordMetric(observability.MetricSessionRetries, 1, map[string]string{
			"operation": op,
		})
	}
	var kinded *types.Error
	if err != nil && !errors.As(err, &kinded) &&
		(errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return types.Wrap(types.KindCancelled, err, "operation cancelled").WithOp(op)
	}
	return err
}

// assistantText normalizes the assistant reply and evaluates the
// completion signal: the provider finish reason first, then the
// topic's textual marker, first positive hit wins. A matched marker is
// stripped from the text shown to the user and persisted.
func assistantText(def *topics.Definition, comp *types.Completion) (string, bool) {
	text := comp.Text
	signalled := comp.FinishReason == "stop_sequence"
	if def.CompletionMarker != "" && strings.Contains(text, def.CompletionMarker) {
		signalled = true
		text = strings.ReplaceAll(text, def.CompletionMarker, "")
	}
	return strings.TrimSpace(text), signalled
}

// metadataFrom builds the uniform response metadata from a completion.
func metadataFrom(comp *types.Completion) types.Metadata {
	return types.Metadata{
		Model:            comp.ModelUsed,
		ProcessingTimeMS: comp.ElapsedMS,
		InputTokens:      comp.Usage.InputTokens,
		OutputTokens:     comp.Usage.OutputTokens,
	}
}
