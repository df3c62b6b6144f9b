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

// Package retention enforces the session retention windows. A
// cron-scheduled sweeper walks every stored session: Active sessions
// past expires-at are transitioned to Expired so the resumable lookup
// stays small, terminal sessions past the audit window are purged, and
// Active sessions idle past the resumable window are purged outright.
//
// The terminal window is measured from when the session ended:
// completed-at when set, last-activity otherwise. Expiry is otherwise
// lazy (reads surface it without writing); the sweeper is what makes
// the transition durable.
package retention

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/mottych/PurposePath-AI-sub003/internal/log"
	"github.com/mottych/PurposePath-AI-sub003/internal/pubsub"
	"github.com/mottych/PurposePath-AI-sub003/pkg/observability"
	"github.com/mottych/PurposePath-AI-sub003/pkg/session"
	"github.com/mottych/PurposePath-AI-sub003/pkg/storage"
	"github.com/mottych/PurposePath-AI-sub003/pkg/types"
)

// Default retention windows and sweep cadence.
const (
	DefaultSchedule           = "*/10 * * * *"
	DefaultTerminalRetention  = 14 * 24 * time.Hour
	DefaultResumableRetention = 30 * 24 * time.Hour
)

// Config contains sweeper configuration. Zero values take the package
// defaults.
type Config struct {
	// Schedule is a standard 5-field cron expression.
	Schedule string

	// TerminalRetention is how long Completed/Expired/Cancelled
	// sessions stay readable after they end.
	TerminalRetention time.Duration

	// ResumableRetention is how long an Active session survives
	// without activity before it is purged outright.
	ResumableRetention time.Duration

	// Events is the optional lifecycle broker; when set, the sweeper
	// publishes expiry transitions and purges on it so observability
	// consumers see sweeper writes alongside orchestrator writes.
	Events *pubsub.Broker[session.Event]
}

// Stats summarizes one sweep pass.
type Stats struct {
	// Scanned is the number of sessions visited.
	Scanned int
	// Expired is the number of Active sessions transitioned to Expired.
	Expired int
	// PurgedTerminal is the number of terminal sessions deleted.
	PurgedTerminal int
	// PurgedIdle is the number of idle Active sessions deleted.
	PurgedIdle int
	// Errors counts sessions whose write failed; the sweep continues
	// past them and the next pass retries.
	Errors int
}

// Sweeper runs retention sweeps on a cron schedule.
type Sweeper struct {
	store  storage.SessionStore
	cfg    Config
	tracer observability.Tracer

	cronEngine *cron.Cron
	entryID    cron.EntryID

	mu       sync.Mutex
	sweeping bool

	now func() time.Time
}

// NewSweeper validates the configuration and builds a sweeper. Start
// must be called to begin scheduled sweeps; Sweep runs a single pass
// on demand.
func NewSweeper(store storage.SessionStore, cfg Config, tracer observability.Tracer) (*Sweeper, error) {
	if store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if cfg.TerminalRetention <= 0 {
		cfg.TerminalRetention = DefaultTerminalRetention
	}
	if cfg.ResumableRetention <= 0 {
		cfg.ResumableRetention = DefaultResumableRetention
	}

	// Validate cron expression
	if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", cfg.Schedule, err)
	}

	return &Sweeper{
		store:      store,
		cfg:        cfg,
		tracer:     tracer,
		cronEngine: cron.New(),
		now:        time.Now,
	}, nil
}

// Start schedules sweeps and starts the cron engine.
func (s *Sweeper) Start() error {
	entryID, err := s.cronEngine.AddFunc(s.cfg.Schedule, func() {
		if _, err := s.Sweep(context.Background()); err != nil {
			log.Error("retention sweep failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule retention sweep: %w", err)
	}
	s.entryID = entryID

	s.cronEngine.Start()
	log.Info("retention sweeper started",
		zap.String("schedule", s.cfg.Schedule),
		zap.Duration("terminal_retention", s.cfg.TerminalRetention),
		zap.Duration("resumable_retention", s.cfg.ResumableRetention))
	return nil
}

// Stop stops scheduling new sweeps and waits for a running sweep to
// finish or the context to expire.
func (s *Sweeper) Stop(ctx context.Context) error {
	cronCtx := s.cronEngine.Stop()

	select {
	case <-cronCtx.Done():
		log.Info("retention sweeper stopped")
	case <-ctx.Done():
		log.Warn("retention sweeper shutdown timeout, a sweep may still be running")
	}
	return nil
}

// Sweep runs one retention pass over every stored session. Per-session
// write failures are counted and skipped so one bad row cannot stall
// retention; only a failed walk returns an error. Overlapping sweeps
// are skipped, which keeps a slow storage backend from stacking
// passes.
func (s *Sweeper) Sweep(ctx context.Context) (Stats, error) {
	s.mu.Lock()
	if s.sweeping {
		s.mu.Unlock()
		log.Info("skipping retention sweep, previous sweep still running")
		return Stats{}, nil
	}
	s.sweeping = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.sweeping = false
		s.mu.Unlock()
	}()

	ctx, span := s.tracer.StartSpan(ctx, observability.SpanRetentionSweep)
	defer s.tracer.EndSpan(span)

	now := s.now()
	terminalCutoff := now.Add(-s.cfg.TerminalRetention)
	idleCutoff := now.Add(-s.cfg.ResumableRetention)

	var stats Stats
	err := s.store.ForEachSession(ctx, func(sess *session.Session) error {
		stats.Scanned++

		switch {
		case !sess.Status.Terminal() && sess.LastActivityAt.Before(idleCutoff):
			// The owner stepped away past the resumable window; the
			// record goes without a terminal transition.
			if err := s.store.DeleteSession(ctx, sess.TenantID, sess.ID); err != nil {
				log.Warn("failed to purge idle session",
					zap.String("session_id", sess.ID),
					zap.String("tenant_id", sess.TenantID),
					zap.Error(err))
				stats.Errors++
				return nil
			}
			stats.PurgedIdle++
			s.publish(pubsub.DeletedEvent, sess)

		case sess.Expired(now):
			sess.MarkExpired()
			if err := s.store.Update(ctx, sess); err != nil {
				switch types.KindOf(err) {
				case types.KindConcurrentModification, types.KindSessionNotFound:
					// Another writer got there first; the next pass
					// settles whatever state it left.
					log.Debug("expiry transition lost a write race",
						zap.String("session_id", sess.ID),
						zap.Error(err))
				default:
					log.Warn("failed to persist expiry transition",
						zap.String("session_id", sess.ID),
						zap.String("tenant_id", sess.TenantID),
						zap.Error(err))
					stats.Errors++
				}
				return nil
			}
			stats.Expired++
			s.publish(pubsub.UpdatedEvent, sess)

		case sess.Status.Terminal() && endedAt(sess).Before(terminalCutoff):
			if err := s.store.DeleteSession(ctx, sess.TenantID, sess.ID); err != nil {
				log.Warn("failed to purge terminal session",
					zap.String("session_id", sess.ID),
					zap.String("tenant_id", sess.TenantID),
					zap.Error(err))
				stats.Errors++
				return nil
			}
			stats.PurgedTerminal++
			s.publish(pubsub.DeletedEvent, sess)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return stats, fmt.Errorf("retention sweep failed: %w", err)
	}

	span.SetAttribute("sessions.scanned", stats.Scanned)
	span.SetAttribute("sessions.expired", stats.Expired)
	span.SetAttribute("sessions.purged_terminal", stats.PurgedTerminal)
	span.SetAttribute("sessions.purged_idle", stats.PurgedIdle)
	span.SetAttribute("sessions.errors", stats.Errors)

	if purged := stats.PurgedTerminal + stats.PurgedIdle; purged > 0 {
		s.tracer.RecordMetric(observability.MetricRetentionPurged, float64(purged), nil)
	}

	log.Info("retention sweep completed",
		zap.Int("scanned", stats.Scanned),
		zap.Int("expired", stats.Expired),
		zap.Int("purged_terminal", stats.PurgedTerminal),
		zap.Int("purged_idle", stats.PurgedIdle),
		zap.Int("errors", stats.Errors))

	return stats, nil
}

// endedAt is the instant a terminal session stopped: completion time
// when recorded, last activity otherwise (Expired and Cancelled
// records carry no completion time).
func endedAt(sess *session.Session) time.Time {
	if sess.CompletedAt != nil {
		return *sess.CompletedAt
	}
	return sess.LastActivityAt
}

// publish emits a lifecycle event for a sweeper-initiated transition
// or purge. A nil broker drops them.
func (s *Sweeper) publish(eventType pubsub.EventType, sess *session.Session) {
	if s.cfg.Events == nil {
		return
	}
	s.cfg.Events.Publish(eventType, session.Event{
		SessionID: sess.ID,
		TenantID:  sess.TenantID,
		TopicID:   sess.TopicID,
		Status:    sess.Status,
		Turn:      sess.Turn,
	})
}
