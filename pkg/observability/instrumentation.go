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
package observability

// Standard span names for consistency across the engine.
// Use these constants instead of hardcoding strings.
const (
	// Session lifecycle spans
	SpanSessionInitiate = "session.initiate"
	SpanSessionResume   = "session.resume"
	SpanSessionMessage  = "session.add_message"
	SpanSessionComplete = "session.complete"
	SpanSessionCancel   = "session.cancel"
	SpanSessionGet      = "session.get"

	// Extraction spans
	SpanExtractionRun = "extraction.run"

	// LLM spans
	SpanProviderDispatch = "llm.dispatch"
	SpanLLMCompletion    = "llm.completion"

	// Prompt spans
	SpanPromptLoad   = "prompt.load"
	SpanPromptRender = "prompt.render"

	// Storage spans
	SpanStoreSessionRead  = "store.session.read"
	SpanStoreSessionWrite = "store.session.write"
	SpanStoreConfigRead   = "store.config.read"

	// Retention spans
	SpanRetentionSweep = "retention.sweep"
)

// Standard metric names for consistency.
const (
	// Session metrics
	MetricSessionsInitiated = "sessions.initiated.total"
	MetricSessionsResumed   = "sessions.resumed.total"
	MetricSessionsCompleted = "sessions.completed.total"
	MetricSessionsCancelled = "sessions.cancelled.total"
	MetricSessionsExpired   = "sessions.expired.total"
	MetricSessionTurns      = "sessions.turns.total"
	MetricSessionConflicts  = "sessions.conflicts.total"
	MetricSessionRetries    = "sessions.cas_retries.total"

	// Extraction metrics
	MetricExtractionRuns    = "extraction.runs.total"
	MetricExtractionRetries = "extraction.retries.total"
	MetricExtractionFailed  = "extraction.failures.total"

	// LLM metrics
	MetricLLMCalls        = "llm.calls.total"
	MetricLLMLatency      = "llm.latency"
	MetricLLMTokensInput  = "llm.tokens.input"  // #nosec G101 -- not a credential, just metric name
	MetricLLMTokensOutput = "llm.tokens.output" // #nosec G101 -- not a credential, just metric name
	MetricLLMCost         = "llm.cost"
	MetricLLMErrors       = "llm.errors.total"
	MetricLLMRetries      = "llm.retries.total"
	MetricLLMFallbacks    = "llm.fallbacks.total"

	// Prompt metrics
	MetricPromptCacheHits   = "prompt.cache.hits.total"
	MetricPromptCacheMisses = "prompt.cache.misses.total"

	// Runtime configuration metrics
	MetricConfigCacheHits   = "config.cache.hits.total"
	MetricConfigCacheMisses = "config.cache.misses.total"
	MetricConfigWrites      = "config.writes.total"

	// Retention metrics
	MetricRetentionPurged = "retention.purged.total"
)

// Standard attribute names for consistency.
// Use these constants for span and event attributes.
const (
	// Tenant/User context
	AttrTenantID      = "tenant.id"
	AttrUserID        = "user.id"
	AttrCorrelationID = "correlation.id"
	AttrTraceID       = "trace.id"
	AttrSpanID        = "span.id"

	// Session attributes
	AttrSessionID     = "session.id"
	AttrSessionStatus = "session.status"
	AttrSessionTurn   = "session.turn"
	AttrTopicID       = "topic.id"

	// LLM attributes
	AttrLLMProvider    = "llm.provider"
	AttrLLMModel       = "llm.model"
	AttrLLMModelUsed   = "llm.model_used"
	AttrLLMTemperature = "llm.temperature"
	AttrLLMMaxTokens   = "llm.max_tokens" // #nosec G101 -- not a credential, just attribute name
	AttrLLMFinish      = "llm.finish_reason"
	AttrLLMAttempt     = "llm.attempt"

	// Prompt attributes
	AttrPromptRef     = "prompt.ref"
	AttrPromptVariant = "prompt.variant"
	AttrPromptVersion = "prompt.version"
	AttrTemplateRole  = "template.role"

	// Extraction attributes
	AttrSchemaID          = "extraction.schema_id"
	AttrExtractionAttempt = "extraction.attempt"

	// Storage attributes
	AttrBackendType = "backend.type"

	// Error attributes
	AttrErrorType    = "error.type"
	AttrErrorMessage = "error.message"
	AttrErrorKind    = "error.kind"

	// Suspension-point attribute: the last I/O stage an operation
	// reached before failing (template_load, config_read, store_read,
	// store_write, provider_dispatch).
	AttrLastStage = "operation.last_stage"
)
