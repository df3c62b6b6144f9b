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

// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package types

import (
	"errors"
	"fmt"
)

// Kind classifies engine errors. The set is a closed taxonomy: callers
// branch on kinds, never on message text, and the HTTP layer maps each
// kind to a status code in exactly one place.
type Kind int

const (
	// KindInternal is the zero value: an unclassified failure.
	KindInternal Kind = iota

	// KindInvalidArgument covers caller input that fails validation
	// (empty message text, out-of-range configuration values, malformed
	// identifiers).
	KindInvalidArgument

	// KindNotFound covers lookups of entities that do not exist: topic
	// definitions, prompt references, model codes in admin reads.
	KindNotFound

	// KindDuplicateTopic is returned when registering a topic whose
	// identifier is already present.
	KindDuplicateTopic

	// KindInvalidTemplateRefs is returned at registration time when a
	// template placeholder has no matching declared parameter, or a
	// template reference cannot be resolved.
	KindInvalidTemplateRefs

	// KindTopicNotAvailable means the topic exists but cannot be used by
	// the caller: no runtime configuration for the tenant, configuration
	// inactive, or wrong topic kind for the operation.
	KindTopicNotAvailable

	// KindNotConfigured is the store-level absence of a runtime
	// configuration record. Initiation converts it to TopicNotAvailable.
	KindNotConfigured

	// KindMissingParameter means a required template parameter resolved
	// to nothing through all resolution stages.
	KindMissingParameter

	// KindUndeclaredPlaceholder means a template references a parameter
	// the topic never declared. Registration prevents this; the renderer
	// re-detects it defensively.
	KindUndeclaredPlaceholder

	// KindNullParameter means a required parameter resolved to an
	// explicit null.
	KindNullParameter

	// KindSessionNotFound means no session with the given id is visible
	// to the caller's tenant. Cross-tenant probes get this kind, never
	// Forbidden, so foreign tenants cannot confirm a session exists.
	KindSessionNotFound

	// KindForbidden means the session exists in the caller's tenant but
	// belongs to a different user.
	KindForbidden

	// KindSessionConflict means another user in the same tenant owns the
	// resumable session for this topic. The conflicting user's opaque id
	// is the one piece of cross-user information the contract exposes.
	KindSessionConflict

	// KindSessionNotActive means the session is in a terminal state.
	KindSessionNotActive

	// KindMaxTurnsReached means the session hit its configured turn
	// limit.
	KindMaxTurnsReached

	// KindSessionExpired means the session TTL elapsed before the
	// operation.
	KindSessionExpired

	// KindConcurrentModification is the store-level version conflict.
	// The orchestrator retries it locally; it never reaches callers.
	KindConcurrentModification

	// KindBusy is surfaced after concurrent-modification retries are
	// exhausted.
	KindBusy

	// KindModelUnavailable means the model code is unknown or inactive
	// in the model registry.
	KindModelUnavailable

	// KindProviderRejected is a non-transient provider failure: invalid
	// request, content-policy refusal, authentication. Never retried.
	KindProviderRejected

	// KindProviderUnavailable is a transient provider failure that
	// survived retry and fallback.
	KindProviderUnavailable

	// KindExtractionFailed means the extraction output did not match the
	// result schema after the corrective retry. The session stays
	// Active.
	KindExtractionFailed

	// KindCancelled means the caller's deadline or cancellation fired.
	KindCancelled
)

var kindNames = map[Kind]string{
	KindInternal:               "internal",
	KindInvalidArgument:        "invalid_argument",
	KindNotFound:               "not_found",
	KindDuplicateTopic:         "duplicate_topic",
	KindInvalidTemplateRefs:    "invalid_template_refs",
	KindTopicNotAvailable:      "topic_not_available",
	KindNotConfigured:          "not_configured",
	KindMissingParameter:       "missing_parameter",
	KindUndeclaredPlaceholder:  "undeclared_placeholder",
	KindNullParameter:          "null_parameter",
	KindSessionNotFound:        "session_not_found",
	KindForbidden:              "forbidden",
	KindSessionConflict:        "session_conflict",
	KindSessionNotActive:       "session_not_active",
	KindMaxTurnsReached:        "max_turns_reached",
	KindSessionExpired:         "session_expired",
	KindConcurrentModification: "concurrent_modification",
	KindBusy:                   "busy",
	KindModelUnavailable:       "model_unavailable",
	KindProviderRejected:       "provider_rejected",
	KindProviderUnavailable:    "provider_unavailable",
	KindExtractionFailed:       "extraction_failed",
	KindCancelled:              "cancelled",
}

// String returns the wire name of the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "internal"
}

// Error is the engine's error value. Besides the kind it carries the
// identifiers an operator needs to correlate a failure: topic, session,
// offending parameter, and (for conflicts only) the other user's opaque
// id. Message text never contains PII beyond that contracted field.
type Error struct {
	Kind        Kind
	Op          string // operation that failed, e.g. "session.Initiate"
	Message     string
	TopicID     string
	SessionID   string
	Parameter   string
	OtherUserID string

	cause error
}

// NewError builds an error of the given kind.
func NewError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Errorf builds an error of the given kind with a formatted message.
// Format arguments are not wrapped; use Wrap to retain a cause.
func Errorf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an error of the given kind around a cause.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// WithOp annotates the error with the failing operation and returns it.
func (e *Error) WithOp(op string) *Error {
	e.Op = op
	return e
}

// WithTopic annotates the error with a topic id and returns it.
func (e *Error) WithTopic(topicID string) *Error {
	e.TopicID = topicID
	return e
}

// WithSession annotates the error with a session id and returns it.
func (e *Error) WithSession(sessionID string) *Error {
	e.SessionID = sessionID
	return e
}

// WithParameter annotates the error with a parameter name and returns it.
func (e *Error) WithParameter(name string) *Error {
	e.Parameter = name
	return e
}

// WithOtherUser records the conflicting user's opaque id and returns
// the error. Only SessionConflict errors carry this field.
func (e *Error) WithOtherUser(userID string) *Error {
	e.OtherUserID = userID
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.cause != nil {
		msg = msg + ": " + e.cause.Error()
	}
	return msg
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches errors by kind, so errors.Is(err, &Error{Kind: k}) works
// for bare-kind targets.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf extracts the kind from an error chain. Unclassified errors
// report KindInternal; a nil error panics since callers must check
// first.
func KindOf(err error) Kind {
	if err == nil {
		panic("types.KindOf called with nil error")
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether any error in the chain carries the kind.
func IsKind(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// AsError extracts the *Error from a chain, or wraps an unclassified
// error as KindInternal so boundary layers always have a kinded value.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: KindInternal, Message: err.Error(), cause: err}
}
