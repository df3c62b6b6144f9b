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

// Package types contains shared types used across the coaching engine.
// This package breaks import cycles by providing common types that the
// topic, prompt, llm, and session packages all depend on.
package types

import (
	"time"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ValidRole reports whether r is one of the three conversation roles.
func ValidRole(r Role) bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// Message represents a single message in a conversation.
// Messages are immutable once appended to a session; content is never
// rewritten after persistence.
type Message struct {
	// Role is the message author (system, user, assistant).
	Role Role `json:"role"`

	// Content is the message text.
	Content string `json:"content"`

	// Timestamp when the message was created.
	Timestamp time.Time `json:"ts"`

	// Turn is the conversation turn this message belongs to.
	// Zero for the system prompt; the initiation response is turn 1.
	Turn int `json:"turn,omitempty"`
}

// NewMessage builds a message stamped with the current time.
func NewMessage(role Role, content string) Message {
	return Message{Role: role, Content: content, Timestamp: time.Now().UTC()}
}

// Usage tracks LLM token usage and costs.
type Usage struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	TotalTokens  int     `json:"total_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// Add accumulates another usage record into u.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.TotalTokens += other.TotalTokens
	u.CostUSD += other.CostUSD
}

// Completion is the result of a single provider dispatch.
type Completion struct {
	// Text is the assistant response.
	Text string `json:"text"`

	// ModelUsed is the model code that actually produced the response.
	// Differs from the requested code when the gateway fell back.
	ModelUsed string `json:"model_used"`

	// FinishReason indicates why the model stopped (end_turn, max_tokens,
	// stop_sequence, ...). Provider adapters normalize to lower snake case.
	FinishReason string `json:"finish_reason"`

	// Usage tracks token usage for the call.
	Usage Usage `json:"usage"`

	// ElapsedMS is the wall-clock duration of the dispatch, including
	// retries and fallback attempts.
	ElapsedMS int64 `json:"elapsed_ms"`
}

// Metadata is the uniform observability envelope returned by session
// operations.
type Metadata struct {
	Model            string `json:"model"`
	ProcessingTimeMS int64  `json:"processing_time_ms"`
	InputTokens      int    `json:"input_tokens,omitempty"`
	OutputTokens     int    `json:"output_tokens,omitempty"`
}

// SafeInt32 converts an int to int32, capping at MaxInt32/MinInt32 to
// prevent overflow when the value crosses a 32-bit API boundary.
func SafeInt32(n int) int32 {
	const maxInt32 = 2147483647  // math.MaxInt32
	const minInt32 = -2147483648 // math.MinInt32
	if n > maxInt32 {
		return maxInt32
	}
	if n < minInt32 {
		return minInt32
	}
	return int32(n)
}
