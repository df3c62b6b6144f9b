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
	"strings"

	"github.com/mottych/PurposePath-AI-sub003/pkg/types"
)

const (
	// digestMaxMessages bounds how many trailing messages the resume
	// digest quotes verbatim.
	digestMaxMessages = 8

	// digestTokenBudget bounds the digest size in tokens.
	digestTokenBudget = 512
)

// Transcript serializes a conversation deterministically:
// chronological, role-prefixed, user and assistant messages only.
// System instructions are not part of the conversation.
func Transcript(messages []types.Message) string {
	var b strings.Builder
	for _, m := range messages {
		var prefix string
		switch m.Role {
		case types.RoleUser:
			prefix = "User: "
		case types.RoleAssistant:
			prefix = "Assistant: "
		default:
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(prefix)
		b.WriteString(m.Content)
	}
	return b.String()
}

// Digest derives the bounded conversation summary the resume template
// receives: the trailing user and assistant messages verbatim, trimmed
// oldest-first until the token budget holds. No model call is
// involved, so the digest is deterministic for a given message list.
// A single message is never trimmed, even over budget.
func Digest(messages []types.Message) string {
	conv := make([]types.Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == types.RoleUser || m.Role == types.RoleAssistant {
			conv = append(conv, m)
		}
	}
	if len(conv) > digestMaxMessages {
		conv = conv[len(conv)-digestMaxMessages:]
	}

	counter := Tokens()
	for len(conv) > 1 && counter.Count(Transcript(conv)) > digestTokenBudget {
		conv = conv[1:]
	}
	return Transcript(conv)
}
