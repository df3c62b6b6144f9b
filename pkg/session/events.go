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

import "github.com/mottych/PurposePath-AI-sub003/internal/pubsub"

// Event is the lifecycle notification the orchestrator publishes after
// every successful persisted transition: creation, turns, resumes,
// completion, cancellation, and persisted expiry. Delivery is
// best-effort in-process fan-out; consumers must not treat events as a
// durable log.
type Event struct {
	SessionID string
	TenantID  string
	TopicID   string
	Status    Status
	Turn      int
}

// publish emits the session's current state on the lifecycle broker.
func (o *Orchestrator) publish(eventType pubsub.EventType, s *Session) {
	o.broker.Publish(eventType, Event{
		SessionID: s.ID,
		TenantID:  s.TenantID,
		TopicID:   s.TopicID,
		Status:    s.Status,
		Turn:      s.Turn,
	})
}
