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
package storage

import (
	"github.com/mottych/PurposePath-AI-sub003/pkg/session"
)

// SessionStore is the full session persistence surface a backend
// provides: the orchestrator's Store plus the administrative Lister
// and the retention Purger. Every backend implements all three; the
// split interfaces exist so consumers declare only what they use.
type SessionStore interface {
	session.Store
	session.Lister
	session.Purger
}
