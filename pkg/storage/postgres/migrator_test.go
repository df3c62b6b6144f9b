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
package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMigrations(t *testing.T) {
	migrations, err := loadMigrations()
	require.NoError(t, err)
	require.NotEmpty(t, migrations, "should have embedded migrations")

	// Verify ordering
	for i := 1; i < len(migrations); i++ {
		assert.Greater(t, migrations[i].Version, migrations[i-1].Version,
			"migrations should be in ascending order")
	}

	// Verify each migration is complete
	for _, m := range migrations {
		assert.NotEmpty(t, m.UpSQL, "migration %d should have up SQL", m.Version)
		assert.NotEmpty(t, m.DownSQL, "migration %d should have down SQL", m.Version)
		assert.NotEmpty(t, m.Description, "migration %d should have a description", m.Version)
	}
}

func TestLoadMigrations_InitialSchema(t *testing.T) {
	migrations, err := loadMigrations()
	require.NoError(t, err)
	require.NotEmpty(t, migrations)

	initial := migrations[0]
	assert.Equal(t, 1, initial.Version)
	assert.Equal(t, "initial_schema", initial.Description)

	assert.Contains(t, initial.UpSQL, "CREATE TABLE sessions")
	assert.Contains(t, initial.UpSQL, "CREATE TABLE topic_configs")
	assert.Contains(t, initial.UpSQL, "idx_sessions_open_owner",
		"initial schema should enforce one open session per owner")
	assert.Contains(t, initial.UpSQL, "ENABLE ROW LEVEL SECURITY")
	assert.Contains(t, initial.UpSQL, "app.current_tenant_id")

	assert.Contains(t, initial.DownSQL, "DROP TABLE")
}
