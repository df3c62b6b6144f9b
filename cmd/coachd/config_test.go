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
package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetViper(t *testing.T) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
}

func TestLoadConfig_Defaults(t *testing.T) {
	resetViper(t)
	t.Setenv("COACHD_DATA_DIR", t.TempDir())

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.True(t, cfg.LLM.Providers.Anthropic.Enabled)
	assert.False(t, cfg.LLM.Providers.Bedrock.Enabled)
	assert.Equal(t, "*/10 * * * *", cfg.Retention.Schedule)
	assert.Equal(t, 14, cfg.Retention.TerminalRetentionDays)
	assert.Equal(t, 8192, cfg.Session.MaxUserMessageBytes)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.NotEmpty(t, cfg.DataDir)
}

func TestLoadConfig_FileOverridesDefaults(t *testing.T) {
	resetViper(t)
	dir := t.TempDir()
	t.Setenv("COACHD_DATA_DIR", dir)

	cfgPath := filepath.Join(dir, "coachd.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
server:
  port: 9999
storage:
  backend: memory
retention:
  terminal_retention_days: 7
logging:
  level: debug
`), 0o600))

	cfg, err := LoadConfig(cfgPath)
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, 7, cfg.Retention.TerminalRetentionDays)
	assert.Equal(t, "debug", cfg.Logging.Level)
	// Untouched keys keep their defaults
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 30, cfg.Retention.ResumableRetentionDays)
}

func TestConfig_Validate(t *testing.T) {
	resetViper(t)
	t.Setenv("COACHD_DATA_DIR", t.TempDir())

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	bad := *cfg
	bad.Server.Port = 0
	assert.Error(t, bad.Validate())

	bad = *cfg
	bad.Retention.TerminalRetentionDays = -1
	assert.Error(t, bad.Validate())

	bad = *cfg
	bad.LLM.Providers.Anthropic.Enabled = false
	assert.Error(t, bad.Validate(), "at least one provider must be enabled")
}

func TestSecretMappings_CoverKnownKeys(t *testing.T) {
	keys := ListAvailableSecretKeys()
	assert.Contains(t, keys, "anthropic_api_key")
	assert.Contains(t, keys, "openai_api_key")
	assert.Contains(t, keys, "bedrock_secret_access_key")
	assert.Contains(t, keys, "db_encryption_key")

	// IsSet must reflect Setter for every mapping.
	for _, m := range GetSecretMappings() {
		var cfg Config
		assert.False(t, m.IsSet(&cfg), "%s should start unset", m.KeyringKey)
		m.Setter(&cfg, "value")
		assert.True(t, m.IsSet(&cfg), "%s setter should mark it set", m.KeyringKey)
	}
}
