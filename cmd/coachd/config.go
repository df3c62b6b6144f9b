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
	"fmt"
	"path/filepath"

	"github.com/spf13/viper"
	"github.com/zalando/go-keyring"

	coachconfig "github.com/mottych/PurposePath-AI-sub003/pkg/config"
	"github.com/mottych/PurposePath-AI-sub003/pkg/server"
	"github.com/mottych/PurposePath-AI-sub003/pkg/storage/backend"
)

const (
	// ServiceName for keyring storage
	ServiceName = "coachd"
	// DefaultConfigFileName is the name of the config file
	DefaultConfigFileName = "coachd"
)

// Config holds all configuration for the coaching engine daemon.
// Priority: CLI flags > config file > env vars > defaults
type Config struct {
	// DataDir is the coach data directory (computed from COACHD_DATA_DIR
	// env var or ~/.coachd). Set during config initialization, not
	// loaded from the config file.
	DataDir string `mapstructure:"-"`

	// Server configuration
	Server server.Config `mapstructure:"server"`

	// Storage backend configuration
	Storage backend.Config `mapstructure:"storage"`

	// LLM provider and gateway configuration
	LLM LLMConfig `mapstructure:"llm"`

	// Prompts configuration (template overrides and topic packs)
	Prompts PromptsConfig `mapstructure:"prompts"`

	// Session orchestration tuning
	Session SessionConfig `mapstructure:"session"`

	// Retention sweeper configuration
	Retention RetentionConfig `mapstructure:"retention"`

	// Logging configuration
	Logging LoggingConfig `mapstructure:"logging"`
}

// LLMConfig holds provider sections and gateway tuning.
type LLMConfig struct {
	Providers ProvidersConfig `mapstructure:"providers"`
	Gateway   GatewayConfig   `mapstructure:"gateway"`
}

// ProvidersConfig holds one section per supported provider adapter.
type ProvidersConfig struct {
	Anthropic AnthropicProviderConfig `mapstructure:"anthropic"`
	Bedrock   BedrockProviderConfig   `mapstructure:"bedrock"`
	OpenAI    OpenAIProviderConfig    `mapstructure:"openai"`
}

// AnthropicProviderConfig configures the direct Anthropic API adapter.
type AnthropicProviderConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	APIKey         string `mapstructure:"api_key"`
	Endpoint       string `mapstructure:"endpoint"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// BedrockProviderConfig configures the AWS Bedrock adapter.
type BedrockProviderConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Region          string `mapstructure:"region"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	SessionToken    string `mapstructure:"session_token"`
	Profile         string `mapstructure:"profile"`
}

// OpenAIProviderConfig configures the OpenAI adapter.
type OpenAIProviderConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	APIKey         string `mapstructure:"api_key"`
	BaseURL        string `mapstructure:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// GatewayConfig tunes provider dispatch.
type GatewayConfig struct {
	// RetryBackoffMS is the delay before the single retry against the
	// primary model.
	RetryBackoffMS int `mapstructure:"retry_backoff_ms"`

	// DefaultConcurrency bounds in-flight calls per provider.
	DefaultConcurrency int `mapstructure:"default_concurrency"`
}

// PromptsConfig holds template and topic pack locations.
type PromptsConfig struct {
	// Dir is a directory of template override files, layered over the
	// embedded defaults. Empty disables overrides.
	Dir string `mapstructure:"dir"`

	// PacksDir is a directory of topic pack YAML files loaded at
	// startup alongside the builtin catalog. Empty disables packs.
	PacksDir string `mapstructure:"packs_dir"`

	// CacheTTLSeconds is how long rendered template lookups stay
	// cached. 0 disables caching.
	CacheTTLSeconds int `mapstructure:"cache_ttl_seconds"`

	// HotReload watches Dir for changes and invalidates the cache.
	HotReload bool `mapstructure:"hot_reload"`
}

// SessionConfig tunes the orchestrator.
type SessionConfig struct {
	// MaxWriteRetries bounds re-runs after concurrent-modification
	// write failures.
	MaxWriteRetries int `mapstructure:"max_write_retries"`

	// MaxUserMessageBytes bounds user message text.
	MaxUserMessageBytes int `mapstructure:"max_user_message_bytes"`

	// ConfigCacheTTLSeconds is how long runtime configuration reads
	// stay cached. 0 disables caching.
	ConfigCacheTTLSeconds int `mapstructure:"config_cache_ttl_seconds"`
}

// RetentionConfig holds sweeper configuration.
type RetentionConfig struct {
	// Enabled turns the background sweeper on.
	Enabled bool `mapstructure:"enabled"`

	// Schedule is a standard 5-field cron expression.
	Schedule string `mapstructure:"schedule"`

	// TerminalRetentionDays is how long terminal sessions stay
	// readable after they end.
	TerminalRetentionDays int `mapstructure:"terminal_retention_days"`

	// ResumableRetentionDays is how long an idle active session
	// survives before it is purged outright.
	ResumableRetentionDays int `mapstructure:"resumable_retention_days"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// Validate checks configuration consistency before serving.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1..65535, got %d", c.Server.Port)
	}
	if c.Retention.TerminalRetentionDays < 0 || c.Retention.ResumableRetentionDays < 0 {
		return fmt.Errorf("retention windows must not be negative")
	}
	if !c.LLM.Providers.Anthropic.Enabled && !c.LLM.Providers.Bedrock.Enabled && !c.LLM.Providers.OpenAI.Enabled {
		return fmt.Errorf("no LLM providers enabled: enable at least one of llm.providers.{anthropic,bedrock,openai}")
	}
	return nil
}

// LoadConfig loads configuration from multiple sources with proper priority:
// 1. Command line flags (highest priority)
// 2. Config file
// 3. Environment variables
// 4. Defaults (lowest priority)
func LoadConfig(cfgFile string) (*Config, error) {
	// Set defaults
	setDefaults()

	// Setup config file
	if cfgFile != "" {
		// Use config file from flag
		viper.SetConfigFile(cfgFile)
	} else {
		// Search for config in standard locations
		viper.AddConfigPath(coachconfig.GetCoachDataDir()) // Coach data directory (respects COACHD_DATA_DIR)
		viper.AddConfigPath(".")                           // Current directory
		viper.AddConfigPath("/etc/coachd/")                // System-wide
		viper.SetConfigName(DefaultConfigFileName)         // coachd.yaml
		viper.SetConfigType("yaml")
	}

	// Read config file (if it exists)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Config file was found but another error occurred
			return nil, fmt.Errorf("error reading config file %s: %w", viper.ConfigFileUsed(), err)
		}
		// Config file not found; using defaults + env vars + flags
	}

	// Bind environment variables
	viper.SetEnvPrefix("COACHD")
	viper.AutomaticEnv()

	// Unmarshal config
	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Set DataDir from environment or default
	// Must be done after unmarshal since it is not loaded from the file
	config.DataDir = coachconfig.GetCoachDataDir()

	// Load secrets from keyring if not provided via CLI/env
	// Non-fatal: keyring might not be available - user can provide secrets via CLI/env
	_ = loadSecretsFromKeyring(&config)

	return &config, nil
}

// setDefaults sets default configuration values.
func setDefaults() {
	// Server defaults
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.read_timeout_seconds", 30)
	viper.SetDefault("server.write_timeout_seconds", 120)
	viper.SetDefault("server.request_timeout_seconds", 90)

	// Storage defaults (use coach data directory)
	defaultDBPath := filepath.Join(coachconfig.GetCoachDataDir(), "coachd.db")
	viper.SetDefault("storage.backend", "sqlite")
	viper.SetDefault("storage.sqlite.path", defaultDBPath)
	viper.SetDefault("storage.sqlite.encrypt", false)
	viper.SetDefault("storage.postgres.port", 5432)
	viper.SetDefault("storage.postgres.sslmode", "prefer")
	viper.SetDefault("storage.redis.addr", "localhost:6379")

	// LLM defaults
	viper.SetDefault("llm.providers.anthropic.enabled", true)
	viper.SetDefault("llm.providers.anthropic.timeout_seconds", 60)
	viper.SetDefault("llm.providers.bedrock.enabled", false)
	viper.SetDefault("llm.providers.bedrock.region", "us-west-2")
	viper.SetDefault("llm.providers.openai.enabled", false)
	viper.SetDefault("llm.providers.openai.timeout_seconds", 60)
	viper.SetDefault("llm.gateway.retry_backoff_ms", 500)
	viper.SetDefault("llm.gateway.default_concurrency", 8)

	// Prompts defaults
	viper.SetDefault("prompts.dir", "")
	viper.SetDefault("prompts.packs_dir", "")
	viper.SetDefault("prompts.cache_ttl_seconds", 300)
	viper.SetDefault("prompts.hot_reload", true)

	// Session defaults
	viper.SetDefault("session.max_write_retries", 3)
	viper.SetDefault("session.max_user_message_bytes", 8192)
	viper.SetDefault("session.config_cache_ttl_seconds", 60)

	// Retention defaults
	viper.SetDefault("retention.enabled", true)
	viper.SetDefault("retention.schedule", "*/10 * * * *")
	viper.SetDefault("retention.terminal_retention_days", 14)
	viper.SetDefault("retention.resumable_retention_days", 30)

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
}

// SecretMapping defines how to load a secret from keyring into the config.
// The key is the keyring key name, and the setter applies the value.
type SecretMapping struct {
	KeyringKey string
	Setter     func(*Config, string)
	IsSet      func(*Config) bool // Returns true if the value is already set (skip keyring lookup)
}

// GetSecretMappings returns all secret mappings for the application.
// Developers can extend this by adding new SecretMapping entries.
func GetSecretMappings() []SecretMapping {
	return []SecretMapping{
		{
			KeyringKey: "anthropic_api_key",
			Setter:     func(c *Config, val string) { c.LLM.Providers.Anthropic.APIKey = val },
			IsSet:      func(c *Config) bool { return c.LLM.Providers.Anthropic.APIKey != "" },
		},
		{
			KeyringKey: "openai_api_key",
			Setter:     func(c *Config, val string) { c.LLM.Providers.OpenAI.APIKey = val },
			IsSet:      func(c *Config) bool { return c.LLM.Providers.OpenAI.APIKey != "" },
		},
		{
			KeyringKey: "bedrock_access_key_id",
			Setter:     func(c *Config, val string) { c.LLM.Providers.Bedrock.AccessKeyID = val },
			IsSet:      func(c *Config) bool { return c.LLM.Providers.Bedrock.AccessKeyID != "" },
		},
		{
			KeyringKey: "bedrock_secret_access_key",
			Setter:     func(c *Config, val string) { c.LLM.Providers.Bedrock.SecretAccessKey = val },
			IsSet:      func(c *Config) bool { return c.LLM.Providers.Bedrock.SecretAccessKey != "" },
		},
		{
			KeyringKey: "bedrock_session_token",
			Setter:     func(c *Config, val string) { c.LLM.Providers.Bedrock.SessionToken = val },
			IsSet:      func(c *Config) bool { return c.LLM.Providers.Bedrock.SessionToken != "" },
		},
		{
			KeyringKey: "db_encryption_key",
			Setter:     func(c *Config, val string) { c.Storage.SQLite.EncryptionKey = val },
			IsSet:      func(c *Config) bool { return c.Storage.SQLite.EncryptionKey != "" },
		},
		{
			KeyringKey: "postgres_password",
			Setter:     func(c *Config, val string) { c.Storage.Postgres.Password = val },
			IsSet:      func(c *Config) bool { return c.Storage.Postgres.Password != "" },
		},
		{
			KeyringKey: "redis_password",
			Setter:     func(c *Config, val string) { c.Storage.Redis.Password = val },
			IsSet:      func(c *Config) bool { return c.Storage.Redis.Password != "" },
		},
	}
}

// loadSecretsFromKeyring loads API keys from the system keyring using
// the secret mappings. Extensible: add entries to GetSecretMappings().
func loadSecretsFromKeyring(config *Config) error {
	for _, mapping := range GetSecretMappings() {
		// Skip if value is already set (from CLI/env/config file)
		if mapping.IsSet(config) {
			continue
		}

		// Try to load from keyring
		value, err := GetSecretFromKeyring(mapping.KeyringKey)
		if err == nil && value != "" {
			mapping.Setter(config, value)
		}
		// Non-fatal: if keyring doesn't have the key, just continue
	}

	return nil
}

// GetSecretFromKeyring retrieves a secret from the system keyring.
func GetSecretFromKeyring(key string) (string, error) {
	return keyring.Get(ServiceName, key)
}

// SaveSecretToKeyring saves a secret to the system keyring.
func SaveSecretToKeyring(key, value string) error {
	return keyring.Set(ServiceName, key, value)
}

// DeleteSecretFromKeyring removes a secret from the system keyring.
func DeleteSecretFromKeyring(key string) error {
	return keyring.Delete(ServiceName, key)
}

// ListAvailableSecretKeys returns all known secret keys that can be
// stored in the keyring. Used by CLI commands to show options.
func ListAvailableSecretKeys() []string {
	mappings := GetSecretMappings()
	keys := make([]string, len(mappings))
	for i, mapping := range mappings {
		keys[i] = mapping.KeyringKey
	}
	return keys
}
