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

// Package factory builds provider adapters from engine configuration.
// Each enabled provider section yields one adapter; credentials fall
// back to the conventional environment variables when the
// configuration leaves them empty.
package factory

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/mottych/PurposePath-AI-sub003/pkg/llm"
	"github.com/mottych/PurposePath-AI-sub003/pkg/llm/anthropic"
	"github.com/mottych/PurposePath-AI-sub003/pkg/llm/bedrock"
	"github.com/mottych/PurposePath-AI-sub003/pkg/llm/openai"
)

// Config names the provider sections of the engine configuration.
type Config struct {
	Anthropic AnthropicConfig
	Bedrock   BedrockConfig
	OpenAI    OpenAIConfig

	// Logger is handed to each provider's rate limiter.
	Logger *zap.Logger
}

// AnthropicConfig configures the direct Anthropic API adapter.
type AnthropicConfig struct {
	Enabled     bool
	APIKey      string
	Endpoint    string
	Timeout     time.Duration
	RateLimiter llm.RateLimiterConfig
}

// BedrockConfig configures the AWS Bedrock adapter.
type BedrockConfig struct {
	Enabled         bool
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Profile         string
	RateLimiter     llm.RateLimiterConfig
}

// OpenAIConfig configures the OpenAI adapter.
type OpenAIConfig struct {
	Enabled     bool
	APIKey      string
	BaseURL     string
	Timeout     time.Duration
	RateLimiter llm.RateLimiterConfig
}

// NewProviders builds one adapter per enabled provider section. At
// least one section must be enabled. Rate limiting is always on for
// factory-built providers; the per-provider RateLimiter fields tune
// it.
func NewProviders(cfg Config) ([]llm.Provider, error) {
	var providers []llm.Provider

	if cfg.Anthropic.Enabled {
		p, err := newAnthropicProvider(cfg.Anthropic, cfg.Logger)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	if cfg.Bedrock.Enabled {
		p, err := newBedrockProvider(cfg.Bedrock, cfg.Logger)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	if cfg.OpenAI.Enabled {
		p, err := newOpenAIProvider(cfg.OpenAI, cfg.Logger)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}

	if len(providers) == 0 {
		return nil, fmt.Errorf("no LLM providers enabled: enable at least one of llm.providers.{anthropic,bedrock,openai}")
	}
	return providers, nil
}

func newAnthropicProvider(cfg AnthropicConfig, logger *zap.Logger) (llm.Provider, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic API key is required (set llm.providers.anthropic.api_key or ANTHROPIC_API_KEY)")
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = os.Getenv("ANTHROPIC_API_ENDPOINT")
	}

	return anthropic.NewClient(anthropic.Config{
		APIKey:            apiKey,
		Endpoint:          endpoint,
		Timeout:           cfg.Timeout,
		RateLimiterConfig: enabledLimiter(cfg.RateLimiter, logger),
	}), nil
}

func newBedrockProvider(cfg BedrockConfig, logger *zap.Logger) (llm.Provider, error) {
	client, err := bedrock.NewClient(bedrock.Config{
		Region:            cfg.Region,
		AccessKeyID:       cfg.AccessKeyID,
		SecretAccessKey:   cfg.SecretAccessKey,
		SessionToken:      cfg.SessionToken,
		Profile:           cfg.Profile,
		RateLimiterConfig: enabledLimiter(cfg.RateLimiter, logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create bedrock provider: %w", err)
	}
	return client, nil
}

func newOpenAIProvider(cfg OpenAIConfig, logger *zap.Logger) (llm.Provider, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("openai API key is required (set llm.providers.openai.api_key or OPENAI_API_KEY)")
	}

	return openai.NewClient(openai.Config{
		APIKey:            apiKey,
		BaseURL:           cfg.BaseURL,
		Timeout:           cfg.Timeout,
		RateLimiterConfig: enabledLimiter(cfg.RateLimiter, logger),
	}), nil
}

func enabledLimiter(cfg llm.RateLimiterConfig, logger *zap.Logger) llm.RateLimiterConfig {
	cfg.Enabled = true
	if cfg.Logger == nil {
		cfg.Logger = logger
	}
	return cfg
}
