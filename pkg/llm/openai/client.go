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

// Package openai dispatches completions to the OpenAI Chat
// Completions API. All clients in a process share one rate limiter,
// since they draw on the same account-level quota.
package openai

import (
	"context"
	"errors"
	"math"
	"net/http"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/mottych/PurposePath-AI-sub003/pkg/llm"
	"github.com/mottych/PurposePath-AI-sub003/pkg/types"
)

// DefaultTimeout bounds a single HTTP exchange.
const DefaultTimeout = 60 * time.Second

var (
	globalRateLimiter     *llm.RateLimiter
	globalRateLimiterOnce sync.Once
)

// DefaultRateLimiterConfig returns pacing tuned for OpenAI Tier 1
// accounts.
func DefaultRateLimiterConfig() llm.RateLimiterConfig {
	return llm.RateLimiterConfig{
		Enabled:           true,
		RequestsPerSecond: 3.0, // well under Tier 1's 500 RPM
		TokensPerMinute:   100000,
		BurstCapacity:     4,
		MinDelay:          100 * time.Millisecond,
		MaxRetries:        5,
		RetryBackoff:      time.Second,
		QueueTimeout:      5 * time.Minute,
	}
}

// Config holds configuration for the OpenAI client. The model and
// sampling parameters arrive per request.
type Config struct {
	APIKey            string
	BaseURL           string // Default: the public OpenAI endpoint
	Timeout           time.Duration
	RateLimiterConfig llm.RateLimiterConfig
}

// Client dispatches completion requests to OpenAI chat models.
type Client struct {
	client      *openai.Client
	rateLimiter *llm.RateLimiter
}

var _ llm.Provider = (*Client)(nil)

// NewClient creates a new OpenAI client. Key presence is enforced by
// the provider factory.
func NewClient(config Config) *Client {
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	clientConfig.HTTPClient = &http.Client{
		Timeout: config.Timeout,
	}

	var rateLimiter *llm.RateLimiter
	if config.RateLimiterConfig.Enabled {
		rateLimiter = getOrCreateGlobalRateLimiter(config.RateLimiterConfig)
	}

	return &Client{
		client:      openai.NewClientWithConfig(clientConfig),
		rateLimiter: rateLimiter,
	}
}

// getOrCreateGlobalRateLimiter returns the global rate limiter,
// creating it if necessary. Caller-supplied non-zero fields override
// DefaultRateLimiterConfig values.
func getOrCreateGlobalRateLimiter(config llm.RateLimiterConfig) *llm.RateLimiter {
	globalRateLimiterOnce.Do(func() {
		merged := DefaultRateLimiterConfig()
		merged.Enabled = config.Enabled
		if config.Logger != nil {
			merged.Logger = config.Logger
		}
		if config.RequestsPerSecond > 0 {
			merged.RequestsPerSecond = config.RequestsPerSecond
		}
		if config.TokensPerMinute > 0 {
			merged.TokensPerMinute = config.TokensPerMinute
		}
		if config.BurstCapacity > 0 {
			merged.BurstCapacity = config.BurstCapacity
		}
		if config.MinDelay > 0 {
			merged.MinDelay = config.MinDelay
		}
		if config.MaxRetries > 0 {
			merged.MaxRetries = config.MaxRetries
		}
		if config.RetryBackoff > 0 {
			merged.RetryBackoff = config.RetryBackoff
		}
		if config.QueueTimeout > 0 {
			merged.QueueTimeout = config.QueueTimeout
		}
		globalRateLimiter = llm.NewRateLimiter(merged)
	})
	return globalRateLimiter
}

// Name returns the provider tag.
func (c *Client) Name() string {
	return "openai"
}

// Complete sends the conversation to OpenAI and returns the
// completion.
func (c *Client) Complete(ctx context.Context, req llm.Request) (*types.Completion, error) {
	apiReq := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    convertMessages(req.Messages),
		MaxTokens:   req.MaxTokens,
		Temperature: convertTemperature(req.Temperature),
	}

	result, err := c.rateLimiter.Do(ctx, func(ctx context.Context) (interface{}, error) {
		resp, err := c.client.CreateChatCompletion(ctx, apiReq)
		if err != nil {
			return nil, err
		}
		return &resp, nil
	})
	if err != nil {
		return nil, normalizeError(err)
	}
	resp := result.(*openai.ChatCompletionResponse)

	if len(resp.Choices) == 0 {
		return nil, types.NewError(types.KindProviderUnavailable, "openai returned no choices")
	}

	if c.rateLimiter != nil {
		c.rateLimiter.RecordTokenUsage(resp.Usage.TotalTokens)
	}

	choice := resp.Choices[0]
	return &types.Completion{
		Text:         choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		Usage: types.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
	}, nil
}

// convertMessages converts engine messages to the chat format.
func convertMessages(messages []types.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		var role string
		switch msg.Role {
		case types.RoleSystem:
			role = openai.ChatMessageRoleSystem
		case types.RoleUser:
			role = openai.ChatMessageRoleUser
		case types.RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		default:
			continue
		}
		out = append(out, openai.ChatCompletionMessage{
			Role:    role,
			Content: msg.Content,
		})
	}
	return out
}

// convertTemperature maps an explicit 0.0 to the smallest nonzero
// float32: the wire format drops a literal 0 and the API would fall
// back to its 1.0 default, which breaks deterministic extraction.
func convertTemperature(t float64) float32 {
	if t == 0 {
		return math.SmallestNonzeroFloat32
	}
	return float32(t)
}

// normalizeError maps wire failures onto the engine's error taxonomy.
// Content-policy refusals arrive as 400s and are rejections.
func normalizeError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden,
			http.StatusNotFound, http.StatusRequestEntityTooLarge, http.StatusUnprocessableEntity:
			return types.Wrap(types.KindProviderRejected, err, "openai rejected the request")
		default:
			return types.Wrap(types.KindProviderUnavailable, err, "openai request failed")
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return types.Wrap(types.KindProviderUnavailable, err, "openai request failed")
}
