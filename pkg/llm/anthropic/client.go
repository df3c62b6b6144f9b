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

// Package anthropic dispatches completions to the Anthropic Messages
// API over raw HTTP. All clients in a process share one rate limiter,
// since they draw on the same account-level quota.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mottych/PurposePath-AI-sub003/pkg/llm"
	"github.com/mottych/PurposePath-AI-sub003/pkg/types"
)

const (
	// DefaultEndpoint is the Anthropic Messages API endpoint.
	DefaultEndpoint = "https://api.anthropic.com/v1/messages"

	// DefaultTimeout bounds a single HTTP exchange.
	DefaultTimeout = 60 * time.Second

	apiVersion  = "2023-06-01"
	cachingBeta = "prompt-caching-2024-07-31"
)

var (
	globalRateLimiter     *llm.RateLimiter
	globalRateLimiterOnce sync.Once
)

// DefaultRateLimiterConfig returns pacing tuned for Anthropic Tier 1
// accounts. Higher tiers should raise requests_per_second and
// tokens_per_minute in the engine configuration.
func DefaultRateLimiterConfig() llm.RateLimiterConfig {
	return llm.RateLimiterConfig{
		Enabled:           true,
		RequestsPerSecond: 0.7,                    // ~42 RPM, safely under Tier 1's 50 RPM
		TokensPerMinute:   80000,                  // 80% of Tier 1's 100K ITPM
		BurstCapacity:     3,                      // conservative burst for concurrent sessions
		MinDelay:          800 * time.Millisecond, // prevents burst overshoots
		MaxRetries:        5,
		RetryBackoff:      2 * time.Second, // longer initial backoff for Anthropic 429s
		QueueTimeout:      5 * time.Minute,
	}
}

// Config holds configuration for the Anthropic client. The model and
// sampling parameters arrive per request; only transport-level
// settings live here.
type Config struct {
	APIKey            string
	Endpoint          string // Default: https://api.anthropic.com/v1/messages
	Timeout           time.Duration
	RateLimiterConfig llm.RateLimiterConfig
}

// Client dispatches completion requests to Claude models.
type Client struct {
	apiKey      string
	endpoint    string
	httpClient  *http.Client
	rateLimiter *llm.RateLimiter
}

var _ llm.Provider = (*Client)(nil)

// NewClient creates a new Anthropic client. Key presence is enforced
// by the provider factory; a client built with an empty key surfaces
// the provider's 401 as a rejection at dispatch time.
func NewClient(config Config) *Client {
	if config.Endpoint == "" {
		config.Endpoint = DefaultEndpoint
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}

	var rateLimiter *llm.RateLimiter
	if config.RateLimiterConfig.Enabled {
		rateLimiter = getOrCreateGlobalRateLimiter(config.RateLimiterConfig)
	}

	return &Client{
		apiKey:      config.APIKey,
		endpoint:    config.Endpoint,
		rateLimiter: rateLimiter,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// getOrCreateGlobalRateLimiter returns the global rate limiter,
// creating it if necessary. Caller-supplied non-zero fields override
// DefaultRateLimiterConfig values; the Anthropic-specific defaults
// matter because the generic ones allow 2 RPS, above Tier 1 limits.
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
	return "anthropic"
}

// Complete sends the conversation to Claude and returns the
// completion. Token counts reported by the API feed the shared rate
// limiter's per-minute budget.
func (c *Client) Complete(ctx context.Context, req llm.Request) (*types.Completion, error) {
	systemBlocks, apiMessages := convertMessages(req.Messages)

	apiReq := &MessagesRequest{
		Model:       req.Model,
		Messages:    apiMessages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		System:      systemBlocks,
	}

	resp, err := c.callAPI(ctx, apiReq)
	if err != nil {
		return nil, normalizeError(err)
	}

	if c.rateLimiter != nil {
		c.rateLimiter.RecordTokenUsage(resp.Usage.InputTokens + resp.Usage.OutputTokens)
	}

	return convertResponse(resp), nil
}

// convertMessages splits the conversation into the system blocks and
// API messages the Messages API expects. System messages are combined
// and sent in the separate system field; cache_control on that block
// caches the stable per-session prompt for ~5 minutes, and cached
// tokens don't count against the ITPM rate limit.
func convertMessages(messages []types.Message) ([]TextBlock, []Message) {
	var systemPrompts []string
	var apiMessages []Message

	for _, msg := range messages {
		switch msg.Role {
		case types.RoleSystem:
			if msg.Content != "" {
				systemPrompts = append(systemPrompts, msg.Content)
			}
		case types.RoleUser:
			apiMessages = append(apiMessages, Message{
				Role:    "user",
				Content: []TextBlock{{Type: "text", Text: msg.Content}},
			})
		case types.RoleAssistant:
			apiMessages = append(apiMessages, Message{
				Role:    "assistant",
				Content: []TextBlock{{Type: "text", Text: msg.Content}},
			})
		}
	}

	if len(systemPrompts) == 0 {
		return nil, apiMessages
	}
	systemBlocks := []TextBlock{
		{
			Type:         "text",
			Text:         strings.Join(systemPrompts, "\n\n"),
			CacheControl: &CacheControl{Type: "ephemeral"},
		},
	}
	return systemBlocks, apiMessages
}

// convertResponse concatenates the response's text blocks into a
// completion. Gateway-level fields (model code, cost, elapsed time)
// are filled by the caller.
func convertResponse(resp *MessagesResponse) *types.Completion {
	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return &types.Completion{
		Text:         text.String(),
		FinishReason: resp.StopReason,
		Usage: types.Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
			TotalTokens:  resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}
}

// apiError carries a non-200 status and body out of the rate limiter.
// Its text includes the status code so the limiter's throttle
// detection fires on 429 and 529 responses.
type apiError struct {
	status int
	body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.status, e.body)
}

func (c *Client) callAPI(ctx context.Context, req *MessagesRequest) (*MessagesResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	// The lambda creates a fresh HTTP request on each attempt so the
	// request body can be re-read when the rate limiter retries a
	// throttled call.
	buildAPIReq := func(ctx context.Context) (*http.Request, error) {
		r, err := http.NewRequestWithContext(ctx, "POST", c.endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		r.Header.Set("Content-Type", "application/json")
		r.Header.Set("x-api-key", c.apiKey)
		r.Header.Set("anthropic-version", apiVersion)
		r.Header.Set("anthropic-beta", cachingBeta)
		return r, nil
	}

	exchange := func(ctx context.Context) (interface{}, error) {
		httpReq, err := buildAPIReq(ctx)
		if err != nil {
			return nil, err
		}
		httpResp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return nil, err
		}
		defer func() { _ = httpResp.Body.Close() }()

		respBody, err := io.ReadAll(httpResp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}
		if httpResp.StatusCode != http.StatusOK {
			return nil, &apiError{status: httpResp.StatusCode, body: strings.TrimSpace(string(respBody))}
		}

		var resp MessagesResponse
		if err := json.Unmarshal(respBody, &resp); err != nil {
			return nil, fmt.Errorf("failed to unmarshal response: %w", err)
		}
		return &resp, nil
	}

	result, err := c.rateLimiter.Do(ctx, exchange)
	if err != nil {
		return nil, err
	}
	return result.(*MessagesResponse), nil
}

// normalizeError maps wire failures onto the engine's error taxonomy.
// Auth failures and malformed requests are rejections the gateway must
// not retry; everything else about the exchange is transient.
func normalizeError(err error) error {
	var ae *apiError
	if errors.As(err, &ae) {
		switch ae.status {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden,
			http.StatusNotFound, http.StatusRequestEntityTooLarge, http.StatusUnprocessableEntity:
			return types.Wrap(types.KindProviderRejected, err, "anthropic rejected the request")
		default:
			return types.Wrap(types.KindProviderUnavailable, err, "anthropic request failed")
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return types.Wrap(types.KindProviderUnavailable, err, "anthropic request failed")
}
