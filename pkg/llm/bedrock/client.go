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

// Package bedrock dispatches completions to Claude models hosted on
// AWS Bedrock through the official Anthropic SDK, which handles the
// SigV4 signing and endpoint configuration.
package bedrock

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"

	"github.com/mottych/PurposePath-AI-sub003/pkg/llm"
	"github.com/mottych/PurposePath-AI-sub003/pkg/types"
)

// DefaultRegion is used when neither the configuration nor the AWS
// environment names one.
const DefaultRegion = "us-east-1"

var (
	globalRateLimiter     *llm.RateLimiter
	globalRateLimiterOnce sync.Once
)

// Config holds configuration for the Bedrock client. Model identifiers
// arrive per request as Bedrock inference profile IDs.
type Config struct {
	Region            string
	AccessKeyID       string
	SecretAccessKey   string
	SessionToken      string
	Profile           string
	RateLimiterConfig llm.RateLimiterConfig
}

// Client dispatches completion requests to Claude models on Bedrock.
type Client struct {
	client      anthropic.Client
	region      string
	rateLimiter *llm.RateLimiter
}

var _ llm.Provider = (*Client)(nil)

// NewClient creates a new Bedrock client. Credentials resolve in
// order: explicit static credentials, a named shared profile, then
// the default chain (IAM role, environment, shared config).
func NewClient(cfg Config) (*Client, error) {
	if cfg.Region == "" {
		if envRegion := os.Getenv("AWS_REGION"); envRegion != "" {
			cfg.Region = envRegion
		} else if envRegion := os.Getenv("AWS_DEFAULT_REGION"); envRegion != "" {
			cfg.Region = envRegion
		} else {
			cfg.Region = DefaultRegion
		}
	}

	var awsCfg aws.Config
	var err error

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		awsCfg, err = awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(cfg.Region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID,
				cfg.SecretAccessKey,
				cfg.SessionToken,
			)),
		)
	} else if cfg.Profile != "" {
		awsCfg, err = awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(cfg.Region),
			awsconfig.WithSharedConfigProfile(cfg.Profile),
		)
	} else {
		awsCfg, err = awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(cfg.Region),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var rateLimiter *llm.RateLimiter
	if cfg.RateLimiterConfig.Enabled {
		rateLimiter = getOrCreateGlobalRateLimiter(cfg.RateLimiterConfig)
	}

	return &Client{
		client:      anthropic.NewClient(bedrock.WithConfig(awsCfg)),
		region:      cfg.Region,
		rateLimiter: rateLimiter,
	}, nil
}

// getOrCreateGlobalRateLimiter returns the process-wide limiter for
// the Bedrock account, creating it with caller overrides on first use.
// The generic defaults fit Bedrock's service quotas.
func getOrCreateGlobalRateLimiter(config llm.RateLimiterConfig) *llm.RateLimiter {
	globalRateLimiterOnce.Do(func() {
		merged := llm.DefaultRateLimiterConfig()
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
	return "bedrock"
}

// Complete sends the conversation to Bedrock and returns the
// completion.
func (c *Client) Complete(ctx context.Context, req llm.Request) (*types.Completion, error) {
	systemPrompt, sdkMessages := convertMessages(req.Messages)
	if len(sdkMessages) == 0 {
		return nil, types.NewError(types.KindInvalidArgument, "no dispatchable messages")
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(req.Model),
		Messages:    sdkMessages,
		MaxTokens:   int64(req.MaxTokens),
		Temperature: anthropic.Float(req.Temperature),
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: systemPrompt},
		}
	}

	result, err := c.rateLimiter.Do(ctx, func(ctx context.Context) (interface{}, error) {
		return c.client.Messages.New(ctx, params)
	})
	if err != nil {
		return nil, normalizeError(err)
	}
	message := result.(*anthropic.Message)

	if c.rateLimiter != nil {
		c.rateLimiter.RecordTokenUsage(int(message.Usage.InputTokens + message.Usage.OutputTokens))
	}

	return convertResponse(message), nil
}

// convertMessages converts engine messages to the SDK format. System
// messages are combined and returned separately, as the Messages API
// requires them outside the messages array.
func convertMessages(messages []types.Message) (string, []anthropic.MessageParam) {
	var systemPrompts []string
	var sdkMessages []anthropic.MessageParam

	for _, msg := range messages {
		switch msg.Role {
		case types.RoleSystem:
			if msg.Content != "" {
				systemPrompts = append(systemPrompts, msg.Content)
			}
		case types.RoleUser:
			if msg.Content != "" {
				sdkMessages = append(sdkMessages, anthropic.NewUserMessage(
					anthropic.NewTextBlock(msg.Content),
				))
			}
		case types.RoleAssistant:
			if msg.Content != "" {
				sdkMessages = append(sdkMessages, anthropic.NewAssistantMessage(
					anthropic.NewTextBlock(msg.Content),
				))
			}
		}
	}

	return strings.Join(systemPrompts, "\n\n"), sdkMessages
}

// convertResponse converts an SDK message to a completion. The
// gateway fills model code, cost, and elapsed time.
func convertResponse(message *anthropic.Message) *types.Completion {
	var text strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return &types.Completion{
		Text:         text.String(),
		FinishReason: string(message.StopReason),
		Usage: types.Usage{
			InputTokens:  int(message.Usage.InputTokens),
			OutputTokens: int(message.Usage.OutputTokens),
			TotalTokens:  int(message.Usage.InputTokens + message.Usage.OutputTokens),
		},
	}
}

// normalizeError maps SDK failures onto the engine's error taxonomy.
func normalizeError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden,
			http.StatusNotFound, http.StatusRequestEntityTooLarge, http.StatusUnprocessableEntity:
			return types.Wrap(types.KindProviderRejected, err, "bedrock rejected the request")
		default:
			return types.Wrap(types.KindProviderUnavailable, err, "bedrock request failed")
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return types.Wrap(types.KindProviderUnavailable, err, "bedrock request failed")
}
