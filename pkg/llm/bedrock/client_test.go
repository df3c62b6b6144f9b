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
package bedrock

import (
	"context"
	"errors"
	"testing"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mottych/PurposePath-AI-sub003/pkg/types"
)

func TestClient_Name(t *testing.T) {
	client := &Client{}
	assert.Equal(t, "bedrock", client.Name())
}

func TestNewClient_RegionResolution(t *testing.T) {
	t.Setenv("AWS_REGION", "")
	t.Setenv("AWS_DEFAULT_REGION", "")

	client, err := NewClient(Config{})
	require.NoError(t, err)
	assert.Equal(t, DefaultRegion, client.region)

	client, err = NewClient(Config{Region: "eu-west-1"})
	require.NoError(t, err)
	assert.Equal(t, "eu-west-1", client.region)

	t.Setenv("AWS_REGION", "ap-southeast-2")
	client, err = NewClient(Config{})
	require.NoError(t, err)
	assert.Equal(t, "ap-southeast-2", client.region)
}

func TestNewClient_NoRateLimiterWhenDisabled(t *testing.T) {
	client, err := NewClient(Config{Region: "us-east-1"})
	require.NoError(t, err)
	assert.Nil(t, client.rateLimiter)
}

func TestConvertMessages(t *testing.T) {
	systemPrompt, sdkMessages := convertMessages([]types.Message{
		{Role: types.RoleSystem, Content: "You are a coach."},
		{Role: types.RoleSystem, Content: "Stay concise."},
		{Role: types.RoleUser, Content: "Hello"},
		{Role: types.RoleAssistant, Content: "Hi there!"},
		{Role: types.RoleUser, Content: ""},
	})

	assert.Equal(t, "You are a coach.\n\nStay concise.", systemPrompt)

	// Empty user content is dropped.
	require.Len(t, sdkMessages, 2)

	assert.Equal(t, anthropic.MessageParamRoleUser, sdkMessages[0].Role)
	require.Len(t, sdkMessages[0].Content, 1)
	require.NotNil(t, sdkMessages[0].Content[0].OfText)
	assert.Equal(t, "Hello", sdkMessages[0].Content[0].OfText.Text)

	assert.Equal(t, anthropic.MessageParamRoleAssistant, sdkMessages[1].Role)
	require.NotNil(t, sdkMessages[1].Content[0].OfText)
	assert.Equal(t, "Hi there!", sdkMessages[1].Content[0].OfText.Text)
}

func TestConvertMessages_NoSystem(t *testing.T) {
	systemPrompt, sdkMessages := convertMessages([]types.Message{
		{Role: types.RoleUser, Content: "Hello"},
	})

	assert.Empty(t, systemPrompt)
	assert.Len(t, sdkMessages, 1)
}

func TestConvertResponse(t *testing.T) {
	message := &anthropic.Message{
		Content: []anthropic.ContentBlockUnion{
			{Type: "text", Text: "Hello, "},
			{Type: "tool_use", ID: "t1", Name: "ignored"},
			{Type: "text", Text: "world!"},
		},
		StopReason: anthropic.StopReasonEndTurn,
		Usage: anthropic.Usage{
			InputTokens:  100,
			OutputTokens: 42,
		},
	}

	comp := convertResponse(message)

	assert.Equal(t, "Hello, world!", comp.Text)
	assert.Equal(t, string(anthropic.StopReasonEndTurn), comp.FinishReason)
	assert.Equal(t, 100, comp.Usage.InputTokens)
	assert.Equal(t, 42, comp.Usage.OutputTokens)
	assert.Equal(t, 142, comp.Usage.TotalTokens)
}

func TestNormalizeError_Rejected(t *testing.T) {
	for _, status := range []int{400, 401, 403, 404, 422} {
		err := normalizeError(&anthropic.Error{StatusCode: status})
		assert.True(t, types.IsKind(err, types.KindProviderRejected),
			"status %d should be a rejection, got %v", status, err)
	}
}

func TestNormalizeError_Transient(t *testing.T) {
	for _, status := range []int{429, 500, 503, 529} {
		err := normalizeError(&anthropic.Error{StatusCode: status})
		assert.True(t, types.IsKind(err, types.KindProviderUnavailable),
			"status %d should be transient, got %v", status, err)
	}
}

func TestNormalizeError_ContextPassthrough(t *testing.T) {
	err := normalizeError(context.Canceled)
	assert.ErrorIs(t, err, context.Canceled)

	err = normalizeError(context.DeadlineExceeded)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNormalizeError_UnknownWire(t *testing.T) {
	err := normalizeError(errors.New("connection reset by peer"))
	assert.True(t, types.IsKind(err, types.KindProviderUnavailable))
}
