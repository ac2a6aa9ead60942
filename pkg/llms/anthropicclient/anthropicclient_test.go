package anthropicclient_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/toolbridge-ai/toolbridge/pkg/llms"
	"github.com/toolbridge-ai/toolbridge/pkg/llms/anthropicclient"
)

type capturedRequest struct {
	Model    string `json:"model"`
	System   string `json:"system"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
	MaxTokens int `json:"max_tokens"`
	Tools     []struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		InputSchema map[string]any `json:"input_schema"`
	} `json:"tools"`
}

func TestGenerateCompletion(t *testing.T) {
	var captured capturedRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "sk-ant", r.Header.Get("x-api-key"))
		assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &captured))

		_, _ = w.Write([]byte(`{
			"content": [{"type": "text", "text": "Let me check."}],
			"tool_use": [
				{"name": "weather", "input": {"city": "Oslo"}},
				{"name": "geocode", "input": {"address": "Karl Johans gate"}}
			]
		}`))
	}))
	defer ts.Close()

	c := anthropicclient.New("sk-ant", ts.URL, nil)
	assert.Equal(t, llms.ProviderAnthropic, c.GetProviderType())

	messages := []llms.Message{
		llms.SystemMessage("be brief"),
		llms.UserMessage("weather in Oslo?"),
	}
	tools := []llms.Tool{{
		Type: "function",
		Function: llms.FunctionDefinition{
			Name:        "weather",
			Description: "Weather lookup",
			Parameters:  map[string]any{"type": "object"},
		},
	}}

	completion, err := c.GenerateCompletion(context.Background(), messages, "claude-3-5-sonnet", tools)
	require.NoError(t, err)

	assert.Equal(t, "Let me check.", completion.Content)
	require.Len(t, completion.ToolCalls, 2)
	assert.Equal(t, "call_0", completion.ToolCalls[0].ID)
	assert.Equal(t, "call_1", completion.ToolCalls[1].ID)
	assert.Equal(t, "weather", completion.ToolCalls[0].Function.Name)
	assert.JSONEq(t, `{"city":"Oslo"}`, completion.ToolCalls[0].Function.Arguments)

	// The system turn moves to the top-level field.
	assert.Equal(t, "be brief", captured.System)
	require.Len(t, captured.Messages, 1)
	assert.Equal(t, "user", captured.Messages[0].Role)
	assert.Equal(t, 1000, captured.MaxTokens)

	require.Len(t, captured.Tools, 1)
	assert.Equal(t, "weather", captured.Tools[0].Name)
	assert.Equal(t, "object", captured.Tools[0].InputSchema["type"])
}

func TestGenerateCompletion_FoldsToolResults(t *testing.T) {
	var captured capturedRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &captured))
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"done"}]}`))
	}))
	defer ts.Close()

	c := anthropicclient.New("sk-ant", ts.URL, nil)

	// Tool result directly after a user turn folds into it.
	messages := []llms.Message{
		llms.UserMessage("weather in Oslo?"),
		llms.ToolMessage("call_0", "weather", `{"temp":3}`),
	}
	_, err := c.GenerateCompletion(context.Background(), messages, "claude-3-5-sonnet", nil)
	require.NoError(t, err)

	require.Len(t, captured.Messages, 1)
	assert.Equal(t, "weather in Oslo?\n\nTool Response (weather): {\"temp\":3}", captured.Messages[0].Content)

	// After an assistant turn the result opens a new user turn.
	messages = []llms.Message{
		llms.UserMessage("weather in Oslo?"),
		llms.AssistantMessage("checking", nil),
		llms.ToolMessage("call_0", "weather", `{"temp":3}`),
	}
	_, err = c.GenerateCompletion(context.Background(), messages, "claude-3-5-sonnet", nil)
	require.NoError(t, err)

	require.Len(t, captured.Messages, 3)
	assert.Equal(t, "user", captured.Messages[2].Role)
	assert.Equal(t, "Tool Response (weather): {\"temp\":3}", captured.Messages[2].Content)
}

func TestGenerateCompletion_APIError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","message":"max_tokens required"}}`))
	}))
	defer ts.Close()

	c := anthropicclient.New("sk-ant", ts.URL, nil)
	_, err := c.GenerateCompletion(context.Background(), []llms.Message{llms.UserMessage("hi")}, "claude-3-5-sonnet", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, llms.ErrProviderRequest))
	assert.Contains(t, err.Error(), "max_tokens required")
}
