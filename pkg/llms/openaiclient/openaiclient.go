// Package openaiclient implements the OpenAI-style chat completions
// adapter. The canonical message shape is already this vendor's wire shape,
// so requests pass through with only tool schema normalization.
package openaiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xlog"
	"github.com/toolbridge-ai/toolbridge/pkg/llms"
	"github.com/toolbridge-ai/toolbridge/tool"
)

var logger = xlog.NewPackageLogger("github.com/toolbridge-ai/toolbridge/pkg/llms", "openaiclient")

const (
	// DefaultBaseURL is the official API endpoint.
	DefaultBaseURL = "https://api.openai.com/v1"

	defaultTimeout = 60 * time.Second
)

// ErrEmptyResponse is returned when the API answers with no choices.
var ErrEmptyResponse = errors.New("empty response")

// Doer performs a HTTP request.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client is a chat completions client for OpenAI-compatible endpoints.
type Client struct {
	token      string
	baseURL    string
	httpClient Doer
}

// New returns a client for the given credential and endpoint. An empty
// baseURL selects the official endpoint; a nil httpClient gets a default
// with a 60 second timeout.
func New(token, baseURL string, httpClient Doer) *Client {
	c := &Client{
		token:      token,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: httpClient,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return c
}

// GetProviderType implements llms.Provider.
func (c *Client) GetProviderType() llms.ProviderType {
	return llms.ProviderOpenAI
}

type chatRequest struct {
	Model      string         `json:"model"`
	Messages   []llms.Message `json:"messages"`
	MaxTokens  int            `json:"max_tokens"`
	Tools      []llms.Tool    `json:"tools,omitempty"`
	ToolChoice string         `json:"tool_choice,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Role      string          `json:"role"`
			Content   string          `json:"content"`
			ToolCalls []llms.ToolCall `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
}

type errorMessage struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// GenerateCompletion implements llms.Provider.
func (c *Client) GenerateCompletion(ctx context.Context, messages []llms.Message, model string, tools []llms.Tool) (*llms.Completion, error) {
	payload := chatRequest{
		Model:     model,
		Messages:  messages,
		MaxTokens: llms.DefaultMaxTokens,
	}
	if len(tools) > 0 {
		payload.Tools = sanitizeTools(tools)
		payload.ToolChoice = "auto"
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	c.setHeaders(req)

	logger.KV(xlog.DEBUG, "model", model, "messages", len(messages), "tools", len(tools))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.WithMessagef(llms.ErrProviderRequest, "%s", err.Error())
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, decodeError(resp)
	}

	var result chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, errors.WithMessagef(llms.ErrProviderRequest, "invalid response: %s", err.Error())
	}
	if len(result.Choices) == 0 {
		return nil, ErrEmptyResponse
	}

	message := result.Choices[0].Message
	return &llms.Completion{
		Content:   message.Content,
		ToolCalls: message.ToolCalls,
	}, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
}

// sanitizeTools ensures every tool carries a valid object schema, logging
// and substituting an empty one otherwise.
func sanitizeTools(tools []llms.Tool) []llms.Tool {
	out := make([]llms.Tool, len(tools))
	for i, t := range tools {
		if t.Function.Parameters == nil {
			logger.KV(xlog.WARNING, "tool", t.Function.Name, "reason", "invalid_parameters")
		}
		t.Function.Parameters = tool.NormalizeSchema(t.Function.Parameters)
		out[i] = t
	}
	return out
}

func decodeError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var errResp errorMessage
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		return errors.WithMessagef(llms.ErrProviderRequest, "status %d: %s", resp.StatusCode, errResp.Error.Message)
	}
	return errors.WithMessagef(llms.ErrProviderRequest, "status %d: %s", resp.StatusCode, string(body))
}

var _ llms.Provider = (*Client)(nil)
