// Package anthropicclient implements the Anthropic messages adapter. It
// translates the canonical chat shape into the messages API: the system
// turn moves to a top-level field, tool results fold into user turns, and
// tool_use blocks come back as canonical tool calls with synthesized ids.
package anthropicclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xlog"
	"github.com/toolbridge-ai/toolbridge/pkg/llms"
)

var logger = xlog.NewPackageLogger("github.com/toolbridge-ai/toolbridge/pkg/llms", "anthropicclient")

const (
	// DefaultBaseURL is the official API endpoint.
	DefaultBaseURL = "https://api.anthropic.com/v1"

	apiVersion     = "2023-06-01"
	defaultTimeout = 60 * time.Second
)

// ErrEmptyResponse is returned when the API answers with no content.
var ErrEmptyResponse = errors.New("empty response")

// Doer performs a HTTP request.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client is a messages API client.
type Client struct {
	token      string
	baseURL    string
	httpClient Doer
}

// New returns a client for the given credential and endpoint.
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
	return llms.ProviderAnthropic
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type wireTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type messagesRequest struct {
	Model     string        `json:"model"`
	Messages  []wireMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens"`
	System    string        `json:"system,omitempty"`
	Tools     []wireTool    `json:"tools,omitempty"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	ToolUse []struct {
		Name  string         `json:"name"`
		Input map[string]any `json:"input"`
	} `json:"tool_use"`
}

type errorMessage struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// GenerateCompletion implements llms.Provider.
func (c *Client) GenerateCompletion(ctx context.Context, messages []llms.Message, model string, tools []llms.Tool) (*llms.Completion, error) {
	wireMessages, system := convertMessages(messages)

	payload := messagesRequest{
		Model:     model,
		Messages:  wireMessages,
		MaxTokens: llms.DefaultMaxTokens,
		System:    system,
	}
	for _, t := range tools {
		if t.Type != "function" {
			continue
		}
		payload.Tools = append(payload.Tools, wireTool{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			InputSchema: t.Function.Parameters,
		})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	c.setHeaders(req)

	logger.KV(xlog.DEBUG, "model", model, "messages", len(wireMessages), "tools", len(payload.Tools))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.WithMessagef(llms.ErrProviderRequest, "%s", err.Error())
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, decodeError(resp)
	}

	var result messagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, errors.WithMessagef(llms.ErrProviderRequest, "invalid response: %s", err.Error())
	}

	completion := &llms.Completion{}
	if len(result.Content) > 0 {
		completion.Content = result.Content[0].Text
	}
	for i, use := range result.ToolUse {
		args, err := json.Marshal(use.Input)
		if err != nil {
			return nil, errors.Wrap(err, "failed to marshal tool input")
		}
		completion.ToolCalls = append(completion.ToolCalls, llms.ToolCall{
			ID:   fmt.Sprintf("call_%d", i),
			Type: "function",
			Function: llms.FunctionCall{
				Name:      use.Name,
				Arguments: string(args),
			},
		})
	}
	return completion, nil
}

// convertMessages moves the system turn out of the conversation and folds
// tool results into the adjacent user turn.
func convertMessages(messages []llms.Message) ([]wireMessage, string) {
	var out []wireMessage
	var system string

	for _, msg := range messages {
		switch msg.Role {
		case llms.RoleSystem:
			system = msg.Content
		case llms.RoleUser, llms.RoleAssistant:
			out = append(out, wireMessage{Role: msg.Role, Content: msg.Content})
		case llms.RoleTool:
			folded := fmt.Sprintf("Tool Response (%s): %s", msg.Name, msg.Content)
			if len(out) > 0 && out[len(out)-1].Role == llms.RoleUser {
				out[len(out)-1].Content += "\n\n" + folded
			} else {
				out = append(out, wireMessage{Role: llms.RoleUser, Content: folded})
			}
		}
	}
	return out, system
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.token)
	req.Header.Set("anthropic-version", apiVersion)
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
