// Package googleclient implements the Gemini generateContent adapter. The
// canonical chat shape maps onto content turns: the system turn becomes a
// marked user turn, assistant turns take the "model" role, and tool output
// folds into the preceding user turn.
package googleclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xlog"
	"github.com/toolbridge-ai/toolbridge/pkg/llms"
)

var logger = xlog.NewPackageLogger("github.com/toolbridge-ai/toolbridge/pkg/llms", "googleclient")

const (
	// DefaultBaseURL is the official API endpoint.
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

	defaultTimeout     = 60 * time.Second
	defaultTemperature = 0.7
)

// Doer performs a HTTP request.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client is a generateContent client.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient Doer
}

// New returns a client for the given credential and endpoint.
func New(apiKey, baseURL string, httpClient Doer) *Client {
	c := &Client{
		apiKey:     apiKey,
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
	return llms.ProviderGoogle
}

type wirePart struct {
	Text         string `json:"text,omitempty"`
	FunctionCall *struct {
		Name string         `json:"name"`
		Args map[string]any `json:"args"`
	} `json:"functionCall,omitempty"`
}

type wireContent struct {
	Role  string     `json:"role"`
	Parts []wirePart `json:"parts"`
}

type functionDeclaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type wireTool struct {
	FunctionDeclarations []functionDeclaration `json:"functionDeclarations"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type generateRequest struct {
	Contents         []wireContent    `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
	Tools            []wireTool       `json:"tools,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content wireContent `json:"content"`
	} `json:"candidates"`
}

type errorMessage struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// GenerateCompletion implements llms.Provider.
func (c *Client) GenerateCompletion(ctx context.Context, messages []llms.Message, model string, tools []llms.Tool) (*llms.Completion, error) {
	payload := generateRequest{
		Contents: convertMessages(messages),
		GenerationConfig: generationConfig{
			Temperature:     defaultTemperature,
			MaxOutputTokens: llms.DefaultMaxTokens,
		},
	}

	var declarations []functionDeclaration
	for _, t := range tools {
		if t.Type != "function" {
			continue
		}
		declarations = append(declarations, functionDeclaration{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			Parameters:  t.Function.Parameters,
		})
	}
	if len(declarations) > 0 {
		payload.Tools = []wireTool{{FunctionDeclarations: declarations}}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal request")
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		c.baseURL, model, url.QueryEscape(c.apiKey))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("Content-Type", "application/json")

	logger.KV(xlog.DEBUG, "model", model, "contents", len(payload.Contents), "tools", len(declarations))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.WithMessagef(llms.ErrProviderRequest, "%s", err.Error())
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, decodeError(resp)
	}

	var result generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, errors.WithMessagef(llms.ErrProviderRequest, "invalid response: %s", err.Error())
	}

	return extractCompletion(&result)
}

// convertMessages maps canonical turns onto Gemini content turns.
func convertMessages(messages []llms.Message) []wireContent {
	var out []wireContent
	for _, msg := range messages {
		switch msg.Role {
		case llms.RoleSystem:
			out = append(out, wireContent{
				Role:  "user",
				Parts: []wirePart{{Text: "[SYSTEM]" + msg.Content + "[/SYSTEM]"}},
			})
		case llms.RoleUser:
			out = append(out, wireContent{
				Role:  "user",
				Parts: []wirePart{{Text: msg.Content}},
			})
		case llms.RoleAssistant:
			out = append(out, wireContent{
				Role:  "model",
				Parts: []wirePart{{Text: msg.Content}},
			})
		case llms.RoleTool:
			folded := fmt.Sprintf("Tool Output (%s): %s", msg.Name, msg.Content)
			if len(out) > 0 && out[len(out)-1].Role == "user" && len(out[len(out)-1].Parts) > 0 {
				out[len(out)-1].Parts[0].Text += "\n\n" + folded
			} else {
				out = append(out, wireContent{
					Role:  "user",
					Parts: []wirePart{{Text: folded}},
				})
			}
		}
	}
	return out
}

// extractCompletion reads the first candidate: its first text part becomes
// the content, and every functionCall part becomes a canonical tool call.
func extractCompletion(result *generateResponse) (*llms.Completion, error) {
	completion := &llms.Completion{}
	if len(result.Candidates) == 0 {
		return completion, nil
	}

	parts := result.Candidates[0].Content.Parts
	if len(parts) > 0 {
		completion.Content = parts[0].Text
	}

	for _, part := range parts {
		if part.FunctionCall == nil {
			continue
		}
		args := part.FunctionCall.Args
		if args == nil {
			args = map[string]any{}
		}
		data, err := json.Marshal(args)
		if err != nil {
			return nil, errors.Wrap(err, "failed to marshal function args")
		}
		completion.ToolCalls = append(completion.ToolCalls, llms.ToolCall{
			ID:   fmt.Sprintf("call_%d", len(completion.ToolCalls)),
			Type: "function",
			Function: llms.FunctionCall{
				Name:      part.FunctionCall.Name,
				Arguments: string(data),
			},
		})
	}
	return completion, nil
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
