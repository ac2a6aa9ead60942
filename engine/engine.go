// Package engine orchestrates a query across the model and the connected
// tool server: a selection round that lets the model pick a server, a tool
// round against that server's roster, the tool-call loop, and a resume
// round that folds tool results into the final answer.
package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"regexp"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/x/slices"
	"github.com/effective-security/xlog"
	"github.com/google/uuid"
	"github.com/toolbridge-ai/toolbridge/config"
	"github.com/toolbridge-ai/toolbridge/connections"
	"github.com/toolbridge-ai/toolbridge/pkg/llmfactory"
	"github.com/toolbridge-ai/toolbridge/pkg/llms"
	"github.com/toolbridge-ai/toolbridge/tool"
)

var logger = xlog.NewPackageLogger("github.com/toolbridge-ai/toolbridge", "engine")

var serverDirectiveRe = regexp.MustCompile(`!use_server:(\S+)`)

// SuggestServerFunc picks a server when the model gives no directive.
type SuggestServerFunc func(query, current string, available []string) string

// Engine runs queries. It is the exclusive owner of the single live server
// connection; switching servers always releases the old connection before
// the new one is established.
type Engine struct {
	cfg      *config.Configuration
	registry *connections.Registry

	// NewProvider resolves the adapter for a model. Swappable in tests.
	NewProvider func(model string) llms.Provider
	// SuggestServer is the fallback server selection strategy.
	SuggestServer SuggestServerFunc

	mu      sync.Mutex
	conn    connections.Connection
	current string
}

// New creates an engine over the given registry.
func New(cfg *config.Configuration, registry *connections.Registry) *Engine {
	e := &Engine{
		cfg:      cfg,
		registry: registry,
	}
	e.NewProvider = func(model string) llms.Provider {
		vendor := llmfactory.VendorForModel(model, cfg.API.BaseURL)
		token := cfg.API.OpenAIAPIKey
		switch vendor {
		case llmfactory.VendorAnthropic:
			token = cfg.API.AnthropicAPIKey
		case llmfactory.VendorGoogle:
			token = cfg.API.GoogleAPIKey
		}
		return llmfactory.NewProvider(vendor, token, cfg.API.BaseURL, &http.Client{
			Timeout: cfg.Timeout(),
		})
	}
	e.SuggestServer = func(_, current string, available []string) string {
		if current != "" {
			return current
		}
		if len(available) > 0 {
			return available[0]
		}
		return ""
	}
	return e
}

// CurrentServer returns the name of the connected server, or "".
func (e *Engine) CurrentServer() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

// Connection returns the live connection, or nil.
func (e *Engine) Connection() connections.Connection {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conn
}

// ConnectServer connects to the named server, or to the default when name
// is empty. On an unknown name the existing connection is left untouched.
func (e *Engine) ConnectServer(ctx context.Context, name string) ([]tool.Descriptor, error) {
	if name == "" {
		name = e.registry.Default()
		if name == "" {
			return nil, errors.WithMessage(connections.ErrUnknownServer, "no servers available")
		}
	}

	cfg, err := e.registry.Resolve(name)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.connectLocked(ctx, name, cfg)
}

func (e *Engine) connectLocked(ctx context.Context, name string, cfg *connections.ServerConfig) ([]tool.Descriptor, error) {
	if e.conn != nil {
		if err := e.conn.Release(); err != nil {
			logger.KV(xlog.WARNING, "server", e.current, "reason", "release_failed", "err", err.Error())
		}
		e.conn = nil
		e.current = ""
	}

	conn, err := e.registry.New(cfg)
	if err != nil {
		return nil, err
	}
	if err := conn.Connect(ctx); err != nil {
		return nil, err
	}

	tools, err := conn.ListTools(ctx)
	if err != nil {
		_ = conn.Release()
		return nil, err
	}

	e.conn = conn
	e.current = name

	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Name
	}
	logger.KV(xlog.INFO, "server", name, "tools", strings.Join(names, ","))
	return tools, nil
}

// Close releases the live connection.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn == nil {
		return nil
	}
	err := e.conn.Release()
	e.conn = nil
	e.current = ""
	return err
}

// ProcessQuery answers one query. Queries are sequential; the engine does
// not interleave rounds of different queries.
func (e *Engine) ProcessQuery(ctx context.Context, query, model string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if model == "" {
		model = e.cfg.Models.Selected
	}

	queryID := uuid.New().String()
	logger.KV(xlog.INFO, "query_id", queryID, "model", model, "query", slices.StringUpto(query, 80))

	if e.conn == nil {
		name := e.registry.Default()
		if name == "" {
			return "", errors.WithMessage(connections.ErrUnknownServer, "no servers available")
		}
		cfg, err := e.registry.Resolve(name)
		if err != nil {
			return "", err
		}
		if _, err := e.connectLocked(ctx, name, cfg); err != nil {
			return "", err
		}
	}

	provider := e.NewProvider(model)

	serverName, err := e.selectServer(ctx, provider, query, model, queryID)
	if err != nil {
		return "", err
	}

	if serverName != e.current {
		logger.KV(xlog.INFO, "query_id", queryID, "switch_to", serverName)
		cfg, err := e.registry.Resolve(serverName)
		if err != nil {
			return "", err
		}
		if _, err := e.connectLocked(ctx, serverName, cfg); err != nil {
			return "", err
		}
	}

	return e.runToolRounds(ctx, provider, query, model, queryID)
}

// selectServer runs the selection round: the model sees the server roster
// and may answer with a !use_server directive.
func (e *Engine) selectServer(ctx context.Context, provider llms.Provider, query, model, queryID string) (string, error) {
	roster := "\n\nAvailable servers: " + strings.Join(e.registry.Names(), ", ")
	roster += "\nCurrent server: " + e.current

	messages := []llms.Message{
		llms.SystemMessage(e.cfg.System.Message + roster),
		llms.UserMessage(query),
	}

	completion, err := provider.GenerateCompletion(ctx, messages, model, nil)
	if err != nil {
		return "", err
	}

	// The selection round's text never reaches the final answer.
	content := llms.ExtractText(completion)

	var serverName string
	if m := serverDirectiveRe.FindStringSubmatch(content); m != nil {
		serverName = m[1]
		logger.KV(xlog.DEBUG, "query_id", queryID, "directive", serverName)
	} else {
		serverName = e.SuggestServer(query, e.current, e.registry.Names())
		logger.KV(xlog.DEBUG, "query_id", queryID, "suggested", serverName)
	}

	if _, err := e.registry.Resolve(serverName); err != nil {
		fallback := e.current
		if fallback == "" {
			fallback = e.registry.Default()
		}
		logger.KV(xlog.DEBUG, "query_id", queryID, "invalid_server", serverName, "fallback", fallback)
		serverName = fallback
	}
	return serverName, nil
}

// runToolRounds runs the tool round against the selected server, executes
// requested tool calls, and resumes the model with results.
func (e *Engine) runToolRounds(ctx context.Context, provider llms.Provider, query, model, queryID string) (string, error) {
	tools, err := e.conn.ListTools(ctx)
	if err != nil {
		return "", err
	}

	available := make([]llms.Tool, 0, len(tools))
	isGemini := strings.Contains(strings.ToLower(model), "gemini")
	for _, t := range tools {
		converted := llms.ToolFromDescriptor(t)
		if isGemini {
			converted.Function.Parameters = llmfactory.StripUnsupportedSchemaKeys(converted.Function.Parameters)
		}
		available = append(available, converted)
	}

	// The tool round sees a fresh conversation without the server roster.
	messages := []llms.Message{
		llms.SystemMessage(e.cfg.System.Message),
		llms.UserMessage(query),
	}

	completion, err := provider.GenerateCompletion(ctx, messages, model, available)
	if err != nil {
		return "", err
	}

	var finalText []string
	if content := llms.ExtractText(completion); content != "" {
		finalText = append(finalText, content)
	}

	toolCalls := llms.ExtractToolCalls(completion)
	if len(toolCalls) > 0 {
		messages = append(messages, llms.AssistantMessage(llms.ExtractText(completion), toolCalls))

		for _, call := range toolCalls {
			resultText := e.executeToolCall(ctx, call, queryID)
			messages = append(messages, llms.ToolMessage(call.ID, call.Function.Name, resultText))
		}

		resumed, err := provider.GenerateCompletion(ctx, messages, model, nil)
		if err != nil {
			logger.KV(xlog.WARNING, "query_id", queryID, "reason", "resume_failed", "err", err.Error())
			partial := strings.Join(finalText, "\n")
			return partial + "\n\nError while completing the query: " + err.Error(), nil
		}
		if content := llms.ExtractText(resumed); content != "" {
			finalText = append(finalText, content)
		}
	}

	logger.KV(xlog.INFO, "query_id", queryID, "fragments", len(finalText))
	return strings.Join(finalText, "\n"), nil
}

// executeToolCall runs one tool call and normalizes its outcome to text.
// Failures become an error payload the model can read and recover from.
func (e *Engine) executeToolCall(ctx context.Context, call llms.ToolCall, queryID string) string {
	name := call.Function.Name

	var args map[string]any
	if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
		logger.KV(xlog.WARNING, "query_id", queryID, "tool", name, "reason", "invalid_arguments", "err", err.Error())
		return errorPayload(errors.Wrap(err, "invalid tool arguments"))
	}

	logger.KV(xlog.DEBUG, "query_id", queryID, "tool", name, "args", slices.StringUpto(call.Function.Arguments, 200))

	result, err := e.conn.CallTool(ctx, name, args)
	if err != nil {
		logger.KV(xlog.WARNING, "query_id", queryID, "tool", name, "reason", "call_failed", "err", err.Error())
		return errorPayload(err)
	}
	text := result.Text()
	if e.cfg.System.Debug {
		logger.KV(xlog.DEBUG, "query_id", queryID, "tool", name, "result", slices.StringUpto(text, 100))
	}
	return text
}

func errorPayload(err error) string {
	data, merr := json.Marshal(map[string]string{"error": err.Error()})
	if merr != nil {
		return `{"error": "tool call failed"}`
	}
	return string(data)
}
