// Command timeserver is a small stdio tool server used for local testing.
// It frames one JSON-RPC message per line over stdin and stdout and serves
// a clock tool and an echo tool.
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"reflect"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/toolbridge-ai/toolbridge/mcp/transport"
	"github.com/toolbridge-ai/toolbridge/schema"
)

const protocolVersion = "2024-11-05"

type currentTimeArgs struct {
	Timezone string `json:"timezone,omitempty" jsonschema:"description=IANA time zone name,example=Europe/Paris"`
}

type echoArgs struct {
	Text string `json:"text" jsonschema:"description=Text to echo back"`
}

type toolHandler func(args json.RawMessage) (string, error)

type servedTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`

	handler toolHandler
}

func main() {
	tools, err := buildTools()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err.Error())
		os.Exit(1)
	}

	srv := &server{
		tools: tools,
		out:   os.Stdout,
	}
	if err := srv.serve(os.Stdin); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err.Error())
		os.Exit(1)
	}
}

func buildTools() ([]*servedTool, error) {
	timeSchema, err := schemaFor(currentTimeArgs{})
	if err != nil {
		return nil, err
	}
	echoSchema, err := schemaFor(echoArgs{})
	if err != nil {
		return nil, err
	}

	return []*servedTool{
		{
			Name:        "current_time",
			Description: "Returns the current time, optionally in a given time zone",
			InputSchema: timeSchema,
			handler:     handleCurrentTime,
		},
		{
			Name:        "echo",
			Description: "Echoes the given text back to the caller",
			InputSchema: echoSchema,
			handler:     handleEcho,
		},
	}, nil
}

func schemaFor(args any) (map[string]any, error) {
	s, err := schema.New(reflect.TypeOf(args))
	if err != nil {
		return nil, err
	}
	return s.InputMap()
}

func handleCurrentTime(raw json.RawMessage) (string, error) {
	var args currentTimeArgs
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			return "", errors.Wrap(err, "invalid arguments")
		}
	}

	loc := time.Local
	if args.Timezone != "" {
		var err error
		loc, err = time.LoadLocation(args.Timezone)
		if err != nil {
			return "", errors.Wrapf(err, "unknown time zone %q", args.Timezone)
		}
	}
	return time.Now().In(loc).Format(time.RFC1123), nil
}

func handleEcho(raw json.RawMessage) (string, error) {
	var args echoArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return "", errors.Wrap(err, "invalid arguments")
	}
	if args.Text == "" {
		return "", errors.New("text is required")
	}
	return args.Text, nil
}

type server struct {
	tools []*servedTool
	out   *os.File
}

func (s *server) serve(in *os.File) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		msg, err := transport.ParseMessage(line)
		if err != nil {
			continue
		}
		switch msg.Type {
		case transport.BaseMessageTypeJSONRPCRequestType:
			s.handleRequest(msg.JsonRpcRequest)
		case transport.BaseMessageTypeJSONRPCNotificationType:
			// notifications/initialized and friends need no reply
		}
	}
	return scanner.Err()
}

func (s *server) handleRequest(req *transport.BaseJSONRPCRequest) {
	switch req.Method {
	case "initialize":
		s.respond(req.Id, map[string]any{
			"protocolVersion": protocolVersion,
			"capabilities":    map[string]any{"tools": map[string]any{}},
			"serverInfo": map[string]any{
				"name":    "timeserver",
				"version": "0.1.0",
			},
		})
	case "tools/list":
		s.respond(req.Id, map[string]any{"tools": s.tools})
	case "tools/call":
		s.handleCall(req)
	default:
		s.respondError(req.Id, -32601, "method not found: "+req.Method)
	}
}

func (s *server) handleCall(req *transport.BaseJSONRPCRequest) {
	var params struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		s.respondError(req.Id, -32602, "invalid params")
		return
	}

	for _, t := range s.tools {
		if t.Name != params.Name {
			continue
		}
		text, err := t.handler(params.Arguments)
		if err != nil {
			s.respond(req.Id, map[string]any{
				"content": []map[string]any{{"type": "text", "text": err.Error()}},
				"isError": true,
			})
			return
		}
		s.respond(req.Id, map[string]any{
			"content": []map[string]any{{"type": "text", "text": text}},
		})
		return
	}
	s.respondError(req.Id, -32602, "unknown tool: "+params.Name)
}

func (s *server) respond(id transport.RequestId, result any) {
	data, err := json.Marshal(result)
	if err != nil {
		s.respondError(id, -32603, "failed to encode result")
		return
	}
	s.write(&transport.BaseJSONRPCResponse{
		Jsonrpc: "2.0",
		Id:      id,
		Result:  data,
	})
}

func (s *server) respondError(id transport.RequestId, code int, message string) {
	s.write(&transport.BaseJSONRPCError{
		Jsonrpc: "2.0",
		Id:      id,
		Error: transport.BaseJSONRPCErrorInner{
			Code:    code,
			Message: message,
		},
	})
}

func (s *server) write(msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	data = append(data, '\n')
	_, _ = s.out.Write(data)
}
