package modelclient

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/torosent/gauntlet/internal/tasklib"
)

// Message is one turn of the conversation transcript.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a normalized chat request; the transport encodes it into the
// provider's wire shape.
type Request struct {
	Model    string
	Messages []Message
	Tools    []tasklib.Tool
	Stream   bool
}

// buildPayload encodes the request for a provider family.
func buildPayload(provider string, req *Request) ([]byte, error) {
	switch strings.ToLower(provider) {
	case "anthropic":
		return anthropicPayload(req)
	case "ollama":
		return ollamaPayload(req)
	default:
		return openaiPayload(req)
	}
}

func openaiPayload(req *Request) ([]byte, error) {
	body := map[string]any{
		"model":    req.Model,
		"messages": req.Messages,
	}
	if req.Stream {
		body["stream"] = true
	}
	if len(req.Tools) > 0 {
		tools := make([]map[string]any, 0, len(req.Tools))
		for _, t := range req.Tools {
			tools = append(tools, map[string]any{
				"type": "function",
				"function": map[string]any{
					"name":        t.Name,
					"description": t.Description,
					"parameters":  parameterSchema(t),
				},
			})
		}
		body["tools"] = tools
	}
	return marshalPayload(body)
}

func anthropicPayload(req *Request) ([]byte, error) {
	body := map[string]any{
		"model":      req.Model,
		"max_tokens": 1024,
	}
	if req.Stream {
		body["stream"] = true
	}

	var system []string
	messages := make([]Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == "system" {
			system = append(system, m.Content)
			continue
		}
		messages = append(messages, m)
	}
	if len(system) > 0 {
		body["system"] = strings.Join(system, "\n\n")
	}
	body["messages"] = messages

	if len(req.Tools) > 0 {
		tools := make([]map[string]any, 0, len(req.Tools))
		for _, t := range req.Tools {
			tools = append(tools, map[string]any{
				"name":         t.Name,
				"description":  t.Description,
				"input_schema": parameterSchema(t),
			})
		}
		body["tools"] = tools
	}
	return marshalPayload(body)
}

func ollamaPayload(req *Request) ([]byte, error) {
	body := map[string]any{
		"model":    req.Model,
		"messages": req.Messages,
		"stream":   req.Stream,
	}
	if len(req.Tools) > 0 {
		tools := make([]map[string]any, 0, len(req.Tools))
		for _, t := range req.Tools {
			tools = append(tools, map[string]any{
				"type": "function",
				"function": map[string]any{
					"name":        t.Name,
					"description": t.Description,
					"parameters":  parameterSchema(t),
				},
			})
		}
		body["tools"] = tools
	}
	return marshalPayload(body)
}

// parameterSchema renders a tool's parameter descriptions as a flat JSON
// schema of string properties.
func parameterSchema(t tasklib.Tool) map[string]any {
	properties := make(map[string]any, len(t.Parameters))
	required := make([]string, 0, len(t.Parameters))
	for name, description := range t.Parameters {
		properties[name] = map[string]any{
			"type":        "string",
			"description": description,
		}
		required = append(required, name)
	}
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func marshalPayload(body map[string]any) ([]byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request payload: %w", err)
	}
	return data, nil
}
