// Package extract pulls structured content out of provider responses.
// Each provider family gets a profile of gjson paths for the assistant
// text, native tool calls, finish reason and token usage, so the rest of
// the system only ever sees the normalized Reply form.
package extract

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
)

// ToolCall is one native tool invocation from a provider response.
type ToolCall struct {
	Name string
	Args map[string]any
}

// Reply is the normalized model response.
type Reply struct {
	Provider     string
	Text         string
	ToolCalls    []ToolCall
	FinishReason string
	InputTokens  int
	OutputTokens int
	Raw          []byte
}

// Profile maps one provider family's response shape.
type Profile struct {
	Name       string
	Text       string
	ToolCalls  string
	Finish     string
	ErrMessage string
	InTokens   string
	OutTokens  string
}

var openaiProfile = Profile{
	Name:       "openai",
	Text:       "choices.0.message.content",
	ToolCalls:  "choices.0.message.tool_calls",
	Finish:     "choices.0.finish_reason",
	ErrMessage: "error.message",
	InTokens:   "usage.prompt_tokens",
	OutTokens:  "usage.completion_tokens",
}

var anthropicProfile = Profile{
	Name:       "anthropic",
	Text:       `content.#(type=="text").text`,
	ToolCalls:  `content.#(type=="tool_use")#`,
	Finish:     "stop_reason",
	ErrMessage: "error.message",
	InTokens:   "usage.input_tokens",
	OutTokens:  "usage.output_tokens",
}

var ollamaProfile = Profile{
	Name:       "ollama",
	Text:       "message.content",
	ToolCalls:  "message.tool_calls",
	Finish:     "done_reason",
	ErrMessage: "error",
	InTokens:   "prompt_eval_count",
	OutTokens:  "eval_count",
}

// ProfileFor picks the response profile for a provider name. Unknown
// providers get the OpenAI-compatible shape, which most local servers
// also speak.
func ProfileFor(provider string) Profile {
	switch strings.ToLower(provider) {
	case "anthropic":
		return anthropicProfile
	case "ollama":
		return ollamaProfile
	default:
		return openaiProfile
	}
}

// Parse normalizes a raw response body using the provider's profile.
func Parse(provider string, body []byte) Reply {
	p := ProfileFor(provider)
	reply := Reply{Provider: p.Name, Raw: body}

	reply.Text = gjson.GetBytes(body, p.Text).String()
	if reply.Text == "" && p.Name == "ollama" {
		// The generate API returns a bare "response" field.
		reply.Text = gjson.GetBytes(body, "response").String()
	}
	reply.FinishReason = gjson.GetBytes(body, p.Finish).String()
	reply.InputTokens = int(gjson.GetBytes(body, p.InTokens).Int())
	reply.OutputTokens = int(gjson.GetBytes(body, p.OutTokens).Int())

	calls := gjson.GetBytes(body, p.ToolCalls)
	if calls.IsArray() {
		for _, call := range calls.Array() {
			if tc, ok := toolCallFrom(p, call); ok {
				reply.ToolCalls = append(reply.ToolCalls, tc)
			}
		}
	}
	return reply
}

func toolCallFrom(p Profile, call gjson.Result) (ToolCall, bool) {
	var name string
	var args gjson.Result
	switch p.Name {
	case "anthropic":
		name = call.Get("name").String()
		args = call.Get("input")
	default:
		name = call.Get("function.name").String()
		args = call.Get("function.arguments")
	}
	if name == "" {
		return ToolCall{}, false
	}
	return ToolCall{Name: name, Args: decodeArgs(args)}, true
}

// decodeArgs accepts either an inline object or, as OpenAI sends it, a
// JSON object encoded as a string.
func decodeArgs(args gjson.Result) map[string]any {
	raw := args.Raw
	if args.Type == gjson.String {
		raw = args.String()
	}
	if raw == "" {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}

// ErrorMessage extracts the provider's error description from an error
// response body, falling back to a body prefix when none is found.
func ErrorMessage(provider string, body []byte) string {
	p := ProfileFor(provider)
	if msg := gjson.GetBytes(body, p.ErrMessage).String(); msg != "" {
		return msg
	}
	text := strings.TrimSpace(string(body))
	if len(text) > 200 {
		text = text[:200]
	}
	return text
}

// Field extracts a single value by gjson path, accepting the $.field
// spelling as well.
func Field(body []byte, path string) string {
	if strings.HasPrefix(path, "$.") {
		path = path[2:]
	} else if path == "$" {
		path = "@this"
	}
	result := gjson.GetBytes(body, path)
	if !result.Exists() {
		return ""
	}
	return result.String()
}
