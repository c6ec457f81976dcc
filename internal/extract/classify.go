package extract

import (
	"strings"

	"github.com/tidwall/gjson"
)

// Kind is the classification of one model turn.
type Kind string

const (
	KindToolCall Kind = "tool_call"
	KindSearch   Kind = "search_tools"
	KindFinish   Kind = "finish"
	KindUnknown  Kind = "unknown"
)

// Action is the model's parsed intent for one turn.
type Action struct {
	Kind   Kind
	Tool   string
	Args   map[string]any
	Query  string
	Output string
}

// Classify maps a reply to exactly one action. Native tool calls win;
// otherwise the text is scanned for a JSON action object, accepting the
// common aliases models produce. Anything else is unknown and feeds the
// format-recovery loop.
func Classify(reply Reply) Action {
	if len(reply.ToolCalls) > 0 {
		tc := reply.ToolCalls[0]
		return Action{Kind: KindToolCall, Tool: tc.Name, Args: tc.Args}
	}

	text := strings.TrimSpace(reply.Text)
	obj, ok := actionObject(text)
	if !ok {
		return Action{Kind: KindUnknown, Output: text}
	}

	switch strings.ToLower(obj.Get("action").String()) {
	case "call_tool", "tool_call", "use_tool", "invoke":
		name := firstOf(obj, "tool", "name", "tool_name")
		if name == "" {
			break
		}
		return Action{Kind: KindToolCall, Tool: name, Args: decodeArgs(argsOf(obj))}
	case "search_tools", "search", "list_tools", "discover":
		return Action{Kind: KindSearch, Query: firstOf(obj, "query", "q", "capability")}
	case "finish", "final", "complete", "done":
		out := firstOf(obj, "output", "answer", "result", "summary")
		if out == "" {
			out = text
		}
		return Action{Kind: KindFinish, Output: out}
	}
	return Action{Kind: KindUnknown, Output: text}
}

func firstOf(obj gjson.Result, keys ...string) string {
	for _, key := range keys {
		if v := obj.Get(key); v.Exists() {
			return v.String()
		}
	}
	return ""
}

func argsOf(obj gjson.Result) gjson.Result {
	for _, key := range []string{"args", "arguments", "params", "input"} {
		if v := obj.Get(key); v.Exists() {
			return v
		}
	}
	return gjson.Result{}
}

// actionObject finds the JSON action object in a turn's text: the whole
// text, a fenced block, or the first balanced object embedded in prose.
func actionObject(text string) (gjson.Result, bool) {
	text = stripFences(text)
	if gjson.Valid(text) {
		parsed := gjson.Parse(text)
		if parsed.IsObject() && parsed.Get("action").Exists() {
			return parsed, true
		}
	}
	candidate, ok := jsonObjectIn(text)
	if !ok {
		return gjson.Result{}, false
	}
	parsed := gjson.Parse(candidate)
	if !parsed.Get("action").Exists() {
		return gjson.Result{}, false
	}
	return parsed, true
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	if i := strings.LastIndex(s, "```"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// jsonObjectIn scans for the first balanced, valid JSON object in s.
func jsonObjectIn(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	for start >= 0 {
		depth := 0
		inString := false
		escaped := false
		for i := start; i < len(s); i++ {
			c := s[i]
			if inString {
				switch {
				case escaped:
					escaped = false
				case c == '\\':
					escaped = true
				case c == '"':
					inString = false
				}
				continue
			}
			switch c {
			case '"':
				inString = true
			case '{':
				depth++
			case '}':
				depth--
				if depth == 0 {
					candidate := s[start : i+1]
					if gjson.Valid(candidate) {
						return candidate, true
					}
					i = len(s)
				}
			}
		}
		next := strings.IndexByte(s[start+1:], '{')
		if next < 0 {
			break
		}
		start += 1 + next
	}
	return "", false
}
