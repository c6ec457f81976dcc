package session

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/torosent/gauntlet/internal/extract"
	"github.com/torosent/gauntlet/internal/tasklib"
	"github.com/torosent/gauntlet/internal/toolsim"
)

// actionForms is the wire contract the model is held to. Classification
// accepts common aliases, but the prompt teaches the canonical spelling.
const actionForms = `{"action": "call_tool", "tool": "<name>", "args": {<parameters>}}
{"action": "search_tools", "query": "<capability>"}
{"action": "finish", "output": "<final answer>"}`

// correctiveCutoff splits garbage replies into two classes: a long reply
// suggests the model is reasoning in prose and needs the full contract
// again, a short one just needs a nudge.
const correctiveCutoff = 50

// systemPrompt renders the protocol contract and the tool catalog. The
// variant appends a style instruction, which is the prompt-variant
// experiment arm.
func systemPrompt(task *tasklib.Task, variant string) string {
	var b strings.Builder
	b.WriteString("You are an agent completing a task by calling tools.\n")
	b.WriteString("On every turn reply with exactly one JSON object in one of these forms:\n")
	b.WriteString(actionForms)
	b.WriteString("\n\nAvailable tools:\n")
	for _, tool := range task.Tools {
		b.WriteString("- ")
		b.WriteString(tool.Name)
		b.WriteString("(")
		b.WriteString(strings.Join(paramNames(tool), ", "))
		b.WriteString("): ")
		b.WriteString(tool.Description)
		b.WriteString("\n")
	}
	if style := variantStyle(variant); style != "" {
		b.WriteString("\n")
		b.WriteString(style)
		b.WriteString("\n")
	}
	return b.String()
}

// variantStyle maps a prompt-variant name to its style instruction. The
// default variant adds nothing; unknown names behave like default so a
// new variant label is still a valid experiment arm.
func variantStyle(variant string) string {
	switch strings.ToLower(variant) {
	case "terse":
		return "Reply with the JSON action object only, no surrounding prose."
	case "verbose":
		return "Before each action, state your plan in one short sentence, then emit the JSON action object on its own line."
	case "strict":
		return "Any reply that is not exactly one JSON action object is rejected."
	default:
		return ""
	}
}

func paramNames(tool tasklib.Tool) []string {
	names := make([]string, 0, len(tool.Parameters))
	for name := range tool.Parameters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// correctiveMessage is the recovery turn sent after an unparseable reply.
func correctiveMessage(text string) string {
	if len(strings.TrimSpace(text)) > correctiveCutoff {
		return "Your reply could not be parsed as an action. Respond with exactly one JSON object in one of these forms:\n" + actionForms
	}
	return "Unrecognized reply. Send one JSON action object."
}

// searchReply renders the catalog entries matching a search query.
func searchReply(task *tasklib.Task, query string) string {
	matches := task.SearchTools(query)
	if matches == nil {
		matches = []tasklib.Tool{}
	}
	return encodeJSON(map[string]any{"tools": matches})
}

// toolReply renders one execution outcome as the tool's answer turn.
func toolReply(name string, result toolsim.Result) string {
	body := map[string]any{"tool": name, "ok": result.OK}
	if result.OK {
		if json.Valid([]byte(result.Payload)) {
			body["result"] = json.RawMessage(result.Payload)
		} else {
			body["result"] = result.Payload
		}
	} else {
		body["error"] = result.Reason
	}
	return encodeJSON(body)
}

func unknownToolReply(name string) string {
	return encodeJSON(map[string]any{
		"tool":  name,
		"ok":    false,
		"error": fmt.Sprintf("unknown tool %q; use search_tools to list the catalog", name),
	})
}

// assistantText is the transcript entry for one model turn. Native tool
// calls often arrive with empty text, so the parsed action is rendered
// back into the canonical form to keep the transcript self-contained.
func assistantText(reply *extract.Reply, action extract.Action) string {
	if text := strings.TrimSpace(reply.Text); text != "" {
		return text
	}
	switch action.Kind {
	case extract.KindToolCall:
		return encodeJSON(map[string]any{"action": "call_tool", "tool": action.Tool, "args": action.Args})
	case extract.KindSearch:
		return encodeJSON(map[string]any{"action": "search_tools", "query": action.Query})
	case extract.KindFinish:
		return encodeJSON(map[string]any{"action": "finish", "output": action.Output})
	}
	return ""
}

func encodeJSON(v any) string {
	payload, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(payload)
}
