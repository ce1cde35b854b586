// Package convert translates requests and responses between the OpenAI
// Chat Completions shape and the Anthropic Messages shape.
package convert

import (
	"encoding/json"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/mattbnz/LLMux/internal/anthropic"
	"github.com/mattbnz/LLMux/internal/types"
)

// ToolKind classifies a tool declaration once at ingestion so later stages
// never re-inspect raw JSON to decide how to treat it.
type ToolKind int

const (
	// ToolFunction is a generic function-schema tool (OpenAI "function"
	// wrapper or anything unrecognized).
	ToolFunction ToolKind = iota
	// ToolSpecial is a backend special tool type (server-side execution,
	// tool search, memory); passed through verbatim.
	ToolSpecial
	// ToolNative is a declaration already in backend shape (name and
	// description at top level); passed through verbatim.
	ToolNative
)

// Tool is a classified tool declaration.
type Tool struct {
	Kind ToolKind
	Name string
	Raw  json.RawMessage
}

// ClassifyTool decides the kind of a raw tool declaration.
func ClassifyTool(raw json.RawMessage) Tool {
	toolType := gjson.GetBytes(raw, "type").String()
	if anthropic.IsSpecialToolType(toolType) {
		return Tool{Kind: ToolSpecial, Name: gjson.GetBytes(raw, "name").String(), Raw: raw}
	}
	if gjson.GetBytes(raw, "name").Exists() && gjson.GetBytes(raw, "description").Exists() && toolType != "function" {
		return Tool{Kind: ToolNative, Name: gjson.GetBytes(raw, "name").String(), Raw: raw}
	}
	return Tool{Kind: ToolFunction, Name: gjson.GetBytes(raw, "function.name").String(), Raw: raw}
}

// ClassifyTools classifies a whole declaration list.
func ClassifyTools(raws []json.RawMessage) []Tool {
	if len(raws) == 0 {
		return nil
	}
	tools := make([]Tool, 0, len(raws))
	for _, raw := range raws {
		tools = append(tools, ClassifyTool(raw))
	}
	return tools
}

// ToBackend renders a classified tool in backend shape. Special and native
// tools pass through unchanged; function tools become "custom" tools with
// cache_control and advanced properties carried over from the tool or its
// nested function definition.
func (t Tool) ToBackend() json.RawMessage {
	if t.Kind == ToolSpecial || t.Kind == ToolNative {
		return t.Raw
	}
	return functionToCustomTool(t.Raw, "function.")
}

// FunctionToBackend renders a legacy singular function declaration (no
// "function" wrapper) in backend shape.
func FunctionToBackend(raw json.RawMessage) json.RawMessage {
	return functionToCustomTool(raw, "")
}

// functionToCustomTool builds {type: custom, name, description,
// input_schema} from a function declaration found at prefix within raw.
func functionToCustomTool(raw json.RawMessage, prefix string) json.RawMessage {
	out := []byte(`{"type":"custom"}`)
	out, _ = sjson.SetBytes(out, "name", gjson.GetBytes(raw, prefix+"name").String())
	out, _ = sjson.SetBytes(out, "description", gjson.GetBytes(raw, prefix+"description").String())

	if params := gjson.GetBytes(raw, prefix+"parameters"); params.IsObject() {
		out, _ = sjson.SetRawBytes(out, "input_schema", []byte(params.Raw))
	} else {
		out, _ = sjson.SetRawBytes(out, "input_schema", []byte(`{"type":"object","properties":{}}`))
	}

	// cache_control and advanced properties may sit on the wrapper or on
	// the nested function definition; the wrapper wins.
	carry := append([]string{"cache_control"}, anthropic.AdvancedToolProperties...)
	for _, prop := range carry {
		if v := gjson.GetBytes(raw, prop); v.Exists() {
			out, _ = sjson.SetRawBytes(out, prop, []byte(v.Raw))
		} else if prefix != "" {
			if v := gjson.GetBytes(raw, prefix+prop); v.Exists() {
				out, _ = sjson.SetRawBytes(out, prop, []byte(v.Raw))
			}
		}
	}
	return out
}

// HasAdvancedFeatures reports whether any tool is a special type or carries
// an advanced property, which requires the advanced-tool-use beta.
func HasAdvancedFeatures(tools []Tool) bool {
	for _, t := range tools {
		if t.Kind == ToolSpecial {
			return true
		}
		for _, prop := range anthropic.AdvancedToolProperties {
			if gjson.GetBytes(t.Raw, prop).Exists() || gjson.GetBytes(t.Raw, "function."+prop).Exists() {
				return true
			}
		}
	}
	return false
}

// BlockToToolCall converts a backend tool_use content block to an OpenAI
// tool call. The parsed input is re-serialized exactly once into the
// arguments string; a missing or malformed input degrades to "{}".
func BlockToToolCall(b types.ContentBlock) types.ToolCall {
	args := "{}"
	if len(b.Input) > 0 && json.Valid(b.Input) {
		args = string(b.Input)
	}
	return types.ToolCall{
		ID:   b.ID,
		Type: "function",
		Function: types.FunctionCall{
			Name:      b.Name,
			Arguments: args,
		},
	}
}

// ToolCallsToBlocks converts OpenAI tool calls to backend tool_use content
// blocks. Argument strings are parsed once; malformed JSON degrades to an
// empty object rather than failing the request.
func ToolCallsToBlocks(calls []types.ToolCall) []any {
	blocks := make([]any, 0, len(calls))
	for _, call := range calls {
		if call.Type != "" && call.Type != "function" {
			continue
		}
		blocks = append(blocks, map[string]any{
			"type":  "tool_use",
			"id":    call.ID,
			"name":  call.Function.Name,
			"input": parseArguments(call.Function.Arguments),
		})
	}
	return blocks
}

// FunctionCallToBlock converts a legacy singular function_call to a backend
// tool_use block.
func FunctionCallToBlock(fc types.FunctionCall) map[string]any {
	return map[string]any{
		"type":  "tool_use",
		"id":    "func_" + fc.Name,
		"name":  fc.Name,
		"input": parseArguments(fc.Arguments),
	}
}

func parseArguments(args string) map[string]any {
	parsed := map[string]any{}
	if args == "" {
		return parsed
	}
	if err := json.Unmarshal([]byte(args), &parsed); err != nil {
		return map[string]any{}
	}
	return parsed
}

// ToolChoiceToBackend maps the OpenAI tool_choice parameter to the backend
// shape. Unknown values map to auto, favoring acceptance.
func ToolChoiceToBackend(choice any) any {
	switch tc := choice.(type) {
	case nil:
		return nil
	case string:
		switch tc {
		case "none":
			return map[string]any{"type": "none"}
		case "required":
			return map[string]any{"type": "any"}
		default:
			return map[string]any{"type": "auto"}
		}
	case map[string]any:
		if fn, ok := tc["function"].(map[string]any); ok {
			if name, _ := fn["name"].(string); name != "" {
				return map[string]any{"type": "tool", "name": name}
			}
		}
		if t, _ := tc["type"].(string); t == "auto" || t == "any" || t == "tool" || t == "none" {
			return tc
		}
		return map[string]any{"type": "auto"}
	default:
		return nil
	}
}
