package convert

import (
	"encoding/json"
	"testing"

	"github.com/tidwall/gjson"

	"github.com/mattbnz/LLMux/internal/types"
)

func TestClassifyTool(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want ToolKind
	}{
		{"openai function", `{"type":"function","function":{"name":"get_weather","parameters":{}}}`, ToolFunction},
		{"special code execution", `{"type":"code_execution_20250825","name":"code_execution"}`, ToolSpecial},
		{"special memory", `{"type":"memory_20250818","name":"memory"}`, ToolSpecial},
		{"native custom", `{"type":"custom","name":"lookup","description":"looks up","input_schema":{}}`, ToolNative},
		{"bare unknown", `{"foo":"bar"}`, ToolFunction},
	}
	for _, tc := range cases {
		got := ClassifyTool(json.RawMessage(tc.raw))
		if got.Kind != tc.want {
			t.Fatalf("%s: kind=%v, want %v", tc.name, got.Kind, tc.want)
		}
	}
}

func TestFunctionToolToBackend(t *testing.T) {
	raw := json.RawMessage(`{
		"type":"function",
		"function":{
			"name":"get_weather",
			"description":"Get the weather",
			"parameters":{"type":"object","properties":{"city":{"type":"string"}},"required":["city"]}
		}
	}`)
	out := ClassifyTool(raw).ToBackend()

	if gjson.GetBytes(out, "type").String() != "custom" {
		t.Fatalf("expected custom type, got %s", out)
	}
	if gjson.GetBytes(out, "name").String() != "get_weather" {
		t.Fatalf("name not carried: %s", out)
	}
	if gjson.GetBytes(out, "description").String() != "Get the weather" {
		t.Fatalf("description not carried: %s", out)
	}
	if gjson.GetBytes(out, "input_schema.required.0").String() != "city" {
		t.Fatalf("schema not carried verbatim: %s", out)
	}
}

func TestFunctionToolMissingSchema(t *testing.T) {
	raw := json.RawMessage(`{"type":"function","function":{"name":"noop"}}`)
	out := ClassifyTool(raw).ToBackend()
	if gjson.GetBytes(out, "input_schema.type").String() != "object" {
		t.Fatalf("missing parameters must yield an empty object schema, got %s", out)
	}
}

func TestFunctionToolCarriesAdvancedProperties(t *testing.T) {
	raw := json.RawMessage(`{
		"type":"function",
		"defer_loading":true,
		"cache_control":{"type":"ephemeral"},
		"function":{"name":"t","parameters":{},"input_examples":[{"a":1}]}
	}`)
	out := ClassifyTool(raw).ToBackend()

	if !gjson.GetBytes(out, "defer_loading").Bool() {
		t.Fatalf("wrapper defer_loading not carried: %s", out)
	}
	if gjson.GetBytes(out, "cache_control.type").String() != "ephemeral" {
		t.Fatalf("cache_control not carried: %s", out)
	}
	if gjson.GetBytes(out, "input_examples.0.a").Int() != 1 {
		t.Fatalf("nested input_examples not carried: %s", out)
	}
}

func TestSpecialToolPassesThrough(t *testing.T) {
	raw := json.RawMessage(`{"type":"tool_search_tool_regex_20251119","name":"tool_search"}`)
	out := ClassifyTool(raw).ToBackend()
	if string(out) != string(raw) {
		t.Fatalf("special tools pass through verbatim, got %s", out)
	}
}

func TestLegacyFunctionToBackend(t *testing.T) {
	raw := json.RawMessage(`{"name":"lookup","description":"d","parameters":{"type":"object"}}`)
	out := FunctionToBackend(raw)
	if gjson.GetBytes(out, "type").String() != "custom" || gjson.GetBytes(out, "name").String() != "lookup" {
		t.Fatalf("unexpected legacy function conversion: %s", out)
	}
}

func TestBlockToToolCall(t *testing.T) {
	block := types.ContentBlock{
		Type:  "tool_use",
		ID:    "toolu_1",
		Name:  "get_weather",
		Input: json.RawMessage(`{"city":"Wellington"}`),
	}
	call := BlockToToolCall(block)
	if call.ID != "toolu_1" || call.Type != "function" || call.Function.Name != "get_weather" {
		t.Fatalf("unexpected tool call: %+v", call)
	}
	if call.Function.Arguments != `{"city":"Wellington"}` {
		t.Fatalf("arguments must be the input serialized once, got %q", call.Function.Arguments)
	}

	// Missing input degrades to an empty object.
	call = BlockToToolCall(types.ContentBlock{Type: "tool_use", ID: "toolu_2", Name: "noop"})
	if call.Function.Arguments != "{}" {
		t.Fatalf("missing input must become {}, got %q", call.Function.Arguments)
	}
}

func TestToolCallsToBlocksMalformedArguments(t *testing.T) {
	calls := []types.ToolCall{{
		ID:       "toolu_1",
		Type:     "function",
		Function: types.FunctionCall{Name: "t", Arguments: `{"broken`},
	}}
	blocks := ToolCallsToBlocks(calls)
	if len(blocks) != 1 {
		t.Fatalf("expected 1 block, got %d", len(blocks))
	}
	input := blocks[0].(map[string]any)["input"].(map[string]any)
	if len(input) != 0 {
		t.Fatalf("malformed arguments must degrade to empty input, got %v", input)
	}
}

func TestToolChoiceToBackend(t *testing.T) {
	cases := []struct {
		name string
		in   any
		want string // expected type, "" means nil
	}{
		{"nil", nil, ""},
		{"none", "none", "none"},
		{"required", "required", "any"},
		{"auto", "auto", "auto"},
		{"unknown string", "whatever", "auto"},
		{"function object", map[string]any{"type": "function", "function": map[string]any{"name": "f"}}, "tool"},
	}
	for _, tc := range cases {
		got := ToolChoiceToBackend(tc.in)
		if tc.want == "" {
			if got != nil {
				t.Fatalf("%s: expected nil, got %v", tc.name, got)
			}
			continue
		}
		m, ok := got.(map[string]any)
		if !ok || m["type"] != tc.want {
			t.Fatalf("%s: expected type %q, got %v", tc.name, tc.want, got)
		}
		if tc.want == "tool" && m["name"] != "f" {
			t.Fatalf("%s: tool name not carried: %v", tc.name, got)
		}
	}
}

func TestHasAdvancedFeatures(t *testing.T) {
	plain := ClassifyTools([]json.RawMessage{
		json.RawMessage(`{"type":"function","function":{"name":"a"}}`),
	})
	if HasAdvancedFeatures(plain) {
		t.Fatal("plain function tool must not be advanced")
	}

	special := ClassifyTools([]json.RawMessage{
		json.RawMessage(`{"type":"memory_20250818","name":"memory"}`),
	})
	if !HasAdvancedFeatures(special) {
		t.Fatal("special tool must be advanced")
	}
}
