package convert

import (
	"encoding/json"
	"testing"

	"github.com/tidwall/gjson"

	"github.com/mattbnz/LLMux/internal/types"
)

func chatRequest(t *testing.T, req *types.ChatCompletionRequest, opts RequestOptions) []byte {
	t.Helper()
	if opts.DefaultMaxTokens == 0 {
		opts.DefaultMaxTokens = 8192
	}
	body, err := ChatToMessages(req, opts)
	if err != nil {
		t.Fatalf("ChatToMessages returned error: %v", err)
	}
	return body
}

func TestChatToMessagesBasic(t *testing.T) {
	req := &types.ChatCompletionRequest{
		Model: "claude-sonnet-4-5",
		Messages: []types.ChatMessage{
			{Role: "system", Content: "be terse"},
			{Role: "user", Content: "hello"},
		},
		Temperature: types.Float64Ptr(0.3),
		TopP:        types.Float64Ptr(0.9),
		Stop:        "END",
		User:        "user-17",
	}
	body := chatRequest(t, req, RequestOptions{Model: "claude-sonnet-4-5"})

	if gjson.GetBytes(body, "model").String() != "claude-sonnet-4-5" {
		t.Fatalf("model not set: %s", body)
	}
	if gjson.GetBytes(body, "temperature").Float() != 0.3 {
		t.Fatalf("temperature not carried: %s", body)
	}
	if gjson.GetBytes(body, "top_p").Float() != 0.9 {
		t.Fatalf("top_p not carried: %s", body)
	}
	if gjson.GetBytes(body, "stop_sequences.0").String() != "END" {
		t.Fatalf("stop string must become stop_sequences: %s", body)
	}
	if gjson.GetBytes(body, "metadata.user_id").String() != "user-17" {
		t.Fatalf("user must map to metadata.user_id: %s", body)
	}
	if gjson.GetBytes(body, "system.0.text").String() != "be terse" {
		t.Fatalf("system message must become a system block: %s", body)
	}
	if gjson.GetBytes(body, "messages.0.content.0.text").String() != "hello" {
		t.Fatalf("user content not converted: %s", body)
	}
	if gjson.GetBytes(body, "max_tokens").Int() != 8192 {
		t.Fatalf("default max_tokens must apply: %s", body)
	}
}

func TestChatToMessagesSeedForcesDeterministicTemperature(t *testing.T) {
	req := &types.ChatCompletionRequest{
		Model:    "claude-sonnet-4-5",
		Messages: []types.ChatMessage{{Role: "user", Content: "hi"}},
		Seed:     types.Int64Ptr(7),
	}
	body := chatRequest(t, req, RequestOptions{Model: "claude-sonnet-4-5"})
	if v := gjson.GetBytes(body, "temperature"); !v.Exists() || v.Float() != 0.0 {
		t.Fatalf("seed without temperature must set temperature 0, got %s", body)
	}

	// Explicit temperature wins over seed.
	req.Temperature = types.Float64Ptr(0.8)
	body = chatRequest(t, req, RequestOptions{Model: "claude-sonnet-4-5"})
	if gjson.GetBytes(body, "temperature").Float() != 0.8 {
		t.Fatalf("explicit temperature must win over seed, got %s", body)
	}
}

func TestChatToMessagesJSONMode(t *testing.T) {
	req := &types.ChatCompletionRequest{
		Model:          "claude-sonnet-4-5",
		Messages:       []types.ChatMessage{{Role: "user", Content: "give me json"}},
		ResponseFormat: &types.ResponseFormat{Type: "json_object"},
	}
	body := chatRequest(t, req, RequestOptions{Model: "claude-sonnet-4-5"})
	blocks := gjson.GetBytes(body, "system").Array()
	if len(blocks) == 0 || blocks[len(blocks)-1].Get("text").String() != jsonModeInstruction {
		t.Fatalf("json mode must append the instruction block: %s", body)
	}
}

func TestChatToMessagesThinkingBudgetRaisesMaxTokens(t *testing.T) {
	req := &types.ChatCompletionRequest{
		Model:     "claude-sonnet-4-5",
		Messages:  []types.ChatMessage{{Role: "user", Content: "think hard"}},
		MaxTokens: 2000,
	}
	body := chatRequest(t, req, RequestOptions{Model: "claude-sonnet-4-5", ReasoningLevel: "high"})

	if gjson.GetBytes(body, "thinking.type").String() != "enabled" {
		t.Fatalf("reasoning level must enable thinking: %s", body)
	}
	budget := gjson.GetBytes(body, "thinking.budget_tokens").Int()
	if budget != 32000 {
		t.Fatalf("high level budget must be 32000, got %d", budget)
	}
	if got := gjson.GetBytes(body, "max_tokens").Int(); got != budget+minResponseTokens {
		t.Fatalf("max_tokens must leave answer headroom above budget, got %d", got)
	}
}

func TestChatToMessagesClientThinkingWins(t *testing.T) {
	req := &types.ChatCompletionRequest{
		Model:           "claude-sonnet-4-5",
		Messages:        []types.ChatMessage{{Role: "user", Content: "hi"}},
		Thinking:        json.RawMessage(`{"type":"adaptive"}`),
		ReasoningEffort: "low",
	}
	body := chatRequest(t, req, RequestOptions{Model: "claude-sonnet-4-5", ReasoningLevel: "high"})
	if gjson.GetBytes(body, "thinking.type").String() != "adaptive" {
		t.Fatalf("client thinking directive must win: %s", body)
	}
	if gjson.GetBytes(body, "thinking.budget_tokens").Exists() {
		t.Fatalf("adaptive directive carries no budget: %s", body)
	}
}

func TestChatToMessagesToolRoles(t *testing.T) {
	req := &types.ChatCompletionRequest{
		Model: "claude-sonnet-4-5",
		Messages: []types.ChatMessage{
			{Role: "user", Content: "weather in two cities"},
			{Role: "assistant", ToolCalls: []types.ToolCall{
				{ID: "toolu_1", Type: "function", Function: types.FunctionCall{Name: "get_weather", Arguments: `{"city":"a"}`}},
				{ID: "toolu_2", Type: "function", Function: types.FunctionCall{Name: "get_weather", Arguments: `{"city":"b"}`}},
			}},
			{Role: "tool", ToolCallID: "toolu_1", Content: "sunny"},
			{Role: "tool", ToolCallID: "toolu_2", Content: "rain"},
		},
	}
	body := chatRequest(t, req, RequestOptions{Model: "claude-sonnet-4-5"})

	msgs := gjson.GetBytes(body, "messages").Array()
	if len(msgs) != 3 {
		t.Fatalf("consecutive tool results must merge into one user message, got %d messages: %s", len(msgs), body)
	}
	last := msgs[2]
	if last.Get("role").String() != "user" {
		t.Fatalf("tool results must go into a user message: %s", body)
	}
	results := last.Get("content").Array()
	if len(results) != 2 ||
		results[0].Get("tool_use_id").String() != "toolu_1" ||
		results[1].Get("tool_use_id").String() != "toolu_2" {
		t.Fatalf("unexpected tool_result blocks: %s", last.Raw)
	}
}

func TestChatToMessagesAssistantThinkingBlocksFirst(t *testing.T) {
	req := &types.ChatCompletionRequest{
		Model: "claude-sonnet-4-5",
		Messages: []types.ChatMessage{
			{Role: "user", Content: "q"},
			{
				Role:    "assistant",
				Content: "answer",
				ThinkingBlocks: []types.ThinkingBlock{
					{Type: "thinking", Thinking: "prior reasoning", Signature: "sig"},
				},
			},
			{Role: "user", Content: "follow up"},
		},
	}
	body := chatRequest(t, req, RequestOptions{Model: "claude-sonnet-4-5"})

	first := gjson.GetBytes(body, "messages.1.content.0")
	if first.Get("type").String() != "thinking" || first.Get("signature").String() != "sig" {
		t.Fatalf("thinking blocks must lead the assistant content: %s", body)
	}
	if gjson.GetBytes(body, "messages.1.content.1.text").String() != "answer" {
		t.Fatalf("assistant text must follow thinking: %s", body)
	}
}

func TestChatToMessagesImageParts(t *testing.T) {
	req := &types.ChatCompletionRequest{
		Model: "claude-sonnet-4-5",
		Messages: []types.ChatMessage{{
			Role: "user",
			Content: []any{
				map[string]any{"type": "text", "text": "what is this"},
				map[string]any{"type": "image_url", "image_url": map[string]any{"url": "data:image/png;base64,AAAA"}},
				map[string]any{"type": "image_url", "image_url": map[string]any{"url": "https://example.com/cat.png"}},
			},
		}},
	}
	body := chatRequest(t, req, RequestOptions{Model: "claude-sonnet-4-5"})

	blocks := gjson.GetBytes(body, "messages.0.content").Array()
	if len(blocks) != 3 {
		t.Fatalf("expected 3 blocks, got %s", body)
	}
	if blocks[1].Get("source.type").String() != "base64" ||
		blocks[1].Get("source.media_type").String() != "image/png" ||
		blocks[1].Get("source.data").String() != "AAAA" {
		t.Fatalf("data url image not converted: %s", blocks[1].Raw)
	}
	if blocks[2].Get("source.type").String() != "url" ||
		blocks[2].Get("source.url").String() != "https://example.com/cat.png" {
		t.Fatalf("plain url image not converted: %s", blocks[2].Raw)
	}
}

func TestChatToMessagesUnknownRole(t *testing.T) {
	req := &types.ChatCompletionRequest{
		Model:    "claude-sonnet-4-5",
		Messages: []types.ChatMessage{{Role: "narrator", Content: "x"}},
	}
	if _, err := ChatToMessages(req, RequestOptions{Model: "claude-sonnet-4-5", DefaultMaxTokens: 1}); err == nil {
		t.Fatal("unknown role must be rejected")
	}
}

func TestChatToMessagesRawExtensionsPassThrough(t *testing.T) {
	req := &types.ChatCompletionRequest{
		Model:             "claude-sonnet-4-5",
		Messages:          []types.ChatMessage{{Role: "user", Content: "hi"}},
		OutputConfig:      json.RawMessage(`{"effort":"low"}`),
		ContextManagement: json.RawMessage(`{"edits":[{"type":"clear_tool_uses_20250919"}]}`),
	}
	body := chatRequest(t, req, RequestOptions{Model: "claude-sonnet-4-5"})
	if gjson.GetBytes(body, "output_config.effort").String() != "low" {
		t.Fatalf("output_config must pass through: %s", body)
	}
	if gjson.GetBytes(body, "context_management.edits.0.type").String() != "clear_tool_uses_20250919" {
		t.Fatalf("context_management must pass through: %s", body)
	}
}
