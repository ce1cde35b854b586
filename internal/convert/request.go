package convert

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mattbnz/LLMux/internal/models"
	"github.com/mattbnz/LLMux/internal/thinking"
	"github.com/mattbnz/LLMux/internal/types"
)

// jsonModeInstruction is appended to the system prompt when the client
// requests strict JSON output; the backend has no response_format knob.
const jsonModeInstruction = "IMPORTANT: You must respond with valid JSON only. No markdown code fences, no explanations, just pure JSON."

// minResponseTokens is the visible-answer headroom kept above an explicit
// thinking budget.
const minResponseTokens = 1024

// RequestOptions carries the resolved model context into translation.
type RequestOptions struct {
	Model            string
	ReasoningLevel   string // from model name resolution
	DefaultMaxTokens int
	Continuity       *thinking.Cache
}

// ChatToMessages translates an OpenAI chat completion request into an
// Anthropic Messages request body. The returned body still needs the
// backend-constraint passes (identity injection, sanitization, prompt
// caching) applied before transmission.
func ChatToMessages(req *types.ChatCompletionRequest, opts RequestOptions) ([]byte, error) {
	messages, systemBlocks, err := convertMessages(req.Messages)
	if err != nil {
		return nil, err
	}

	body := map[string]any{
		"model":    opts.Model,
		"messages": messages,
	}

	maxTokens := req.MaxCompletionTokens
	if maxTokens == 0 {
		maxTokens = req.MaxTokens
	}
	if maxTokens == 0 {
		maxTokens = opts.DefaultMaxTokens
	}

	if req.Temperature != nil {
		body["temperature"] = *req.Temperature
	} else if req.Seed != nil {
		// Best-effort determinism; the backend gives no hard guarantee.
		body["temperature"] = 0.0
	}
	if req.TopP != nil {
		body["top_p"] = *req.TopP
	}
	if req.TopK != nil {
		body["top_k"] = *req.TopK
	}
	if stops := stopSequences(req.Stop); len(stops) > 0 {
		body["stop_sequences"] = stops
	}
	if req.User != "" {
		body["metadata"] = map[string]any{"user_id": req.User}
	}

	if tools := declaredTools(req); len(tools) > 0 {
		body["tools"] = tools
	}
	if tc := ToolChoiceToBackend(req.ToolChoice); tc != nil {
		body["tool_choice"] = tc
	}

	thinkingDirective := resolveThinking(req, opts.ReasoningLevel)
	if thinkingDirective != nil {
		body["thinking"] = thinkingDirective
		if budget, ok := thinkingDirective["budget_tokens"].(int); ok && budget > 0 {
			if required := budget + minResponseTokens; maxTokens < required {
				maxTokens = required
			}
		}
		if opts.Continuity != nil {
			body["messages"] = opts.Continuity.Inject(messages)
		}
	}
	body["max_tokens"] = maxTokens

	if req.ResponseFormat != nil && strings.HasPrefix(req.ResponseFormat.Type, "json") {
		systemBlocks = append(systemBlocks, map[string]any{"type": "text", "text": jsonModeInstruction})
	}
	if len(systemBlocks) > 0 {
		body["system"] = systemBlocks
	}

	if len(req.OutputConfig) > 0 {
		body["output_config"] = json.RawMessage(req.OutputConfig)
	}
	if len(req.ContextManagement) > 0 {
		body["context_management"] = json.RawMessage(req.ContextManagement)
	}

	return json.Marshal(body)
}

// declaredTools converts the request's tools and legacy functions lists.
func declaredTools(req *types.ChatCompletionRequest) []json.RawMessage {
	var out []json.RawMessage
	for _, t := range ClassifyTools(req.Tools) {
		out = append(out, t.ToBackend())
	}
	for _, fn := range req.Functions {
		out = append(out, FunctionToBackend(fn))
	}
	return out
}

// resolveThinking picks the thinking directive: a client-supplied directive
// wins, then the reasoning_effort parameter, then the level encoded in the
// model name.
func resolveThinking(req *types.ChatCompletionRequest, modelLevel string) map[string]any {
	if len(req.Thinking) > 0 {
		var directive map[string]any
		if err := json.Unmarshal(req.Thinking, &directive); err == nil && len(directive) > 0 {
			if budget, ok := directive["budget_tokens"].(float64); ok {
				directive["budget_tokens"] = int(budget)
			}
			return directive
		}
	}
	level := req.ReasoningEffort
	if level == "" {
		level = modelLevel
	}
	if level == "" {
		return nil
	}
	return map[string]any{
		"type":          "enabled",
		"budget_tokens": models.ThinkingBudget(level),
	}
}

// convertMessages maps OpenAI messages to backend messages plus system
// blocks. Consecutive tool results are merged into a single user message,
// which is the shape the backend expects after a multi-tool assistant turn.
func convertMessages(messages []types.ChatMessage) ([]map[string]any, []map[string]any, error) {
	var out []map[string]any
	var system []map[string]any

	for _, msg := range messages {
		switch msg.Role {
		case "system", "developer":
			if txt := contentText(msg.Content); txt != "" {
				system = append(system, map[string]any{"type": "text", "text": txt})
			}

		case "tool", "function":
			block := map[string]any{
				"type":        "tool_result",
				"tool_use_id": toolResultID(msg),
				"content":     contentText(msg.Content),
			}
			if n := len(out); n > 0 && out[n-1]["role"] == "user" && isToolResultOnly(out[n-1]) {
				out[n-1]["content"] = append(out[n-1]["content"].([]any), block)
			} else {
				out = append(out, map[string]any{"role": "user", "content": []any{block}})
			}

		case "assistant":
			blocks := make([]any, 0, 4)
			for _, tb := range msg.ThinkingBlocks {
				blocks = append(blocks, map[string]any{
					"type":      "thinking",
					"thinking":  tb.Thinking,
					"signature": tb.Signature,
				})
			}
			blocks = append(blocks, contentBlocks(msg.Content)...)
			blocks = append(blocks, ToolCallsToBlocks(msg.ToolCalls)...)
			if msg.FunctionCall != nil {
				blocks = append(blocks, FunctionCallToBlock(*msg.FunctionCall))
			}
			if len(blocks) == 0 {
				continue
			}
			out = append(out, map[string]any{"role": "assistant", "content": blocks})

		case "user":
			blocks := contentBlocks(msg.Content)
			if len(blocks) == 0 {
				continue
			}
			out = append(out, map[string]any{"role": "user", "content": blocks})

		default:
			return nil, nil, fmt.Errorf("unsupported message role %q", msg.Role)
		}
	}
	return out, system, nil
}

func toolResultID(msg types.ChatMessage) string {
	if msg.ToolCallID != "" {
		return msg.ToolCallID
	}
	return "func_" + msg.Name
}

func isToolResultOnly(msg map[string]any) bool {
	content, ok := msg["content"].([]any)
	if !ok {
		return false
	}
	for _, raw := range content {
		block, ok := raw.(map[string]any)
		if !ok || block["type"] != "tool_result" {
			return false
		}
	}
	return len(content) > 0
}

// contentBlocks converts OpenAI message content (string or multimodal part
// list) into backend content blocks. Unsupported part types are dropped.
func contentBlocks(content any) []any {
	switch c := content.(type) {
	case string:
		if c == "" {
			return nil
		}
		return []any{map[string]any{"type": "text", "text": c}}
	case []any:
		var blocks []any
		for _, raw := range c {
			part, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			switch part["type"] {
			case "text":
				if txt, _ := part["text"].(string); txt != "" {
					blocks = append(blocks, map[string]any{"type": "text", "text": txt})
				}
			case "image_url":
				if img := imageBlock(part); img != nil {
					blocks = append(blocks, img)
				}
			}
		}
		return blocks
	}
	return nil
}

// imageBlock maps an OpenAI image_url part to a backend image block,
// handling both data URLs and plain URLs.
func imageBlock(part map[string]any) map[string]any {
	imageURL, ok := part["image_url"].(map[string]any)
	if !ok {
		return nil
	}
	url, _ := imageURL["url"].(string)
	if url == "" {
		return nil
	}
	if data, found := strings.CutPrefix(url, "data:"); found {
		mediaType, b64, found := strings.Cut(data, ";base64,")
		if !found {
			return nil
		}
		return map[string]any{
			"type": "image",
			"source": map[string]any{
				"type":       "base64",
				"media_type": mediaType,
				"data":       b64,
			},
		}
	}
	return map[string]any{
		"type":   "image",
		"source": map[string]any{"type": "url", "url": url},
	}
}

// contentText flattens message content to plain text.
func contentText(content any) string {
	switch c := content.(type) {
	case string:
		return c
	case []any:
		var parts []string
		for _, raw := range c {
			part, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			if txt, _ := part["text"].(string); txt != "" {
				parts = append(parts, txt)
			}
		}
		return strings.Join(parts, "\n")
	}
	return ""
}

// stopSequences normalizes the OpenAI stop parameter (string or string
// list) to the backend's stop_sequences list.
func stopSequences(stop any) []string {
	switch s := stop.(type) {
	case string:
		if s == "" {
			return nil
		}
		return []string{s}
	case []any:
		var out []string
		for _, raw := range s {
			if str, ok := raw.(string); ok && str != "" {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}
