package convert

import (
	"strings"
	"time"

	"github.com/mattbnz/LLMux/internal/thinking"
	"github.com/mattbnz/LLMux/internal/types"
)

// MapStopReason maps a backend stop_reason to an OpenAI finish_reason.
// Unknown values default to "stop".
func MapStopReason(stopReason *string) string {
	if stopReason == nil {
		return "stop"
	}
	switch *stopReason {
	case "end_turn", "stop_sequence", "pause_turn":
		return "stop"
	case "max_tokens", "model_context_window_exceeded":
		return "length"
	case "tool_use":
		return "tool_calls"
	case "refusal":
		return "content_filter"
	default:
		return "stop"
	}
}

// ResponseID derives the client-visible completion id from a backend
// message id.
func ResponseID(messageID string) string {
	return "chatcmpl-" + strings.TrimPrefix(messageID, "msg_")
}

// Fingerprint derives the system_fingerprint string clients expect, from a
// backend message id.
func Fingerprint(messageID string) string {
	trimmed := strings.TrimPrefix(messageID, "msg_")
	if len(trimmed) > 12 {
		trimmed = trimmed[:12]
	}
	return "fp_" + trimmed
}

// EstimateReasoningTokens gives a rough, display-only token count for
// reasoning text (4 characters per token). Never used for billing.
func EstimateReasoningTokens(reasoning string) int {
	return len(reasoning) / 4
}

// MessagesToChat converts a complete backend response to an OpenAI chat
// completion. Signed thinking blocks accompanying tool invocations are
// handed to the continuity cache for later turns.
func MessagesToChat(resp *types.MessageResponse, model string, continuity *thinking.Cache) *types.ChatCompletionResponse {
	var text strings.Builder
	var reasoning strings.Builder
	var toolCalls []types.ToolCall
	var thinkingBlocks []types.ThinkingBlock

	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			toolCalls = append(toolCalls, BlockToToolCall(block))
		case "thinking":
			reasoning.WriteString(block.Thinking)
			thinkingBlocks = append(thinkingBlocks, types.ThinkingBlock{
				Type:      "thinking",
				Thinking:  block.Thinking,
				Signature: block.Signature,
			})
		}
	}

	if continuity != nil && len(toolCalls) > 0 {
		ids := make([]string, 0, len(toolCalls))
		for _, tc := range toolCalls {
			if tc.ID != "" {
				ids = append(ids, tc.ID)
			}
		}
		continuity.Capture(ids, resp.Content)
	}

	msg := types.ChatResponseMsg{
		Role:             "assistant",
		Content:          text.String(),
		ToolCalls:        toolCalls,
		ReasoningContent: reasoning.String(),
		ThinkingBlocks:   thinkingBlocks,
	}

	return &types.ChatCompletionResponse{
		ID:                ResponseID(resp.ID),
		Object:            "chat.completion",
		Created:           time.Now().Unix(),
		Model:             model,
		SystemFingerprint: Fingerprint(resp.ID),
		Choices: []types.ChatChoice{{
			Index:        0,
			Message:      msg,
			FinishReason: types.StringPtr(MapStopReason(resp.StopReason)),
		}},
		Usage:       ChatUsage(resp.Usage, reasoning.Len()),
		ServiceTier: resp.Usage.ServiceTier,
	}
}

// ChatUsage maps backend usage counters to the OpenAI usage shape with the
// detail breakdowns, zeroed audio and prediction counters included for wire
// compatibility.
func ChatUsage(u types.AnthropicUsage, reasoningChars int) *types.Usage {
	return &types.Usage{
		PromptTokens:     u.InputTokens,
		CompletionTokens: u.OutputTokens,
		TotalTokens:      u.InputTokens + u.OutputTokens,
		PromptTokensDetails: &types.PromptTokensDetails{
			CachedTokens:        u.CacheReadInputTokens,
			CacheCreationTokens: u.CacheCreationInputTokens,
			AudioTokens:         0,
		},
		CompletionTokensDetails: &types.CompletionTokensDetails{
			ReasoningTokens: reasoningChars / 4,
		},
	}
}
