package thinking

import "github.com/mattbnz/LLMux/internal/types"

// Inject restores cached thinking blocks into a translated message history.
// For every tool_result whose tool invocation id is cached, the preceding
// assistant turn gets the cached block prepended to its content, unless that
// turn already carries an explicit thinking block. Messages are in backend
// shape: role plus a content slice of block maps.
func (c *Cache) Inject(messages []map[string]any) []map[string]any {
	for i, msg := range messages {
		if msg["role"] != "user" {
			continue
		}
		content, ok := msg["content"].([]any)
		if !ok {
			continue
		}
		for _, raw := range content {
			block, ok := raw.(map[string]any)
			if !ok || block["type"] != "tool_result" {
				continue
			}
			toolUseID, _ := block["tool_use_id"].(string)
			if toolUseID == "" {
				continue
			}
			cached, ok := c.Get(toolUseID)
			if !ok {
				continue
			}
			if j := precedingAssistant(messages, i); j >= 0 {
				injectIntoAssistant(messages[j], cached)
			}
		}
	}
	return messages
}

// precedingAssistant returns the index of the closest assistant message
// before index i, or -1.
func precedingAssistant(messages []map[string]any, i int) int {
	for j := i - 1; j >= 0; j-- {
		if messages[j]["role"] == "assistant" {
			return j
		}
	}
	return -1
}

func injectIntoAssistant(msg map[string]any, cached types.ContentBlock) {
	var content []any
	switch c := msg["content"].(type) {
	case []any:
		content = c
	case string:
		if c != "" {
			content = []any{map[string]any{"type": "text", "text": c}}
		}
	}
	for _, raw := range content {
		if block, ok := raw.(map[string]any); ok && block["type"] == "thinking" {
			return // turn already carries its own reasoning state
		}
	}
	thinkingBlock := map[string]any{
		"type":      "thinking",
		"thinking":  cached.Thinking,
		"signature": cached.Signature,
	}
	msg["content"] = append([]any{thinkingBlock}, content...)
}
