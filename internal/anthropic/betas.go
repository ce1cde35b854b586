// Package anthropic applies Anthropic Messages API constraints to request
// bodies: beta capability negotiation, parameter sanitization, and prompt
// cache annotation. Everything here operates on raw JSON bodies so that
// fields the gateway does not model still pass through untouched.
package anthropic

import (
	"strings"

	"github.com/tidwall/gjson"
)

// Core betas are always required: the first unlocks OAuth bearer
// authentication, the second the product identity the OAuth session is
// registered for.
var CoreBetas = []string{
	"oauth-2025-04-20",
	"claude-code-20250219",
}

const (
	BetaToolStreaming       = "fine-grained-tool-streaming-2025-05-14"
	Beta1MContext           = "context-1m-2025-08-07"
	BetaInterleavedThinking = "interleaved-thinking-2025-05-14"
	BetaAdvancedToolUse     = "advanced-tool-use-2025-11-20"
	BetaEffort              = "effort-2025-11-24"
	BetaContextManagement   = "context-management-2025-06-27"
)

// SpecialToolTypes are server-side or otherwise special tool types that pass
// through translation unchanged and require the advanced-tool-use beta.
var SpecialToolTypes = []string{
	"code_execution_20250825",
	"tool_search_tool_regex_20251119",
	"tool_search_tool_bm25_20251119",
	"memory_20250818",
}

// AdvancedToolProperties are tool declaration fields preserved during
// conversion that also require the advanced-tool-use beta.
var AdvancedToolProperties = []string{"allowed_callers", "defer_loading", "input_examples"}

// IsSpecialToolType reports whether t is a recognized special tool type.
func IsSpecialToolType(t string) bool {
	for _, s := range SpecialToolTypes {
		if t == s {
			return true
		}
	}
	return false
}

// BuildBetaHeader derives the anthropic-beta header value for an assembled
// request body. Feature tokens are appended in a fixed order after the core
// set, then client-supplied tokens in their original order. De-duplication
// is order-preserving: the first occurrence wins and nothing is removed.
func BuildBetaHeader(body []byte, clientBetas, reasoningLevel string, use1MContext bool) string {
	betas := make([]string, 0, 8)
	seen := make(map[string]struct{}, 8)
	add := func(b string) {
		b = strings.TrimSpace(b)
		if b == "" {
			return
		}
		if _, ok := seen[b]; ok {
			return
		}
		seen[b] = struct{}{}
		betas = append(betas, b)
	}

	for _, b := range CoreBetas {
		add(b)
	}

	tools := gjson.GetBytes(body, "tools")
	if tools.IsArray() && len(tools.Array()) > 0 {
		add(BetaToolStreaming)
	}
	if use1MContext {
		add(Beta1MContext)
	}
	thinkingType := gjson.GetBytes(body, "thinking.type").String()
	if thinkingType == "enabled" || thinkingType == "adaptive" || reasoningLevel != "" {
		add(BetaInterleavedThinking)
	}
	if hasAdvancedToolFeatures(tools) {
		add(BetaAdvancedToolUse)
	}
	if gjson.GetBytes(body, "output_config.effort").Exists() {
		add(BetaEffort)
	}
	if hasMemoryTool(tools) || gjson.GetBytes(body, "context_management").IsObject() {
		add(BetaContextManagement)
	}

	for _, b := range strings.Split(clientBetas, ",") {
		add(b)
	}

	return strings.Join(betas, ",")
}

func hasAdvancedToolFeatures(tools gjson.Result) bool {
	if !tools.IsArray() {
		return false
	}
	advanced := false
	tools.ForEach(func(_, tool gjson.Result) bool {
		if IsSpecialToolType(tool.Get("type").String()) {
			advanced = true
			return false
		}
		for _, prop := range AdvancedToolProperties {
			if tool.Get(prop).Exists() || tool.Get("function."+prop).Exists() {
				advanced = true
				return false
			}
		}
		return true
	})
	return advanced
}

func hasMemoryTool(tools gjson.Result) bool {
	if !tools.IsArray() {
		return false
	}
	found := false
	tools.ForEach(func(_, tool gjson.Result) bool {
		if tool.Get("type").String() == "memory_20250818" {
			found = true
			return false
		}
		return true
	})
	return found
}
