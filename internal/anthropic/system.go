package anthropic

import (
	"encoding/json"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// identityPrompt is the system block the backend expects as the first
// system entry on OAuth sessions registered to the CLI product.
const identityPrompt = "You are Claude Code, Anthropic's official CLI for Claude."

// InjectSystemIdentity prepends the product identity block to the system
// prompt, normalizing string-form system prompts to block form. Bodies that
// already lead with the identity block are returned unchanged.
func InjectSystemIdentity(body []byte) []byte {
	identity := map[string]string{"type": "text", "text": identityPrompt}

	system := gjson.GetBytes(body, "system")
	switch {
	case !system.Exists() || system.Type == gjson.Null:
		out, _ := sjson.SetBytes(body, "system", []any{identity})
		return out

	case system.Type == gjson.String:
		blocks := []any{identity}
		if txt := system.String(); txt != "" {
			blocks = append(blocks, map[string]string{"type": "text", "text": txt})
		}
		out, _ := sjson.SetBytes(body, "system", blocks)
		return out

	case system.IsArray():
		existing := system.Array()
		if len(existing) > 0 && existing[0].Get("text").String() == identityPrompt {
			return body
		}
		blocks := make([]any, 0, len(existing)+1)
		blocks = append(blocks, identity)
		for _, b := range existing {
			var block any
			if err := json.Unmarshal([]byte(b.Raw), &block); err == nil {
				blocks = append(blocks, block)
			}
		}
		out, _ := sjson.SetBytes(body, "system", blocks)
		return out
	}

	return body
}
