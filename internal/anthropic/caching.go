package anthropic

import (
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// cachedUserMessages is how many trailing user messages get a cache_control
// annotation. Annotating the conversation tail keeps the cache prefix stable
// as the conversation grows.
const cachedUserMessages = 2

// AddPromptCaching annotates the system prompt tail and the last user
// message tails with cache_control so the backend caches the prompt prefix.
// Only block-array content can carry annotations; string content is left
// alone.
func AddPromptCaching(body []byte, ttl string) []byte {
	cacheControl := map[string]string{"type": "ephemeral", "ttl": ttl}

	if system := gjson.GetBytes(body, "system"); system.IsArray() {
		if n := len(system.Array()); n > 0 {
			body, _ = sjson.SetBytes(body, fmt.Sprintf("system.%d.cache_control", n-1), cacheControl)
		}
	}

	messages := gjson.GetBytes(body, "messages")
	if !messages.IsArray() {
		return body
	}
	msgs := messages.Array()
	annotated := 0
	for i := len(msgs) - 1; i >= 0 && annotated < cachedUserMessages; i-- {
		if msgs[i].Get("role").String() != "user" {
			continue
		}
		content := msgs[i].Get("content")
		if !content.IsArray() {
			continue
		}
		blocks := content.Array()
		if len(blocks) == 0 {
			continue
		}
		path := fmt.Sprintf("messages.%d.content.%d.cache_control", i, len(blocks)-1)
		body, _ = sjson.SetBytes(body, path, cacheControl)
		annotated++
	}
	return body
}
