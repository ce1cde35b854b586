package thinking

import (
	"fmt"
	"testing"
	"time"

	"github.com/mattbnz/LLMux/internal/types"
)

func signedBlock(text string) types.ContentBlock {
	return types.ContentBlock{Type: "thinking", Thinking: text, Signature: "sig-" + text}
}

func TestCachePutGet(t *testing.T) {
	c := NewCache(time.Minute, 10)
	c.Put("toolu_1", signedBlock("reasoning"))

	got, ok := c.Get("toolu_1")
	if !ok || got.Thinking != "reasoning" {
		t.Fatalf("expected cached block, got %+v ok=%v", got, ok)
	}
	// Entries are read, not consumed.
	if _, ok := c.Get("toolu_1"); !ok {
		t.Fatal("entry must survive a read")
	}
	if _, ok := c.Get("toolu_missing"); ok {
		t.Fatal("unknown id must miss")
	}
}

func TestCacheRejectsUnsigned(t *testing.T) {
	c := NewCache(time.Minute, 10)
	c.Put("a", types.ContentBlock{Type: "thinking", Thinking: "no signature"})
	c.Put("b", types.ContentBlock{Type: "thinking", Signature: "no text"})
	c.Put("", signedBlock("no id"))
	if c.Len() != 0 {
		t.Fatalf("unsigned or unkeyed blocks must not be stored, len=%d", c.Len())
	}
}

func TestCacheExpiry(t *testing.T) {
	c := NewCache(time.Minute, 10)
	current := time.Unix(1700000000, 0)
	c.now = func() time.Time { return current }

	c.Put("toolu_1", signedBlock("x"))

	current = current.Add(59 * time.Second)
	if _, ok := c.Get("toolu_1"); !ok {
		t.Fatal("entry must be alive before the TTL")
	}

	current = current.Add(2 * time.Second)
	if _, ok := c.Get("toolu_1"); ok {
		t.Fatal("entry must expire after the TTL")
	}
	if c.Len() != 0 {
		t.Fatal("expired entry must be dropped on read")
	}
}

func TestCacheCapacityEviction(t *testing.T) {
	c := NewCache(time.Minute, 3)
	current := time.Unix(1700000000, 0)
	c.now = func() time.Time { return current }

	for i := 0; i < 3; i++ {
		c.Put(fmt.Sprintf("toolu_%d", i), signedBlock(fmt.Sprintf("b%d", i)))
		current = current.Add(time.Second)
	}
	c.Put("toolu_new", signedBlock("newest"))

	if c.Len() != 3 {
		t.Fatalf("capacity must hold, len=%d", c.Len())
	}
	if _, ok := c.Get("toolu_0"); ok {
		t.Fatal("oldest entry must be evicted under capacity pressure")
	}
	if _, ok := c.Get("toolu_new"); !ok {
		t.Fatal("newest entry must be present")
	}
}

func TestCaptureFirstSignedBlockForAllIDs(t *testing.T) {
	c := NewCache(time.Minute, 10)
	blocks := []types.ContentBlock{
		{Type: "thinking", Thinking: "unsigned"},
		signedBlock("first signed"),
		signedBlock("second signed"),
	}
	c.Capture([]string{"toolu_1", "toolu_2"}, blocks)

	for _, id := range []string{"toolu_1", "toolu_2"} {
		got, ok := c.Get(id)
		if !ok || got.Thinking != "first signed" {
			t.Fatalf("%s: expected first signed block, got %+v ok=%v", id, got, ok)
		}
	}
}

func TestCaptureNoSignedBlock(t *testing.T) {
	c := NewCache(time.Minute, 10)
	c.Capture([]string{"toolu_1"}, []types.ContentBlock{
		{Type: "thinking", Thinking: "unsigned only"},
		{Type: "text", Text: "hello"},
	})
	if c.Len() != 0 {
		t.Fatal("nothing should be cached without a signed block")
	}
}

func TestInject(t *testing.T) {
	c := NewCache(time.Minute, 10)
	c.Put("toolu_1", signedBlock("prior reasoning"))

	messages := []map[string]any{
		{"role": "user", "content": []any{map[string]any{"type": "text", "text": "q"}}},
		{"role": "assistant", "content": []any{
			map[string]any{"type": "tool_use", "id": "toolu_1", "name": "t", "input": map[string]any{}},
		}},
		{"role": "user", "content": []any{
			map[string]any{"type": "tool_result", "tool_use_id": "toolu_1", "content": "result"},
		}},
	}

	out := c.Inject(messages)
	content := out[1]["content"].([]any)
	first := content[0].(map[string]any)
	if first["type"] != "thinking" || first["thinking"] != "prior reasoning" {
		t.Fatalf("cached block must be prepended to the assistant turn, got %v", content)
	}
	if len(content) != 2 {
		t.Fatalf("original blocks must follow, got %v", content)
	}
}

func TestInjectSkipsTurnWithThinking(t *testing.T) {
	c := NewCache(time.Minute, 10)
	c.Put("toolu_1", signedBlock("cached"))

	messages := []map[string]any{
		{"role": "assistant", "content": []any{
			map[string]any{"type": "thinking", "thinking": "explicit", "signature": "s"},
			map[string]any{"type": "tool_use", "id": "toolu_1", "name": "t", "input": map[string]any{}},
		}},
		{"role": "user", "content": []any{
			map[string]any{"type": "tool_result", "tool_use_id": "toolu_1", "content": "r"},
		}},
	}

	out := c.Inject(messages)
	content := out[0]["content"].([]any)
	if len(content) != 2 {
		t.Fatalf("assistant turn with explicit thinking must not be touched, got %v", content)
	}
	if content[0].(map[string]any)["thinking"] != "explicit" {
		t.Fatalf("explicit block must stay first, got %v", content)
	}
}

func TestInjectUncachedIDUntouched(t *testing.T) {
	c := NewCache(time.Minute, 10)
	messages := []map[string]any{
		{"role": "assistant", "content": []any{
			map[string]any{"type": "tool_use", "id": "toolu_x", "name": "t", "input": map[string]any{}},
		}},
		{"role": "user", "content": []any{
			map[string]any{"type": "tool_result", "tool_use_id": "toolu_x", "content": "r"},
		}},
	}
	out := c.Inject(messages)
	if len(out[0]["content"].([]any)) != 1 {
		t.Fatalf("uncached id must leave messages unchanged, got %v", out[0]["content"])
	}
}
