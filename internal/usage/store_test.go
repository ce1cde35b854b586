package usage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/mattbnz/LLMux/internal/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenStore(filepath.Join(t.TempDir(), "usage.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStoreAggregatesWithinHour(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, 8, 26, 14, 5, 0, 0, time.UTC)

	rec := Record{Model: "claude-sonnet-4-5-20250929", InputTokens: 100, OutputTokens: 10, CacheReadTokens: 20}
	if err := store.Add(ctx, "key1", rec, at); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := store.Add(ctx, "key1", rec, at.Add(30*time.Minute)); err != nil {
		t.Fatalf("add: %v", err)
	}

	rows, err := store.Since(ctx, at.Add(-time.Hour))
	if err != nil {
		t.Fatalf("since: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("same hour must aggregate into one row, got %d", len(rows))
	}
	row := rows[0]
	if row.Requests != 2 || row.InputTokens != 200 || row.OutputTokens != 20 || row.CacheReadTokens != 40 {
		t.Fatalf("unexpected aggregate: %+v", row)
	}
	if row.Hour != "2026-08-26T14" {
		t.Fatalf("unexpected hour bucket %q", row.Hour)
	}
}

func TestStoreSeparatesKeysModelsAndHours(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, 8, 26, 14, 0, 0, 0, time.UTC)

	rec := Record{Model: "m1", InputTokens: 1}
	store.Add(ctx, "key1", rec, at)
	store.Add(ctx, "key2", rec, at)
	store.Add(ctx, "key1", Record{Model: "m2", InputTokens: 1}, at)
	store.Add(ctx, "key1", rec, at.Add(time.Hour))

	rows, err := store.Since(ctx, at.Add(-time.Hour))
	if err != nil {
		t.Fatalf("since: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("expected 4 distinct rows, got %d: %+v", len(rows), rows)
	}

	// Since respects the cutoff.
	rows, err = store.Since(ctx, at.Add(time.Hour))
	if err != nil {
		t.Fatalf("since: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("cutoff must exclude older hours, got %d rows", len(rows))
	}
}

func TestRecorderSkipsAndSwallows(t *testing.T) {
	store := openTestStore(t)
	rec := NewRecorder(store)
	ctx := context.Background()

	rec.Record(ctx, "", Record{Model: "m", InputTokens: 5})       // no key
	rec.Record(ctx, "key1", Record{Model: "m"})                   // zero tokens
	rec.Record(ctx, "key1", Record{Model: "m", InputTokens: 5})   // recorded
	var nilRec *Recorder
	nilRec.Record(ctx, "key1", Record{Model: "m", InputTokens: 5}) // nil receiver is a no-op

	rows, err := store.Since(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("since: %v", err)
	}
	if len(rows) != 1 || rows[0].InputTokens != 5 {
		t.Fatalf("only the keyed, non-zero record must land, got %+v", rows)
	}
}

func TestFromResponseAndFromAnthropic(t *testing.T) {
	if !FromResponse(nil).IsZero() {
		t.Fatal("nil response must yield a zero record")
	}

	resp := &types.MessageResponse{
		Model: "claude-sonnet-4-5-20250929",
		Usage: types.AnthropicUsage{
			InputTokens:              11,
			OutputTokens:             7,
			CacheReadInputTokens:     3,
			CacheCreationInputTokens: 2,
		},
	}
	got := FromResponse(resp)
	if got.Model != resp.Model || got.InputTokens != 11 || got.OutputTokens != 7 ||
		got.CacheReadTokens != 3 || got.CacheCreationTokens != 2 {
		t.Fatalf("unexpected record: %+v", got)
	}
	if got.IsZero() {
		t.Fatal("populated record must not be zero")
	}
}

func TestOAuthCache(t *testing.T) {
	c := NewOAuthCache(time.Minute)
	current := time.Unix(1700000000, 0)
	c.now = func() time.Time { return current }

	if _, _, ok := c.Get(); ok {
		t.Fatal("empty cache must miss")
	}

	c.Put(500, []byte(`{"error":"x"}`))
	if _, _, ok := c.Get(); ok {
		t.Fatal("error responses must not be cached")
	}

	c.Put(200, []byte(`{"ok":true}`))
	status, body, ok := c.Get()
	if !ok || status != 200 || string(body) != `{"ok":true}` {
		t.Fatalf("expected cached response, got %d %s ok=%v", status, body, ok)
	}

	current = current.Add(61 * time.Second)
	if _, _, ok := c.Get(); ok {
		t.Fatal("cache must expire after the TTL")
	}
}
