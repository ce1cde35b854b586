// Package usage extracts token accounting from backend responses and
// persists hourly per-key aggregates. Extraction is best-effort and never
// fails a request.
package usage

import (
	"github.com/mattbnz/LLMux/internal/types"
)

// Record is one request's worth of token usage, normalized from either
// response shape.
type Record struct {
	Model               string
	InputTokens         int64
	OutputTokens        int64
	CacheReadTokens     int64
	CacheCreationTokens int64
}

// IsZero reports whether the record carries no token counts.
func (r Record) IsZero() bool {
	return r.InputTokens == 0 && r.OutputTokens == 0 &&
		r.CacheReadTokens == 0 && r.CacheCreationTokens == 0
}

// FromAnthropic builds a record from a backend usage block.
func FromAnthropic(model string, u types.AnthropicUsage) Record {
	return Record{
		Model:               model,
		InputTokens:         int64(u.InputTokens),
		OutputTokens:        int64(u.OutputTokens),
		CacheReadTokens:     int64(u.CacheReadInputTokens),
		CacheCreationTokens: int64(u.CacheCreationInputTokens),
	}
}

// FromResponse builds a record from a complete unary backend response.
func FromResponse(resp *types.MessageResponse) Record {
	if resp == nil {
		return Record{}
	}
	return FromAnthropic(resp.Model, resp.Usage)
}
