package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/mattbnz/LLMux/internal/convert"
	"github.com/mattbnz/LLMux/internal/thinking"
	"github.com/mattbnz/LLMux/internal/types"
)

// TranslateChatOptions holds options for translating a backend event stream
// into OpenAI chat completion chunks.
type TranslateChatOptions struct {
	Model        string
	IncludeUsage bool
	Continuity   *thinking.Cache
	// OnUsage is invoked once with the accumulated usage counters when the
	// stream ends, including after mid-stream failures: partial token
	// consumption is still billable.
	OnUsage func(types.AnthropicUsage)
}

// state tracks one active stream: open content blocks by index, tool call
// bookkeeping, accumulated thinking for continuity capture, and running
// usage counters.
type state struct {
	responseID string
	created    int64
	blockKinds map[int]string
	toolIndex  map[int]int
	nextTool   int
	toolIDs    []string
	// Thinking text and signatures accumulate per block index; a block's
	// signature is opaque signed data and must never be merged with another
	// block's. Completed blocks move to thinkingBlocks in stream order.
	thinkText      map[int]*strings.Builder
	thinkSig       map[int]string
	thinkingBlocks []types.ContentBlock
	thinkingChars  int
	roleSent       bool
	finish         *string
	usage          types.AnthropicUsage
}

// closeThinkingBlock moves an open thinking block into the completed list.
func (st *state) closeThinkingBlock(idx int) {
	buf, ok := st.thinkText[idx]
	if !ok {
		return
	}
	st.thinkingBlocks = append(st.thinkingBlocks, types.ContentBlock{
		Type:      "thinking",
		Thinking:  buf.String(),
		Signature: st.thinkSig[idx],
	})
	delete(st.thinkText, idx)
	delete(st.thinkSig, idx)
}

// flushThinkingBlocks closes any blocks still open when the stream ends
// without their content_block_stop (connection drop mid-block).
func (st *state) flushThinkingBlocks() {
	open := make([]int, 0, len(st.thinkText))
	for idx := range st.thinkText {
		open = append(open, idx)
	}
	sort.Ints(open)
	for _, idx := range open {
		st.closeThinkingBlock(idx)
	}
}

// TranslateChat consumes the backend SSE stream and writes OpenAI chat
// completion chunks to the response writer.
func TranslateChat(w http.ResponseWriter, body io.ReadCloser, opts TranslateChatOptions) {
	defer body.Close()

	flusher, ok := w.(http.Flusher)
	if !ok {
		return
	}

	st := &state{
		responseID: "chatcmpl-stream",
		created:    time.Now().Unix(),
		blockKinds: map[int]string{},
		toolIndex:  map[int]int{},
		thinkText:  map[int]*strings.Builder{},
		thinkSig:   map[int]string{},
	}

	writeChunk := func(chunk any) {
		data, _ := json.Marshal(chunk)
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}

	writeDone := func() {
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}

	makeChunk := func(delta types.ChatDelta, finish *string) types.ChatCompletionChunk {
		return types.ChatCompletionChunk{
			ID:      st.responseID,
			Object:  "chat.completion.chunk",
			Created: st.created,
			Model:   opts.Model,
			Choices: []types.ChatChunkChoice{{Index: 0, Delta: delta, FinishReason: finish}},
		}
	}

	// The role chunk precedes any content chunk, exactly once per stream.
	emitDelta := func(delta types.ChatDelta) {
		if !st.roleSent {
			st.roleSent = true
			writeChunk(makeChunk(types.ChatDelta{Role: "assistant"}, nil))
		}
		writeChunk(makeChunk(delta, nil))
	}

	finishStream := func() {
		reason := "stop"
		if st.finish != nil {
			reason = *st.finish
		}
		writeChunk(makeChunk(types.ChatDelta{}, &reason))
		if opts.IncludeUsage {
			usageChunk := makeChunk(types.ChatDelta{}, nil)
			// OpenAI ships the usage chunk with an empty choices array, not
			// null; strict SDK parsers reject the latter.
			usageChunk.Choices = []types.ChatChunkChoice{}
			usageChunk.Usage = convert.ChatUsage(st.usage, st.thinkingChars)
			writeChunk(usageChunk)
		}
		writeDone()

		if opts.Continuity != nil {
			st.flushThinkingBlocks()
			opts.Continuity.Capture(st.toolIDs, st.thinkingBlocks)
		}
		if opts.OnUsage != nil {
			opts.OnUsage(st.usage)
		}
	}

	reader := NewReader(body)
	for {
		raw, err := reader.Next()
		if err != nil {
			break
		}
		ev, err := raw.Decode()
		if err != nil {
			continue
		}

		switch ev.Type {
		case "ping":

		case "message_start":
			if ev.Message != nil {
				if ev.Message.ID != "" {
					st.responseID = convert.ResponseID(ev.Message.ID)
				}
				st.usage.InputTokens = ev.Message.Usage.InputTokens
				st.usage.CacheReadInputTokens = ev.Message.Usage.CacheReadInputTokens
				st.usage.CacheCreationInputTokens = ev.Message.Usage.CacheCreationInputTokens
			}

		case "content_block_start":
			if ev.ContentBlock == nil {
				continue
			}
			st.blockKinds[ev.Index] = ev.ContentBlock.Type
			if ev.ContentBlock.Type == "tool_use" {
				idx := st.nextTool
				st.nextTool++
				st.toolIndex[ev.Index] = idx
				if ev.ContentBlock.ID != "" {
					st.toolIDs = append(st.toolIDs, ev.ContentBlock.ID)
				}
				emitDelta(types.ChatDelta{ToolCalls: []types.ToolCall{{
					Index:    types.IntPtr(idx),
					ID:       ev.ContentBlock.ID,
					Type:     "function",
					Function: types.FunctionCall{Name: ev.ContentBlock.Name, Arguments: ""},
				}}})
			}

		case "content_block_delta":
			if ev.Delta == nil {
				continue
			}
			switch ev.Delta.Type {
			case "text_delta":
				emitDelta(types.ChatDelta{Content: ev.Delta.Text})
			case "input_json_delta":
				// Argument fragments are forwarded as-is, never re-parsed
				// mid-stream.
				idx, ok := st.toolIndex[ev.Index]
				if !ok {
					continue
				}
				emitDelta(types.ChatDelta{ToolCalls: []types.ToolCall{{
					Index:    types.IntPtr(idx),
					Type:     "function",
					Function: types.FunctionCall{Arguments: ev.Delta.PartialJSON},
				}}})
			case "thinking_delta":
				buf, ok := st.thinkText[ev.Index]
				if !ok {
					buf = &strings.Builder{}
					st.thinkText[ev.Index] = buf
				}
				buf.WriteString(ev.Delta.Thinking)
				st.thinkingChars += len(ev.Delta.Thinking)
				emitDelta(types.ChatDelta{ReasoningContent: ev.Delta.Thinking})
			case "signature_delta":
				// Opaque and never forwarded; kept only for continuity
				// capture.
				st.thinkSig[ev.Index] += ev.Delta.Signature
			}

		case "content_block_stop":
			if st.blockKinds[ev.Index] == "thinking" {
				st.closeThinkingBlock(ev.Index)
			}
			delete(st.blockKinds, ev.Index)

		case "message_delta":
			if ev.Delta != nil && ev.Delta.StopReason != nil {
				st.finish = types.StringPtr(convert.MapStopReason(ev.Delta.StopReason))
			}
			if ev.Usage != nil && ev.Usage.OutputTokens > 0 {
				st.usage.OutputTokens = ev.Usage.OutputTokens
			}

		case "message_stop":
			finishStream()
			return

		case "error":
			msg := "stream error"
			errType := "api_error"
			if ev.Error != nil {
				msg = ev.Error.Message
				errType = ev.Error.Type
			}
			writeChunk(types.ErrorResponse{Error: types.ErrorDetail{Message: msg, Type: errType}})
			writeDone()
			if opts.OnUsage != nil {
				opts.OnUsage(st.usage)
			}
			return
		}
	}

	// Upstream ended without message_stop (timeout, connection drop).
	// Close out the client stream; observed usage is still recorded.
	finishStream()
}
