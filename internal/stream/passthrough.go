package stream

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/mattbnz/LLMux/internal/types"
)

var dataPrefix = []byte("data:")

// Passthrough forwards backend SSE bytes to the client unmodified while
// scanning data lines for usage counters as a side channel. Buffering never
// exceeds one line. The accumulated usage is returned when the stream ends;
// a mid-stream read failure yields a synthetic error event in the backend's
// own shape and the usage observed so far.
func Passthrough(w http.ResponseWriter, body io.ReadCloser) types.AnthropicUsage {
	defer body.Close()

	flusher, _ := w.(http.Flusher)
	reader := bufio.NewReaderSize(body, 256*1024)
	var usage types.AnthropicUsage

	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			ExtractUsageLine(line, &usage)
			if _, werr := w.Write(line); werr != nil {
				return usage
			}
			if flusher != nil && len(bytes.TrimSpace(line)) == 0 {
				flusher.Flush()
			}
		}
		if err != nil {
			if err != io.EOF {
				writeSyntheticError(w, flusher, err)
			}
			return usage
		}
	}
}

// ExtractUsageLine updates usage counters from a single SSE line, best
// effort. Input counters come from message_start, output from message_delta.
func ExtractUsageLine(line []byte, usage *types.AnthropicUsage) {
	trimmed := bytes.TrimSpace(line)
	if !bytes.HasPrefix(trimmed, dataPrefix) {
		return
	}
	payload := bytes.TrimSpace(trimmed[len(dataPrefix):])
	if len(payload) == 0 || !bytes.Contains(payload, []byte(`"usage"`)) {
		return
	}
	switch gjson.GetBytes(payload, "type").String() {
	case "message_start":
		u := gjson.GetBytes(payload, "message.usage")
		usage.InputTokens = int(u.Get("input_tokens").Int())
		usage.CacheReadInputTokens = int(u.Get("cache_read_input_tokens").Int())
		usage.CacheCreationInputTokens = int(u.Get("cache_creation_input_tokens").Int())
	case "message_delta":
		if out := gjson.GetBytes(payload, "usage.output_tokens").Int(); out > 0 {
			usage.OutputTokens = int(out)
		}
	}
}

func writeSyntheticError(w http.ResponseWriter, flusher http.Flusher, err error) {
	msg := fmt.Sprintf("upstream stream interrupted: %v", err)
	fmt.Fprintf(w, "event: error\ndata: {\"type\":\"error\",\"error\":{\"type\":\"timeout_error\",\"message\":%q}}\n\n", msg)
	if flusher != nil {
		flusher.Flush()
	}
}
