// Package stream implements SSE decoding of the backend event stream and
// its translation into OpenAI chat completion chunks.
package stream

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"

	"github.com/mattbnz/LLMux/internal/types"
)

// Event is a raw SSE event: the event name line and the data payload.
type Event struct {
	Name string
	Data []byte
}

// Reader reads `event:`/`data:` framed SSE events from an io.Reader.
type Reader struct {
	scanner *bufio.Scanner
}

// NewReader creates a new SSE reader. The buffer ceiling accommodates large
// single-line payloads such as base64 tool results.
func NewReader(r io.Reader) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 256*1024), 1024*1024)
	return &Reader{scanner: scanner}
}

// Next returns the next SSE event. Returns io.EOF when the stream ends.
func (r *Reader) Next() (*Event, error) {
	var evt Event
	for r.scanner.Scan() {
		line := r.scanner.Text()
		if line == "" {
			if len(evt.Data) > 0 {
				return &evt, nil
			}
			continue
		}
		if name, ok := strings.CutPrefix(line, "event:"); ok {
			evt.Name = strings.TrimSpace(name)
			continue
		}
		if data, ok := strings.CutPrefix(line, "data:"); ok {
			evt.Data = append(evt.Data, strings.TrimSpace(data)...)
		}
	}
	if err := r.scanner.Err(); err != nil {
		return nil, err
	}
	if len(evt.Data) > 0 {
		return &evt, nil
	}
	return nil, io.EOF
}

// Decode parses the event payload into the typed stream event. The payload's
// own "type" field is authoritative; the event name line fills in when the
// payload omits it.
func (e *Event) Decode() (*types.StreamEvent, error) {
	var ev types.StreamEvent
	if err := json.Unmarshal(e.Data, &ev); err != nil {
		return nil, err
	}
	if ev.Type == "" {
		ev.Type = e.Name
	}
	return &ev, nil
}
