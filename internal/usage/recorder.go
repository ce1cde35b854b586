package usage

import (
	"context"
	"log/slog"
	"time"
)

// Recorder writes usage records to the store without ever surfacing an
// error to the request path.
type Recorder struct {
	store *Store
	now   func() time.Time
}

// NewRecorder wraps a store. A nil store disables recording.
func NewRecorder(store *Store) *Recorder {
	return &Recorder{store: store, now: time.Now}
}

// Record persists one request's usage. Records with no key or no tokens
// are skipped; storage failures are logged and swallowed.
func (r *Recorder) Record(ctx context.Context, keyID string, rec Record) {
	if r == nil || r.store == nil {
		return
	}
	if keyID == "" || rec.IsZero() {
		return
	}
	if err := r.store.Add(ctx, keyID, rec, r.now()); err != nil {
		slog.Warn("usage.record_failed", "error", err, "key_id", keyID, "model", rec.Model)
	}
}
