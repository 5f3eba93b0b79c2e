package audit

import (
	"context"
	"time"

	"authcore.org/internal/ids"
	"authcore.org/internal/obs"
	"authcore.org/internal/storeutil"
)

// Sink accepts append-only audit events. No read API is exposed here.
type Sink interface {
	Append(ctx context.Context, ev *Event) error
}

// LogSink writes events to the shared JSON log. It doubles as the fallback
// when the durable sink is unavailable.
type LogSink struct{}

func (LogSink) Append(_ context.Context, ev *Event) error {
	entry := map[string]any{
		"ts":       ev.OccurredAt.UTC().Format(time.RFC3339Nano),
		"type":     "audit",
		"event":    string(ev.Type),
		"category": ev.Category,
		"success":  ev.Success,
		"desc":     ev.Description,
	}
	if ev.ActorID != "" {
		entry["actor_id"] = ev.ActorID
	}
	if ev.Username != "" {
		entry["username"] = ev.Username
	}
	if ev.SessionID != "" {
		entry["session_id"] = ev.SessionID
	}
	if ev.IP != "" {
		entry["ip"] = ev.IP
	}
	if ev.Error != "" {
		entry["error"] = ev.Error
	}
	if len(ev.Data) > 0 {
		entry["fields"] = ev.Data
	}
	obs.Log(entry)
	return nil
}

// Recorder finalizes and persists events. Transient sink failures are retried
// and then degraded to the log sink; recording never fails the caller.
type Recorder struct {
	sink Sink
	now  func() time.Time
}

func NewRecorder(sink Sink) *Recorder {
	if sink == nil {
		sink = LogSink{}
	}
	return &Recorder{sink: sink, now: time.Now}
}

// WithClock overrides the time source. Tests only.
func (r *Recorder) WithClock(fn func() time.Time) *Recorder {
	r.now = fn
	return r
}

// Record stamps and appends the event.
func (r *Recorder) Record(ctx context.Context, ev Event) {
	if ev.ID == "" {
		ev.ID = ids.New()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = r.now().UTC()
	}
	if ev.Category == "" {
		ev.Category = Category(ev.Type)
	}
	err := storeutil.Retry(ctx, func() error {
		return r.sink.Append(ctx, &ev)
	})
	if err != nil {
		obs.Log(map[string]any{
			"level": "error",
			"msg":   "audit sink append failed",
			"event": string(ev.Type),
			"error": err.Error(),
		})
		_ = LogSink{}.Append(ctx, &ev)
	}
}
