package events

import (
	"context"
	"io"
	"log/slog"

	"github.com/pingsantohq/satprobe/pkg/types"
)

type Recorder interface {
	Record(event types.Event)
}

type NoopRecorder struct{}

func (NoopRecorder) Record(event types.Event) {}

type Multi struct {
	recorders []Recorder
}

func NewMulti(recorders ...Recorder) Multi {
	return Multi{recorders: recorders}
}

func (m Multi) Record(event types.Event) {
	for _, rec := range m.recorders {
		if rec != nil {
			rec.Record(event)
		}
	}
}

// LogRecorder writes every event as a structured log line.
type LogRecorder struct {
	logger *slog.Logger
}

func NewLogRecorder(logger *slog.Logger) LogRecorder {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return LogRecorder{logger: logger.With("component", "events")}
}

func (r LogRecorder) Record(event types.Event) {
	attrs := []slog.Attr{
		slog.String("type", string(event.Type)),
		slog.Time("ts", event.Timestamp),
	}
	if event.JobID != "" {
		attrs = append(attrs, slog.String("job", event.JobID))
	}
	for k, v := range event.Labels {
		attrs = append(attrs, slog.String(k, v))
	}
	for k, v := range event.Details {
		attrs = append(attrs, slog.Any(k, v))
	}
	r.logger.LogAttrs(context.Background(), levelFor(event.Type), "event", attrs...)
}

func levelFor(t types.EventType) slog.Level {
	switch t {
	case types.EventCapabilityError, types.EventWriterAborted:
		return slog.LevelError
	case types.EventMisfire:
		return slog.LevelInfo
	default:
		return slog.LevelWarn
	}
}
