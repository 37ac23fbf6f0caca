package writer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/pingsantohq/satprobe/internal/events"
	"github.com/pingsantohq/satprobe/internal/metrics"
	"github.com/pingsantohq/satprobe/pkg/types"
)

// ErrAborted is returned by Run when the writer was stopped before it saw the
// end-of-stream marker.
var ErrAborted = errors.New("writer aborted before end of stream")

const defaultAbandonWait = 2 * time.Second

// Source yields results until end of stream. ok is false at the end or when ctx is done.
type Source interface {
	Next(ctx context.Context) (types.ProbeResult, bool)
}

// Sink persists results. Write must not return before the record is durable.
type Sink interface {
	Write(ctx context.Context, result types.ProbeResult) error
	Close() error
}

type Option func(*Writer)

func WithLogger(logger *slog.Logger) Option {
	return func(w *Writer) {
		if logger != nil {
			w.logger = logger
		}
	}
}

func WithEventRecorder(rec events.Recorder) Option {
	return func(w *Writer) {
		if rec != nil {
			w.events = rec
		}
	}
}

// WithAbandonWait bounds how long Join waits for Run after aborting it. A sink
// stuck in a write that ignores its context is abandoned after this long.
func WithAbandonWait(d time.Duration) Option {
	return func(w *Writer) {
		if d > 0 {
			w.abandonWait = d
		}
	}
}

func WithMetrics(rec metrics.WriterRecorder) Option {
	return func(w *Writer) {
		if rec != nil {
			w.metrics = rec
		}
	}
}

// Writer is the single consumer of one result channel.
type Writer struct {
	name    string
	source  Source
	sink    Sink
	logger  *slog.Logger
	events  events.Recorder
	metrics metrics.WriterRecorder

	abandonWait time.Duration

	ctx     context.Context
	abort   context.CancelFunc
	done    chan struct{}
	written uint64
	failed  uint64
}

func New(name string, source Source, sink Sink, opts ...Option) *Writer {
	w := &Writer{
		name:    name,
		source:  source,
		sink:    sink,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		events:  events.NoopRecorder{},
		metrics: metrics.NoopWriterRecorder{},
		done:    make(chan struct{}),

		abandonWait: defaultAbandonWait,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With("component", "writer", "writer", name)
	w.ctx, w.abort = context.WithCancel(context.Background())
	return w
}

func (w *Writer) Name() string { return w.name }

// Run drains the source into the sink until the end-of-stream marker, then
// closes the sink. Per-record failures are logged and skipped. Run returns
// ErrAborted if Abort is called or ctx is cancelled first.
func (w *Writer) Run(ctx context.Context) error {
	defer close(w.done)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(w.ctx, cancel)
	defer stop()

	w.logger.Debug("writer started")
	for {
		result, ok := w.source.Next(ctx)
		if !ok {
			break
		}
		if err := w.sink.Write(ctx, result); err != nil {
			w.failed++
			w.metrics.IncWriteFailures(w.name)
			w.logger.Warn("write failed", "kind", result.Kind, "target", result.Target, "error", err)
			w.events.Record(types.Event{
				Type:      types.EventWriteFailed,
				Timestamp: time.Now().UTC(),
				JobID:     result.JobID,
				Labels:    map[string]string{"writer": w.name},
				Details:   map[string]any{"error": err.Error()},
			})
			continue
		}
		w.written++
		w.metrics.IncWritten(w.name)
	}

	aborted := ctx.Err() != nil
	if err := w.sink.Close(); err != nil {
		w.logger.Warn("close sink", "error", err)
	}
	if aborted {
		return ErrAborted
	}
	w.logger.Info("writer drained", "written", w.written, "failed", w.failed)
	return nil
}

// Done is closed when Run returns.
func (w *Writer) Done() <-chan struct{} { return w.done }

// Join waits up to grace for Run to finish and aborts the writer otherwise.
// It reports whether the writer finished on its own. Join never waits longer
// than grace plus the abandon wait.
func (w *Writer) Join(grace time.Duration) bool {
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-w.done:
		return true
	case <-timer.C:
	}
	w.logger.Warn("writer did not drain within grace period, aborting; queued results are lost", "grace", grace)
	w.metrics.IncAborted()
	w.events.Record(types.Event{
		Type:      types.EventWriterAborted,
		Timestamp: time.Now().UTC(),
		Labels:    map[string]string{"writer": w.name},
		Details:   map[string]any{"grace_ms": grace.Milliseconds()},
	})
	w.abort()

	abandon := time.NewTimer(w.abandonWait)
	defer abandon.Stop()
	select {
	case <-w.done:
	case <-abandon.C:
		w.logger.Error("writer still blocked in sink after abort, abandoning it", "wait", w.abandonWait)
	}
	return false
}

// Abandoned reports whether Run is still executing after Join gave up on it.
func (w *Writer) Abandoned() bool {
	select {
	case <-w.done:
		return false
	default:
		return true
	}
}

// Abort stops Run at the next record boundary.
func (w *Writer) Abort() { w.abort() }
