package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/pingsantohq/satprobe/internal/events"
	"github.com/pingsantohq/satprobe/internal/metrics"
	"github.com/pingsantohq/satprobe/internal/probe"
	"github.com/pingsantohq/satprobe/pkg/types"
)

// Enqueuer accepts finished results for persistence.
type Enqueuer interface {
	Enqueue(ctx context.Context, result types.ProbeResult) error
}

// Runner turns a single probe invocation into exactly one normalized ProbeResult.
type Runner struct {
	logger  *slog.Logger
	events  events.Recorder
	metrics metrics.ProbeRecorder
	now     func() time.Time
}

type Option func(*Runner)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func WithEventRecorder(rec events.Recorder) Option {
	return func(r *Runner) {
		if rec != nil {
			r.events = rec
		}
	}
}

func WithMetrics(rec metrics.ProbeRecorder) Option {
	return func(r *Runner) {
		if rec != nil {
			r.metrics = rec
		}
	}
}

func WithNow(now func() time.Time) Option {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

func New(opts ...Option) *Runner {
	r := &Runner{
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		events:  events.NoopRecorder{},
		metrics: metrics.NoopProbeRecorder{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "runner")
	return r
}

// Run executes p for job id and hands the result to out. Delivery failures are
// logged and counted but never returned; the result is returned for inspection only.
func (r *Runner) Run(ctx context.Context, id string, p probe.Probe, out Enqueuer) types.ProbeResult {
	result := r.Execute(ctx, id, p)
	// The result is already produced; shutdown must not discard it.
	if err := out.Enqueue(context.WithoutCancel(ctx), result); err != nil {
		r.logger.Warn("result dropped", "job", id,
			"kind", result.Kind, "target", result.Target, "status", result.Status, "error", err)
	}
	return result
}

// Execute runs p once and normalizes its outcome, tagged with job id. It never panics.
func (r *Runner) Execute(ctx context.Context, id string, p probe.Probe) (result types.ProbeResult) {
	kind, target := p.Kind(), p.Target()
	start := r.now()

	defer func() {
		if rec := recover(); rec != nil {
			result = errorResult(kind, target, fmt.Errorf("probe panicked: %v", rec))
			result.Timestamp = r.now().UTC()
			r.logger.Error("probe panicked", "job", id, "kind", kind, "target", target, "panic", rec)
		}
		result.JobID = id
		r.metrics.ObserveResult(result.Kind, result.Status)
	}()

	out, err := p.Probe(ctx)
	end := r.now().UTC()
	if err != nil {
		r.reportError(id, kind, target, err)
		result = errorResult(kind, target, err)
		result.Timestamp = end
		return result
	}

	result = normalize(types.ProbeResult{
		Timestamp: end,
		Target:    target,
		Kind:      kind,
		RTT:       out.RTT,
		Status:    out.Status,
		Metadata:  out.Metadata,
	})

	switch result.Status {
	case types.StatusTimeout:
		r.logger.Debug("probe timed out", "kind", kind, "target", target, "elapsed", end.Sub(start))
	case types.StatusError:
		r.logger.Warn("probe failed", "kind", kind, "target", target, "error", result.Metadata["error_message"])
	}
	return result
}

func (r *Runner) reportError(id string, kind types.Kind, target string, err error) {
	if !errors.Is(err, probe.ErrCapability) {
		r.logger.Warn("probe failed", "kind", kind, "target", target, "error", err)
		return
	}
	r.logger.Error("probe lacks privileges; results for this kind will be errors until fixed",
		"kind", kind, "target", target, "error", err)
	r.metrics.IncCapabilityErrors(kind)
	r.events.Record(types.Event{
		Type:      types.EventCapabilityError,
		Timestamp: r.now().UTC(),
		JobID:     id,
		Labels:    map[string]string{"kind": string(kind)},
		Details:   map[string]any{"error": err.Error()},
	})
}

func errorResult(kind types.Kind, target string, err error) types.ProbeResult {
	return types.ProbeResult{
		Target:   target,
		Kind:     kind,
		Status:   types.StatusError,
		Metadata: map[string]any{"error_message": err.Error()},
	}
}

// normalize enforces the rtt rules: rdns and traceroute never carry one, and
// an icmp or dns success must carry a finite, non-negative value.
func normalize(result types.ProbeResult) types.ProbeResult {
	if result.Metadata == nil {
		result.Metadata = map[string]any{}
	}
	switch result.Status {
	case types.StatusSuccess, types.StatusTimeout, types.StatusError:
	default:
		result.Metadata["error_message"] = fmt.Sprintf("unknown status %q", result.Status)
		result.Status = types.StatusError
	}

	if !result.Kind.MeasuresRTT() {
		result.RTT = nil
		return result
	}
	if result.Status != types.StatusSuccess {
		if !result.HasValidRTT() {
			result.RTT = nil
		}
		return result
	}
	if !result.HasValidRTT() {
		result.RTT = nil
		result.Status = types.StatusError
		result.Metadata["error_message"] = "invalid rtt"
	}
	return result
}
