package scheduler

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/pingsantohq/satprobe/internal/events"
	"github.com/pingsantohq/satprobe/internal/metrics"
	"github.com/pingsantohq/satprobe/internal/worker"
	"github.com/pingsantohq/satprobe/pkg/types"
)

// JobSpec describes one probe job. A positive Interval makes it recurring with
// the first firing one interval after Add; otherwise it fires once, Delay after Add.
type JobSpec struct {
	ID       string
	Kind     types.Kind
	Target   string
	Interval time.Duration
	Delay    time.Duration
	Run      func(ctx context.Context)
}

func (s JobSpec) oneShot() bool { return s.Interval <= 0 }

// Scheduler fires jobs on a fixed tick. A job never has more than one
// execution queued or running; firings missed while it is busy are skipped,
// and several firings missed between ticks collapse into one.
type Scheduler struct {
	jobCh          chan<- worker.Job
	tickResolution time.Duration
	limiter        *rate.Limiter
	logger         *slog.Logger
	events         events.Recorder
	metrics        metrics.SchedulerRecorder

	now func() time.Time

	mu      sync.Mutex
	entries []*entry
}

type entry struct {
	spec    JobSpec
	next    time.Time
	running atomic.Bool
	done    bool
}

type Option func(*Scheduler)

func WithTickResolution(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.tickResolution = d
		}
	}
}

func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithRateLimit caps dispatches across all jobs. Firings denied a token are
// retried on the next tick.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(s *Scheduler) {
		if perSecond <= 0 {
			return
		}
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithEventRecorder(rec events.Recorder) Option {
	return func(s *Scheduler) {
		if rec != nil {
			s.events = rec
		}
	}
}

func WithMetrics(rec metrics.SchedulerRecorder) Option {
	return func(s *Scheduler) {
		if rec != nil {
			s.metrics = rec
		}
	}
}

func New(jobCh chan<- worker.Job, opts ...Option) *Scheduler {
	s := &Scheduler{
		jobCh:          jobCh,
		tickResolution: 100 * time.Millisecond,
		logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		events:         events.NoopRecorder{},
		metrics:        metrics.NoopSchedulerRecorder{},
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "scheduler")
	return s
}

// Add registers jobs relative to the current time.
func (s *Scheduler) Add(specs ...JobSpec) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, spec := range specs {
		e := &entry{spec: spec}
		if spec.oneShot() {
			e.next = now.Add(spec.Delay)
		} else {
			e.next = now.Add(spec.Interval)
		}
		s.entries = append(s.entries, e)
	}
}

// Len returns the number of registered jobs.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Start runs the tick loop until ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.tickResolution)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(s.now())
		}
	}
}

func (s *Scheduler) tick(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.entries {
		e := e // per-iteration copy for the Done closure (pre-Go 1.22 loop semantics)
		if e.done || now.Before(e.next) {
			continue
		}

		if e.running.Load() {
			s.metrics.IncOverlapSkipped()
			s.logger.Debug("previous run still active, skipping", "job", e.spec.ID)
			s.advance(e, now)
			continue
		}

		if s.limiter != nil && !s.limiter.AllowN(now, 1) {
			s.metrics.IncThrottled()
			continue
		}

		e.running.Store(true)
		job := worker.Job{
			ID:           e.spec.ID,
			Kind:         e.spec.Kind,
			Target:       e.spec.Target,
			ScheduledFor: e.next,
			Run:          e.spec.Run,
			Done:         func() { e.running.Store(false) },
		}
		select {
		case s.jobCh <- job:
			s.metrics.IncDispatched()
			s.advance(e, now)
		default:
			e.running.Store(false)
			s.metrics.IncDispatchFailed()
			s.logger.Warn("worker backlog full, dropping firing", "job", e.spec.ID)
			s.events.Record(types.Event{
				Type:      types.EventDispatchFailed,
				Timestamp: now.UTC(),
				JobID:     e.spec.ID,
			})
			if !e.spec.oneShot() {
				s.advance(e, now)
			}
		}
	}
}

// advance moves a recurring job's next firing past now, coalescing every
// missed firing. One-shot jobs are marked done.
func (s *Scheduler) advance(e *entry, now time.Time) {
	if e.spec.oneShot() {
		e.done = true
		return
	}
	for !now.Before(e.next) {
		e.next = e.next.Add(e.spec.Interval)
	}
}
