package worker

import (
	"context"
	"io"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pingsantohq/satprobe/internal/events"
	"github.com/pingsantohq/satprobe/internal/metrics"
	"github.com/pingsantohq/satprobe/pkg/types"
)

const (
	defaultMisfireGrace = 10 * time.Second
	defaultStopTimeout  = 30 * time.Second
)

// Pool runs dispatched jobs on a fixed number of goroutines.
type Pool struct {
	jobs         <-chan Job
	workerCount  int
	misfireGrace time.Duration
	stopTimeout  time.Duration
	logger       *slog.Logger
	events       events.Recorder
	metrics      metrics.WorkerRecorder
	now          func() time.Time

	busy      atomic.Int64
	wg        sync.WaitGroup
	stopping  chan struct{}
	stopOnce  sync.Once
	probeCtx  context.Context
	cancelRun context.CancelFunc
}

type PoolOption func(*Pool)

func WithWorkerCount(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.workerCount = n
		}
	}
}

func WithMisfireGrace(d time.Duration) PoolOption {
	return func(p *Pool) {
		if d > 0 {
			p.misfireGrace = d
		}
	}
}

// WithStopTimeout bounds how long Stop waits for running jobs before cancelling them.
func WithStopTimeout(d time.Duration) PoolOption {
	return func(p *Pool) {
		if d > 0 {
			p.stopTimeout = d
		}
	}
}

func WithLogger(logger *slog.Logger) PoolOption {
	return func(p *Pool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func WithEventRecorder(rec events.Recorder) PoolOption {
	return func(p *Pool) {
		if rec != nil {
			p.events = rec
		}
	}
}

func WithMetrics(rec metrics.WorkerRecorder) PoolOption {
	return func(p *Pool) {
		if rec != nil {
			p.metrics = rec
		}
	}
}

func WithNow(now func() time.Time) PoolOption {
	return func(p *Pool) {
		if now != nil {
			p.now = now
		}
	}
}

func NewPool(jobs <-chan Job, opts ...PoolOption) *Pool {
	p := &Pool{
		jobs:         jobs,
		workerCount:  runtime.NumCPU(),
		misfireGrace: defaultMisfireGrace,
		stopTimeout:  defaultStopTimeout,
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		events:       events.NoopRecorder{},
		metrics:      metrics.NoopWorkerRecorder{},
		now:          time.Now,
		stopping:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.workerCount <= 0 {
		p.workerCount = 1
	}
	p.logger = p.logger.With("component", "worker")
	return p
}

// Start launches the workers. Jobs run under a context detached from ctx so
// that cancelling ctx stops intake without aborting probes already in flight;
// Stop decides when those are cancelled.
func (p *Pool) Start(ctx context.Context) *sync.WaitGroup {
	p.probeCtx, p.cancelRun = context.WithCancel(context.WithoutCancel(ctx))
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.runWorker(ctx)
		}()
	}
	return &p.wg
}

// Stop stops taking new jobs and waits for running ones. Jobs still running
// after the stop timeout have their contexts cancelled; Stop then waits for
// them to return. It reports whether the pool drained without cancellation.
func (p *Pool) Stop() bool {
	p.stopOnce.Do(func() { close(p.stopping) })

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(p.stopTimeout)
	defer timer.Stop()
	select {
	case <-done:
		p.cancel()
		return true
	case <-timer.C:
		p.logger.Warn("jobs still running after stop timeout, cancelling",
			"timeout", p.stopTimeout, "busy", p.busy.Load())
		p.cancel()
		<-done
		return false
	}
}

func (p *Pool) cancel() {
	if p.cancelRun != nil {
		p.cancelRun()
	}
}

// Busy returns the number of workers currently executing a job.
func (p *Pool) Busy() int { return int(p.busy.Load()) }

func (p *Pool) runWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopping:
			return
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			select {
			case <-p.stopping:
				job.release()
				return
			default:
			}
			p.handleJob(job)
		}
	}
}

func (p *Pool) handleJob(job Job) {
	defer job.release()

	n := p.busy.Add(1)
	p.metrics.ObserveBusyWorkers(int(n))
	defer func() {
		p.metrics.ObserveBusyWorkers(int(p.busy.Add(-1)))
	}()

	if !job.ScheduledFor.IsZero() {
		if late := p.now().Sub(job.ScheduledFor); late > p.misfireGrace {
			p.logger.Info("job started past misfire grace, running once to catch up",
				"job", job.ID, "late", late.Round(time.Millisecond), "grace", p.misfireGrace)
			p.metrics.IncMisfires()
			p.events.Record(types.Event{
				Type:      types.EventMisfire,
				Timestamp: p.now().UTC(),
				JobID:     job.ID,
				Details:   map[string]any{"late_ms": late.Milliseconds()},
			})
		}
	}

	if job.Run == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			p.logger.Error("job panicked", "job", job.ID, "panic", rec)
		}
	}()
	job.Run(p.probeCtx)
}
