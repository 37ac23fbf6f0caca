package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pingsantohq/satprobe/internal/config"
	"github.com/pingsantohq/satprobe/internal/events"
	"github.com/pingsantohq/satprobe/internal/health"
	"github.com/pingsantohq/satprobe/internal/logging"
	"github.com/pingsantohq/satprobe/internal/metrics"
	"github.com/pingsantohq/satprobe/internal/probe"
	"github.com/pingsantohq/satprobe/internal/queue"
	"github.com/pingsantohq/satprobe/internal/runner"
	"github.com/pingsantohq/satprobe/internal/scheduler"
	"github.com/pingsantohq/satprobe/internal/task"
	"github.com/pingsantohq/satprobe/internal/worker"
	"github.com/pingsantohq/satprobe/internal/writer"
	"github.com/pingsantohq/satprobe/pkg/types"
)

// ProbeFactory builds the probe for one job.
type ProbeFactory func(kind types.Kind, target string) (probe.Probe, error)

type Option func(*options)

type options struct {
	logger       *slog.Logger
	metricsStore *metrics.Store
	recorder     events.Recorder
	checker      *health.Checker
	newProbe     ProbeFactory
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

func WithMetricsStore(store *metrics.Store) Option {
	return func(o *options) { o.metricsStore = store }
}

// WithEventRecorder adds a recorder next to the built-in log recorder.
func WithEventRecorder(rec events.Recorder) Option {
	return func(o *options) { o.recorder = rec }
}

func WithHealthChecker(c *health.Checker) Option {
	return func(o *options) { o.checker = c }
}

func WithProbeFactory(f ProbeFactory) Option {
	return func(o *options) { o.newProbe = f }
}

// stream is one result channel and the writer that drains it.
type stream struct {
	channel *queue.Channel
	writer  *writer.Writer
}

// Runtime sequences one probing run: writers first, then the worker pool and
// scheduler; on stop the reverse, draining every channel before returning.
type Runtime struct {
	cfg       config.Config
	logger    *slog.Logger
	metrics   *metrics.Store
	events    events.Recorder
	health    *health.Checker
	newProbe  ProbeFactory
	jobs      chan worker.Job
	scheduler *scheduler.Scheduler
	pool      *worker.Pool
	runner    *runner.Runner
	streams   []stream
}

func New(cfg config.Config, opts ...Option) *Runtime {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logging.Discard()
	}
	if o.metricsStore == nil {
		o.metricsStore = metrics.NewStore()
	}
	if o.checker == nil {
		o.checker = health.NewChecker(o.metricsStore, 0)
	}
	if o.newProbe == nil {
		o.newProbe = func(kind types.Kind, target string) (probe.Probe, error) {
			return probe.New(kind, target, cfg)
		}
	}
	rec := events.Recorder(events.NewLogRecorder(o.logger))
	if o.recorder != nil {
		rec = events.NewMulti(rec, o.recorder)
	}

	sc := cfg.Scheduler
	jobs := make(chan worker.Job, cfg.BacklogSize())
	schedOpts := []scheduler.Option{
		scheduler.WithTickResolution(sc.TickResolution),
		scheduler.WithLogger(o.logger),
		scheduler.WithEventRecorder(rec),
		scheduler.WithMetrics(o.metricsStore.SchedulerRecorder()),
	}
	if sc.RateGovernance.Enabled {
		schedOpts = append(schedOpts, scheduler.WithRateLimit(sc.RateGovernance.GlobalPPSCap, sc.RateGovernance.Burst))
	}

	return &Runtime{
		cfg:       cfg,
		logger:    o.logger.With("component", "runtime"),
		metrics:   o.metricsStore,
		events:    rec,
		health:    o.checker,
		newProbe:  o.newProbe,
		jobs:      jobs,
		scheduler: scheduler.New(jobs, schedOpts...),
		pool: worker.NewPool(jobs,
			worker.WithWorkerCount(cfg.General.WorkerThreads),
			worker.WithMisfireGrace(sc.MisfireGrace),
			worker.WithStopTimeout(sc.PoolStopTimeout),
			worker.WithLogger(o.logger),
			worker.WithEventRecorder(rec),
			worker.WithMetrics(o.metricsStore.WorkerRecorder()),
		),
		runner: runner.New(
			runner.WithLogger(o.logger),
			runner.WithEventRecorder(rec),
			runner.WithMetrics(o.metricsStore.ProbeRecorder()),
		),
	}
}

// AddStream creates a result channel drained into sink and schedules every
// enabled kind against targets onto it. prefix namespaces job IDs.
func (r *Runtime) AddStream(name, prefix string, targets []string, sink writer.Sink) error {
	ch := queue.NewChannel(name, r.cfg.Writer.QueueCapacity,
		queue.WithPutTimeout(r.cfg.Writer.PutTimeout),
		queue.WithEventRecorder(r.events),
		queue.WithMetricsRecorder(r.metrics.QueueRecorder()),
	)
	w := writer.New(name, ch, sink,
		writer.WithLogger(r.logger),
		writer.WithEventRecorder(r.events),
		writer.WithMetrics(r.metrics.WriterRecorder()),
		writer.WithAbandonWait(r.cfg.Writer.DrainGrace),
	)

	var buildErr error
	sc := r.cfg.Scheduler
	specs := scheduler.Plan(prefix, targets, r.cfg.EnabledKinds(), scheduler.Timing{
		Interval:       sc.ProbeInterval,
		OneShotDelay:   sc.OneShotDelay,
		OneShotSpacing: sc.OneShotSpacing,
		OneShotStagger: sc.OneShotStagger,
	}, func(id string, kind types.Kind, target string) func(context.Context) {
		p, err := r.newProbe(kind, target)
		if err != nil {
			buildErr = errors.Join(buildErr, fmt.Errorf("build %s probe for %s: %w", kind, target, err))
			return nil
		}
		return func(ctx context.Context) { r.runner.Run(ctx, id, p, ch) }
	})
	if buildErr != nil {
		return buildErr
	}

	r.scheduler.Add(specs...)
	r.health.WatchQueue(ch)
	r.streams = append(r.streams, stream{channel: ch, writer: w})
	r.logger.Info("stream configured", "stream", name, "targets", len(targets), "jobs", len(specs))
	return nil
}

// Summary reports how a run ended.
type Summary struct {
	Reason  string
	Aborted []string
	// Abandoned lists aborted writers still blocked in their sink when Run returned.
	Abandoned []string
	Dropped   uint64
}

// Run executes the run until the configured duration elapses or ctx is
// cancelled, then drains and stops every component. Writers that do not
// finish within the drain grace are aborted and listed in the summary; a
// writer that ignores the abort is abandoned so that Run still returns.
func (r *Runtime) Run(ctx context.Context) (Summary, error) {
	if len(r.streams) == 0 {
		return Summary{}, errors.New("no output streams configured")
	}

	var writers errgroup.Group
	for _, s := range r.streams {
		w := s.writer
		r.health.ObserveWriter(w.Name(), true)
		writers.Go(func() error {
			err := w.Run(context.Background())
			r.health.ObserveWriter(w.Name(), false)
			if errors.Is(err, writer.ErrAborted) {
				return nil
			}
			return err
		})
	}

	r.pool.Start(context.Background())
	schedCtx, stopScheduler := context.WithCancel(context.Background())
	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		r.scheduler.Start(schedCtx)
	}()
	r.logger.Info("run started",
		"jobs", r.scheduler.Len(), "workers", r.cfg.General.WorkerThreads, "duration", r.cfg.Scheduler.RunDuration)

	summary := Summary{Reason: task.ReasonDurationComplete}
	timer := time.NewTimer(r.cfg.Scheduler.RunDuration)
	select {
	case <-timer.C:
		r.logger.Info("run duration elapsed")
	case <-ctx.Done():
		timer.Stop()
		summary.Reason = task.ReasonSignal
		r.logger.Info("shutdown requested")
	}

	stopScheduler()
	<-schedDone
	if !r.pool.Stop() {
		r.logger.Warn("in-flight probes were cancelled at shutdown")
	}

	closeCtx, cancelClose := context.WithTimeout(context.Background(), r.cfg.Writer.DrainGrace)
	for _, s := range r.streams {
		if err := s.channel.Close(closeCtx); err != nil {
			r.logger.Warn("could not queue end of stream", "stream", s.channel.Name(), "error", err)
		}
	}
	cancelClose()

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, s := range r.streams {
		wg.Add(1)
		go func(s stream) {
			defer wg.Done()
			if s.writer.Join(r.cfg.Writer.DrainGrace) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			summary.Aborted = append(summary.Aborted, s.writer.Name())
			if s.writer.Abandoned() {
				summary.Abandoned = append(summary.Abandoned, s.writer.Name())
			}
		}(s)
	}
	wg.Wait()
	for _, s := range r.streams {
		summary.Dropped += s.channel.Dropped()
	}

	if len(summary.Abandoned) > 0 {
		r.logger.Error("writers abandoned at shutdown; their queued results are lost", "writers", summary.Abandoned)
	} else if err := writers.Wait(); err != nil {
		return summary, fmt.Errorf("writer failed: %w", err)
	}
	r.logger.Info("run stopped", "reason", summary.Reason, "dropped", summary.Dropped,
		"aborted", len(summary.Aborted), "abandoned", len(summary.Abandoned))
	return summary, nil
}
