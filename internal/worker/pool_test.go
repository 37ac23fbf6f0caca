package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pingsantohq/satprobe/pkg/types"
)

func TestPoolProcessesJob(t *testing.T) {
	jobs := make(chan Job, 1)
	processed := atomic.Int32{}
	released := atomic.Int32{}

	p := NewPool(jobs, WithWorkerCount(1))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	jobs <- Job{
		ID:   "icmp_203.0.113.1",
		Kind: types.KindICMP,
		Run:  func(context.Context) { processed.Add(1) },
		Done: func() { released.Add(1) },
	}

	deadline := time.NewTimer(time.Second)
	defer deadline.Stop()
	for released.Load() == 0 {
		select {
		case <-deadline.C:
			t.Fatalf("timeout waiting for job to process")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if !p.Stop() {
		t.Fatalf("expected clean stop")
	}
	if processed.Load() != 1 {
		t.Fatalf("expected 1 run got %d", processed.Load())
	}
}

func TestPoolStopWaitsForRunningJobs(t *testing.T) {
	jobs := make(chan Job)
	started := make(chan struct{})
	finished := atomic.Bool{}

	p := NewPool(jobs, WithWorkerCount(1), WithStopTimeout(time.Second))
	p.Start(context.Background())

	jobs <- Job{ID: "j", Run: func(ctx context.Context) {
		close(started)
		time.Sleep(30 * time.Millisecond)
		finished.Store(true)
	}}
	<-started

	if !p.Stop() {
		t.Fatalf("expected job to finish within stop timeout")
	}
	if !finished.Load() {
		t.Fatalf("Stop returned before running job finished")
	}
}

func TestPoolStopCancelsAfterTimeout(t *testing.T) {
	jobs := make(chan Job)
	started := make(chan struct{})
	cancelled := atomic.Bool{}

	p := NewPool(jobs, WithWorkerCount(1), WithStopTimeout(20*time.Millisecond))
	p.Start(context.Background())

	jobs <- Job{ID: "slow", Run: func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		cancelled.Store(true)
	}}
	<-started

	if p.Stop() {
		t.Fatalf("expected forced stop")
	}
	if !cancelled.Load() {
		t.Fatalf("expected job context to be cancelled")
	}
}

func TestPoolDiscardsQueuedJobsOnStop(t *testing.T) {
	jobs := make(chan Job, 2)
	ran := atomic.Int32{}
	released := atomic.Int32{}

	p := NewPool(jobs, WithWorkerCount(1))
	for i := 0; i < 2; i++ {
		jobs <- Job{Run: func(context.Context) { ran.Add(1) }, Done: func() { released.Add(1) }}
	}
	// Stop before start: workers see the stop signal first.
	p.stopOnce.Do(func() { close(p.stopping) })
	p.Start(context.Background())
	p.Stop()

	if ran.Load() != 0 {
		t.Fatalf("queued jobs must not run after stop, ran %d", ran.Load())
	}
}

func TestPoolRecordsMisfire(t *testing.T) {
	jobs := make(chan Job, 1)
	now := time.Unix(1000, 0)
	rec := &captureWorkerMetrics{}
	ev := &captureEvents{}
	done := make(chan struct{})

	p := NewPool(jobs,
		WithWorkerCount(1),
		WithMisfireGrace(10*time.Second),
		WithNow(func() time.Time { return now }),
		WithMetrics(rec),
		WithEventRecorder(ev),
	)
	p.Start(context.Background())

	ran := atomic.Bool{}
	jobs <- Job{
		ID:           "dns_1.1.1.1",
		ScheduledFor: now.Add(-11 * time.Second),
		Run:          func(context.Context) { ran.Store(true) },
		Done:         func() { close(done) },
	}
	<-done
	p.Stop()

	if !ran.Load() {
		t.Fatalf("late job must still run once")
	}
	if rec.misfires.Load() != 1 {
		t.Fatalf("expected one misfire got %d", rec.misfires.Load())
	}
	if len(ev.events) != 1 || ev.events[0].Type != types.EventMisfire {
		t.Fatalf("expected misfire event, got %+v", ev.events)
	}
}

func TestPoolRecoversPanickingJob(t *testing.T) {
	jobs := make(chan Job, 2)
	released := make(chan struct{}, 2)
	p := NewPool(jobs, WithWorkerCount(1))
	p.Start(context.Background())

	jobs <- Job{ID: "bad", Run: func(context.Context) { panic("boom") }, Done: func() { released <- struct{}{} }}
	jobs <- Job{ID: "good", Run: func(context.Context) {}, Done: func() { released <- struct{}{} }}
	for i := 0; i < 2; i++ {
		select {
		case <-released:
		case <-time.After(time.Second):
			t.Fatalf("worker did not survive panic")
		}
	}
	p.Stop()
}

type captureWorkerMetrics struct {
	misfires atomic.Int32
}

func (c *captureWorkerMetrics) IncMisfires()             { c.misfires.Add(1) }
func (c *captureWorkerMetrics) ObserveBusyWorkers(n int) {}

type captureEvents struct {
	events []types.Event
}

func (c *captureEvents) Record(e types.Event) { c.events = append(c.events, e) }
