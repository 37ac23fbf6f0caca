package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pingsantohq/satprobe/internal/events"
	"github.com/pingsantohq/satprobe/internal/metrics"
	"github.com/pingsantohq/satprobe/pkg/types"
)

const (
	DefaultCapacity   = 1024
	DefaultPutTimeout = 2 * time.Second
)

var (
	// ErrFull is returned when a result could not be enqueued within the put timeout.
	ErrFull = errors.New("result channel full")
	// ErrClosed is returned for results offered after the end-of-stream marker.
	ErrClosed = errors.New("result channel closed")
)

type item struct {
	result types.ProbeResult
	end    bool
}

// Channel is a bounded FIFO of probe results consumed by exactly one writer.
// Producers block for at most the put timeout; Close appends a single
// end-of-stream marker after every result already accepted.
type Channel struct {
	name       string
	items      chan item
	putTimeout time.Duration

	mu     sync.RWMutex
	closed bool

	dropped atomic.Uint64
	events  events.Recorder
	metrics metrics.QueueRecorder
}

type Option func(*Channel)

func WithPutTimeout(d time.Duration) Option {
	return func(c *Channel) {
		if d > 0 {
			c.putTimeout = d
		}
	}
}

func WithEventRecorder(rec events.Recorder) Option {
	return func(c *Channel) {
		if rec != nil {
			c.events = rec
		}
	}
}

func WithMetricsRecorder(rec metrics.QueueRecorder) Option {
	return func(c *Channel) {
		if rec != nil {
			c.metrics = rec
		}
	}
}

func NewChannel(name string, capacity int, opts ...Option) *Channel {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	c := &Channel{
		name:       name,
		items:      make(chan item, capacity),
		putTimeout: DefaultPutTimeout,
		events:     events.NoopRecorder{},
		metrics:    metrics.NoopQueueRecorder{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Channel) Name() string  { return c.name }
func (c *Channel) Len() int      { return len(c.items) }
func (c *Channel) Capacity() int { return cap(c.items) }

func (c *Channel) Dropped() uint64 { return c.dropped.Load() }

// Enqueue offers result to the writer. It returns ErrFull when no slot frees
// up within the put timeout and ErrClosed once Close has been called.
func (c *Channel) Enqueue(ctx context.Context, result types.ProbeResult) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		c.drop(result, ErrClosed)
		return ErrClosed
	}

	select {
	case c.items <- item{result: result}:
		c.metrics.ObserveQueueDepth(len(c.items))
		return nil
	default:
	}

	timer := time.NewTimer(c.putTimeout)
	defer timer.Stop()
	select {
	case c.items <- item{result: result}:
		c.metrics.ObserveQueueDepth(len(c.items))
		return nil
	case <-timer.C:
		c.drop(result, ErrFull)
		return ErrFull
	case <-ctx.Done():
		c.drop(result, ctx.Err())
		return ctx.Err()
	}
}

// Close places the end-of-stream marker. Calls after the first are no-ops.
// It waits for in-flight Enqueue calls and then for a free slot, giving up
// when ctx is done.
func (c *Channel) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	select {
	case c.items <- item{end: true}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Next blocks until a result is available. ok is false at end of stream or
// when ctx is done.
func (c *Channel) Next(ctx context.Context) (types.ProbeResult, bool) {
	select {
	case it := <-c.items:
		c.metrics.ObserveQueueDepth(len(c.items))
		if it.end {
			return types.ProbeResult{}, false
		}
		return it.result, true
	case <-ctx.Done():
		return types.ProbeResult{}, false
	}
}

func (c *Channel) drop(result types.ProbeResult, reason error) {
	c.dropped.Add(1)
	c.metrics.IncQueueDrops()
	c.events.Record(types.Event{
		Type:      types.EventResultDropped,
		Timestamp: time.Now().UTC(),
		JobID:     result.JobID,
		Labels:    map[string]string{"channel": c.name},
		Details:   map[string]any{"reason": reason.Error()},
	})
}
