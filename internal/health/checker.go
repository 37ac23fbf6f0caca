package health

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pingsantohq/satprobe/internal/metrics"
)

const defaultCapabilityWindow = time.Minute

const (
	categoryQueuePressure  = "QUEUE_PRESSURE"
	categoryWriterPending  = "WRITER_PENDING"
	categoryWriterStopped  = "WRITER_STOPPED"
	categoryCapabilityLost = "CAPABILITY_ERROR"
)

const (
	severityInfo     = "info"
	severityWarning  = "warning"
	severityCritical = "critical"
)

// Queue is a bounded buffer whose fill level affects readiness.
type Queue interface {
	Name() string
	Len() int
	Capacity() int
}

// Checker evaluates readiness of a probing run.
type Checker struct {
	metrics          *metrics.Store
	capabilityWindow time.Duration

	mu      sync.RWMutex
	queues  []Queue
	writers map[string]bool
}

// NewChecker constructs a readiness checker bound to the provided metrics store.
// A capability error observed within window keeps the run not ready.
func NewChecker(store *metrics.Store, window time.Duration) *Checker {
	if window <= 0 {
		window = defaultCapabilityWindow
	}
	return &Checker{
		metrics:          store,
		capabilityWindow: window,
		writers:          make(map[string]bool),
	}
}

func (c *Checker) WatchQueue(q Queue) {
	c.mu.Lock()
	c.queues = append(c.queues, q)
	c.mu.Unlock()
}

// ObserveWriter records whether the named writer is running.
func (c *Checker) ObserveWriter(name string, running bool) {
	c.mu.Lock()
	c.writers[name] = running
	c.mu.Unlock()
}

// Ready evaluates all readiness conditions and returns the overall status and reasons for failure.
func (c *Checker) Ready(now time.Time) (bool, []string) {
	var reasons []string
	var categories []metrics.ReadinessCategory
	add := func(reason, name, severity string) {
		reasons = append(reasons, reason)
		categories = append(categories, metrics.ReadinessCategory{Name: name, Severity: severity})
	}

	c.mu.RLock()
	queues := append([]Queue(nil), c.queues...)
	stopped := make([]string, 0)
	for name, running := range c.writers {
		if !running {
			stopped = append(stopped, name)
		}
	}
	writerCount := len(c.writers)
	c.mu.RUnlock()

	if writerCount == 0 {
		add("writers not started", categoryWriterPending, severityInfo)
	}
	if len(stopped) > 0 {
		sort.Strings(stopped)
		add(fmt.Sprintf("writers stopped: %s", strings.Join(stopped, ",")), categoryWriterStopped, severityCritical)
	}

	for _, q := range queues {
		if q.Capacity() > 0 && q.Len() >= q.Capacity() {
			add(fmt.Sprintf("queue %s at capacity", q.Name()), categoryQueuePressure, severityWarning)
		}
	}

	if c.metrics != nil {
		if last := c.metrics.Snapshot().LastCapabilityError; !last.IsZero() && now.Sub(last) <= c.capabilityWindow {
			add("probe capability error within "+c.capabilityWindow.String(), categoryCapabilityLost, severityCritical)
		}
	}

	ready := len(reasons) == 0
	if c.metrics != nil {
		c.metrics.ObserveReadiness(ready, strings.Join(reasons, "; "), categories)
	}
	return ready, reasons
}
