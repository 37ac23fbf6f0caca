package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pingsantohq/satprobe/pkg/types"
)

// Store maintains in-memory gauges and counters for a probing run.
type Store struct {
	queueDepth          atomic.Int64
	queueDrops          atomic.Uint64
	dispatched          atomic.Uint64
	overlapSkipped      atomic.Uint64
	dispatchFailed      atomic.Uint64
	throttled           atomic.Uint64
	misfires            atomic.Uint64
	busyWorkers         atomic.Int64
	writerAborts        atomic.Uint64
	lastCapabilityError atomic.Int64 // unix nanos, 0 when none
	readinessState      atomic.Int64
	readinessReason     atomic.Value
	readinessCategories atomic.Value
	readyTransitions    atomic.Uint64
	notReadyTransitions atomic.Uint64

	results          labeledCounters // kind, status
	capabilityErrors labeledCounters // kind
	written          labeledCounters // stream
	writeFailures    labeledCounters // stream
}

// ReadinessCategory captures a categorized readiness reason with severity.
type ReadinessCategory struct {
	Name     string
	Severity string
}

// NewStore constructs a Store with zeroed metrics.
func NewStore() *Store {
	store := &Store{}
	store.readinessReason.Store("")
	store.readinessCategories.Store([]ReadinessCategory(nil))
	return store
}

// LabeledCount is one series of a labeled counter.
type LabeledCount struct {
	Labels []string
	Count  uint64
}

type labeledCounters struct {
	m sync.Map // string -> *atomic.Uint64
}

const labelSep = "\x00"

func (l *labeledCounters) inc(labels ...string) {
	key := strings.Join(labels, labelSep)
	if v, ok := l.m.Load(key); ok {
		v.(*atomic.Uint64).Add(1)
		return
	}
	v, _ := l.m.LoadOrStore(key, &atomic.Uint64{})
	v.(*atomic.Uint64).Add(1)
}

func (l *labeledCounters) snapshot() []LabeledCount {
	var out []LabeledCount
	l.m.Range(func(key, value any) bool {
		out = append(out, LabeledCount{
			Labels: strings.Split(key.(string), labelSep),
			Count:  value.(*atomic.Uint64).Load(),
		})
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		return strings.Join(out[i].Labels, labelSep) < strings.Join(out[j].Labels, labelSep)
	})
	return out
}

// Snapshot captures the current metric values in a plain struct.
type Snapshot struct {
	QueueDepth          int64
	QueueDroppedTotal   uint64
	DispatchedTotal     uint64
	OverlapSkippedTotal uint64
	DispatchFailedTotal uint64
	ThrottledTotal      uint64
	MisfireTotal        uint64
	BusyWorkers         int64
	WriterAbortedTotal  uint64
	LastCapabilityError time.Time
	Results             []LabeledCount
	CapabilityErrors    []LabeledCount
	Written             []LabeledCount
	WriteFailures       []LabeledCount
	Ready               bool
	ReadyReason         string
	ReadyTransitions    uint64
	NotReadyTransitions uint64
	ReadyCategories     []ReadinessCategory
}

// ResultsTotal sums result counts across kinds and statuses.
func (s Snapshot) ResultsTotal() uint64 {
	var sum uint64
	for _, c := range s.Results {
		sum += c.Count
	}
	return sum
}

// Snapshot returns a point-in-time copy of the metrics.
func (s *Store) Snapshot() Snapshot {
	readyReason, _ := s.readinessReason.Load().(string)
	rawCategories, _ := s.readinessCategories.Load().([]ReadinessCategory)
	categories := make([]ReadinessCategory, len(rawCategories))
	copy(categories, rawCategories)
	var lastCap time.Time
	if ns := s.lastCapabilityError.Load(); ns != 0 {
		lastCap = time.Unix(0, ns).UTC()
	}
	return Snapshot{
		QueueDepth:          s.queueDepth.Load(),
		QueueDroppedTotal:   s.queueDrops.Load(),
		DispatchedTotal:     s.dispatched.Load(),
		OverlapSkippedTotal: s.overlapSkipped.Load(),
		DispatchFailedTotal: s.dispatchFailed.Load(),
		ThrottledTotal:      s.throttled.Load(),
		MisfireTotal:        s.misfires.Load(),
		BusyWorkers:         s.busyWorkers.Load(),
		WriterAbortedTotal:  s.writerAborts.Load(),
		LastCapabilityError: lastCap,
		Results:             s.results.snapshot(),
		CapabilityErrors:    s.capabilityErrors.snapshot(),
		Written:             s.written.snapshot(),
		WriteFailures:       s.writeFailures.snapshot(),
		Ready:               s.readinessState.Load() == 1,
		ReadyReason:         readyReason,
		ReadyTransitions:    s.readyTransitions.Load(),
		NotReadyTransitions: s.notReadyTransitions.Load(),
		ReadyCategories:     categories,
	}
}

func (s *Store) QueueRecorder() QueueRecorder         { return storeRecorder{s} }
func (s *Store) SchedulerRecorder() SchedulerRecorder { return storeRecorder{s} }
func (s *Store) WorkerRecorder() WorkerRecorder       { return storeRecorder{s} }
func (s *Store) ProbeRecorder() ProbeRecorder         { return storeRecorder{s} }
func (s *Store) WriterRecorder() WriterRecorder       { return storeRecorder{s} }

type storeRecorder struct {
	store *Store
}

func (r storeRecorder) ObserveQueueDepth(depth int) { r.store.queueDepth.Store(int64(depth)) }
func (r storeRecorder) IncQueueDrops()              { r.store.queueDrops.Add(1) }
func (r storeRecorder) IncDispatched()              { r.store.dispatched.Add(1) }
func (r storeRecorder) IncOverlapSkipped()          { r.store.overlapSkipped.Add(1) }
func (r storeRecorder) IncDispatchFailed()          { r.store.dispatchFailed.Add(1) }
func (r storeRecorder) IncThrottled()               { r.store.throttled.Add(1) }
func (r storeRecorder) IncMisfires()                { r.store.misfires.Add(1) }
func (r storeRecorder) ObserveBusyWorkers(n int)    { r.store.busyWorkers.Store(int64(n)) }
func (r storeRecorder) IncAborted()                 { r.store.writerAborts.Add(1) }

func (r storeRecorder) ObserveResult(kind types.Kind, status types.Status) {
	r.store.results.inc(string(kind), string(status))
}

func (r storeRecorder) IncCapabilityErrors(kind types.Kind) {
	r.store.capabilityErrors.inc(string(kind))
	r.store.lastCapabilityError.Store(time.Now().UnixNano())
}

func (r storeRecorder) IncWritten(stream string)       { r.store.written.inc(stream) }
func (r storeRecorder) IncWriteFailures(stream string) { r.store.writeFailures.inc(stream) }

// ObserveReadiness records the latest readiness evaluation and counts state transitions.
func (s *Store) ObserveReadiness(ready bool, reason string, categories []ReadinessCategory) {
	prev := s.readinessState.Swap(boolToInt(ready))
	if ready {
		if prev == 0 {
			s.readyTransitions.Add(1)
		}
		s.readinessReason.Store("")
		s.readinessCategories.Store([]ReadinessCategory(nil))
		return
	}
	if prev == 1 {
		s.notReadyTransitions.Add(1)
	}
	s.readinessReason.Store(reason)
	s.readinessCategories.Store(dedupeCategories(categories))
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func dedupeCategories(categories []ReadinessCategory) []ReadinessCategory {
	if len(categories) == 0 {
		return nil
	}
	seen := make(map[ReadinessCategory]struct{}, len(categories))
	result := make([]ReadinessCategory, 0, len(categories))
	for _, c := range categories {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			continue
		}
		cat := ReadinessCategory{Name: name, Severity: normalizeSeverity(c.Severity)}
		if _, ok := seen[cat]; ok {
			continue
		}
		seen[cat] = struct{}{}
		result = append(result, cat)
	}
	return result
}

func normalizeSeverity(severity string) string {
	switch severity = strings.TrimSpace(strings.ToLower(severity)); severity {
	case "":
		return "unknown"
	case "info", "informational":
		return "info"
	case "warn", "warning":
		return "warning"
	case "critical", "crit":
		return "critical"
	default:
		return severity
	}
}

const prefix = "satprobe_"

type promWriter struct {
	w   io.Writer
	err error
}

func (p *promWriter) line(format string, args ...any) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format+"\n", args...)
}

func (p *promWriter) header(name, kind, help string) {
	p.line("# HELP %s%s %s", prefix, name, help)
	p.line("# TYPE %s%s %s", prefix, name, kind)
}

func (p *promWriter) scalar(name, kind, help string, value any) {
	p.header(name, kind, help)
	p.line("%s%s %v", prefix, name, value)
}

func (p *promWriter) labeled(name, help string, keys []string, counts []LabeledCount) {
	p.header(name, "counter", help)
	for _, c := range counts {
		pairs := make([]string, 0, len(keys))
		for i, k := range keys {
			v := ""
			if i < len(c.Labels) {
				v = c.Labels[i]
			}
			pairs = append(pairs, fmt.Sprintf("%s=%q", k, v))
		}
		p.line("%s%s{%s} %d", prefix, name, strings.Join(pairs, ","), c.Count)
	}
}

// WritePrometheus renders the current metrics using the Prometheus text format.
func (s *Store) WritePrometheus(w io.Writer) error {
	snap := s.Snapshot()
	reason := snap.ReadyReason
	switch {
	case snap.Ready:
		reason = "ready"
	case reason == "":
		reason = "unknown"
	}

	p := &promWriter{w: w}
	p.scalar("queue_depth_number", "gauge", "Number of probe results buffered ahead of the writers.", snap.QueueDepth)
	p.scalar("queue_dropped_total", "counter", "Total probe results dropped because the result channel stayed full.", snap.QueueDroppedTotal)
	p.scalar("jobs_dispatched_total", "counter", "Total probe jobs handed to the worker pool.", snap.DispatchedTotal)
	p.scalar("jobs_overlap_skipped_total", "counter", "Total firings skipped because the previous run of the job was still active.", snap.OverlapSkippedTotal)
	p.scalar("jobs_dispatch_failed_total", "counter", "Total firings dropped because the worker backlog was full.", snap.DispatchFailedTotal)
	p.scalar("jobs_throttled_total", "counter", "Total firings deferred by the global rate limit.", snap.ThrottledTotal)
	p.scalar("jobs_misfired_total", "counter", "Total jobs started later than the misfire grace.", snap.MisfireTotal)
	p.scalar("workers_busy_number", "gauge", "Workers currently executing a probe.", snap.BusyWorkers)
	p.labeled("results_total", "Probe results produced, by kind and status.", []string{"kind", "status"}, snap.Results)
	p.labeled("capability_errors_total", "Probes rejected for missing privileges, by kind.", []string{"kind"}, snap.CapabilityErrors)
	p.labeled("records_written_total", "Records persisted, by output stream.", []string{"stream"}, snap.Written)
	p.labeled("write_failures_total", "Records that failed to persist, by output stream.", []string{"stream"}, snap.WriteFailures)
	p.scalar("writer_aborted_total", "counter", "Writers aborted after the drain grace expired.", snap.WriterAbortedTotal)
	p.scalar("ready", "gauge", "Whether the run considers itself ready (1=ready).", boolToInt(snap.Ready))
	p.header("ready_info", "gauge", "Reason associated with the most recent readiness evaluation.")
	p.line("%sready_info{reason=%q} 1", prefix, reason)
	p.header("ready_transitions_total", "counter", "Count of readiness state transitions by resulting state.")
	p.line("%sready_transitions_total{state=%q} %d", prefix, "ready", snap.ReadyTransitions)
	p.line("%sready_transitions_total{state=%q} %d", prefix, "not_ready", snap.NotReadyTransitions)
	p.header("ready_categories_info", "gauge", "Categories associated with the most recent readiness evaluation.")
	if len(snap.ReadyCategories) == 0 {
		p.line("%sready_categories_info{category=%q,severity=%q} 1", prefix, "none", "none")
	}
	cats := append([]ReadinessCategory(nil), snap.ReadyCategories...)
	sort.Slice(cats, func(i, j int) bool {
		if cats[i].Name == cats[j].Name {
			return cats[i].Severity < cats[j].Severity
		}
		return cats[i].Name < cats[j].Name
	})
	for _, cat := range cats {
		p.line("%sready_categories_info{category=%q,severity=%q} 1", prefix, cat.Name, cat.Severity)
	}
	return p.err
}

// NewHTTPHandler returns an http.Handler that serves Prometheus formatted metrics.
func NewHTTPHandler(store *Store) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		if r.Method == http.MethodHead {
			return
		}
		if err := store.WritePrometheus(w); err != nil {
			http.Error(w, "metrics unavailable", http.StatusInternalServerError)
		}
	})
}
