package metrics

import "github.com/pingsantohq/satprobe/pkg/types"

type QueueRecorder interface {
	ObserveQueueDepth(depth int)
	IncQueueDrops()
}

type NoopQueueRecorder struct{}

func (NoopQueueRecorder) ObserveQueueDepth(depth int) {}
func (NoopQueueRecorder) IncQueueDrops()              {}

type SchedulerRecorder interface {
	IncDispatched()
	IncOverlapSkipped()
	IncDispatchFailed()
	IncThrottled()
}

type NoopSchedulerRecorder struct{}

func (NoopSchedulerRecorder) IncDispatched()     {}
func (NoopSchedulerRecorder) IncOverlapSkipped() {}
func (NoopSchedulerRecorder) IncDispatchFailed() {}
func (NoopSchedulerRecorder) IncThrottled()      {}

type WorkerRecorder interface {
	IncMisfires()
	ObserveBusyWorkers(n int)
}

type NoopWorkerRecorder struct{}

func (NoopWorkerRecorder) IncMisfires()             {}
func (NoopWorkerRecorder) ObserveBusyWorkers(n int) {}

type ProbeRecorder interface {
	ObserveResult(kind types.Kind, status types.Status)
	IncCapabilityErrors(kind types.Kind)
}

type NoopProbeRecorder struct{}

func (NoopProbeRecorder) ObserveResult(kind types.Kind, status types.Status) {}
func (NoopProbeRecorder) IncCapabilityErrors(kind types.Kind)                {}

type WriterRecorder interface {
	IncWritten(stream string)
	IncWriteFailures(stream string)
	IncAborted()
}

type NoopWriterRecorder struct{}

func (NoopWriterRecorder) IncWritten(stream string)       {}
func (NoopWriterRecorder) IncWriteFailures(stream string) {}
func (NoopWriterRecorder) IncAborted()                    {}
