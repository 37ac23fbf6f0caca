package worker

import (
	"context"
	"time"

	"github.com/pingsantohq/satprobe/pkg/types"
)

// Job is one dispatched execution of a scheduled probe.
type Job struct {
	ID           string
	Kind         types.Kind
	Target       string
	ScheduledFor time.Time
	// Run performs the probe and delivers its result.
	Run func(ctx context.Context)
	// Done is called exactly once when the job finishes or is discarded.
	Done func()
}

func (j Job) release() {
	if j.Done != nil {
		j.Done()
	}
}
