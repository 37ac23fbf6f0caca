package probe

import (
	"context"
	"errors"
	"fmt"

	"github.com/pingsantohq/satprobe/pkg/types"
)

// Probe performs exactly one network measurement against its target.
//
// A returned error means the probe could not produce an outcome at all; the
// runner converts it into an error result. Expected failures (no reply, bad
// rcode, unparseable output) are reported through Outcome.Status instead.
type Probe interface {
	Kind() types.Kind
	Target() string
	Probe(ctx context.Context) (Outcome, error)
}

type Outcome struct {
	RTT      *float64
	Status   types.Status
	Metadata map[string]any
}

// ErrCapability marks failures caused by missing process privileges rather
// than by the probed network path.
var ErrCapability = errors.New("insufficient capability")

type CapabilityError struct {
	Kind types.Kind
	Err  error
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("%s probe lacks required privilege: %v", e.Kind, e.Err)
}

func (e *CapabilityError) Unwrap() []error {
	return []error{ErrCapability, e.Err}
}

func success(rtt *float64, md map[string]any) Outcome {
	return Outcome{RTT: rtt, Status: types.StatusSuccess, Metadata: ensure(md)}
}

func timedOut(md map[string]any) Outcome {
	return Outcome{Status: types.StatusTimeout, Metadata: ensure(md)}
}

func failed(err error, md map[string]any) Outcome {
	md = ensure(md)
	md["error_message"] = err.Error()
	return Outcome{Status: types.StatusError, Metadata: md}
}

func ensure(md map[string]any) map[string]any {
	if md == nil {
		return map[string]any{}
	}
	return md
}
