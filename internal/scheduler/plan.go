package scheduler

import (
	"context"
	"time"

	"github.com/pingsantohq/satprobe/pkg/types"
)

type Timing struct {
	Interval       time.Duration
	OneShotDelay   time.Duration
	OneShotSpacing time.Duration
	OneShotStagger time.Duration
}

// RunFunc builds the execution body for job id probing target with kind.
type RunFunc func(id string, kind types.Kind, target string) func(ctx context.Context)

// Plan derives one job per target and kind. Recurring kinds fire every
// Interval. One-shot kinds are offset by half an interval so they never land
// on a recurring tick: rdns after OneShotDelay, traceroute OneShotSpacing
// later, and each successive target a further OneShotStagger apart.
func Plan(prefix string, targets []string, kinds []types.Kind, t Timing, run RunFunc) []JobSpec {
	specs := make([]JobSpec, 0, len(targets)*len(kinds))
	base := t.OneShotDelay + t.Interval/2
	for _, kind := range kinds {
		for i, target := range targets {
			id := JobID(prefix, kind, target)
			spec := JobSpec{
				ID:     id,
				Kind:   kind,
				Target: target,
				Run:    run(id, kind, target),
			}
			stagger := time.Duration(i) * t.OneShotStagger
			switch kind {
			case types.KindRDNS:
				spec.Delay = base + stagger
			case types.KindTraceroute:
				spec.Delay = base + t.OneShotSpacing + stagger
			default:
				spec.Interval = t.Interval
			}
			specs = append(specs, spec)
		}
	}
	return specs
}

// JobID is kind_target, prefixed with the cohort name in cohort mode.
func JobID(prefix string, kind types.Kind, target string) string {
	id := string(kind) + "_" + target
	if prefix != "" {
		id = prefix + "_" + id
	}
	return id
}
