package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/pingsantohq/satprobe/pkg/types"
)

func TestPlanOffsetsOneShots(t *testing.T) {
	timing := Timing{
		Interval:       time.Second,
		OneShotDelay:   3 * time.Second,
		OneShotSpacing: 2 * time.Second,
		OneShotStagger: 200 * time.Millisecond,
	}
	kinds := []types.Kind{types.KindICMP, types.KindRDNS, types.KindTraceroute}
	specs := Plan("", []string{"a", "b"}, kinds, timing, func(string, types.Kind, string) func(context.Context) { return noop })

	if len(specs) != 6 {
		t.Fatalf("expected 6 jobs got %d", len(specs))
	}
	byID := map[string]JobSpec{}
	for _, s := range specs {
		byID[s.ID] = s
	}
	if s := byID["icmp_a"]; s.Interval != time.Second || s.oneShot() {
		t.Fatalf("icmp should recur every interval: %+v", s)
	}
	if d := byID["rdns_a"].Delay; d != 3500*time.Millisecond {
		t.Fatalf("unexpected rdns delay %v", d)
	}
	if d := byID["rdns_b"].Delay; d != 3700*time.Millisecond {
		t.Fatalf("unexpected staggered rdns delay %v", d)
	}
	if d := byID["traceroute_b"].Delay; d != 5700*time.Millisecond {
		t.Fatalf("unexpected traceroute delay %v", d)
	}
	for _, s := range specs {
		if s.oneShot() && s.Delay%timing.Interval == 0 {
			t.Fatalf("%s lands on an interval tick", s.ID)
		}
	}
}

func TestJobIDCohortPrefix(t *testing.T) {
	if got := JobID("europe", types.KindDNS, "1.1.1.1"); got != "europe_dns_1.1.1.1" {
		t.Fatalf("unexpected id %s", got)
	}
	if got := JobID("", types.KindDNS, "1.1.1.1"); got != "dns_1.1.1.1" {
		t.Fatalf("unexpected id %s", got)
	}
}
