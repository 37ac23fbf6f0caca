package health

import (
	"strings"
	"testing"
	"time"

	"github.com/pingsantohq/satprobe/internal/metrics"
	"github.com/pingsantohq/satprobe/pkg/types"
)

type fakeQueue struct {
	name     string
	len, cap int
}

func (f *fakeQueue) Name() string  { return f.name }
func (f *fakeQueue) Len() int      { return f.len }
func (f *fakeQueue) Capacity() int { return f.cap }

func TestCheckerReadyConditions(t *testing.T) {
	store := metrics.NewStore()
	checker := NewChecker(store, 30*time.Second)
	now := time.Now()

	ready, reasons := checker.Ready(now)
	if ready || len(reasons) != 1 || reasons[0] != "writers not started" {
		t.Fatalf("unexpected readiness %v %v", ready, reasons)
	}
	if !containsCategoryWithSeverity(store.Snapshot().ReadyCategories, categoryWriterPending, severityInfo) {
		t.Fatalf("expected WRITER_PENDING category")
	}

	q := &fakeQueue{name: "raw", cap: 4}
	checker.WatchQueue(q)
	checker.ObserveWriter("raw", true)
	if ready, reasons = checker.Ready(now); !ready {
		t.Fatalf("expected ready, got %v", reasons)
	}

	q.len = 4
	ready, reasons = checker.Ready(now)
	if ready || reasons[0] != "queue raw at capacity" {
		t.Fatalf("expected queue pressure, got %v", reasons)
	}
	snap := store.Snapshot()
	if !containsCategoryWithSeverity(snap.ReadyCategories, categoryQueuePressure, severityWarning) {
		t.Fatalf("expected QUEUE_PRESSURE category, got %+v", snap.ReadyCategories)
	}
	if snap.ReadyTransitions != 1 || snap.NotReadyTransitions != 1 {
		t.Fatalf("unexpected transitions %+v", snap)
	}

	q.len = 0
	checker.ObserveWriter("raw", false)
	ready, reasons = checker.Ready(now)
	if ready || !strings.Contains(reasons[0], "writers stopped: raw") {
		t.Fatalf("expected stopped writer reason, got %v", reasons)
	}
}

func TestCheckerCapabilityWindow(t *testing.T) {
	store := metrics.NewStore()
	checker := NewChecker(store, time.Minute)
	checker.ObserveWriter("raw", true)

	store.ProbeRecorder().IncCapabilityErrors(types.KindICMP)
	ready, reasons := checker.Ready(time.Now())
	if ready {
		t.Fatalf("expected not ready after capability error")
	}
	if !containsCategoryWithSeverity(store.Snapshot().ReadyCategories, categoryCapabilityLost, severityCritical) {
		t.Fatalf("expected CAPABILITY_ERROR category, got %v", reasons)
	}

	if ready, _ = checker.Ready(time.Now().Add(2 * time.Minute)); !ready {
		t.Fatalf("expected ready once capability error ages out")
	}
}

func containsCategoryWithSeverity(categories []metrics.ReadinessCategory, name, severity string) bool {
	for _, c := range categories {
		if c.Name == name && c.Severity == severity {
			return true
		}
	}
	return false
}
