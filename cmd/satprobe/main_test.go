package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pingsantohq/satprobe/internal/metrics"
	"github.com/pingsantohq/satprobe/internal/probe"
	"github.com/pingsantohq/satprobe/internal/runtime"
	"github.com/pingsantohq/satprobe/internal/task"
	"github.com/pingsantohq/satprobe/pkg/types"
)

type echoProbe struct {
	kind   types.Kind
	target string
}

func (p echoProbe) Kind() types.Kind { return p.kind }
func (p echoProbe) Target() string   { return p.target }

func (p echoProbe) Probe(context.Context) (probe.Outcome, error) {
	rtt := 2.0
	return probe.Outcome{RTT: &rtt, Status: types.StatusSuccess}, nil
}

func echoFactory(kind types.Kind, target string) (probe.Probe, error) {
	return echoProbe{kind: kind, target: target}, nil
}

const testConfig = `general:
  task_name: smoke
  target_file: targets.txt
  cohort_file: cohorts.txt
  output_dir: out
  worker_threads: 2
scheduler:
  probe_interval: 20ms
  run_duration: 1h
  tick_resolution: 5ms
  pool_stop_timeout: 1s
icmp:
  enabled: true
writer:
  drain_grace: 1s
`

func writeFixture(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"satprobe.yaml": testConfig,
		"targets.txt":   "# lab\n192.0.2.1\n",
		"cohorts.txt":   "[ground]\n192.0.2.1\n[satellite]\n198.51.100.7\n",
	}
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return dir
}

func execute(t *testing.T, args ...string) {
	t.Helper()
	cmd := newRootCmd(&app{newProbe: echoFactory})
	cmd.SetArgs(args)
	if err := cmd.Execute(); err != nil {
		t.Fatalf("satprobe %s: %v", strings.Join(args, " "), err)
	}
}

func onlyTaskDir(t *testing.T, out string) string {
	t.Helper()
	entries, err := os.ReadDir(out)
	if err != nil {
		t.Fatalf("read output dir: %v", err)
	}
	if len(entries) != 1 || !entries[0].IsDir() {
		t.Fatalf("expected one task directory, got %d entries", len(entries))
	}
	return filepath.Join(out, entries[0].Name())
}

func TestRunCommandWritesTask(t *testing.T) {
	dir := writeFixture(t)
	execute(t, "run", "--config", filepath.Join(dir, "satprobe.yaml"), "--duration", "100ms")

	taskDir := onlyTaskDir(t, filepath.Join(dir, "out"))
	if !strings.HasPrefix(filepath.Base(taskDir), "smoke_192.0.2.1_") {
		t.Fatalf("unexpected task dir name %s", filepath.Base(taskDir))
	}

	m, err := task.ReadManifest(taskDir)
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	if m.Mode != task.ModeSingle || m.ShutdownReason != task.ReasonDurationComplete || m.StoppedAt == nil {
		t.Fatalf("unexpected manifest %+v", m)
	}
	if m.Counts["results"] == 0 || m.Counts["icmp_success"] != m.Counts["results"] {
		t.Fatalf("unexpected counts %v", m.Counts)
	}

	data, err := os.ReadFile(filepath.Join(taskDir, "raw_data.jsonl"))
	if err != nil {
		t.Fatalf("read results: %v", err)
	}
	if lines := strings.Count(string(data), "\n"); lines != m.Counts["results"] {
		t.Fatalf("file has %d records, manifest counts %d", lines, m.Counts["results"])
	}
	snapshot, err := os.ReadFile(filepath.Join(taskDir, task.TargetsSnapshotFile))
	if err != nil || !strings.Contains(string(snapshot), "# lab") {
		t.Fatalf("target snapshot not copied verbatim: %q %v", snapshot, err)
	}
	if _, err := os.Stat(filepath.Join(taskDir, task.LogFile)); err != nil {
		t.Fatalf("task log missing: %v", err)
	}
}

func TestMassCommandWritesCohorts(t *testing.T) {
	dir := writeFixture(t)
	out := filepath.Join(t.TempDir(), "mass")
	execute(t, "mass", "--config", filepath.Join(dir, "satprobe.yaml"), "--duration", "80ms", "--output", out)

	taskDir := onlyTaskDir(t, out)
	for _, path := range []string{
		filepath.Join(taskDir, "ground", "192.0.2.1.csv"),
		filepath.Join(taskDir, "satellite", "198.51.100.7.csv"),
	} {
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("read %s: %v", path, err)
		}
		if !strings.HasPrefix(string(data), "timestamp,target,probe_kind,rtt,status\n") {
			t.Fatalf("missing header in %s", path)
		}
	}
	m, err := task.ReadManifest(taskDir)
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	if m.Mode != task.ModeCohort || len(m.Cohorts) != 2 {
		t.Fatalf("unexpected manifest %+v", m)
	}
}

func TestMissingConfigFails(t *testing.T) {
	cmd := newRootCmd(&app{})
	cmd.SetArgs([]string{"run", "--config", filepath.Join(t.TempDir(), "absent.yaml")})
	if err := cmd.Execute(); err == nil {
		t.Fatalf("expected error for missing config")
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	dir := writeFixture(t)
	a := &app{configPath: filepath.Join(dir, "satprobe.yaml"), duration: 5 * time.Second, output: "/tmp/elsewhere"}
	cfg, err := a.loadConfig(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Scheduler.RunDuration != 5*time.Second || cfg.General.OutputDir != "/tmp/elsewhere" {
		t.Fatalf("overrides not applied: %+v", cfg.General)
	}
	if cfg.General.TargetFile != filepath.Join(dir, "targets.txt") {
		t.Fatalf("target file not resolved against config dir: %s", cfg.General.TargetFile)
	}
}

func TestCounts(t *testing.T) {
	store := metrics.NewStore()
	rec := store.ProbeRecorder()
	rec.ObserveResult(types.KindDNS, types.StatusTimeout)
	rec.ObserveResult(types.KindDNS, types.StatusSuccess)

	got := counts(store.Snapshot(), runtime.Summary{Dropped: 2, Aborted: []string{"results"}})
	if got["results"] != 2 || got["dns_timeout"] != 1 || got["dropped"] != 2 || got["writers_aborted"] != 1 {
		t.Fatalf("unexpected counts %v", got)
	}
}
