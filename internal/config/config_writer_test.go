package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestWriteSnapshot(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "task", "config.yaml")

	cfg := Default()
	cfg.ICMP.Enabled = true
	cfg.General.TaskName = "snapshot"

	if err := WriteSnapshot(path, cfg); err != nil {
		t.Fatalf("WriteSnapshot returned error: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat snapshot: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o640 {
		t.Fatalf("expected perms 0640 got %v", perm)
	}

	reloaded, err := Load(context.Background(), path)
	if err != nil {
		t.Fatalf("reload snapshot: %v", err)
	}
	if reloaded.General.TaskName != "snapshot" || !reloaded.ICMP.Enabled {
		t.Fatalf("snapshot did not preserve settings: %+v", reloaded.General)
	}
	if reloaded.Scheduler.ProbeInterval != cfg.Scheduler.ProbeInterval {
		t.Fatalf("expected interval %s got %s", cfg.Scheduler.ProbeInterval, reloaded.Scheduler.ProbeInterval)
	}
}

func TestWriteFileAtomicNoData(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	if err := WriteFileAtomic(path, nil); err != nil {
		t.Fatalf("expected nil error")
	}
	if _, err := os.Stat(path); err == nil {
		t.Fatalf("expected no file created")
	}
}
