// Package task lays out the per-run output directory and its manifest.
package task

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/pingsantohq/satprobe/internal/config"
)

const (
	ConfigSnapshotFile  = "config.yaml"
	TargetsSnapshotFile = "targets.txt"
	ManifestFile        = "run.yaml"
	LogFile             = "task.log"

	dirTimeLayout = "20060102T150405"
)

type Mode string

const (
	ModeSingle Mode = "single"
	ModeCohort Mode = "cohort"
)

// Shutdown reasons recorded in the manifest.
const (
	ReasonDurationComplete = "duration-complete"
	ReasonSignal           = "signal"
	ReasonError            = "error"
)

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// Manifest describes one run. It is written when the run starts and
// rewritten when it stops.
type Manifest struct {
	RunID          string         `yaml:"run_id"`
	TaskName       string         `yaml:"task_name"`
	Mode           Mode           `yaml:"mode"`
	Targets        int            `yaml:"targets"`
	Cohorts        []string       `yaml:"cohorts,omitempty"`
	Kinds          []string       `yaml:"kinds"`
	StartedAt      time.Time      `yaml:"started_at"`
	StoppedAt      *time.Time     `yaml:"stopped_at,omitempty"`
	ShutdownReason string         `yaml:"shutdown_reason,omitempty"`
	Counts         map[string]int `yaml:"counts,omitempty"`
}

// Task is the output directory of one run.
type Task struct {
	Dir      string
	Manifest Manifest
	log      *os.File
}

// Spec carries what Create needs to know about the run.
type Spec struct {
	Config     config.Config
	Mode       Mode
	Targets    []string
	Cohorts    []string
	TargetFile string
	Now        time.Time
}

// DirName builds <task_name>_<first target>_<YYYYMMDDTHHMMSS>.
func DirName(taskName, firstTarget string, now time.Time) string {
	parts := []string{sanitize(taskName)}
	if firstTarget != "" {
		parts = append(parts, sanitize(firstTarget))
	}
	parts = append(parts, now.Format(dirTimeLayout))
	return strings.Join(parts, "_")
}

func sanitize(s string) string {
	return unsafeNameChars.ReplaceAllString(strings.TrimSpace(s), "_")
}

// Create makes the task directory, snapshots the configuration and target list,
// writes the initial manifest and opens the task log.
func Create(spec Spec) (*Task, error) {
	if spec.Now.IsZero() {
		spec.Now = time.Now()
	}
	first := ""
	if len(spec.Targets) > 0 {
		first = spec.Targets[0]
	}
	dir := filepath.Join(spec.Config.General.OutputDir, DirName(spec.Config.General.TaskName, first, spec.Now))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create task dir %q: %w", dir, err)
	}

	if err := config.WriteSnapshot(filepath.Join(dir, ConfigSnapshotFile), spec.Config); err != nil {
		return nil, err
	}
	if err := snapshotTargets(filepath.Join(dir, TargetsSnapshotFile), spec.TargetFile, spec.Targets); err != nil {
		return nil, err
	}

	kinds := make([]string, 0, len(spec.Config.EnabledKinds()))
	for _, k := range spec.Config.EnabledKinds() {
		kinds = append(kinds, string(k))
	}
	t := &Task{
		Dir: dir,
		Manifest: Manifest{
			RunID:     uuid.NewString(),
			TaskName:  spec.Config.General.TaskName,
			Mode:      spec.Mode,
			Targets:   len(spec.Targets),
			Cohorts:   spec.Cohorts,
			Kinds:     kinds,
			StartedAt: spec.Now.UTC(),
		},
	}
	if err := t.writeManifest(); err != nil {
		return nil, err
	}

	logPath := filepath.Join(dir, LogFile)
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open task log %q: %w", logPath, err)
	}
	t.log = f
	return t, nil
}

// snapshotTargets copies the source list verbatim when available so comments
// and cohort headers survive; otherwise it writes the parsed targets.
func snapshotTargets(dst, src string, targets []string) error {
	if src != "" {
		if data, err := os.ReadFile(filepath.Clean(src)); err == nil {
			return config.WriteFileAtomic(dst, data)
		}
	}
	if len(targets) == 0 {
		return nil
	}
	return config.WriteFileAtomic(dst, []byte(strings.Join(targets, "\n")+"\n"))
}

// Log returns the task log file for use as an extra log destination.
func (t *Task) Log() *os.File { return t.log }

// Finish records the stop time, reason and counts in the manifest and closes the task log.
func (t *Task) Finish(reason string, stoppedAt time.Time, counts map[string]int) error {
	stopped := stoppedAt.UTC()
	t.Manifest.StoppedAt = &stopped
	t.Manifest.ShutdownReason = reason
	t.Manifest.Counts = counts
	err := t.writeManifest()
	if t.log != nil {
		if cerr := t.log.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close task log: %w", cerr)
		}
		t.log = nil
	}
	return err
}

func (t *Task) writeManifest() error {
	data, err := yaml.Marshal(t.Manifest)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	return config.WriteFileAtomic(filepath.Join(t.Dir, ManifestFile), data)
}

// ReadManifest loads the manifest of the task in dir.
func ReadManifest(dir string) (Manifest, error) {
	var m Manifest
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return m, fmt.Errorf("read manifest: %w", err)
	}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("parse manifest: %w", err)
	}
	return m, nil
}
