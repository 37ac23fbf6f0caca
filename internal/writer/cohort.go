package writer

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"github.com/pingsantohq/satprobe/pkg/types"
)

var csvHeader = []string{"timestamp", "target", "probe_kind", "rtt", "status"}

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// TargetFileName maps a target to a file name safe on every platform.
func TargetFileName(target string) string {
	return unsafeFileChars.ReplaceAllString(target, "_") + ".csv"
}

// disambiguatedFileName is used when another target already owns the plain
// name, e.g. host:1 after host_1.
func disambiguatedFileName(target string) string {
	h := fnv.New32a()
	h.Write([]byte(target))
	return fmt.Sprintf("%s-%08x.csv", unsafeFileChars.ReplaceAllString(target, "_"), h.Sum32())
}

// CohortSink writes one CSV file per target under dir, opened on first use.
// Distinct targets never share a file.
type CohortSink struct {
	dir    string
	files  map[string]*os.File // by file name
	names  map[string]string   // target -> file name
	owners map[string]string   // file name -> target
}

func NewCohortSink(dir string) (*CohortSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure cohort dir %q: %w", dir, err)
	}
	return &CohortSink{
		dir:    dir,
		files:  make(map[string]*os.File),
		names:  make(map[string]string),
		owners: make(map[string]string),
	}, nil
}

func (s *CohortSink) Write(ctx context.Context, result types.ProbeResult) error {
	f, isNew, err := s.file(result.Target)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if isNew {
		if err := w.Write(csvHeader); err != nil {
			return err
		}
	}
	if err := w.Write(csvRow(result)); err != nil {
		return err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("encode csv row: %w", err)
	}
	return appendSync(f, buf.Bytes())
}

func csvRow(r types.ProbeResult) []string {
	rtt := ""
	if r.RTT != nil {
		rtt = strconv.FormatFloat(*r.RTT, 'f', -1, 64)
	}
	return []string{
		r.Timestamp.UTC().Format(time.RFC3339Nano),
		r.Target,
		string(r.Kind),
		rtt,
		string(r.Status),
	}
}

// file returns the open file for target and whether it still needs a header.
func (s *CohortSink) file(target string) (*os.File, bool, error) {
	if name, ok := s.names[target]; ok {
		return s.files[name], false, nil
	}
	name, err := s.claim(target)
	if err != nil {
		return nil, false, err
	}
	path := filepath.Join(s.dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, false, fmt.Errorf("open %q: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, false, fmt.Errorf("stat %q: %w", path, err)
	}
	s.names[target] = name
	s.owners[name] = target
	s.files[name] = f
	return f, info.Size() == 0, nil
}

func (s *CohortSink) claim(target string) (string, error) {
	for _, name := range []string{TargetFileName(target), disambiguatedFileName(target)} {
		if _, taken := s.owners[name]; !taken {
			return name, nil
		}
	}
	return "", fmt.Errorf("no free file name for target %q", target)
}

func (s *CohortSink) Close() error {
	var errs []error
	for name, f := range s.files {
		if err := f.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	clear(s.files)
	clear(s.names)
	clear(s.owners)
	return errors.Join(errs...)
}
