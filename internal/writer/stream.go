package writer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pingsantohq/satprobe/pkg/types"
)

const (
	RawDataFile        = "raw_data.jsonl"
	RDNSDataFile       = "rdns_data.jsonl"
	TracerouteDataFile = "traceroute_data.jsonl"
)

// StreamFile returns the JSON Lines file a result of kind is appended to.
func StreamFile(kind types.Kind) (string, error) {
	switch kind {
	case types.KindICMP, types.KindDNS:
		return RawDataFile, nil
	case types.KindRDNS:
		return RDNSDataFile, nil
	case types.KindTraceroute:
		return TracerouteDataFile, nil
	default:
		return "", fmt.Errorf("no stream for probe kind %q", kind)
	}
}

// StreamSink appends results as JSON Lines, one file per stream, under dir.
type StreamSink struct {
	dir   string
	files map[string]*os.File
}

func NewStreamSink(dir string) (*StreamSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure output dir %q: %w", dir, err)
	}
	return &StreamSink{dir: dir, files: make(map[string]*os.File)}, nil
}

func (s *StreamSink) Write(ctx context.Context, result types.ProbeResult) error {
	name, err := StreamFile(result.Kind)
	if err != nil {
		return err
	}
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	f, err := s.file(name)
	if err != nil {
		return err
	}
	return appendSync(f, append(data, '\n'))
}

func (s *StreamSink) file(name string) (*os.File, error) {
	if f, ok := s.files[name]; ok {
		return f, nil
	}
	path := filepath.Join(s.dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", path, err)
	}
	s.files[name] = f
	return f, nil
}

func (s *StreamSink) Close() error {
	var errs []error
	for name, f := range s.files {
		if err := f.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
		delete(s.files, name)
	}
	return errors.Join(errs...)
}

func appendSync(f *os.File, record []byte) error {
	if _, err := f.Write(record); err != nil {
		return fmt.Errorf("write %q: %w", f.Name(), err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync %q: %w", f.Name(), err)
	}
	return nil
}
