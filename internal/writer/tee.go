package writer

import (
	"context"
	"errors"

	"github.com/pingsantohq/satprobe/pkg/types"
)

// Tee writes every result to all sinks. A failing sink does not stop the others.
type Tee []Sink

func (t Tee) Write(ctx context.Context, result types.ProbeResult) error {
	var errs []error
	for _, s := range t {
		if err := s.Write(ctx, result); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (t Tee) Close() error {
	var errs []error
	for _, s := range t {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
