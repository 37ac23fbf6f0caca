package probe

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-ping/ping"

	"github.com/pingsantohq/satprobe/pkg/types"
)

type ICMPOptions struct {
	Timeout    time.Duration
	PacketSize int
	Privileged bool
}

type pinger interface {
	Run() error
	Stop()
	Statistics() *ping.Statistics
}

type pingerFactory func(target string, opts ICMPOptions) (pinger, error)

func newPinger(target string, opts ICMPOptions) (pinger, error) {
	p, err := ping.NewPinger(target)
	if err != nil {
		return nil, err
	}
	p.Count = 1
	p.Timeout = opts.Timeout
	p.Size = opts.PacketSize
	p.SetPrivileged(opts.Privileged)
	return p, nil
}

// ICMP sends a single echo request.
type ICMP struct {
	target    string
	opts      ICMPOptions
	newPinger pingerFactory
}

func NewICMP(target string, opts ICMPOptions) *ICMP {
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Second
	}
	return &ICMP{target: target, opts: opts, newPinger: newPinger}
}

func (p *ICMP) Kind() types.Kind { return types.KindICMP }
func (p *ICMP) Target() string   { return p.target }

func (p *ICMP) Probe(ctx context.Context) (Outcome, error) {
	pg, err := p.newPinger(p.target, p.opts)
	if err != nil {
		return failed(fmt.Errorf("prepare echo request: %w", err), nil), nil
	}

	done := make(chan error, 1)
	go func() {
		done <- pg.Run()
	}()

	select {
	case err = <-done:
	case <-ctx.Done():
		pg.Stop()
		err = <-done
	}

	if err != nil {
		if errors.Is(err, os.ErrPermission) {
			return Outcome{}, &CapabilityError{Kind: types.KindICMP, Err: err}
		}
		return failed(err, nil), nil
	}

	stats := pg.Statistics()
	if stats == nil || stats.PacketsRecv == 0 {
		return timedOut(nil), nil
	}
	rtt := stats.AvgRtt
	if len(stats.Rtts) > 0 {
		rtt = stats.Rtts[0]
	}
	return success(types.Milliseconds(rtt), nil), nil
}
