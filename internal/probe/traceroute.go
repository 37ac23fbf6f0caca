package probe

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strconv"
	"time"

	"github.com/pingsantohq/satprobe/pkg/types"
)

type TracerouteOptions struct {
	// Timeout is the wait per hop query.
	Timeout       time.Duration
	MaxHops       int
	QueriesPerHop int
	// Binary overrides the platform tool (traceroute or tracert).
	Binary string
}

// CommandRunner executes a subprocess and returns its combined output.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	return cmd.CombinedOutput()
}

// Traceroute runs the platform path tracing tool once and records the hop list.
type Traceroute struct {
	target string
	opts   TracerouteOptions
	goos   string
	run    CommandRunner
}

func NewTraceroute(target string, opts TracerouteOptions) *Traceroute {
	if opts.Timeout <= 0 {
		opts.Timeout = 3 * time.Second
	}
	if opts.MaxHops <= 0 {
		opts.MaxHops = 20
	}
	if opts.QueriesPerHop <= 0 {
		opts.QueriesPerHop = 3
	}
	return &Traceroute{target: target, opts: opts, goos: runtime.GOOS, run: runCommand}
}

func (p *Traceroute) Kind() types.Kind { return types.KindTraceroute }
func (p *Traceroute) Target() string   { return p.target }

// OverallTimeout bounds the whole subprocess:
// max(10s, per_hop × max_hops × (queries_per_hop+1) + 5s), truncated to whole seconds.
func OverallTimeout(perHop time.Duration, maxHops, queriesPerHop int) time.Duration {
	secs := int(perHop.Seconds()*float64(maxHops*(queriesPerHop+1)) + 5)
	if secs < 10 {
		secs = 10
	}
	return time.Duration(secs) * time.Second
}

func (p *Traceroute) command() (string, []string) {
	if p.goos == "windows" {
		name := p.opts.Binary
		if name == "" {
			name = "tracert"
		}
		return name, []string{
			"-d",
			"-h", strconv.Itoa(p.opts.MaxHops),
			"-w", strconv.Itoa(int(p.opts.Timeout / time.Millisecond)),
			p.target,
		}
	}
	name := p.opts.Binary
	if name == "" {
		name = "traceroute"
	}
	return name, []string{
		"-n",
		"-m", strconv.Itoa(p.opts.MaxHops),
		"-w", strconv.FormatFloat(p.opts.Timeout.Seconds(), 'f', -1, 64),
		"-q", strconv.Itoa(p.opts.QueriesPerHop),
		p.target,
	}
}

func (p *Traceroute) Probe(ctx context.Context) (Outcome, error) {
	overall := OverallTimeout(p.opts.Timeout, p.opts.MaxHops, p.opts.QueriesPerHop)
	ctx, cancel := context.WithTimeout(ctx, overall)
	defer cancel()

	name, args := p.command()
	output, err := p.run(ctx, name, args...)
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return timedOut(map[string]any{"overall_timeout_s": overall.Seconds()}), nil
	}

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.As(err, &exitErr):
			exitCode = exitErr.ExitCode()
		case errors.Is(err, exec.ErrNotFound):
			return failed(fmt.Errorf("%s not found in PATH", name), nil), nil
		default:
			return failed(err, nil), nil
		}
	}

	hops := ParseHops(string(output))
	md := map[string]any{
		"hops":                hops,
		"destination_reached": destinationReached(hops, p.target),
		"exit_code":           exitCode,
	}
	if len(hops) == 0 {
		return failed(errors.New("no hops parsed from traceroute output"), md), nil
	}
	return success(nil, md), nil
}
