package probe

import (
	"context"
	"os/exec"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/pingsantohq/satprobe/pkg/types"
)

const linuxTrace = `traceroute to 8.8.8.8 (8.8.8.8), 20 hops max, 60 byte packets
 1  192.168.1.1  0.412 ms  0.380 ms  0.351 ms
 2  * * *
 3  100.64.0.1  25.5 ms  27 ms *
 4  8.8.8.8  31.204 ms  30.998 ms  31.117 ms
`

const windowsTrace = `
Tracing route to 8.8.8.8 over a maximum of 20 hops

  1    <1 ms    <1 ms    <1 ms  192.168.0.1
  2    12 ms    11 ms    13 ms  10.20.0.1
  3     *        *        *     Request timed out.

Trace complete.
`

func TestParseHopsLinux(t *testing.T) {
	hops := ParseHops(linuxTrace)
	if len(hops) != 4 {
		t.Fatalf("expected 4 hops got %d", len(hops))
	}
	if hops[0].Address == nil || *hops[0].Address != "192.168.1.1" {
		t.Fatalf("unexpected first hop address %v", hops[0].Address)
	}
	if !reflect.DeepEqual(hops[0].RTTs, []float64{0.412, 0.380, 0.351}) {
		t.Fatalf("unexpected rtts %v", hops[0].RTTs)
	}
	if hops[1].Address != nil || hops[1].MeanRTT != nil || len(hops[1].RTTs) != 0 {
		t.Fatalf("silent hop should be empty: %+v", hops[1])
	}
	if hops[2].MeanRTT == nil || *hops[2].MeanRTT != 26.25 {
		t.Fatalf("unexpected mean %v", hops[2].MeanRTT)
	}
	if !destinationReached(hops, "8.8.8.8") {
		t.Fatalf("expected destination reached")
	}
}

func TestParseHopsWindows(t *testing.T) {
	hops := ParseHops(windowsTrace)
	if len(hops) != 3 {
		t.Fatalf("expected 3 hops got %d", len(hops))
	}
	if !reflect.DeepEqual(hops[0].RTTs, []float64{1, 1, 1}) {
		t.Fatalf("unexpected rtts %v", hops[0].RTTs)
	}
	if hops[1].Address == nil || *hops[1].Address != "10.20.0.1" {
		t.Fatalf("unexpected address %v", hops[1].Address)
	}
	if hops[2].Address != nil {
		t.Fatalf("timed out hop has no address")
	}
	if destinationReached(hops, "8.8.8.8") {
		t.Fatalf("destination was not reached")
	}
}

func TestParseHopsIPv6(t *testing.T) {
	hops := ParseHops(" 1  2001:db8::1  1.0 ms  2.0 ms")
	if len(hops) != 1 || hops[0].Address == nil || *hops[0].Address != "2001:db8::1" {
		t.Fatalf("unexpected hops %+v", hops)
	}
}

func TestParseHopsIdempotent(t *testing.T) {
	first := ParseHops(linuxTrace)
	second := ParseHops(linuxTrace)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("parse is not deterministic")
	}
	if got := ParseHops("no hops here\nat all"); len(got) != 0 {
		t.Fatalf("expected no hops got %v", got)
	}
}

func TestOverallTimeout(t *testing.T) {
	if got := OverallTimeout(3*time.Second, 20, 3); got != 245*time.Second {
		t.Fatalf("unexpected timeout %v", got)
	}
	if got := OverallTimeout(100*time.Millisecond, 1, 1); got != 10*time.Second {
		t.Fatalf("expected floor of 10s got %v", got)
	}
}

func TestTracerouteSuccess(t *testing.T) {
	p := NewTraceroute("8.8.8.8", TracerouteOptions{Timeout: time.Second, MaxHops: 5, QueriesPerHop: 2})
	p.goos = "linux"
	var gotName string
	var gotArgs []string
	p.run = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		gotName, gotArgs = name, args
		return []byte(linuxTrace), nil
	}

	out, err := p.Probe(context.Background())
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if out.Status != types.StatusSuccess || out.RTT != nil {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if gotName != "traceroute" || strings.Join(gotArgs, " ") != "-n -m 5 -w 1 -q 2 8.8.8.8" {
		t.Fatalf("unexpected command %s %v", gotName, gotArgs)
	}
	if out.Metadata["destination_reached"] != true || out.Metadata["exit_code"] != 0 {
		t.Fatalf("unexpected metadata %v", out.Metadata)
	}
	if hops := out.Metadata["hops"].([]types.Hop); len(hops) != 4 {
		t.Fatalf("expected hops in metadata got %d", len(hops))
	}
}

func TestTracerouteWindowsCommand(t *testing.T) {
	p := NewTraceroute("8.8.8.8", TracerouteOptions{Timeout: 3 * time.Second, MaxHops: 20})
	p.goos = "windows"
	name, args := p.command()
	if name != "tracert" || strings.Join(args, " ") != "-d -h 20 -w 3000 8.8.8.8" {
		t.Fatalf("unexpected command %s %v", name, args)
	}
}

func TestTracerouteDeadlineIsTimeout(t *testing.T) {
	p := NewTraceroute("8.8.8.8", TracerouteOptions{Timeout: time.Second})
	p.run = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		<-ctx.Done()
		return []byte(" 1  192.168.1.1  0.4 ms\n"), ctx.Err()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	out, err := p.Probe(ctx)
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if out.Status != types.StatusTimeout {
		t.Fatalf("expected timeout got %s", out.Status)
	}
}

func TestTracerouteMissingBinaryIsError(t *testing.T) {
	p := NewTraceroute("8.8.8.8", TracerouteOptions{Timeout: time.Second})
	p.run = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return nil, &exec.Error{Name: name, Err: exec.ErrNotFound}
	}

	out, _ := p.Probe(context.Background())
	if out.Status != types.StatusError {
		t.Fatalf("expected error got %s", out.Status)
	}
	if !strings.Contains(out.Metadata["error_message"].(string), "not found") {
		t.Fatalf("unexpected message %v", out.Metadata["error_message"])
	}
}

func TestTracerouteNoHopsIsError(t *testing.T) {
	p := NewTraceroute("8.8.8.8", TracerouteOptions{Timeout: time.Second})
	p.run = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return []byte("traceroute: unknown host\n"), nil
	}

	out, _ := p.Probe(context.Background())
	if out.Status != types.StatusError {
		t.Fatalf("expected error got %s", out.Status)
	}
}
