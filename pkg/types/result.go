package types

import (
	"fmt"
	"math"
	"time"
)

// Kind discriminates the probe technique that produced a result.
type Kind string

const (
	KindICMP       Kind = "icmp"
	KindDNS        Kind = "dns"
	KindRDNS       Kind = "rdns"
	KindTraceroute Kind = "traceroute"
)

// Kinds lists every supported probe kind in scheduling order.
var Kinds = []Kind{KindICMP, KindDNS, KindRDNS, KindTraceroute}

func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindICMP, KindDNS, KindRDNS, KindTraceroute:
		return k, nil
	default:
		return "", fmt.Errorf("unknown probe kind %q", s)
	}
}

// MeasuresRTT reports whether results of this kind carry a latency value.
// rdns and traceroute are metadata-only.
func (k Kind) MeasuresRTT() bool {
	return k == KindICMP || k == KindDNS
}

// OneShot reports whether jobs of this kind run once per process instead of on an interval.
func (k Kind) OneShot() bool {
	return k == KindRDNS || k == KindTraceroute
}

type Status string

const (
	StatusSuccess Status = "success"
	StatusTimeout Status = "timeout"
	StatusError   Status = "error"
)

// ProbeResult is one normalized measurement outcome.
type ProbeResult struct {
	// JobID names the scheduled job that produced the result. It is used for
	// event correlation and is not part of the persisted record.
	JobID     string         `json:"-"`
	Timestamp time.Time      `json:"timestamp"`
	Target    string         `json:"target"`
	Kind      Kind           `json:"probe_kind"`
	RTT       *float64       `json:"rtt,omitempty"`
	Status    Status         `json:"status"`
	Metadata  map[string]any `json:"metadata"`
}

// HasValidRTT reports whether RTT is present, finite and non-negative.
func (r ProbeResult) HasValidRTT() bool {
	if r.RTT == nil {
		return false
	}
	v := *r.RTT
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0
}

// Milliseconds converts a duration into a freshly allocated RTT value.
func Milliseconds(d time.Duration) *float64 {
	ms := float64(d) / float64(time.Millisecond)
	return &ms
}

// Hop is a single parsed traceroute line.
type Hop struct {
	Index   int       `json:"hop_index"`
	Address *string   `json:"address"`
	RTTs    []float64 `json:"per_query_rtts"`
	MeanRTT *float64  `json:"mean_rtt"`
}
