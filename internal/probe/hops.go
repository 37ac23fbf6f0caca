package probe

import (
	"bufio"
	"net"
	"regexp"
	"strconv"
	"strings"

	"github.com/pingsantohq/satprobe/pkg/types"
)

var (
	hopLinePattern = regexp.MustCompile(`^(\d+)\s+(.*)$`)
	rttPattern     = regexp.MustCompile(`<?\s*(\d+(?:\.\d+)?)\s*ms`)
	ipv4Pattern    = regexp.MustCompile(`\b\d{1,3}(?:\.\d{1,3}){3}\b`)
	ipv6Pattern    = regexp.MustCompile(`[0-9A-Fa-f]*:[0-9A-Fa-f:]+`)
)

// ParseHops turns traceroute (Unix) or tracert (Windows) text output into hops.
// Lines that do not start with a hop number are ignored.
//
//	1  192.168.0.1  0.345 ms  0.220 ms  0.190 ms
//	2     1 ms    <1 ms     1 ms  10.0.0.1
//	3  * * *
func ParseHops(text string) []types.Hop {
	var hops []types.Hop
	scanner := bufio.NewScanner(strings.NewReader(text))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		m := hopLinePattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		index, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		rest := m[2]

		hop := types.Hop{Index: index, RTTs: []float64{}}
		for _, rm := range rttPattern.FindAllStringSubmatch(rest, -1) {
			v, err := strconv.ParseFloat(rm[1], 64)
			if err != nil {
				continue
			}
			hop.RTTs = append(hop.RTTs, v)
		}
		if addr := lastAddress(rest); addr != "" {
			hop.Address = &addr
		}
		if len(hop.RTTs) > 0 {
			var sum float64
			for _, v := range hop.RTTs {
				sum += v
			}
			mean := sum / float64(len(hop.RTTs))
			hop.MeanRTT = &mean
		}
		hops = append(hops, hop)
	}
	return hops
}

// lastAddress prefers the last IPv4 literal on the line, then the last IPv6 one.
func lastAddress(s string) string {
	if v4 := ipv4Pattern.FindAllString(s, -1); len(v4) > 0 {
		return v4[len(v4)-1]
	}
	v6 := ipv6Pattern.FindAllString(s, -1)
	for i := len(v6) - 1; i >= 0; i-- {
		candidate := strings.Trim(v6[i], "()[]")
		if ip := net.ParseIP(candidate); ip != nil {
			return candidate
		}
	}
	return ""
}

func destinationReached(hops []types.Hop, target string) bool {
	for _, h := range hops {
		if h.Address != nil && *h.Address == target {
			return true
		}
	}
	return false
}
