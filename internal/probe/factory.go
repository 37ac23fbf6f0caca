package probe

import (
	"fmt"

	"github.com/pingsantohq/satprobe/internal/config"
	"github.com/pingsantohq/satprobe/pkg/types"
)

// New builds the probe of the given kind for target using the per-kind settings in cfg.
func New(kind types.Kind, target string, cfg config.Config) (Probe, error) {
	switch kind {
	case types.KindICMP:
		return NewICMP(target, ICMPOptions{
			Timeout:    cfg.ICMP.Timeout,
			PacketSize: cfg.ICMP.PacketSize,
			Privileged: cfg.ICMP.Privileged,
		}), nil
	case types.KindDNS:
		return NewDNS(target, DNSOptions{
			Timeout:     cfg.DNS.Timeout,
			QueryDomain: cfg.DNS.QueryDomain,
			QueryType:   cfg.DNS.QueryType,
		})
	case types.KindRDNS:
		return NewReverseDNS(target, RDNSOptions{
			Timeout:    cfg.RDNS.Timeout,
			ResolvConf: cfg.RDNS.ResolvConf,
		}), nil
	case types.KindTraceroute:
		return NewTraceroute(target, TracerouteOptions{
			Timeout:       cfg.Traceroute.Timeout,
			MaxHops:       cfg.Traceroute.MaxHops,
			QueriesPerHop: cfg.Traceroute.QueriesPerHop,
			Binary:        cfg.Traceroute.Binary,
		}), nil
	default:
		return nil, fmt.Errorf("unknown probe kind %q", kind)
	}
}
