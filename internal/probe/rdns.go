package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/pingsantohq/satprobe/pkg/types"
)

type RDNSOptions struct {
	Timeout    time.Duration
	ResolvConf string
}

// ReverseDNS looks up PTR records for the target through the system resolvers.
// It never reports an RTT.
type ReverseDNS struct {
	target  string
	timeout time.Duration
	servers []string
	confErr error
	client  exchanger
}

func NewReverseDNS(target string, opts RDNSOptions) *ReverseDNS {
	if opts.Timeout <= 0 {
		opts.Timeout = 3 * time.Second
	}
	if opts.ResolvConf == "" {
		opts.ResolvConf = "/etc/resolv.conf"
	}
	p := &ReverseDNS{
		target:  target,
		timeout: opts.Timeout,
		client:  &dns.Client{Net: "udp", Timeout: opts.Timeout},
	}
	conf, err := dns.ClientConfigFromFile(opts.ResolvConf)
	if err != nil {
		p.confErr = fmt.Errorf("load resolver config %q: %w", opts.ResolvConf, err)
		return p
	}
	for _, server := range conf.Servers {
		p.servers = append(p.servers, net.JoinHostPort(server, conf.Port))
	}
	return p
}

func (p *ReverseDNS) Kind() types.Kind { return types.KindRDNS }
func (p *ReverseDNS) Target() string   { return p.target }

func (p *ReverseDNS) Probe(ctx context.Context) (Outcome, error) {
	if p.confErr != nil {
		return failed(p.confErr, nil), nil
	}
	if len(p.servers) == 0 {
		return failed(errors.New("no resolvers configured"), nil), nil
	}
	name, err := dns.ReverseAddr(p.target)
	if err != nil {
		return failed(fmt.Errorf("reverse name for %q: %w", p.target, err), nil), nil
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	msg := new(dns.Msg)
	msg.SetQuestion(name, dns.TypePTR)
	msg.RecursionDesired = true

	md := map[string]any{"ptr_names": nil}
	start := time.Now()
	var lastErr error
	for _, server := range p.servers {
		md["resolver"] = server
		resp, _, err := p.client.ExchangeContext(ctx, msg, server)
		md["query_time_ms"] = *types.Milliseconds(time.Since(start))
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}
		switch resp.Rcode {
		case dns.RcodeNameError:
			md["ptr_names"] = []string{}
			return success(nil, md), nil
		case dns.RcodeSuccess:
			md["ptr_names"] = ptrNames(resp)
			return success(nil, md), nil
		default:
			lastErr = fmt.Errorf("resolver %s answered %s", server, dns.RcodeToString[resp.Rcode])
		}
	}

	if isTimeout(lastErr) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return timedOut(md), nil
	}
	return failed(lastErr, md), nil
}

// ptrNames returns the PTR targets without the trailing root dot. NODATA
// answers yield an empty, non-nil list.
func ptrNames(resp *dns.Msg) []string {
	names := []string{}
	for _, rr := range resp.Answer {
		if ptr, ok := rr.(*dns.PTR); ok {
			names = append(names, strings.TrimSuffix(ptr.Ptr, "."))
		}
	}
	return names
}
