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

type DNSOptions struct {
	Timeout     time.Duration
	QueryDomain string
	QueryType   string
}

type exchanger interface {
	ExchangeContext(ctx context.Context, m *dns.Msg, address string) (*dns.Msg, time.Duration, error)
}

// DNS sends one query directly to the target, treating it as the resolver.
type DNS struct {
	target  string
	opts    DNSOptions
	qtype   uint16
	address string
	client  exchanger
}

func NewDNS(target string, opts DNSOptions) (*DNS, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 3 * time.Second
	}
	if opts.QueryType == "" {
		opts.QueryType = "A"
	}
	opts.QueryType = strings.ToUpper(opts.QueryType)
	qtype, ok := dns.StringToType[opts.QueryType]
	if !ok {
		return nil, fmt.Errorf("unknown dns query type %q", opts.QueryType)
	}
	return &DNS{
		target:  target,
		opts:    opts,
		qtype:   qtype,
		address: resolverAddress(target, "53"),
		client:  &dns.Client{Net: "udp", Timeout: opts.Timeout},
	}, nil
}

func (p *DNS) Kind() types.Kind { return types.KindDNS }
func (p *DNS) Target() string   { return p.target }

func (p *DNS) Probe(ctx context.Context) (Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(p.opts.QueryDomain), p.qtype)

	md := map[string]any{
		"query_domain": p.opts.QueryDomain,
		"query_type":   p.opts.QueryType,
	}

	start := time.Now()
	resp, _, err := p.client.ExchangeContext(ctx, msg, p.address)
	elapsed := time.Since(start)
	if err != nil {
		if isTimeout(err) {
			return timedOut(md), nil
		}
		return failed(err, md), nil
	}
	if resp == nil {
		return failed(errors.New("no response"), md), nil
	}

	md["rcode"] = dns.RcodeToString[resp.Rcode]
	md["answer_count"] = len(resp.Answer)
	return success(types.Milliseconds(elapsed), md), nil
}

func resolverAddress(host, port string) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	return net.JoinHostPort(host, port)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
