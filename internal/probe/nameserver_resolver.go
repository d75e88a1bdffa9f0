package probe

import (
	"context"
	"fmt"
	"net"
	"time"

	"dnsscanner/internal/ipv4"

	"github.com/miekg/dns"
)

// NameserverResolver sends PTR queries straight to one nameserver instead of
// going through the system resolver.
type NameserverResolver struct {
	server  string
	client  *dns.Client
	timeout time.Duration
}

// NewNameserverResolver accepts "host" or "host:port"; port 53 is assumed.
func NewNameserverResolver(server string, timeout time.Duration) (*NameserverResolver, error) {
	if server == "" {
		return nil, fmt.Errorf("probe: nameserver address is empty")
	}
	if _, _, err := net.SplitHostPort(server); err != nil {
		server = net.JoinHostPort(server, "53")
	}
	if timeout <= 0 {
		timeout = DefaultLookupTimeout
	}

	return &NameserverResolver{
		server:  server,
		timeout: timeout,
		client: &dns.Client{
			Net:     "udp",
			Timeout: timeout,
		},
	}, nil
}

func (r *NameserverResolver) ResolveHost(ctx context.Context, addr ipv4.Address) (string, error) {
	name, err := dns.ReverseAddr(addr.String())
	if err != nil {
		return "", fmt.Errorf("probe: reverse name for %s: %w", addr, err)
	}

	msg := new(dns.Msg)
	msg.SetQuestion(name, dns.TypePTR)
	msg.RecursionDesired = true

	queryCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	resp, _, err := r.client.ExchangeContext(queryCtx, msg, r.server)
	if err != nil {
		return "", fmt.Errorf("probe: ptr query %s: %w", name, err)
	}

	if resp.Truncated {
		tcp := &dns.Client{Net: "tcp", Timeout: r.timeout}
		resp, _, err = tcp.ExchangeContext(queryCtx, msg, r.server)
		if err != nil {
			return "", fmt.Errorf("probe: ptr query %s over tcp: %w", name, err)
		}
	}

	switch resp.Rcode {
	case dns.RcodeSuccess:
	case dns.RcodeNameError:
		return "", ErrNoHost
	default:
		return "", fmt.Errorf("probe: ptr query %s: %s", name, dns.RcodeToString[resp.Rcode])
	}

	for _, rr := range resp.Answer {
		if ptr, ok := rr.(*dns.PTR); ok {
			if host := TrimHost(ptr.Ptr); host != "" {
				return host, nil
			}
		}
	}
	return "", ErrNoHost
}

func (r *NameserverResolver) Server() string {
	return r.server
}
