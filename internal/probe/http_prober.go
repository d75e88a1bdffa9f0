package probe

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"

	"dnsscanner/internal/ipv4"
)

const (
	DefaultScheme    = "http"
	DefaultPort      = 80
	DefaultUserAgent = "Mozilla/5.0 (compatible; dnsscanner)"

	maxDrainBytes = 4 << 10
)

// HTTPProber issues a single GET against an address and reports the status of
// the first response. Redirects are not followed.
type HTTPProber struct {
	scheme    string
	port      int
	path      string
	userAgent string
	client    *http.Client
}

type HTTPOption func(*HTTPProber)

func WithScheme(scheme string) HTTPOption {
	return func(p *HTTPProber) {
		if scheme != "" {
			p.scheme = scheme
		}
	}
}

func WithPort(port int) HTTPOption {
	return func(p *HTTPProber) {
		if port > 0 {
			p.port = port
		}
	}
}

func WithPath(path string) HTTPOption {
	return func(p *HTTPProber) {
		if path != "" {
			p.path = path
		}
	}
}

func WithUserAgent(ua string) HTTPOption {
	return func(p *HTTPProber) {
		if ua != "" {
			p.userAgent = ua
		}
	}
}

func NewHTTPProber(opts ...HTTPOption) *HTTPProber {
	p := &HTTPProber{
		scheme:    DefaultScheme,
		port:      DefaultPort,
		path:      "/",
		userAgent: DefaultUserAgent,
	}
	for _, opt := range opts {
		opt(p)
	}

	transport := &http.Transport{
		DisableKeepAlives: true,
		DialContext: (&net.Dialer{
			KeepAlive: -1,
		}).DialContext,
		// Certificates never match a bare address.
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
	}

	p.client = &http.Client{
		Transport: transport,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return p
}

// Probe returns the HTTP status the address answers with. The deadline comes
// from ctx.
func (p *HTTPProber) Probe(ctx context.Context, addr ipv4.Address) (int, error) {
	target := p.URL(addr)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, fmt.Errorf("probe: build request for %s: %w", addr, err)
	}
	req.Header.Set("Connection", "close")
	req.Header.Set("User-Agent", p.userAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	_, _ = io.CopyN(io.Discard, resp.Body, maxDrainBytes)

	return resp.StatusCode, nil
}

func (p *HTTPProber) URL(addr ipv4.Address) string {
	host := addr.String()
	if !(p.scheme == "http" && p.port == 80) && !(p.scheme == "https" && p.port == 443) {
		host = net.JoinHostPort(host, strconv.Itoa(p.port))
	}
	return p.scheme + "://" + host + p.path
}

// Close drops idle connections held by the transport.
func (p *HTTPProber) Close() {
	p.client.CloseIdleConnections()
}
