package provider

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/rs/dnscache"
)

// Upstream round-trip ceilings. Chat completions on slow models can run for
// minutes, so the client timeout is generous; connection setup is not.
const (
	chatTimeout  = 5 * time.Minute
	probeTimeout = 10 * time.Second
)

// NewTransport returns a tuned *http.Transport with connection pooling and
// optional DNS caching. Set forceHTTP2 to true for remote HTTPS APIs, false
// for local HTTP/1.1 servers (e.g. Ollama).
func NewTransport(resolver *dnscache.Resolver, forceHTTP2 bool) *http.Transport {
	t := &http.Transport{
		MaxIdleConnsPerHost: 100,
		MaxConnsPerHost:     200,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   forceHTTP2,
		TLSHandshakeTimeout: 5 * time.Second,
	}
	if resolver != nil {
		t.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			ips, err := resolver.LookupHost(ctx, host)
			if err != nil {
				return nil, err
			}
			var d net.Dialer
			return d.DialContext(ctx, network, net.JoinHostPort(ips[0], port))
		}
	}
	return t
}

// NewClient returns an *http.Client for remote provider APIs, sharing one
// DNS-cached transport.
func NewClient(resolver *dnscache.Resolver) *http.Client {
	return &http.Client{
		Transport: NewTransport(resolver, true),
		Timeout:   chatTimeout,
	}
}

// NewLocalClient returns an *http.Client for local HTTP/1.1 servers.
// No DNS caching: localhost resolution is free and Ollama restarts often.
func NewLocalClient() *http.Client {
	return &http.Client{
		Transport: NewTransport(nil, false),
		Timeout:   chatTimeout,
	}
}

// NewClientWithTransport returns an *http.Client with the standard chat
// timeout over a caller-supplied round tripper. Used for per-account
// clients whose transports carry signing credentials.
func NewClientWithTransport(rt http.RoundTripper) *http.Client {
	return &http.Client{
		Transport: rt,
		Timeout:   chatTimeout,
	}
}
