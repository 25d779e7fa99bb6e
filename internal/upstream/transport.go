package upstream

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/lexandersaw/iflow2api/internal/config"
)

// Transport issues one HTTP exchange. *http.Client satisfies it, which lets
// tests swap in an httptest server client.
type Transport interface {
	Do(req *http.Request) (*http.Response, error)
}

// TransportOptions configures the built-in backends.
type TransportOptions struct {
	ProxyURL string
	// ResponseHeaderTimeout bounds the wait for upstream headers. Streamed
	// bodies are not subject to it.
	ResponseHeaderTimeout time.Duration
}

// NewTransport builds the backend named by kind.
func NewTransport(kind string, opts TransportOptions) (Transport, error) {
	switch kind {
	case config.TransportHTTP, "":
		return newHTTPTransport(opts)
	default:
		return nil, fmt.Errorf("unknown upstream transport %q", kind)
	}
}

func newHTTPTransport(opts TransportOptions) (*http.Client, error) {
	base := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: opts.ResponseHeaderTimeout,
	}
	if opts.ProxyURL != "" {
		u, err := url.Parse(opts.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url: %w", err)
		}
		base.Proxy = http.ProxyURL(u)
	}

	return &http.Client{Transport: otelhttp.NewTransport(base)}, nil
}
