// Package httpclient builds the outbound HTTP clients the gateway uses to
// reach storage backends, the auth provider and notification targets.
//
// Two flavors exist. The data-plane client carries file bytes: pooled
// connections, HTTP/2 where the egress path allows it, no overall timeout
// (streams are bounded by per-call contexts and inactivity watchdogs), and
// no transparent retries, because single-pass streams cannot be replayed by
// the transport. The control-plane client carries small idempotent calls and
// retries them with backoff.
package httpclient

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/net/http2"
)

// Options configures outbound connectivity, including the egress proxy the
// gateway tunnels through in locked-down deployments.
type Options struct {
	ProxyMode     string // no-proxy | system | basic | ntlm
	ProxyHost     string
	ProxyPort     int
	ProxyUser     string
	ProxyPassword string
	NoProxy       string // comma-separated bypass list, hosts or CIDRs
}

const (
	dialTimeout           = 30 * time.Second
	dialKeepAlive         = 30 * time.Second
	idleConnTimeout       = 90 * time.Second
	tlsHandshakeTimeout   = 30 * time.Second
	expectContinueTimeout = 5 * time.Second
)

// New builds the data-plane client.
func New(opts Options) (*http.Client, error) {
	client, proxied, err := configureProxy(opts, baseTransport())
	if err != nil {
		return nil, err
	}

	tr, ok := client.Transport.(*http.Transport)
	if !ok {
		// NTLM mode wraps the transport in a negotiator; the tuned base
		// transport underneath is already in place.
		client.Timeout = 0
		return client, nil
	}

	tr.MaxIdleConns = 512
	tr.MaxIdleConnsPerHost = 100
	tr.MaxConnsPerHost = 100
	tr.DisableCompression = true
	tr.ForceAttemptHTTP2 = true
	_ = http2.ConfigureTransport(tr)

	// Proxies regularly mishandle HTTP/2 multiplexing mid-transfer; stay on
	// HTTP/1.1 whenever an egress proxy is in the path.
	if proxied {
		tr.ForceAttemptHTTP2 = false
		tr.TLSNextProto = make(map[string]func(string, *tls.Conn) http.RoundTripper)
	}

	client.Transport = tr
	client.Timeout = 0
	return client, nil
}

// NewRetrying builds the control-plane client: bounded exponential backoff
// over the same proxy-aware transport.
func NewRetrying(opts Options) (*http.Client, error) {
	base, err := New(opts)
	if err != nil {
		return nil, err
	}
	rc := retryablehttp.NewClient()
	rc.HTTPClient = base
	rc.RetryMax = 3
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 5 * time.Second
	rc.Logger = nil
	return rc.StandardClient(), nil
}

func baseTransport() *http.Transport {
	return &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   dialTimeout,
			KeepAlive: dialKeepAlive,
		}).DialContext,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   100,
		MaxConnsPerHost:       100,
		IdleConnTimeout:       idleConnTimeout,
		TLSHandshakeTimeout:   tlsHandshakeTimeout,
		ExpectContinueTimeout: expectContinueTimeout,
	}
}
