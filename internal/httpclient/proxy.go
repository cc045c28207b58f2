package httpclient

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	ntlmssp "github.com/Azure/go-ntlmssp"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http/httpproxy"
)

// configureProxy wires the egress proxy mode into the transport and reports
// whether a proxy is in the path.
func configureProxy(opts Options, tr *http.Transport) (*http.Client, bool, error) {
	switch strings.ToLower(opts.ProxyMode) {
	case "", "no-proxy":
		tr.Proxy = nil
		return &http.Client{Transport: tr}, false, nil

	case "system":
		tr.Proxy = http.ProxyFromEnvironment
		return &http.Client{Transport: tr}, envProxySet(), nil

	case "basic":
		if opts.ProxyHost == "" {
			return nil, false, fmt.Errorf("proxy mode basic requires a proxy host")
		}
		tr.Proxy = proxyFuncWithBypass(buildProxyURL(opts), opts.NoProxy)
		return &http.Client{Transport: tr}, true, nil

	case "ntlm":
		if opts.ProxyHost == "" {
			return nil, false, fmt.Errorf("proxy mode ntlm requires a proxy host")
		}
		tr.Proxy = proxyFuncWithBypass(buildProxyURL(opts), opts.NoProxy)
		// NTLM challenges happen per connection; the negotiator replays the
		// handshake transparently around the tuned transport.
		return &http.Client{Transport: ntlmssp.Negotiator{RoundTripper: tr}}, true, nil

	default:
		return nil, false, fmt.Errorf("unsupported proxy mode %q", opts.ProxyMode)
	}
}

func buildProxyURL(opts Options) *url.URL {
	port := opts.ProxyPort
	if port == 0 {
		port = 8080
	}
	u := &url.URL{
		Scheme: "http",
		Host:   fmt.Sprintf("%s:%d", opts.ProxyHost, port),
	}
	if opts.ProxyUser != "" && opts.ProxyPassword != "" {
		u.User = url.UserPassword(opts.ProxyUser, opts.ProxyPassword)
	}
	return u
}

// proxyFuncWithBypass routes through proxyURL except for hosts on the bypass
// list, which may name hosts, domains or CIDRs.
func proxyFuncWithBypass(proxyURL *url.URL, noProxy string) func(*http.Request) (*url.URL, error) {
	if noProxy == "" {
		return http.ProxyURL(proxyURL)
	}
	cfg := httpproxy.Config{
		HTTPProxy:  proxyURL.String(),
		HTTPSProxy: proxyURL.String(),
		NoProxy:    noProxy,
	}
	proxyFunc := cfg.ProxyFunc()
	return func(req *http.Request) (*url.URL, error) {
		target, err := proxyFunc(req.URL)
		if target == nil {
			log.Debug().Str("host", req.URL.Host).Msg("proxy bypass, connecting direct")
		}
		return target, err
	}
}

func envProxySet() bool {
	cfg := httpproxy.FromEnvironment()
	return cfg.HTTPProxy != "" || cfg.HTTPSProxy != ""
}
