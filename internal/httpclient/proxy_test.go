package httpclient

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_ProxyModes(t *testing.T) {
	t.Parallel()

	t.Run("no-proxy default", func(t *testing.T) {
		client, err := New(Options{})
		require.NoError(t, err)
		tr, ok := client.Transport.(*http.Transport)
		require.True(t, ok)
		assert.Nil(t, tr.Proxy)
		assert.Zero(t, client.Timeout, "transfers own their deadlines")
	})

	t.Run("basic requires host", func(t *testing.T) {
		_, err := New(Options{ProxyMode: "basic"})
		assert.Error(t, err)
	})

	t.Run("ntlm wraps transport", func(t *testing.T) {
		client, err := New(Options{ProxyMode: "ntlm", ProxyHost: "proxy.corp"})
		require.NoError(t, err)
		_, plain := client.Transport.(*http.Transport)
		assert.False(t, plain, "ntlm mode negotiates around the transport")
	})

	t.Run("unknown mode rejected", func(t *testing.T) {
		_, err := New(Options{ProxyMode: "socks5"})
		assert.Error(t, err)
	})
}

func TestBuildProxyURL(t *testing.T) {
	t.Parallel()

	u := buildProxyURL(Options{ProxyHost: "proxy.corp", ProxyPort: 3128})
	assert.Equal(t, "http://proxy.corp:3128", u.String())

	u = buildProxyURL(Options{ProxyHost: "proxy.corp"})
	assert.Equal(t, "proxy.corp:8080", u.Host, "default proxy port")

	u = buildProxyURL(Options{ProxyHost: "p", ProxyUser: "u", ProxyPassword: "s"})
	user := u.User.Username()
	pass, _ := u.User.Password()
	assert.Equal(t, "u", user)
	assert.Equal(t, "s", pass)

	// Credentials are embedded only when complete.
	u = buildProxyURL(Options{ProxyHost: "p", ProxyUser: "u"})
	assert.Nil(t, u.User)
}

func TestProxyFuncWithBypass(t *testing.T) {
	t.Parallel()

	proxyURL := &url.URL{Scheme: "http", Host: "proxy.corp:8080"}
	fn := proxyFuncWithBypass(proxyURL, "internal.example,10.0.0.0/8")

	proxied, err := fn(mustRequest(t, "https://storage.example/object"))
	require.NoError(t, err)
	require.NotNil(t, proxied)
	assert.Equal(t, "proxy.corp:8080", proxied.Host)

	direct, err := fn(mustRequest(t, "https://internal.example/health"))
	require.NoError(t, err)
	assert.Nil(t, direct)

	direct, err = fn(mustRequest(t, "http://10.1.2.3/admin"))
	require.NoError(t, err)
	assert.Nil(t, direct)
}

func mustRequest(t *testing.T, rawURL string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, rawURL, nil)
	require.NoError(t, err)
	return req
}

func TestNewRetrying_StandardClient(t *testing.T) {
	t.Parallel()

	client, err := NewRetrying(Options{})
	require.NoError(t, err)
	require.NotNil(t, client)
	assert.NotNil(t, client.Transport, "retry round-tripper installed")
}
