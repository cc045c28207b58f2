package provider

import (
	"net/http"
	"sync"
)

var (
	clientMu       sync.RWMutex
	outboundClient *http.Client
)

// SetHTTPClient installs the outbound HTTP client adapters build their SDK
// clients on. The serve command calls this once at startup so backend
// traffic honors the configured egress proxy. Call before requests arrive;
// adapters built earlier keep the client they were built with.
func SetHTTPClient(c *http.Client) {
	clientMu.Lock()
	outboundClient = c
	clientMu.Unlock()
}

// HTTPClient returns the installed outbound client, or nil when adapters
// should let their SDKs choose.
func HTTPClient() *http.Client {
	clientMu.RLock()
	defer clientMu.RUnlock()
	return outboundClient
}
