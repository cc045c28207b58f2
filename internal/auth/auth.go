// Package auth resolves which backend credentials a caller may use.
//
// Every API request names a resource and a provider; the auth handler trades
// the caller's tokens for the credentials and settings the provider adapter
// is constructed with, plus the caller's identity for notifications. The
// handler is pluggable: Static serves fixed per-provider credentials for
// single-tenant deployments, Remote defers to an external authorization
// service.
package auth

import "context"

// Action is the permission category of a request, inferred from the HTTP
// method and parameters.
type Action string

const (
	ActionRead     Action = "read"
	ActionWrite    Action = "write"
	ActionDelete   Action = "delete"
	ActionCopyFrom Action = "copyfrom"
	ActionCopyTo   Action = "copyto"
)

// Request identifies what the caller wants to touch and carries the tokens
// they presented. Token values are never logged.
type Request struct {
	Resource string
	Provider string
	Action   Action

	// Authorization is the raw Authorization header value, if any.
	Authorization string
	// Cookie is the gateway session cookie value, if any.
	Cookie string
	// ViewOnly is the view-only link key, if any.
	ViewOnly string
}

// Identity describes the authenticated caller for notification payloads.
type Identity struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Grant is a successful authorization: the provider construction bundles and
// who the caller is. Credentials are secret and must never be logged or
// persisted by the gateway.
type Grant struct {
	Credentials map[string]string
	Settings    map[string]any
	Identity    Identity
	// Callback overrides the notification destination for mutations made
	// under this grant. Empty means the globally configured destination.
	Callback string
}

// Handler authorizes requests. Implementations fail with Unauthorized for
// invalid tokens, Forbidden for valid tokens lacking permission, NotFound
// for resources that do not exist, and Unavailable when the backing
// authority cannot be reached.
type Handler interface {
	Fetch(ctx context.Context, req Request) (*Grant, error)
}
