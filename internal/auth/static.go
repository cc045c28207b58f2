package auth

import (
	"context"
	"crypto/subtle"
	"strings"

	"github.com/portagehq/portage/internal/errdefs"
)

// StaticProvider is the fixed construction bundle for one provider under the
// static handler.
type StaticProvider struct {
	Credentials map[string]string
	Settings    map[string]any
}

// Static authorizes against configuration: one credentials bundle per
// provider, optionally gated behind a shared bearer token. It fits
// single-tenant deployments where the gateway fronts a known set of stores.
type Static struct {
	token     string
	identity  Identity
	providers map[string]StaticProvider
}

// NewStatic builds a static handler. An empty token admits anonymous
// callers; a zero identity defaults to ID "static" so notification events
// always name an actor.
func NewStatic(token string, identity Identity, providers map[string]StaticProvider) *Static {
	if identity == (Identity{}) {
		identity = Identity{ID: "static"}
	}
	return &Static{token: token, identity: identity, providers: providers}
}

// Fetch implements Handler. All resources are admitted; the provider must be
// configured.
func (s *Static) Fetch(ctx context.Context, req Request) (*Grant, error) {
	if s.token != "" {
		presented, ok := strings.CutPrefix(req.Authorization, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(presented), []byte(s.token)) != 1 {
			return nil, errdefs.Unauthorized("invalid or missing bearer token")
		}
	}
	sp, ok := s.providers[req.Provider]
	if !ok {
		return nil, errdefs.NotFound("provider %q is not configured", req.Provider)
	}
	return &Grant{
		Credentials: sp.Credentials,
		Settings:    sp.Settings,
		Identity:    s.identity,
	}, nil
}

var _ Handler = (*Static)(nil)
