package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/portagehq/portage/internal/errdefs"
)

// maxGrantBody caps how much of an authorization response is read.
const maxGrantBody = 1 << 20

// defaultFetchTimeout bounds one authorization round trip, retries included.
const defaultFetchTimeout = 10 * time.Second

// RemoteOptions configures a Remote handler.
type RemoteOptions struct {
	// URL is the authorization endpoint, called with POST.
	URL string
	// Client issues the requests; it should retry transient failures.
	Client *http.Client
	// Timeout overrides defaultFetchTimeout.
	Timeout time.Duration
}

// Remote defers authorization to an external service. The caller's tokens
// are forwarded as headers; the request identifies resource, provider and
// action; the response carries the grant.
type Remote struct {
	url     string
	client  *http.Client
	timeout time.Duration
}

// NewRemote builds a Remote handler.
func NewRemote(opts RemoteOptions) (*Remote, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("auth: remote handler requires a URL")
	}
	r := &Remote{url: opts.URL, client: opts.Client, timeout: opts.Timeout}
	if r.client == nil {
		r.client = http.DefaultClient
	}
	if r.timeout <= 0 {
		r.timeout = defaultFetchTimeout
	}
	return r, nil
}

// grantPayload is the wire form of a successful authorization.
type grantPayload struct {
	Credentials map[string]string `json:"credentials"`
	Settings    map[string]any    `json:"settings"`
	Identity    Identity          `json:"identity"`
	CallbackURL string            `json:"callback_url"`
}

// Fetch implements Handler.
func (r *Remote) Fetch(ctx context.Context, req Request) (*Grant, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	body, err := json.Marshal(map[string]string{
		"resource":  req.Resource,
		"provider":  req.Provider,
		"action":    string(req.Action),
		"view_only": req.ViewOnly,
	})
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindUnexpected, err, "encode authorization request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindUnexpected, err, "build authorization request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if req.Authorization != "" {
		httpReq.Header.Set("Authorization", req.Authorization)
	}
	if req.Cookie != "" {
		httpReq.Header.Set("Cookie", req.Cookie)
	}

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindServiceUnavailable, err, "auth provider unreachable")
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxGrantBody))
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindServiceUnavailable, err, "read authorization response")
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return nil, errdefs.Unauthorized("invalid or expired credentials")
	case http.StatusForbidden:
		return nil, errdefs.Forbidden("%s access to %s on resource %q denied", req.Action, req.Provider, req.Resource)
	case http.StatusNotFound, http.StatusGone:
		return nil, errdefs.NotFound("resource %q not found", req.Resource)
	default:
		return nil, errdefs.Unavailable("auth provider returned status %d", resp.StatusCode)
	}

	var grant grantPayload
	if err := json.Unmarshal(payload, &grant); err != nil {
		return nil, errdefs.Wrap(errdefs.KindUnexpected, err, "auth provider returned an unreadable grant")
	}
	out := &Grant{
		Credentials: grant.Credentials,
		Settings:    grant.Settings,
		Identity:    grant.Identity,
		Callback:    grant.CallbackURL,
	}
	if out.Credentials == nil {
		out.Credentials = map[string]string{}
	}
	if out.Settings == nil {
		out.Settings = map[string]any{}
	}
	return out, nil
}

var _ Handler = (*Remote)(nil)
