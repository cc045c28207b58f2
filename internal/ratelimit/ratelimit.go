// Package ratelimit enforces a fixed-window request budget per credential.
//
// Callers are classified by what they present: bearer tokens and basic
// credentials are budgeted individually (keyed by a digest, never the raw
// value), anonymous callers share a per-IP budget, and cookie-authenticated
// interactive sessions bypass the limiter entirely. Counters live in a
// pluggable Store so replicas share one budget.
package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/portagehq/portage/internal/errdefs"
	"github.com/portagehq/portage/internal/logging"
)

// Defaults per the gateway configuration contract: 3600 requests per hour.
const (
	DefaultLimit  = 3600
	DefaultWindow = 3600 * time.Second
)

// DefaultCookieName is the session cookie that marks interactive callers.
const DefaultCookieName = "portage_session"

// Store is the shared fixed-window counter backend.
type Store interface {
	// Incr atomically increments the counter for key, creating it with the
	// window TTL on first touch, and returns the post-increment count and
	// the time left until the window resets.
	Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}

// Decision is one limiter evaluation for a request that was subject to the
// budget.
type Decision struct {
	Limited    bool
	Limit      int64
	Remaining  int64
	ResetAfter time.Duration
}

// Options configures a Limiter. Zero values select the defaults.
type Options struct {
	Enabled bool
	Limit   int64
	Window  time.Duration
	// CookieName overrides DefaultCookieName.
	CookieName string
	Store      Store
}

// Limiter classifies requests and enforces the window budget.
type Limiter struct {
	enabled bool
	limit   int64
	window  time.Duration
	cookie  string
	store   Store
	log     zerolog.Logger
}

// New builds a Limiter. An enabled limiter requires a Store.
func New(opts Options) *Limiter {
	l := &Limiter{
		enabled: opts.Enabled,
		limit:   opts.Limit,
		window:  opts.Window,
		cookie:  opts.CookieName,
		store:   opts.Store,
		log:     logging.Component("ratelimit"),
	}
	if l.limit <= 0 {
		l.limit = DefaultLimit
	}
	if l.window <= 0 {
		l.window = DefaultWindow
	}
	if l.cookie == "" {
		l.cookie = DefaultCookieName
	}
	if l.store == nil {
		l.enabled = false
	}
	return l
}

// Check evaluates the request against the current window. It returns nil
// when the limiter is disabled or the caller bypasses it; it returns an
// Unavailable error when the store cannot be reached while limiting is on.
func (l *Limiter) Check(ctx context.Context, r *http.Request) (*Decision, error) {
	if !l.enabled {
		return nil, nil
	}
	key, bypass := l.classify(r)
	if bypass {
		return nil, nil
	}

	count, ttl, err := l.store.Incr(ctx, key, l.window)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindServiceUnavailable, err, "rate limit store unreachable")
	}

	d := &Decision{Limit: l.limit, Remaining: max(l.limit-count, 0), ResetAfter: ttl}
	if count > l.limit {
		d.Limited = true
		l.log.Warn().
			Str("key", key).
			Int64("count", count).
			Int64("limit", l.limit).
			Msg("request rate limited")
	}
	return d, nil
}

// classify buckets the caller. Authorization headers outrank cookies, so a
// token presented by an interactive session is still budgeted as a token.
func (l *Limiter) classify(r *http.Request) (key string, bypass bool) {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if tok, ok := strings.CutPrefix(auth, "Bearer "); ok && tok != "" {
			return "token__" + digest(tok), false
		}
		if raw, ok := strings.CutPrefix(auth, "Basic "); ok && raw != "" {
			return "basic__" + digest(raw), false
		}
	}
	if c, err := r.Cookie(l.cookie); err == nil && c.Value != "" {
		return "", true
	}
	if r.URL.Query().Get("cookie") != "" {
		return "", true
	}
	return "none__" + digest(clientIP(r)), false
}

func digest(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
