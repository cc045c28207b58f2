package server

import (
	"context"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/portagehq/portage/internal/auth"
	"github.com/portagehq/portage/internal/errdefs"
	"github.com/portagehq/portage/internal/metadata"
	"github.com/portagehq/portage/internal/notify"
	"github.com/portagehq/portage/internal/paths"
	"github.com/portagehq/portage/internal/provider"
	"github.com/portagehq/portage/internal/ratelimit"
)

// segmentPattern constrains the resource and provider URL segments: word
// characters and dots, at least one.
var segmentPattern = regexp.MustCompile(`^[\w.]+$`)

// v1Request accumulates what the pipeline learns about one request: the
// parsed identifiers first, then the grant, the constructed provider and the
// validated path.
type v1Request struct {
	resource string
	provider string
	rawPath  string

	action  auth.Action
	grant   *auth.Grant
	backend provider.Provider
	path    paths.Path
}

// handleV1 wraps the pipeline so every outcome, including early rejections,
// lands in the request metrics with whatever labels were established by
// then.
func (s *Server) handleV1(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

	req := &v1Request{}
	s.serveV1(ww, r, req)

	s.metrics.ObserveRequest(r.Method, string(req.action), req.provider, ww.Status(), time.Since(start))
}

func (s *Server) serveV1(w http.ResponseWriter, r *http.Request, req *v1Request) {
	// Bare OPTIONS. Preflights carry Access-Control-Request-Method and are
	// answered by the CORS middleware before the request gets here.
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	var err error
	req.resource, req.provider, req.rawPath, err = splitV1Path(r.URL.Path)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	// Rate limiting precedes auth so abusive traffic never costs an auth
	// round-trip or a backend call.
	decision, err := s.limiter.Check(r.Context(), r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if decision != nil && decision.Limited {
		writeRateLimitHeaders(w, decision)
		s.writeError(w, r, errdefs.RateLimited("rate limit exceeded"))
		return
	}

	switch r.Method {
	case http.MethodPut:
		// PUT prevalidates before auth and resolves its own target path.
		s.handlePut(w, r, req)
	case http.MethodPost:
		// POST reads the body first: the auth action depends on it.
		s.handlePost(w, r, req)
	case http.MethodHead, http.MethodGet, http.MethodDelete:
		s.serveEntity(w, r, req)
	default:
		s.writeError(w, r, errdefs.NotSupported("method %s is not supported", r.Method))
	}
}

// serveEntity handles the methods that operate on an entity that must
// already exist: HEAD, GET and DELETE.
func (s *Server) serveEntity(w http.ResponseWriter, r *http.Request, req *v1Request) {
	req.action = auth.ActionRead
	if r.Method == http.MethodDelete {
		req.action = auth.ActionDelete
	}

	if err := s.authenticate(r, req); err != nil {
		s.writeError(w, r, err)
		return
	}

	ctx, cancel := s.opTimeout(r.Context())
	path, err := req.backend.ResolvePath(ctx, req.rawPath)
	cancel()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	req.path = path

	switch r.Method {
	case http.MethodHead:
		s.handleHead(w, r, req)
	case http.MethodGet:
		if path.IsFolder() {
			s.handleGetFolder(w, r, req)
		} else {
			s.handleGetFile(w, r, req)
		}
	case http.MethodDelete:
		s.handleDelete(w, r, req)
	}
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request, req *v1Request) {
	confirm := 0
	if raw := r.URL.Query().Get("confirm_delete"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			s.writeError(w, r, errdefs.InvalidArgument("confirm_delete must be an integer"))
			return
		}
		confirm = n
	}

	ctx, cancel := s.opTimeout(r.Context())
	defer cancel()
	if err := req.backend.Delete(ctx, req.path, confirm == 1); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)

	s.notifyMutation(r, req, "delete", req.path, nil)
}

// splitV1Path carves /v1/resources/{resource}/providers/{provider}{/path}
// out of an already-decoded URL path. The entity path keeps its leading and
// trailing slashes: the trailing slash is what distinguishes a folder from a
// file.
func splitV1Path(urlPath string) (resource, providerName, rawPath string, err error) {
	notFound := errdefs.NotFound("not found")

	rest, ok := strings.CutPrefix(urlPath, "/v1/resources/")
	if !ok {
		return "", "", "", notFound
	}
	resource, rest, ok = strings.Cut(rest, "/providers/")
	if !ok {
		return "", "", "", notFound
	}
	slash := strings.Index(rest, "/")
	if slash < 0 {
		// No entity path at all, not even the root "/".
		return "", "", "", notFound
	}
	providerName, rawPath = rest[:slash], rest[slash:]

	if !segmentPattern.MatchString(resource) || !segmentPattern.MatchString(providerName) {
		return "", "", "", notFound
	}
	return resource, providerName, rawPath, nil
}

// grantProvider authorizes one (resource, provider, action) triple and
// constructs the granted provider instance.
func (s *Server) grantProvider(r *http.Request, resource, providerName string, action auth.Action) (*auth.Grant, provider.Provider, error) {
	grant, err := s.auth.Fetch(r.Context(), auth.Request{
		Resource:      resource,
		Provider:      providerName,
		Action:        action,
		Authorization: r.Header.Get("Authorization"),
		Cookie:        callerCookie(r),
		ViewOnly:      r.URL.Query().Get("view_only"),
	})
	if err != nil {
		return nil, nil, err
	}
	backend, err := provider.New(r.Context(), providerName, provider.Bundle{
		Credentials: grant.Credentials,
		Settings:    grant.Settings,
	})
	if err != nil {
		return nil, nil, err
	}
	return grant, backend, nil
}

func (s *Server) authenticate(r *http.Request, req *v1Request) error {
	grant, backend, err := s.grantProvider(r, req.resource, req.provider, req.action)
	if err != nil {
		return err
	}
	req.grant = grant
	req.backend = backend
	return nil
}

// callerCookie prefers the explicit cookie query parameter and falls back to
// the raw Cookie header, which remote auth forwards verbatim.
func callerCookie(r *http.Request) string {
	if c := r.URL.Query().Get("cookie"); c != "" {
		return c
	}
	return r.Header.Get("Cookie")
}

// opTimeout bounds bookkeeping calls against a slow backend. Byte-moving
// paths manage their own liveness and never run under it.
func (s *Server) opTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.requestTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.requestTimeout)
}

// versionParam reads the revision selector; version wins over the legacy
// revision spelling.
func versionParam(r *http.Request) string {
	q := r.URL.Query()
	if v := q.Get("version"); v != "" {
		return v
	}
	return q.Get("revision")
}

// writeRateLimitHeaders describes the exhausted budget. The headers appear
// only on denials.
func writeRateLimitHeaders(w http.ResponseWriter, d *ratelimit.Decision) {
	reset := time.Now().Add(d.ResetAfter)
	h := w.Header()
	h.Set("Retry-After", strconv.FormatInt(int64(d.ResetAfter.Seconds())+1, 10))
	h.Set("X-RateLimit-Limit", strconv.FormatInt(d.Limit, 10))
	h.Set("X-RateLimit-Remaining", strconv.FormatInt(d.Remaining, 10))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
}

// notifyMutation reports a committed mutation. Deliveries are detached from
// the request; failures never surface here.
func (s *Server) notifyMutation(r *http.Request, req *v1Request, action string, path paths.Path, entity *metadata.JSONAPI) {
	ev := notify.Event{
		Action:   action,
		Resource: req.resource,
		Provider: req.provider,
		Path:     path.String(),
		Entity:   entity,
	}
	if req.grant != nil {
		ev.Actor = req.grant.Identity
		ev.Callback = req.grant.Callback
	}
	s.notifier.Notify(r.Context(), ev)
}
