package server

import (
	"net/http"

	"github.com/portagehq/portage/internal/auth"
	"github.com/portagehq/portage/internal/errdefs"
	"github.com/portagehq/portage/internal/metadata"
	"github.com/portagehq/portage/internal/paths"
	"github.com/portagehq/portage/internal/provider"
	"github.com/portagehq/portage/internal/streams"
)

// handlePut uploads a file or creates a folder. Cheap shape checks run
// before auth so malformed requests never cost an auth round-trip or a
// backend call; target derivation runs after the URL path resolved, when
// its kind is known.
func (s *Server) handlePut(w http.ResponseWriter, r *http.Request, req *v1Request) {
	req.action = auth.ActionWrite
	q := r.URL.Query()

	kind := q.Get("kind")
	if kind == "" {
		kind = "file"
	}
	if kind != "file" && kind != "folder" {
		s.writeError(w, r, errdefs.InvalidArgument("kind must be file, folder or unspecified (interpreted as file), not %s", kind))
		return
	}
	if kind == "file" && missingLength(r) {
		s.writeError(w, r, errdefs.LengthRequired("Content-Length is required for file uploads"))
		return
	}
	if kind == "folder" && r.ContentLength != 0 {
		s.writeError(w, r, errdefs.PayloadTooLarge("folder creation requests may not have a body"))
		return
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

	target, err := putTarget(path, kind, q.Has("name"), q.Get("name"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if target.IsFolder() {
		s.handleCreateFolder(w, r, req, target)
		return
	}
	s.handleUpload(w, r, req, target)
}

// putTarget derives what a PUT writes to. A folder path takes a new child
// named by the name parameter; a file path is written in place.
func putTarget(entity paths.Path, kind string, hasName bool, name string) (paths.Path, error) {
	if entity.IsFolder() {
		if !hasName {
			return paths.Path{}, errdefs.InvalidArgument("missing required parameter 'name'")
		}
		return entity.Child(name, kind == "folder")
	}
	if hasName {
		return paths.Path{}, errdefs.InvalidArgument("'name' parameter doesn't apply to actions on files")
	}
	if kind == "folder" {
		return paths.Path{}, errdefs.NamingConflict(`path must be a folder (and end with a "/") to create a subfolder`)
	}
	return entity, nil
}

// missingLength reports an upload body of unknown size. Chunked transfers
// and HTTP/2 data frames carry their own framing and are acceptable without
// a Content-Length header.
func missingLength(r *http.Request) bool {
	return r.ContentLength < 0 && len(r.TransferEncoding) == 0 && r.ProtoMajor < 2
}

func (s *Server) handleCreateFolder(w http.ResponseWriter, r *http.Request, req *v1Request, target paths.Path) {
	ctx, cancel := s.opTimeout(r.Context())
	defer cancel()
	folder, err := req.backend.CreateFolder(ctx, target)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	env := metadata.ToJSONAPI(folder, req.resource, s.baseURL)
	writeJSON(w, http.StatusCreated, dataBody{Data: env})

	s.notifyMutation(r, req, "create_folder", target, &env)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, req *v1Request, target paths.Path) {
	conflict, err := provider.ParseConflict(r.URL.Query().Get("conflict"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	// A PUT straight to an existing file is an update: the path already
	// resolved strictly, so the entity is known to exist and the write
	// replaces it. Conflict policies apply to new children of a folder.
	if target.Equal(req.path) {
		conflict = provider.ConflictReplace
	}

	body := streams.NewReadCloser(r.Body, r.ContentLength)
	item, created, err := req.backend.Upload(r.Context(), body, target, provider.UploadOptions{Conflict: conflict})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	status := http.StatusOK
	action := "update"
	if created {
		status = http.StatusCreated
		action = "create"
	}
	env := metadata.ToJSONAPI(item, req.resource, s.baseURL)
	writeJSON(w, status, dataBody{Data: env})

	s.metrics.ObserveTransfer("upload", req.provider, item.Size)
	s.notifyMutation(r, req, action, item.Path, &env)
}
