package server

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/portagehq/portage/internal/auth"
	"github.com/portagehq/portage/internal/errdefs"
	"github.com/portagehq/portage/internal/metadata"
	"github.com/portagehq/portage/internal/paths"
	"github.com/portagehq/portage/internal/provider"
	"github.com/portagehq/portage/internal/transfer"
)

// postBodyLimit caps the POST body; move and copy instructions have no
// business being larger.
const postBodyLimit = 1 << 20

// moveCopyBody is the POST instruction. Resource and Provider retarget the
// destination; empty values inherit from the source.
type moveCopyBody struct {
	Action   string `json:"action"`
	Path     string `json:"path"`
	Rename   string `json:"rename"`
	Conflict string `json:"conflict"`
	Resource string `json:"resource"`
	Provider string `json:"provider"`
}

// handlePost executes move, copy and rename. Rename is normalized into a
// move to the entity's own parent. The body is read before auth because the
// action and the destination determine what must be authorized.
func (s *Server) handlePost(w http.ResponseWriter, r *http.Request, req *v1Request) {
	body, err := readMoveCopyBody(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	req.action = auth.ActionCopyFrom
	if body.Action == "rename" {
		req.action = auth.ActionWrite
	}
	if err := s.authenticate(r, req); err != nil {
		s.writeError(w, r, err)
		return
	}

	ctx, cancel := s.opTimeout(r.Context())
	srcPath, err := req.backend.ResolvePath(ctx, req.rawPath)
	cancel()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	req.path = srcPath

	conflict, err := provider.ParseConflict(body.Conflict)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var (
		dest         provider.Provider
		destFolder   paths.Path
		destResource string
		move         bool
	)
	if body.Action == "rename" {
		dest = req.backend
		destFolder = srcPath.Parent()
		destResource = req.resource
		move = true
	} else {
		move = body.Action == "move"

		destResource = body.Resource
		if destResource == "" {
			destResource = req.resource
		}
		destProvider := body.Provider
		if destProvider == "" {
			destProvider = req.provider
		}

		// The destination may belong to another resource or provider, so
		// its grant is fetched on its own.
		_, destBackend, err := s.grantProvider(r, destResource, destProvider, auth.ActionCopyTo)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		dest = destBackend

		destFolder, err = dest.ValidatePath(r.Context(), body.Path)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
	}

	treq := transfer.Request{
		Source:     req.backend,
		SourcePath: srcPath,
		Dest:       dest,
		DestFolder: destFolder,
		Rename:     body.Rename,
		Conflict:   conflict,
	}
	var result *transfer.Result
	if move {
		result, err = s.engine.Move(r.Context(), treq)
	} else {
		result, err = s.engine.Copy(r.Context(), treq)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	// Renames answer 200 even when the engine reports a fresh entity: the
	// caller addressed something that already existed.
	status := http.StatusOK
	if result.Created && body.Action != "rename" {
		status = http.StatusCreated
	}
	env := metadata.ToJSONAPI(result.Item, destResource, s.baseURL)
	writeJSON(w, status, dataBody{Data: env})

	action := body.Action
	if action == "rename" {
		action = "move"
	}
	s.notifyMutation(r, req, action, srcPath, &env)
}

// readMoveCopyBody enforces the body prevalidations and decodes the
// instruction. These checks run before auth.
func readMoveCopyBody(w http.ResponseWriter, r *http.Request) (*moveCopyBody, error) {
	if r.ContentLength < 0 {
		return nil, errdefs.LengthRequired("Content-Length is required")
	}
	if r.ContentLength > postBodyLimit {
		return nil, errdefs.PayloadTooLarge("request body must be under 1Mb")
	}

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, postBodyLimit))
	if err != nil {
		return nil, errdefs.PayloadTooLarge("request body must be under 1Mb")
	}

	var body moveCopyBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, errdefs.InvalidArgument("invalid json body")
	}

	switch body.Action {
	case "move", "copy":
		if body.Path == "" {
			return nil, errdefs.InvalidArgument("path is required for moves or copies")
		}
	case "rename":
		if body.Rename == "" {
			return nil, errdefs.InvalidArgument("rename is required for renaming")
		}
	default:
		name := body.Action
		if name == "" {
			name = "null"
		}
		return nil, errdefs.InvalidArgument("action must be copy, move or rename, not %s", name)
	}
	return &body, nil
}
