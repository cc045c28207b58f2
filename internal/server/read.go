package server

import (
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/portagehq/portage/internal/errdefs"
	"github.com/portagehq/portage/internal/metadata"
	"github.com/portagehq/portage/internal/provider"
	"github.com/portagehq/portage/internal/streams"
)

const fallbackContentType = "application/octet-stream"

// handleHead answers file metadata as headers only. Folder metadata has no
// header rendering, so HEAD on a folder is not implemented.
func (s *Server) handleHead(w http.ResponseWriter, r *http.Request, req *v1Request) {
	if req.path.IsFolder() {
		w.WriteHeader(http.StatusNotImplemented)
		return
	}

	ctx, cancel := s.opTimeout(r.Context())
	defer cancel()
	item, err := req.backend.Metadata(ctx, req.path, provider.MetadataOptions{Version: versionParam(r)})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	file, ok := item.(*metadata.File)
	if !ok {
		s.writeError(w, r, errdefs.Unexpected("file metadata expected at %q", req.path.String()))
		return
	}

	h := w.Header()
	if file.Size >= 0 {
		h.Set("Content-Length", strconv.FormatInt(file.Size, 10))
	}
	if !file.Modified.IsZero() {
		h.Set("Last-Modified", file.Modified.UTC().Format(http.TimeFormat))
	}
	ct := file.ContentType
	if ct == "" {
		ct = fallbackContentType
	}
	h.Set("Content-Type", ct)
	if file.ETag != "" {
		h.Set("ETag", strconv.Quote(metadata.SaltETag(req.provider, file.ETag)))
	}
	if blob, err := json.Marshal(metadata.ToJSONAPI(item, req.resource, s.baseURL)); err == nil {
		h.Set("X-Portage-Metadata", string(blob))
	}
	w.WriteHeader(http.StatusOK)
}

// handleGetFolder lists children, or streams the subtree as a ZIP archive
// when the zip parameter is present.
func (s *Server) handleGetFolder(w http.ResponseWriter, r *http.Request, req *v1Request) {
	if r.URL.Query().Has("zip") {
		s.handleZip(w, r, req)
		return
	}

	ctx, cancel := s.opTimeout(r.Context())
	defer cancel()
	children, err := req.backend.List(ctx, req.path)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	out := make([]metadata.JSONAPI, 0, len(children))
	for _, child := range children {
		out = append(out, metadata.ToJSONAPI(child, req.resource, s.baseURL))
	}
	writeJSON(w, http.StatusOK, dataBody{Data: out})
}

func (s *Server) handleZip(w http.ResponseWriter, r *http.Request, req *v1Request) {
	name := req.path.Name()
	if name == "" {
		name = req.provider + "-archive"
	}

	archive, err := s.engine.Zip(r.Context(), req.backend, req.path)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer archive.Close()

	h := w.Header()
	h.Set("Content-Type", "application/zip")
	h.Set("Content-Disposition", metadata.Disposition(name+".zip"))
	w.WriteHeader(http.StatusOK)

	if _, err := streams.Copy(flushWriter{w}, archive); err != nil {
		s.log.Debug().Err(err).Str("path", req.path.String()).Msg("zip stream interrupted")
	}
}

// handleGetFile dispatches the file GET modes: meta wins over the revision
// listing, which wins over a download.
func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request, req *v1Request) {
	q := r.URL.Query()
	switch {
	case q.Has("meta"):
		s.handleFileMetadata(w, r, req)
	case q.Has("versions"), q.Has("revisions"):
		s.handleRevisions(w, r, req)
	default:
		s.handleDownload(w, r, req)
	}
}

func (s *Server) handleFileMetadata(w http.ResponseWriter, r *http.Request, req *v1Request) {
	ctx, cancel := s.opTimeout(r.Context())
	defer cancel()
	item, err := req.backend.Metadata(ctx, req.path, provider.MetadataOptions{Version: versionParam(r)})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dataBody{Data: metadata.ToJSONAPI(item, req.resource, s.baseURL)})
}

func (s *Server) handleRevisions(w http.ResponseWriter, r *http.Request, req *v1Request) {
	ctx, cancel := s.opTimeout(r.Context())
	defer cancel()
	revisions, err := req.backend.Revisions(ctx, req.path)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	out := make([]metadata.JSONAPI, 0, len(revisions))
	for _, rev := range revisions {
		out = append(out, metadata.RevisionJSONAPI(rev))
	}
	writeJSON(w, http.StatusOK, dataBody{Data: out})
}

// handleDownload streams file bytes, or redirects when the backend answers
// with a signed URL and the caller did not force a direct stream.
//
// A Range header costs one extra metadata call: deciding between 200, 206
// and 416 needs the entity size before the backend read starts. Requests
// for the entire entity answer 200 rather than 206 even when they arrived
// as a range; some user agents refuse a 206 that spans the whole body.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request, req *v1Request) {
	q := r.URL.Query()

	rng := parseRange(r.Header.Get("Range"))
	total := metadata.SizeUnknown
	if rng != nil {
		ctx, cancel := s.opTimeout(r.Context())
		item, err := req.backend.Metadata(ctx, req.path, provider.MetadataOptions{Version: versionParam(r)})
		cancel()
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if file, ok := item.(*metadata.File); ok {
			total = file.Size
		}
		if total >= 0 {
			if rng.Start >= total {
				h := w.Header()
				h.Set("Content-Type", "text/plain")
				h.Set("Content-Range", fmt.Sprintf("bytes */%d", total))
				w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
				return
			}
			if rng.End < 0 || rng.End >= total {
				rng.End = total - 1
			}
			if rng.Start == 0 && rng.End == total-1 {
				rng = nil
			}
		}
	}

	dl, err := req.backend.Download(r.Context(), req.path, provider.DownloadOptions{
		Version:     versionParam(r),
		Range:       rng,
		Direct:      q.Has("direct"),
		DisplayName: q.Get("displayName"),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if dl.RedirectURL != "" {
		http.Redirect(w, r, dl.RedirectURL, http.StatusFound)
		return
	}
	defer dl.Stream.Close()

	name := q.Get("displayName")
	if name == "" {
		name = dl.DisplayName
	}
	if name == "" {
		name = req.path.Name()
	}

	h := w.Header()
	h.Set("Content-Disposition", metadata.Disposition(name))
	h.Set("Accept-Ranges", "bytes")
	h.Set("Content-Type", contentTypeFor(name))

	status := http.StatusOK
	switch {
	case rng != nil && total >= 0:
		status = http.StatusPartialContent
		h.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", rng.Start, rng.End, total))
		h.Set("Content-Length", strconv.FormatInt(rng.End-rng.Start+1, 10))
	case rng != nil && dl.Stream.Size() >= 0:
		// Backend never reported a total size; the part length still makes
		// a valid unsatisfied-length Content-Range.
		status = http.StatusPartialContent
		h.Set("Content-Range", fmt.Sprintf("bytes %d-%d/*", rng.Start, rng.Start+dl.Stream.Size()-1))
		h.Set("Content-Length", strconv.FormatInt(dl.Stream.Size(), 10))
	default:
		if size := dl.Stream.Size(); size >= 0 {
			h.Set("Content-Length", strconv.FormatInt(size, 10))
		}
	}

	w.WriteHeader(status)
	n, err := streams.Copy(flushWriter{w}, dl.Stream)
	if err != nil {
		// The status line is on the wire already; the client going away or
		// the backend breaking mid-stream leaves only bookkeeping.
		s.log.Debug().Err(err).Str("path", req.path.String()).Msg("download stream interrupted")
	}
	s.metrics.ObserveTransfer("download", req.provider, n)
}

// parseRange reads a single-interval bytes range. Anything else — suffix
// forms, multi-range lists, other units, end before start — is treated as
// if the header were absent, per RFC 7233.
func parseRange(header string) *provider.ByteRange {
	value, ok := strings.CutPrefix(header, "bytes=")
	if !ok {
		return nil
	}
	startRaw, endRaw, ok := strings.Cut(strings.TrimSpace(value), "-")
	if !ok || startRaw == "" {
		return nil
	}
	start, err := strconv.ParseInt(startRaw, 10, 64)
	if err != nil || start < 0 {
		return nil
	}
	end := int64(-1)
	if endRaw != "" {
		end, err = strconv.ParseInt(endRaw, 10, 64)
		if err != nil || end < start {
			return nil
		}
	}
	return &provider.ByteRange{Start: start, End: end}
}

// contentTypeFor guesses from the extension of the name the client will
// save, which follows displayName overrides.
func contentTypeFor(name string) string {
	if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
		return ct
	}
	return fallbackContentType
}

// flushWriter pushes every chunk to the client as soon as it is written, so
// long downloads and lazily-built archives make visible progress.
type flushWriter struct {
	w http.ResponseWriter
}

func (fw flushWriter) Write(p []byte) (int, error) {
	n, err := fw.w.Write(p)
	if f, ok := fw.w.(http.Flusher); ok {
		f.Flush()
	}
	return n, err
}
