package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/portagehq/portage/internal/errdefs"
)

// dataBody is the success envelope: one entity or a list under "data".
type dataBody struct {
	Data any `json:"data"`
}

// errorBody is the failure envelope. Code repeats the HTTP status; Data
// carries optional provider-neutral context such as the conflicting name on
// a 409.
type errorBody struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	// The status line is committed; an encode failure here can only mean
	// the client went away.
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errdefs.Status(err)

	body := errorBody{Code: status, Message: "internal server error"}
	var gerr *errdefs.Error
	if errors.As(err, &gerr) {
		body.Message = gerr.Message
		body.Data = gerr.Data
	}

	evt := s.log.Warn()
	if status >= http.StatusInternalServerError {
		evt = s.log.Error()
	}
	evt.Err(err).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Int("status", status).
		Str("request_id", middleware.GetReqID(r.Context())).
		Msg("request failed")

	writeJSON(w, status, body)
}
