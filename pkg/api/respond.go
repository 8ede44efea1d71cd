package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/exploopio/streamguard/pkg/errors"
)

const maxBodyBytes = 1 << 20

type errorResponse struct {
	Detail string `json:"detail"`
	Kind   string `json:"kind,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErrorMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Detail: msg})
}

// writeError answers with the status that matches the error kind.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	kind := errors.GetKind(err)
	status := kind.HTTPStatus()
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed: %v", err)
	}
	writeJSON(w, status, errorResponse{Detail: err.Error(), Kind: kind.String()})
}

// decodeJSON reads a JSON body into v. An empty body leaves v untouched.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && err != io.EOF {
		return errors.E(errors.KindInvalidInput, "api.decode", "invalid JSON body", err)
	}
	return nil
}
