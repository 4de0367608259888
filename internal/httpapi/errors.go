package httpapi

import (
	"encoding/json"
	"net/http"

	"chatd/internal/manager"
	"chatd/internal/modelstore"
	"chatd/internal/relay"
	"chatd/internal/store"
	"chatd/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}

// writeServiceError maps well-known service errors to HTTP status codes.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case store.IsNotFound(err), modelstore.IsNotFound(err):
		writeJSONError(w, http.StatusNotFound, err.Error())
	case manager.IsReloadInProgress(err):
		writeJSONError(w, http.StatusConflict, err.Error())
	case relay.IsBackendUnavailable(err), modelstore.IsFetcherUnavailable(err):
		writeJSONError(w, http.StatusServiceUnavailable, err.Error())
	case modelstore.IsInvalidName(err):
		writeJSONError(w, http.StatusBadRequest, err.Error())
	default:
		if he, ok := err.(HTTPError); ok {
			writeJSONError(w, he.StatusCode(), he.Error())
			return
		}
		writeJSONError(w, http.StatusInternalServerError, err.Error())
	}
}
