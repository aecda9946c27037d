// Package httputil holds the JSON response helpers of the query API and
// the mapping from round errors to HTTP status codes.
package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/banshee-data/alquery/internal/al"
	"github.com/banshee-data/alquery/internal/monitoring"
)

var logf = monitoring.Subsystem("http")

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error string `json:"error"`
	// Kind is the round error kind, when the error came from a round.
	Kind string `json:"kind,omitempty"`
}

// WriteJSON writes data as JSON with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logf("failed to encode json response: %v", err)
	}
}

// WriteJSONOK writes data with 200 OK.
func WriteJSONOK(w http.ResponseWriter, data interface{}) {
	WriteJSON(w, http.StatusOK, data)
}

// WriteJSONError writes an error body with the given status code.
func WriteJSONError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, ErrorBody{Error: msg})
}

// WriteError writes err with the status code chosen by StatusFor.
func WriteError(w http.ResponseWriter, err error) {
	body := ErrorBody{Error: err.Error()}
	if kind := al.ErrorKind(err); kind != "other" {
		body.Kind = kind
	}
	WriteJSON(w, StatusFor(err), body)
}

// StatusFor maps a round error to an HTTP status code. Bad parameters are
// the caller's fault; malformed detector output is an upstream failure;
// a pool with nothing to score cannot be processed.
func StatusFor(err error) int {
	var (
		invalidRule *al.InvalidRuleError
		missing     *al.MissingParameterError
		unknown     *al.UnknownFrameIDError
		bad         *al.MalformedDetectionError
		emptyPool   *al.EmptyPoolError
		invalid     *al.InvalidParameterError
	)
	switch {
	case errors.As(err, &invalidRule), errors.As(err, &missing), errors.As(err, &unknown), errors.As(err, &invalid):
		return http.StatusBadRequest
	case errors.As(err, &emptyPool):
		return http.StatusUnprocessableEntity
	case errors.As(err, &bad):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// MethodNotAllowed writes a 405 response.
func MethodNotAllowed(w http.ResponseWriter) {
	WriteJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
}

// BadRequest writes a 400 response.
func BadRequest(w http.ResponseWriter, msg string) {
	WriteJSONError(w, http.StatusBadRequest, msg)
}

// NotFound writes a 404 response.
func NotFound(w http.ResponseWriter, msg string) {
	WriteJSONError(w, http.StatusNotFound, msg)
}
