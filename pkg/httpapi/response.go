package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dmitrymomot/featurelab/pkg/experiment"
	"github.com/dmitrymomot/featurelab/pkg/feature"
)

// envelope is the body of every JSON response.
type envelope struct {
	Data  any          `json:"data,omitempty"`
	Error *errorDetail `json:"error,omitempty"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// response is what a handler produces on success.
type response struct {
	status int
	data   any
}

func ok(data any) response       { return response{status: http.StatusOK, data: data} }
func created(data any) response  { return response{status: http.StatusCreated, data: data} }
func accepted(data any) response { return response{status: http.StatusAccepted, data: data} }
func noContent() response        { return response{status: http.StatusNoContent} }

func (res response) render(w http.ResponseWriter) error {
	if res.status == http.StatusNoContent {
		w.WriteHeader(res.status)
		return nil
	}
	return writeJSON(w, res.status, envelope{Data: res.data})
}

func writeJSON(w http.ResponseWriter, status int, body envelope) error {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(body)
}

// classify maps an error to a status code and a stable error code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, errUnsupportedMediaType):
		return http.StatusUnsupportedMediaType, "unsupported_media_type"
	case errors.Is(err, errBodyTooLarge):
		return http.StatusRequestEntityTooLarge, "request_too_large"
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, feature.ErrFlagNotFound),
		errors.Is(err, feature.ErrOverrideNotFound),
		errors.Is(err, experiment.ErrExperimentNotFound),
		errors.Is(err, experiment.ErrAssignmentNotFound),
		errors.Is(err, errSnapshotNotFound),
		errors.Is(err, errDefinitionNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, experiment.ErrExperimentExists),
		errors.Is(err, experiment.ErrConcurrentUpdate):
		return http.StatusConflict, "conflict"
	case feature.IsValidationError(err), experiment.IsValidationError(err):
		return http.StatusUnprocessableEntity, "validation_failed"
	case errors.Is(err, feature.ErrPartialFailure):
		return http.StatusMultiStatus, "partial_failure"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
