package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gyaneshwarpardhi/vitalsync/internal/ingest"
)

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorResponse is the standard error envelope.
type errorResponse struct {
	Error     string         `json:"error"`
	Retryable bool           `json:"retryable,omitempty"`
	Result    *ingest.Result `json:"result,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// ingestResponse is returned for a delivery that ran to completion.
type ingestResponse struct {
	DeliveryID string `json:"delivery_id"`
	ingest.Result
}

// writeOutcome maps a delivery outcome onto the HTTP status a sender acts on:
// 202 when anything new was stored, 200 when everything was already known,
// 422 when every sample was malformed, 4xx for payloads that will never
// succeed and 503 for failures worth retrying.
func writeOutcome(w http.ResponseWriter, out *ingest.Outcome, err error) {
	if err != nil {
		status := errorStatus(err)
		resp := errorResponse{Error: err.Error(), Retryable: status == http.StatusServiceUnavailable}
		if out != nil && out.Result != (ingest.Result{}) {
			res := out.Result
			resp.Result = &res
		}
		if resp.Retryable {
			w.Header().Set("Retry-After", "1")
		}
		writeJSON(w, status, resp)
		return
	}

	status := http.StatusOK
	switch {
	case out.Accepted > 0:
		status = http.StatusAccepted
	case out.Duplicate > 0:
		status = http.StatusOK
	case out.Rejected > 0:
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, ingestResponse{DeliveryID: out.DeliveryID, Result: out.Result})
}

func errorStatus(err error) int {
	var verr *ingest.ValidationError
	var uerr *ingest.UnknownSourceError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.As(err, &uerr):
		return http.StatusNotFound
	case ingest.Retryable(err), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
