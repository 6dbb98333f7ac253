package http

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/c360/telemetryhub/errors"
	"github.com/c360/telemetryhub/telemetry"
)

// errorResponse is the REST error body.
type errorResponse struct {
	Error string `json:"error"`
}

// batchRequest is the ingest envelope, shared by the REST endpoint and
// the telemetry WebSocket.
type batchRequest struct {
	Datapoints []telemetry.DatapointInput `json:"datapoints"`
}

// handleBatch accepts a datapoints envelope and returns the pipeline's
// accepted/rejected report.
//
//	200 report              batch processed (possibly with drops)
//	400 capacity            size outside [1, 500], rejected whole
//	422 malformed           body is not a datapoints envelope
//	503 persistence         bulk write or resolver failure
func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: "malformed batch"})
		return
	}

	report, err := s.pipeline.Ingest(r.Context(), req.Datapoints, telemetry.SourceREST)
	if err != nil {
		s.writeIngestError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) writeIngestError(w http.ResponseWriter, err error) {
	switch {
	case stderrors.Is(err, errors.ErrBatchTooLarge), stderrors.Is(err, errors.ErrEmptyBatch):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.IsTransient(err):
		s.logger.Error("ingest failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "persistence unavailable"})
	default:
		s.logger.Error("ingest failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
