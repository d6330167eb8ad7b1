package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/xavierca1/lead-pipeline/internal/usecase"
)

type errorResponse struct {
	Error   string            `json:"error"`
	Code    string            `json:"code,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeError maps usecase errors to HTTP statuses. Technical errors never
// leak the underlying driver message.
func writeError(w http.ResponseWriter, err error) {
	var de *usecase.DomainError
	if errors.As(err, &de) {
		writeJSON(w, domainStatus(de.Code), errorResponse{
			Error:   de.Message,
			Code:    de.Code,
			Details: de.Details,
		})
		return
	}

	var te *usecase.TechnicalError
	if errors.As(err, &te) {
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: te.Message, Code: te.Code})
		return
	}

	if errors.Is(err, usecase.ErrSynchronizerClosed) {
		writeMessage(w, http.StatusServiceUnavailable, "pipeline is shutting down")
		return
	}

	writeMessage(w, http.StatusInternalServerError, "internal error")
}

func domainStatus(code string) int {
	switch code {
	case usecase.CodeNotFound:
		return http.StatusNotFound
	case usecase.CodeConflict:
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(dst); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return false
	}
	return true
}
