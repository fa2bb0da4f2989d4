package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/xaenox/abap-agent/internal/assistant"
	"github.com/xaenox/abap-agent/internal/backend"
	"github.com/xaenox/abap-agent/internal/document"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorResponse{Error: msg})
}

// statusFor maps backend failures to the HTTP status shown to the client.
func statusFor(err error) int {
	var (
		upstreamErr *assistant.UpstreamError
		maxBytesErr *http.MaxBytesError
	)
	switch {
	case errors.Is(err, backend.ErrFileRequired), errors.Is(err, document.ErrInvalidUpload):
		return http.StatusBadRequest
	case errors.As(err, &maxBytesErr):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, assistant.ErrRunTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &upstreamErr) && upstreamErr.StatusCode == http.StatusNotFound:
		return http.StatusNotFound
	}
	return http.StatusBadGateway
}
