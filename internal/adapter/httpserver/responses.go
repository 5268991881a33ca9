// Package httpserver contains the HTTP handlers and middleware for the
// admission API and the DLQ admin surface.
package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fairyhunter13/sprite-forge/internal/domain"
)

type errorEnvelope struct {
	Error apiError `json:"error"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps a classified error kind onto an HTTP status. Unclassified
// errors are classified first, so every response carries a stable code and a
// safe user-facing message.
func writeError(w http.ResponseWriter, _ *http.Request, err error, details any) {
	var cerr *domain.ClassifiedError
	if !errors.As(err, &cerr) {
		cerr = domain.Classify(err)
	}
	status := statusForKind(cerr.Kind)
	writeJSON(w, status, errorEnvelope{Error: apiError{
		Code:    string(cerr.Kind),
		Message: cerr.UserMessage,
		Details: details,
	}})
}

func statusForKind(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindAuthentication:
		return http.StatusUnauthorized
	case domain.KindRateLimit, domain.KindQuotaExceeded:
		return http.StatusTooManyRequests
	case domain.KindTimeout:
		return http.StatusGatewayTimeout
	case domain.KindNetwork, domain.KindServerError:
		return http.StatusBadGateway
	case domain.KindDatabase:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
