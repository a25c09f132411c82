package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/voicegrid/voicegrid/internal/types"
)

// Error responses are flat {"error": message, "code": CODE} objects; the
// dashboard and worker clients branch on the code string.

// writeJSON writes a JSON-encoded response with the given status code.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError writes a flat JSON error body.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, map[string]string{
		"error": message,
		"code":  code,
	})
}

// writeDomainError maps a domain error to its HTTP status and writes it.
func writeDomainError(w http.ResponseWriter, err error) {
	var domain *types.Error
	if !errors.As(err, &domain) {
		writeError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
		return
	}
	writeError(w, statusFor(domain.Code), domain.Message, domain.Code)
}

// statusFor maps domain error codes to HTTP status codes.
func statusFor(code string) int {
	switch code {
	case types.CodeNodeNotFound, types.CodeVoiceNotFound:
		return http.StatusNotFound
	case types.CodeRateLimitExceeded:
		return http.StatusTooManyRequests
	case types.CodeInvalidRequest:
		return http.StatusBadRequest
	case types.CodeRequestTimeout:
		return http.StatusGatewayTimeout
	case types.CodeModelNotLoaded, types.CodeNoAvailableNode:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON decodes the request body into dst, writing a 400 and
// returning false on failure so callers can early-return.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error(), types.CodeInvalidRequest)
		return false
	}
	return true
}
