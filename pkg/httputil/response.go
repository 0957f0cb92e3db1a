package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/platinummonkey/tenantgate/pkg/auth"
	"github.com/platinummonkey/tenantgate/pkg/observability"
)

// ErrorResponse is the body of every error. It never carries internal detail.
type ErrorResponse struct {
	Error    string `json:"error"`
	Redirect string `json:"redirect,omitempty"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteSuccess writes a 200 response with JSON data
func WriteSuccess(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}

// WriteCreated writes a 201 response with JSON data
func WriteCreated(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusCreated, data)
}

// WriteNoContent writes a 204 response
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// WriteReason writes {"error": reason} with status
func WriteReason(w http.ResponseWriter, status int, reason auth.Reason) {
	_ = WriteJSON(w, status, ErrorResponse{Error: string(reason)})
}

// WriteReasonRedirect writes {"error": reason, "redirect": target} with status
func WriteReasonRedirect(w http.ResponseWriter, status int, reason string, target string) {
	_ = WriteJSON(w, status, ErrorResponse{Error: reason, Redirect: target})
}

// WriteBadRequest writes a 400 invalid_input response
func WriteBadRequest(w http.ResponseWriter) {
	WriteReason(w, http.StatusBadRequest, auth.ReasonInvalidInput)
}

// StatusFor maps a denial reason onto an HTTP status code
func StatusFor(reason auth.Reason) int {
	switch reason {
	case auth.ReasonNone:
		return http.StatusOK
	case auth.ReasonUnauthenticated:
		return http.StatusUnauthorized
	case auth.ReasonForbidden, auth.ReasonInactiveAccount, auth.ReasonInsufficientRole:
		return http.StatusForbidden
	case auth.ReasonNotFound:
		return http.StatusNotFound
	case auth.ReasonAlreadyUsed, auth.ReasonAlreadyExists,
		auth.ReasonLastOwner, auth.ReasonLastSuperAdmin, auth.ReasonMemberLimit:
		return http.StatusConflict
	case auth.ReasonExpired:
		return http.StatusGone
	case auth.ReasonInvalidToken, auth.ReasonInvalidInput:
		return http.StatusBadRequest
	default:
		return http.StatusServiceUnavailable
	}
}

// WriteErr maps err onto a status and reason code and writes it. Store
// failures are logged with their cause; the client only sees the reason.
func WriteErr(w http.ResponseWriter, r *http.Request, err error) {
	reason := auth.ReasonOf(err)
	status := StatusFor(reason)
	if status >= http.StatusInternalServerError {
		observability.FromContext(r.Context()).
			WithError(err).
			WithField("path", r.URL.Path).
			Error("request failed")
	}
	WriteReason(w, status, reason)
}
