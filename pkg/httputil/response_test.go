package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenantgate/pkg/auth"
)

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()

	err := WriteJSON(w, http.StatusOK, map[string]string{"message": "success"})

	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.Contains(t, w.Body.String(), "success")
}

func TestWriteCreatedAndNoContent(t *testing.T) {
	w := httptest.NewRecorder()
	require.NoError(t, WriteCreated(w, map[string]string{"id": "1"}))
	assert.Equal(t, http.StatusCreated, w.Code)

	w = httptest.NewRecorder()
	WriteNoContent(w)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Zero(t, w.Body.Len())
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		reason auth.Reason
		status int
	}{
		{auth.ReasonUnauthenticated, http.StatusUnauthorized},
		{auth.ReasonForbidden, http.StatusForbidden},
		{auth.ReasonInactiveAccount, http.StatusForbidden},
		{auth.ReasonInsufficientRole, http.StatusForbidden},
		{auth.ReasonStoreUnavailable, http.StatusServiceUnavailable},
		{auth.ReasonNotFound, http.StatusNotFound},
		{auth.ReasonExpired, http.StatusGone},
		{auth.ReasonAlreadyUsed, http.StatusConflict},
		{auth.ReasonAlreadyExists, http.StatusConflict},
		{auth.ReasonLastOwner, http.StatusConflict},
		{auth.ReasonLastSuperAdmin, http.StatusConflict},
		{auth.ReasonMemberLimit, http.StatusConflict},
		{auth.ReasonInvalidToken, http.StatusBadRequest},
		{auth.ReasonInvalidInput, http.StatusBadRequest},
		{auth.Reason("something_new"), http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(string(tt.reason), func(t *testing.T) {
			assert.Equal(t, tt.status, StatusFor(tt.reason))
		})
	}
}

func TestWriteErr(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		reason string
	}{
		{"forbidden", fmt.Errorf("update org: %w", auth.ErrForbidden), http.StatusForbidden, "forbidden"},
		{"last owner", auth.ErrLastOwner, http.StatusConflict, "last_owner"},
		{"store", auth.StoreError("get profile", errors.New("dial tcp: refused")), http.StatusServiceUnavailable, "store_unavailable"},
		{"timeout", auth.StoreError("get profile", context.DeadlineExceeded), http.StatusServiceUnavailable, "store_unavailable"},
		{"unknown", errors.New("weird"), http.StatusServiceUnavailable, "store_unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteErr(w, httptest.NewRequest(http.MethodGet, "/api/v1/me", nil), tt.err)

			assert.Equal(t, tt.status, w.Code)
			var body ErrorResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
			assert.Equal(t, tt.reason, body.Error)
			assert.NotContains(t, w.Body.String(), "refused")
		})
	}
}

func TestWriteReasonRedirect(t *testing.T) {
	w := httptest.NewRecorder()
	WriteReasonRedirect(w, http.StatusConflict, "already_initialized", "/sign-in")

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.JSONEq(t, `{"error":"already_initialized","redirect":"/sign-in"}`, w.Body.String())
}
