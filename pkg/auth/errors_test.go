package auth

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReasonOf(t *testing.T) {
	tests := []struct {
		err      error
		expected Reason
	}{
		{nil, ReasonNone},
		{ErrUnauthenticated, ReasonUnauthenticated},
		{fmt.Errorf("get profile: %w", ErrInactiveAccount), ReasonInactiveAccount},
		{ErrForbidden, ReasonForbidden},
		{ErrInsufficientRole, ReasonInsufficientRole},
		{fmt.Errorf("remove: %w", ErrLastOwner), ReasonLastOwner},
		{ErrLastSuperAdmin, ReasonLastSuperAdmin},
		{ErrMemberLimit, ReasonMemberLimit},
		{ErrNotFound, ReasonNotFound},
		{ErrExpired, ReasonExpired},
		{ErrAlreadyUsed, ReasonAlreadyUsed},
		{ErrAlreadyExists, ReasonAlreadyExists},
		{ErrInvalidToken, ReasonInvalidToken},
		{ErrInvalidInput, ReasonInvalidInput},
		{ErrStoreUnavailable, ReasonStoreUnavailable},
		{errors.New("connection reset by peer"), ReasonStoreUnavailable},
	}

	for _, tt := range tests {
		name := "nil"
		if tt.err != nil {
			name = tt.err.Error()
		}
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ReasonOf(tt.err))
		})
	}
}

func TestRefinementsAreForbidden(t *testing.T) {
	for _, err := range []error{ErrInsufficientRole, ErrLastOwner, ErrLastSuperAdmin, ErrMemberLimit} {
		assert.True(t, errors.Is(err, ErrForbidden), "%v should be forbidden", err)
	}
}

func TestStoreError(t *testing.T) {
	t.Run("nil", func(t *testing.T) {
		assert.NoError(t, StoreError("op", nil))
	})

	t.Run("driver error becomes unavailable", func(t *testing.T) {
		err := StoreError("get profile", errors.New("dial tcp: refused"))
		assert.True(t, errors.Is(err, ErrStoreUnavailable))
		assert.Contains(t, err.Error(), "get profile")
	})

	t.Run("deadline", func(t *testing.T) {
		err := StoreError("count", context.DeadlineExceeded)
		assert.True(t, errors.Is(err, ErrStoreUnavailable))
		assert.Contains(t, err.Error(), "timed out")
	})

	t.Run("domain errors pass through", func(t *testing.T) {
		wrapped := fmt.Errorf("membership: %w", ErrAlreadyExists)
		assert.Same(t, wrapped, StoreError("create", wrapped))
	})
}
