package auth

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors shared by every access-control component. Callers match
// them with errors.Is; stores and services wrap them with context.
var (
	ErrUnauthenticated  = errors.New("unauthenticated")
	ErrInactiveAccount  = errors.New("account is inactive")
	ErrForbidden        = errors.New("forbidden")
	ErrNotFound         = errors.New("not found")
	ErrExpired          = errors.New("expired")
	ErrAlreadyUsed      = errors.New("already used")
	ErrAlreadyExists    = errors.New("already exists")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrInvalidToken     = errors.New("invalid token")
	ErrInvalidInput     = errors.New("invalid input")

	// ErrInsufficientRole is a Forbidden refinement: the actor tried to grant
	// a role above their own.
	ErrInsufficientRole = fmt.Errorf("%w: role exceeds actor's role", ErrForbidden)
	// ErrLastOwner is returned when a change would leave an organization
	// without an active owner.
	ErrLastOwner = fmt.Errorf("%w: organization must keep at least one owner", ErrForbidden)
	// ErrLastSuperAdmin is returned when a change would leave the platform
	// without an active super admin.
	ErrLastSuperAdmin = fmt.Errorf("%w: platform must keep at least one super admin", ErrForbidden)
	// ErrMemberLimit is returned when an organization is at MaxMembers.
	ErrMemberLimit = fmt.Errorf("%w: organization member limit reached", ErrForbidden)
)

// Reason is the machine-readable denial code exposed to clients
type Reason string

const (
	ReasonNone             Reason = ""
	ReasonUnauthenticated  Reason = "unauthenticated"
	ReasonForbidden        Reason = "forbidden"
	ReasonInactiveAccount  Reason = "inactive_account"
	ReasonStoreUnavailable Reason = "store_unavailable"
	ReasonNotFound         Reason = "not_found"
	ReasonExpired          Reason = "expired"
	ReasonAlreadyUsed      Reason = "already_used"
	ReasonAlreadyExists    Reason = "already_exists"
	ReasonInvalidToken     Reason = "invalid_token"
	ReasonInvalidInput     Reason = "invalid_input"
	ReasonInsufficientRole Reason = "insufficient_role"
	ReasonLastOwner        Reason = "last_owner"
	ReasonLastSuperAdmin   Reason = "last_super_admin"
	ReasonMemberLimit      Reason = "member_limit"
)

// ReasonOf maps err onto a Reason. Refinements are checked before their
// parent sentinel. Anything unrecognised is reported as store_unavailable
// so an unexpected failure is never mistaken for success.
func ReasonOf(err error) Reason {
	switch {
	case err == nil:
		return ReasonNone
	case errors.Is(err, ErrInsufficientRole):
		return ReasonInsufficientRole
	case errors.Is(err, ErrLastOwner):
		return ReasonLastOwner
	case errors.Is(err, ErrLastSuperAdmin):
		return ReasonLastSuperAdmin
	case errors.Is(err, ErrMemberLimit):
		return ReasonMemberLimit
	case errors.Is(err, ErrUnauthenticated):
		return ReasonUnauthenticated
	case errors.Is(err, ErrInactiveAccount):
		return ReasonInactiveAccount
	case errors.Is(err, ErrForbidden):
		return ReasonForbidden
	case errors.Is(err, ErrNotFound):
		return ReasonNotFound
	case errors.Is(err, ErrExpired):
		return ReasonExpired
	case errors.Is(err, ErrAlreadyUsed):
		return ReasonAlreadyUsed
	case errors.Is(err, ErrAlreadyExists):
		return ReasonAlreadyExists
	case errors.Is(err, ErrInvalidToken):
		return ReasonInvalidToken
	case errors.Is(err, ErrInvalidInput):
		return ReasonInvalidInput
	default:
		return ReasonStoreUnavailable
	}
}

// StoreError wraps a backend failure as ErrStoreUnavailable while keeping
// the cause for logs. Context deadline and cancellation are treated the
// same way. Sentinels from this package pass through untouched.
func StoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	if isDomainError(err) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: timed out", op, ErrStoreUnavailable)
	}
	return fmt.Errorf("%s: %w: %v", op, ErrStoreUnavailable, err)
}

func isDomainError(err error) bool {
	for _, target := range []error{
		ErrUnauthenticated, ErrInactiveAccount, ErrForbidden, ErrNotFound,
		ErrExpired, ErrAlreadyUsed, ErrAlreadyExists, ErrStoreUnavailable,
		ErrInvalidToken, ErrInvalidInput,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
