package shared

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("invalid input")
	// ErrConflict indicates a state conflict with existing data.
	ErrConflict = errors.New("conflict")
	// ErrTenantUnresolved indicates the request carried no resolvable tenant.
	ErrTenantUnresolved = errors.New("tenant not resolved")
)

// UserSafeMessage returns a message safe to show to end users. Known
// domain errors pass through; anything else is replaced with a
// generic message so internals never leak.
func UserSafeMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrValidation),
		errors.Is(err, ErrConflict),
		errors.Is(err, ErrTenantUnresolved),
		errors.Is(err, ErrIdempotencyConflict):
		return err.Error()
	default:
		return "terjadi kesalahan, silakan coba lagi"
	}
}

// Validationf wraps ErrValidation with a formatted detail.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
