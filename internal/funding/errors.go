package funding

import (
	"errors"
	"fmt"
)

// ErrNotFound marks a missing account, source or transaction for the
// caller's tenant, or an unregistered provider capability.
var ErrNotFound = errors.New("not found")

// ValidationError marks a business-rule violation. The message carries the
// values involved (limits, amounts, statuses).
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string { return e.msg }

func validationErrorf(format string, args ...any) error {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}

// IsValidationError reports whether err is a business-rule violation.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ProviderError wraps a failed external adapter call. This layer does not
// retry; retry policy belongs to the caller.
type ProviderError struct {
	Provider string
	Op       string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IsProviderError reports whether err originated in an adapter call.
func IsProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}
