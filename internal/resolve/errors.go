package resolve

import (
	"errors"
	"fmt"
)

// InvalidInputError reports a query whose coordinate fields are missing,
// non-numeric or not finite. No atlas work is done for such queries.
type InvalidInputError struct {
	Field  string
	Reason string
}

func (e *InvalidInputError) Error() string {
	if e.Field == "" {
		return "resolve: invalid input: " + e.Reason
	}
	return fmt.Sprintf("resolve: invalid input: %s %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return &InvalidInputError{Field: field, Reason: reason}
}

// InternalError wraps an unexpected failure, such as corrupt reference data.
// Its detail is for logs only.
type InternalError struct {
	Err error
}

func (e *InternalError) Error() string {
	return "resolve: internal: " + e.Err.Error()
}

func (e *InternalError) Unwrap() error {
	return e.Err
}

// IsInvalidInput returns true if err (or any error in its chain) is an
// InvalidInputError.
func IsInvalidInput(err error) bool {
	var ie *InvalidInputError
	return errors.As(err, &ie)
}

// IsInternal returns true if err (or any error in its chain) is an
// InternalError.
func IsInternal(err error) bool {
	var ie *InternalError
	return errors.As(err, &ie)
}
