package gerror

import "fmt"

// GuardError is the error type returned by invguard for failures that are not
// validation verdicts. Validation outcomes are values, never errors.
type GuardError struct {
	Err string
}

// New formats a new GuardError.
func New(format string, args ...any) *GuardError {
	return &GuardError{Err: fmt.Sprintf(format, args...)}
}

func (e *GuardError) Error() string {
	return e.Err
}
