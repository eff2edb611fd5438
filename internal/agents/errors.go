package agents

import "errors"

// TransientError marks a failure worth retrying: timeouts, throttling,
// backend unavailability.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient agent error: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks input the agent cannot process; retrying with the
// same input would fail identically.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return "permanent agent error: " + e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsTransient reports whether the coordinator's retry policy applies.
// Unclassified errors are treated as transient so flaky backends get their
// bounded retries rather than an immediate stage failure.
func IsTransient(err error) bool {
	var perm *PermanentError
	return !errors.As(err, &perm)
}
