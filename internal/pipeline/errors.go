package pipeline

import "errors"

// ErrStreamCompleted reports that the event stream reached a natural end.
// A live event log never completes, so the worker crashes on it and leaves
// the restart to its supervisor instead of retrying in place.
var ErrStreamCompleted = errors.New("pipeline: event stream completed")

// ErrSkip is returned by a stage to drop the current event. The offset is
// still committed so the event is not re-delivered.
var ErrSkip = errors.New("pipeline: skip event")

// transientError marks a stage error as retryable. Stage errors are
// considered programming errors (fatal) unless wrapped with Transient.
type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient marks a stage error as retryable via backoff instead of
// crashing the worker.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err carries the Transient marker.
func IsTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}
