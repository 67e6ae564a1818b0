package core

import "fmt"

// ErrInterrupted indicates that a sweeper's wait was cancelled from the
// outside (its context was done) rather than by Stop. The sweeper does
// not resume after an interruption.
type ErrInterrupted struct {
	Cause error
}

func (e *ErrInterrupted) Error() string {
	return fmt.Sprintf("eviction loop interrupted: %v", e.Cause)
}

func (e *ErrInterrupted) Unwrap() error {
	return e.Cause
}

// ErrSweepPanic indicates that a ConnectionManager operation panicked
// during a sweep. The panic ends the sweeper's loop.
type ErrSweepPanic struct {
	Operation string
	Value     any
}

func (e *ErrSweepPanic) Error() string {
	return fmt.Sprintf("%s panicked: %v", e.Operation, e.Value)
}

// Unwrap exposes the panic value when it is itself an error.
func (e *ErrSweepPanic) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// ErrInvalidInput indicates a configuration or argument validation
// failure.
type ErrInvalidInput struct {
	Field   string
	Message string
}

func (e *ErrInvalidInput) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
	}
	return e.Message
}
