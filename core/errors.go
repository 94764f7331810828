package orchestration

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadyStreaming = errors.New("a turn is already in flight")
	ErrNothingToRetry   = errors.New("nothing to retry")
	ErrEmptyInput       = errors.New("input is empty")
	ErrClosed           = errors.New("controller is closed")
	ErrNoGenerator      = errors.New("no generator configured")
	ErrNoPersister      = errors.New("no persister configured")
)

// StreamError is the terminal error of a turn whose model stream failed.
type StreamError struct {
	TurnID int64
	Err    error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("turn %d: response stream failed: %v", e.TurnID, e.Err)
}

func (e *StreamError) Unwrap() error {
	return e.Err
}
