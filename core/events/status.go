package events

import "github.com/koscakluka/ema-tales/core/status"

const (
	// KindStatusUpdated identifies a replaced status sheet.
	KindStatusUpdated Kind = "status.updated"
	// KindStatusRefreshFailed identifies a failed status refresh.
	KindStatusRefreshFailed Kind = "status.refresh_failed"
)

// StatusUpdated carries the new status sheet with change flags.
type StatusUpdated struct {
	Base
	Changes []status.Change
}

// NewStatusUpdated creates a status updated event.
func NewStatusUpdated(changes []status.Change) StatusUpdated {
	return StatusUpdated{Base: NewBase(KindStatusUpdated), Changes: changes}
}

// StatusRefreshFailed reports a status refresh failure.
type StatusRefreshFailed struct {
	Base
	Err error
}

// NewStatusRefreshFailed creates a status refresh failed event.
func NewStatusRefreshFailed(err error) StatusRefreshFailed {
	return StatusRefreshFailed{Base: NewBase(KindStatusRefreshFailed), Err: err}
}
