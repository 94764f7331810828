package events

const (
	// KindTurnStarted identifies the start of a turn.
	KindTurnStarted Kind = "turn_state.started"
	// KindTurnCancelling identifies a requested but not yet observed
	// cancellation.
	KindTurnCancelling Kind = "turn_state.cancelling"
	// KindTurnCancelled identifies turn cancellation.
	KindTurnCancelled Kind = "turn_state.cancelled"
	// KindTurnFailed identifies a turn whose model stream failed.
	KindTurnFailed Kind = "turn_state.failed"
	// KindTurnCompleted identifies a committed turn.
	KindTurnCompleted Kind = "turn_state.completed"
)

// TurnStarted marks the start of a turn.
type TurnStarted struct {
	Base
	TurnID    int64
	UserInput string
	Retry     bool
}

// NewTurnStarted creates a turn started event.
func NewTurnStarted(turnID int64, userInput string, retry bool) TurnStarted {
	return TurnStarted{Base: NewBase(KindTurnStarted), TurnID: turnID, UserInput: userInput, Retry: retry}
}

// TurnCancelling marks a cancellation request.
type TurnCancelling struct {
	Base
	TurnID int64
}

// NewTurnCancelling creates a turn cancelling event.
func NewTurnCancelling(turnID int64) TurnCancelling {
	return TurnCancelling{Base: NewBase(KindTurnCancelling), TurnID: turnID}
}

// TurnCancelled marks cancellation of a turn. Chars is how much of the
// partial reply was shown before it stopped.
type TurnCancelled struct {
	Base
	TurnID int64
	Chars  int
}

// NewTurnCancelled creates a turn cancelled event.
func NewTurnCancelled(turnID int64, chars int) TurnCancelled {
	return TurnCancelled{Base: NewBase(KindTurnCancelled), TurnID: turnID, Chars: chars}
}

// TurnFailed marks a failed turn.
type TurnFailed struct {
	Base
	TurnID int64
	Err    error
}

// NewTurnFailed creates a turn failed event.
func NewTurnFailed(turnID int64, err error) TurnFailed {
	return TurnFailed{Base: NewBase(KindTurnFailed), TurnID: turnID, Err: err}
}

// TurnCompleted marks a committed turn.
type TurnCompleted struct {
	Base
	TurnID int64
	Reply  string
}

// NewTurnCompleted creates a turn completed event.
func NewTurnCompleted(turnID int64, reply string) TurnCompleted {
	return TurnCompleted{Base: NewBase(KindTurnCompleted), TurnID: turnID, Reply: reply}
}
