package orchestration

import (
	"context"
	"strings"
	"sync"
)

type TurnState int

const (
	TurnIdle TurnState = iota
	TurnStreaming
	TurnCancelling
	TurnFinalizing
	TurnCompleted
	TurnFailed
)

func (s TurnState) String() string {
	switch s {
	case TurnIdle:
		return "idle"
	case TurnStreaming:
		return "streaming"
	case TurnCancelling:
		return "cancelling"
	case TurnFinalizing:
		return "finalizing"
	case TurnCompleted:
		return "completed"
	case TurnFailed:
		return "failed"
	}
	return "unknown"
}

func (s TurnState) acceptsNewTurn() bool {
	return s == TurnIdle || s == TurnCompleted || s == TurnFailed
}

type FinishReason int

const (
	FinishCompleted FinishReason = iota
	FinishCancelled
	FinishError
)

func (r FinishReason) String() string {
	switch r {
	case FinishCompleted:
		return "completed"
	case FinishCancelled:
		return "cancelled"
	case FinishError:
		return "error"
	}
	return "unknown"
}

// TurnResult describes how a turn ended. Transcript holds everything the
// model produced, Committed tells whether it was added to history.
type TurnResult struct {
	Reason     FinishReason
	Transcript string
	Err        error
	Committed  bool
}

type turn struct {
	id         int64
	userInput  string
	generation uint64
	retry      bool
	token      *CancelToken
	ctx        context.Context

	mu         sync.Mutex
	transcript strings.Builder
	result     TurnResult

	// shownChars is only touched on the foreground.
	shownChars int

	finalizeOnce sync.Once
	done         chan struct{}
}

func newTurn(id int64, userInput string, generation uint64, retry bool, parent context.Context) *turn {
	token, ctx := NewCancelToken(parent)
	return &turn{
		id:         id,
		userInput:  userInput,
		generation: generation,
		retry:      retry,
		token:      token,
		ctx:        ctx,
		done:       make(chan struct{}),
	}
}

func (t *turn) appendTranscript(fragment string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.transcript.WriteString(fragment)
}

func (t *turn) transcriptText() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.transcript.String()
}

// beginFinalize reports true exactly once per turn.
func (t *turn) beginFinalize() (first bool) {
	t.finalizeOnce.Do(func() { first = true })
	return first
}

func (t *turn) finish(result TurnResult) {
	t.mu.Lock()
	t.result = result
	t.mu.Unlock()

	t.token.release()
	close(t.done)
}

func (t *turn) committed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.result.Committed
}

// TurnHandle lets the caller follow one turn.
type TurnHandle struct {
	turn *turn
}

func (h *TurnHandle) ID() int64 {
	return h.turn.id
}

func (h *TurnHandle) UserInput() string {
	return h.turn.userInput
}

// Done is closed once the turn is finalized.
func (h *TurnHandle) Done() <-chan struct{} {
	return h.turn.done
}

// Result is only meaningful after Done is closed.
func (h *TurnHandle) Result() TurnResult {
	h.turn.mu.Lock()
	defer h.turn.mu.Unlock()

	return h.turn.result
}
