package events

// KindNarrationFailed identifies a reply that could not be handed to the
// narrator.
const KindNarrationFailed Kind = "narration.failed"

// NarrationFailed reports a narration hand-off failure.
type NarrationFailed struct {
	Base
	Err error
}

// NewNarrationFailed creates a narration failed event.
func NewNarrationFailed(err error) NarrationFailed {
	return NarrationFailed{Base: NewBase(KindNarrationFailed), Err: err}
}
