package events

// KindAssistantResponseProgress identifies streamed reply progress.
const KindAssistantResponseProgress Kind = "assistant_response.progress"

// AssistantResponseProgress carries the number of characters of the reply
// shown so far.
type AssistantResponseProgress struct {
	Base
	TurnID int64
	Chars  int
}

// NewAssistantResponseProgress creates an assistant response progress event.
func NewAssistantResponseProgress(turnID int64, chars int) AssistantResponseProgress {
	return AssistantResponseProgress{Base: NewBase(KindAssistantResponseProgress), TurnID: turnID, Chars: chars}
}
