package orchestration

import (
	"context"

	"github.com/koscakluka/ema-tales/core/llms"
	"github.com/koscakluka/ema-tales/core/persistence"
	"github.com/koscakluka/ema-tales/core/status"
)

// Generator produces the streamed reply for a prompt following the history
// passed through options.
type Generator interface {
	PromptWithStream(ctx context.Context, prompt *string, opts ...llms.StreamingPromptOption) llms.Stream
}

type HistoryStore interface {
	Messages() []llms.Message
	Append(messages ...llms.Message)
	PopLast(role llms.Role) (llms.Message, bool)
	Replace(messages []llms.Message)
}

type StatusRefresher interface {
	RefreshStatus(ctx context.Context, history []llms.Message, previous *status.Snapshot) (*status.Snapshot, error)
}

type Persister interface {
	Save(ctx context.Context, kind persistence.Kind, history []llms.Message, snapshot *status.Snapshot) (string, error)
}

// Display receives the visible transcript. Implementations must keep the
// newest text in view.
type Display interface {
	BeginTurn(turnID int64, userInput string)
	Append(text string)
	Note(text string)
}

type Normalizer interface {
	Normalize(markdown string) string
}

type NormalizerFunc func(string) string

func (f NormalizerFunc) Normalize(markdown string) string {
	return f(markdown)
}

// Narrator reads replies out loud. Speak must not block on synthesis.
type Narrator interface {
	Speak(text string, interrupt bool)
}

type nopDisplay struct{}

func (nopDisplay) BeginTurn(int64, string) {}
func (nopDisplay) Append(string)           {}
func (nopDisplay) Note(string)             {}
