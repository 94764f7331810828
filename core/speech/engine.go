package speech

import "context"

// Unit is one step of synthesis progress, usually a word or a sentence.
type Unit struct {
	Text  string
	Index int
}

// Engine speaks a single utterance. Engines are created per utterance and
// thrown away afterwards.
type Engine interface {
	// Synthesize blocks until text was spoken, onUnit returned false, Stop was
	// called or ctx was cancelled. onUnit is called from the calling goroutine
	// as each unit starts.
	Synthesize(ctx context.Context, text string, onUnit func(Unit) bool) error
	// Stop makes a running Synthesize return as soon as possible. It must be
	// safe to call from another goroutine.
	Stop() error
	Close() error
}

// Settings are passed to every engine the manager creates.
type Settings struct {
	// Rate is the speaking rate in words per minute.
	Rate int
}

// EngineFactory creates an engine while the manager holds its engine lock,
// it must not block. Connection setup belongs in Synthesize.
type EngineFactory func(ctx context.Context, settings Settings) (Engine, error)
