package orchestration

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/koscakluka/ema-tales/core/events"
	"github.com/koscakluka/ema-tales/core/llms"
	"github.com/koscakluka/ema-tales/core/persistence"
	"github.com/koscakluka/ema-tales/core/session"
	"github.com/koscakluka/ema-tales/core/status"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const defaultFinalizeTimeout = 60 * time.Second

// Controller runs story turns: it streams one reply at a time from the
// generator, feeds it to the display at a steady cadence and commits it to
// history once the stream ends.
//
// Start, Cancel, Retry and Restore are meant to be called from the
// foreground schedule.
type Controller struct {
	generator     Generator
	history       HistoryStore
	refresher     StatusRefresher
	persister     Persister
	display       Display
	normalizer    Normalizer
	narrator      Narrator
	scheduler     Scheduler
	ownLoop       *EventLoop
	eventHandlers []func(events.Event)

	drainPeriod     time.Duration
	drainBatchBytes int
	finalizeTimeout time.Duration
	baseContext     context.Context

	queue *ChunkQueue
	drain *DrainScheduler

	mu        sync.Mutex
	state     TurnState
	current   *turn
	nextID    int64
	status    *status.Snapshot
	narration bool
	autoSave  bool
	closed    bool

	closeOnce sync.Once
}

func NewController(opts ...ControllerOption) *Controller {
	c := &Controller{
		history:         session.NewHistory(),
		display:         nopDisplay{},
		normalizer:      NormalizerFunc(func(s string) string { return s }),
		drainPeriod:     DefaultDrainPeriod,
		drainBatchBytes: DefaultDrainBatchBytes,
		finalizeTimeout: defaultFinalizeTimeout,
		baseContext:     context.Background(),
		queue:           NewChunkQueue(),
		status:          status.Default(),
		autoSave:        true,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.scheduler == nil {
		c.ownLoop = NewEventLoop()
		c.ownLoop.Start()
		c.scheduler = c.ownLoop
	}
	c.drain = NewDrainScheduler(c.scheduler, c.queue, c.drainPeriod, c.drainBatchBytes)

	return c
}

// Start begins a new turn for userInput.
func (c *Controller) Start(userInput string) (*TurnHandle, error) {
	return c.start(userInput, false)
}

func (c *Controller) start(userInput string, retry bool) (*TurnHandle, error) {
	if strings.TrimSpace(userInput) == "" {
		return nil, ErrEmptyInput
	}

	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return nil, ErrClosed
	case c.generator == nil:
		c.mu.Unlock()
		return nil, ErrNoGenerator
	case !c.state.acceptsNewTurn():
		c.mu.Unlock()
		return nil, ErrAlreadyStreaming
	}

	generation := c.queue.Clear()
	c.nextID++
	t := newTurn(c.nextID, userInput, generation, retry, c.baseContext)
	history := c.history.Messages()
	c.history.Append(llms.UserMessage(userInput))
	c.current = t
	c.state = TurnStreaming
	c.mu.Unlock()

	c.display.BeginTurn(t.id, userInput)
	c.emit(events.NewTurnStarted(t.id, userInput, retry))
	c.drain.Start(
		func() bool { return c.isStreaming(t) },
		func(fragments []string) { c.show(t, fragments) },
	)

	go c.fetch(t, history)

	return &TurnHandle{turn: t}, nil
}

// Cancel asks the streaming turn to stop. Text already shown stays visible,
// nothing is committed to history.
func (c *Controller) Cancel() {
	c.mu.Lock()
	if c.state != TurnStreaming {
		c.mu.Unlock()
		return
	}
	t := c.current
	c.state = TurnCancelling
	c.mu.Unlock()

	t.token.Cancel()
	c.emit(events.NewTurnCancelling(t.id))
}

// Retry runs the previous input again. A committed reply is dropped from
// history together with the input that produced it.
func (c *Controller) Retry() (*TurnHandle, error) {
	c.mu.Lock()
	last := c.current
	switch {
	case c.closed:
		c.mu.Unlock()
		return nil, ErrClosed
	case last == nil, !c.state.acceptsNewTurn():
		c.mu.Unlock()
		return nil, ErrNothingToRetry
	}
	c.mu.Unlock()

	if last.committed() {
		if _, ok := c.history.PopLast(llms.RoleAssistant); ok {
			c.dropTrailingInput(last)
		}
	}

	return c.start(last.userInput, true)
}

// fetch is the only code running off the foreground. It talks to the
// generator and nothing else.
func (c *Controller) fetch(t *turn, history []llms.Message) {
	reason, err := FinishCompleted, error(nil)
	func() {
		defer func() {
			if recovered := recover(); recovered != nil {
				reason, err = FinishError, &StreamError{TurnID: t.id, Err: fmt.Errorf("response worker panicked: %v", recovered)}
			}
		}()
		reason, err = c.consume(t, history)
	}()

	c.scheduler.Post(func() {
		c.finalize(t, reason, err)
	})
}

func (c *Controller) consume(t *turn, history []llms.Message) (FinishReason, error) {
	ctx, span := tracer.Start(t.ctx, "process turn", trace.WithAttributes(
		attribute.Int64("turn.id", t.id),
		attribute.Bool("turn.retry", t.retry),
	))
	defer span.End()

	prompt := t.userInput
	stream := c.generator.PromptWithStream(ctx, &prompt, llms.WithMessages(history...))

	fragments := 0
	for chunk, err := range stream.Chunks(ctx) {
		if t.token.Cancelled() {
			span.AddEvent("turn cancelled", trace.WithAttributes(attribute.Int("turn.fragments", fragments)))
			return FinishCancelled, nil
		}
		if err != nil {
			streamErr := &StreamError{TurnID: t.id, Err: err}
			span.RecordError(streamErr)
			span.SetStatus(codes.Error, streamErr.Error())
			return FinishError, streamErr
		}

		if usage, ok := chunk.(llms.StreamUsageChunk); ok {
			recordUsage(span, usage.Usage())
			continue
		}
		content, ok := chunk.(llms.StreamContentChunk)
		if !ok || content.Content() == "" {
			continue
		}
		t.appendTranscript(content.Content())
		if !c.queue.Push(t.generation, content.Content()) {
			logger.Warn("dropped fragment from stale turn", "turn_id", t.id)
		}
		fragments++
	}

	if t.token.Cancelled() {
		return FinishCancelled, nil
	}
	span.SetAttributes(attribute.Int("turn.fragments", fragments))
	return FinishCompleted, nil
}

func recordUsage(span trace.Span, usage llms.Usage) {
	span.SetAttributes(
		attribute.Int("llm.usage.input_tokens", usage.InputTokens),
		attribute.Int("llm.usage.cached_input_tokens", usage.CachedInputTokens),
		attribute.Int("llm.usage.output_tokens", usage.OutputTokens),
		attribute.Int("llm.usage.total_tokens", usage.TotalTokens),
	)
}

// show hands drained fragments to the display. Foreground only.
func (c *Controller) show(t *turn, fragments []string) {
	text := strings.Join(fragments, "")
	c.display.Append(text)
	t.shownChars += utf8.RuneCountInString(text)
	fragmentCounter.Add(context.Background(), int64(len(fragments)))
	c.emit(events.NewAssistantResponseProgress(t.id, t.shownChars))
}

func (c *Controller) isStreaming(t *turn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.current == t && c.state == TurnStreaming && c.queue.Generation() == t.generation
}

func (c *Controller) State() TurnState {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

func (c *Controller) setState(state TurnState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state = state
}

// Status returns a copy of the current status sheet.
func (c *Controller) Status() *status.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.status.Clone()
}

func (c *Controller) History() []llms.Message {
	return c.history.Messages()
}

func (c *Controller) SetNarration(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.narration = enabled
}

func (c *Controller) Narration() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.narration
}

func (c *Controller) SetAutoSave(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.autoSave = enabled
}

func (c *Controller) AutoSave() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.autoSave
}

// Save writes a manual save of the current history and status. The input of
// a turn that is still streaming is left out, it is not committed yet. Save
// blocks on the persister, call it off the foreground.
func (c *Controller) Save(ctx context.Context) (string, error) {
	if c.persister == nil {
		return "", ErrNoPersister
	}
	return c.persister.Save(ctx, persistence.KindManual, c.committedHistory(), c.Status())
}

func (c *Controller) committedHistory() []llms.Message {
	c.mu.Lock()
	t, state := c.current, c.state
	c.mu.Unlock()

	messages := c.history.Messages()
	if t == nil || (state != TurnStreaming && state != TurnCancelling) {
		return messages
	}
	if n := len(messages); n > 0 && messages[n-1].Role == llms.RoleUser && messages[n-1].Content == t.userInput {
		return messages[:n-1]
	}
	return messages
}

// Restore replaces history and status, e.g. after loading a save. It is
// refused while a turn is in flight. A nil snapshot resets the status sheet.
func (c *Controller) Restore(history []llms.Message, snapshot *status.Snapshot) error {
	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return ErrClosed
	case !c.state.acceptsNewTurn():
		c.mu.Unlock()
		return ErrAlreadyStreaming
	}

	c.history.Replace(history)
	if snapshot == nil {
		snapshot = status.Default()
	}
	c.status = snapshot.Clone()
	c.current = nil
	c.state = TurnIdle
	current := c.status.Clone()
	c.mu.Unlock()

	c.emit(events.NewStatusUpdated(status.Unchanged(current)))
	return nil
}

// Close cancels the streaming turn and stops the drain schedule. Turns that
// are still finalizing when the foreground schedule stops never report Done.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		t := c.current
		streaming := c.state == TurnStreaming || c.state == TurnCancelling
		c.mu.Unlock()

		if t != nil && streaming {
			t.token.Cancel()
		}
		c.drain.Stop()

		if c.ownLoop != nil {
			c.ownLoop.Close()
		}
	})
}

func (c *Controller) emit(event events.Event) {
	for _, handler := range c.eventHandlers {
		func() {
			defer func() {
				if recovered := recover(); recovered != nil {
					logger.Error("event handler panicked", "event", event.Kind(), "panic", recovered)
				}
			}()
			handler(event)
		}()
	}
}

func recordTurn(outcome FinishReason) {
	turnCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("outcome", outcome.String())))
}
