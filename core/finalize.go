package orchestration

import (
	"context"
	"fmt"

	"github.com/koscakluka/ema-tales/core/events"
	"github.com/koscakluka/ema-tales/core/llms"
	"github.com/koscakluka/ema-tales/core/persistence"
	"github.com/koscakluka/ema-tales/core/status"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// finalize runs on the foreground once per turn.
func (c *Controller) finalize(t *turn, reason FinishReason, err error) {
	if !t.beginFinalize() {
		return
	}

	// A cancel that lands after the stream ended still wins.
	if reason == FinishCompleted && t.token.Cancelled() {
		reason = FinishCancelled
	}

	c.drain.Stop()
	c.drain.Flush(func(fragments []string) { c.show(t, fragments) })

	switch reason {
	case FinishCancelled:
		c.finishCancelled(t)
	case FinishError:
		c.finishFailed(t, err)
	default:
		c.finishCompleted(t)
	}
}

func (c *Controller) finishCancelled(t *turn) {
	c.dropTrailingInput(t)
	c.setState(TurnIdle)
	recordTurn(FinishCancelled)

	c.emit(events.NewTurnCancelled(t.id, t.shownChars))
	t.finish(TurnResult{Reason: FinishCancelled, Transcript: t.transcriptText()})
}

func (c *Controller) finishFailed(t *turn, err error) {
	c.display.Note(fmt.Sprintf("Request failed: %v", err))
	c.dropTrailingInput(t)
	c.setState(TurnFailed)
	recordTurn(FinishError)
	logger.Warn("turn failed", "turn_id", t.id, "error", err)

	c.emit(events.NewTurnFailed(t.id, err))
	c.setState(TurnIdle)
	t.finish(TurnResult{Reason: FinishError, Transcript: t.transcriptText(), Err: err})
}

// finishCompleted commits the reply and starts the slow follow up steps in
// the background. Every step reports back through the foreground schedule and
// the turn stays Finalizing until the last one is done.
func (c *Controller) finishCompleted(t *turn) {
	c.setState(TurnFinalizing)

	transcript := t.transcriptText()
	c.history.Append(llms.AssistantMessage(transcript))
	c.narrate(transcript)

	history := c.history.Messages()
	previous := c.Status()
	autoSave := c.AutoSave()

	go func() {
		ctx, span := tracer.Start(c.baseContext, "finalize turn", trace.WithAttributes(attribute.Int64("turn.id", t.id)))
		defer span.End()

		snapshot := c.refreshStatus(ctx, history, previous)
		if autoSave {
			c.autoSaveTurn(ctx, history, snapshot)
		}

		c.scheduler.Post(func() {
			c.setState(TurnCompleted)
			recordTurn(FinishCompleted)
			c.setState(TurnIdle)

			c.emit(events.NewTurnCompleted(t.id, transcript))
			t.finish(TurnResult{Reason: FinishCompleted, Transcript: transcript, Committed: true})
		})
	}()
}

// dropTrailingInput removes the input Start appended, if it is still the
// trailing message.
func (c *Controller) dropTrailingInput(t *turn) {
	messages := c.history.Messages()
	if len(messages) == 0 {
		return
	}
	last := messages[len(messages)-1]
	if last.Role == llms.RoleUser && last.Content == t.userInput {
		c.history.PopLast(llms.RoleUser)
	}
}

func (c *Controller) narrate(transcript string) {
	if c.narrator == nil || !c.Narration() {
		return
	}

	defer func() {
		if recovered := recover(); recovered != nil {
			err := fmt.Errorf("narrator panicked: %v", recovered)
			logger.Warn("failed to narrate reply", "error", err)
			c.emit(events.NewNarrationFailed(err))
		}
	}()

	c.narrator.Speak(c.normalizer.Normalize(transcript), true)
}

// refreshStatus returns the snapshot the rest of finalize should use: the
// merged one on success, previous otherwise.
func (c *Controller) refreshStatus(ctx context.Context, history []llms.Message, previous *status.Snapshot) (snapshot *status.Snapshot) {
	if c.refresher == nil {
		return previous
	}

	ctx, span := tracer.Start(ctx, "refresh status")
	defer span.End()

	snapshot = previous
	err := c.isolate("status refresh", func() error {
		ctx, cancel := context.WithTimeout(ctx, c.finalizeTimeout)
		defer cancel()

		next, err := c.refresher.RefreshStatus(ctx, history, previous.Clone())
		if err != nil {
			return err
		}
		if next == nil {
			return fmt.Errorf("status refresher returned no status")
		}
		snapshot = previous.Merge(next)
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Warn("failed to refresh status", "error", err)
		c.scheduler.Post(func() {
			c.emit(events.NewStatusRefreshFailed(err))
		})
		return previous
	}

	changes := status.Diff(previous, snapshot)
	c.scheduler.Post(func() {
		c.mu.Lock()
		c.status = snapshot.Clone()
		c.mu.Unlock()

		c.emit(events.NewStatusUpdated(changes))
	})
	return snapshot
}

func (c *Controller) autoSaveTurn(ctx context.Context, history []llms.Message, snapshot *status.Snapshot) {
	if c.persister == nil {
		return
	}

	ctx, span := tracer.Start(ctx, "auto save")
	defer span.End()

	var path string
	err := c.isolate("auto save", func() error {
		ctx, cancel := context.WithTimeout(ctx, c.finalizeTimeout)
		defer cancel()

		var err error
		path, err = c.persister.Save(ctx, persistence.KindAuto, history, snapshot)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Warn("failed to auto save", "error", err)
		c.scheduler.Post(func() {
			c.emit(events.NewSaveFailed(err, true))
		})
		return
	}

	c.scheduler.Post(func() {
		c.emit(events.NewSaveCompleted(path, true))
	})
}

// isolate runs one finalize step so that neither its error nor its panic
// can stop the steps after it.
func (c *Controller) isolate(name string, step func() error) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("%s panicked: %v", name, recovered)
		}
	}()

	if err = step(); err != nil {
		return fmt.Errorf("%s failed: %w", name, err)
	}
	return nil
}
