package orchestration

import (
	"context"
	"time"

	"github.com/koscakluka/ema-tales/core/events"
	"github.com/koscakluka/ema-tales/core/status"
)

type ControllerOption func(*Controller)

func WithGenerator(generator Generator) ControllerOption {
	return func(c *Controller) {
		c.generator = generator
	}
}

func WithHistory(history HistoryStore) ControllerOption {
	return func(c *Controller) {
		if history != nil {
			c.history = history
		}
	}
}

func WithStatusRefresher(refresher StatusRefresher) ControllerOption {
	return func(c *Controller) {
		c.refresher = refresher
	}
}

func WithPersister(persister Persister) ControllerOption {
	return func(c *Controller) {
		c.persister = persister
	}
}

func WithDisplay(display Display) ControllerOption {
	return func(c *Controller) {
		if display != nil {
			c.display = display
		}
	}
}

// WithNormalizer sets how replies are turned into narration text. Without it
// replies are narrated as is.
func WithNormalizer(normalizer Normalizer) ControllerOption {
	return func(c *Controller) {
		if normalizer != nil {
			c.normalizer = normalizer
		}
	}
}

func WithNarrator(narrator Narrator) ControllerOption {
	return func(c *Controller) {
		c.narrator = narrator
	}
}

// WithScheduler sets the foreground schedule. Without it the controller runs
// its own EventLoop and closes it on Close.
func WithScheduler(scheduler Scheduler) ControllerOption {
	return func(c *Controller) {
		c.scheduler = scheduler
	}
}

// WithEventHandler registers a handler for controller events. Handlers are
// called on the foreground schedule.
func WithEventHandler(handler func(events.Event)) ControllerOption {
	return func(c *Controller) {
		c.eventHandlers = append(c.eventHandlers, handler)
	}
}

func WithDrainPeriod(period time.Duration) ControllerOption {
	return func(c *Controller) {
		c.drainPeriod = period
	}
}

func WithDrainBatchBytes(n int) ControllerOption {
	return func(c *Controller) {
		c.drainBatchBytes = n
	}
}

func WithNarration(enabled bool) ControllerOption {
	return func(c *Controller) {
		c.narration = enabled
	}
}

func WithAutoSave(enabled bool) ControllerOption {
	return func(c *Controller) {
		c.autoSave = enabled
	}
}

func WithInitialStatus(snapshot *status.Snapshot) ControllerOption {
	return func(c *Controller) {
		if snapshot != nil {
			c.status = snapshot.Clone()
		}
	}
}

// WithFinalizeTimeout bounds each slow finalize step (status refresh, save).
func WithFinalizeTimeout(timeout time.Duration) ControllerOption {
	return func(c *Controller) {
		c.finalizeTimeout = timeout
	}
}

// WithBaseContext sets the context every turn is derived from.
func WithBaseContext(ctx context.Context) ControllerOption {
	return func(c *Controller) {
		if ctx != nil {
			c.baseContext = ctx
		}
	}
}
