package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"

	orchestration "github.com/koscakluka/ema-tales/core"
	"github.com/koscakluka/ema-tales/core/events"
	"github.com/koscakluka/ema-tales/core/llms"
	"github.com/koscakluka/ema-tales/core/persistence"
)

const maxLineBytes = 1 << 20

// lineDisplay prints the reply as it streams in. Notes go to a separate
// writer so they do not end up in the middle of a reply.
type lineDisplay struct {
	mu    sync.Mutex
	out   io.Writer
	notes io.Writer
}

func (d *lineDisplay) BeginTurn(_ int64, _ string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fmt.Fprintf(d.out, "\n%s>\n", persistence.RoleLabel(llms.RoleAssistant))
}

func (d *lineDisplay) Append(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fmt.Fprint(d.out, text)
}

func (d *lineDisplay) Note(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fmt.Fprintln(d.notes, text)
}

func (d *lineDisplay) handleEvent(event events.Event) {
	switch event := event.(type) {
	case events.TurnCancelled:
		d.Note("\n[stopped, not committed]")
	case events.StatusUpdated:
		var b strings.Builder
		for _, change := range event.Changes {
			if change.Changed {
				fmt.Fprintf(&b, "  %s: %s\n", change.Key, change.Value)
			}
		}
		if b.Len() > 0 {
			d.Note("\n[status]\n" + strings.TrimRight(b.String(), "\n"))
		}
	case events.SaveCompleted:
		d.Note("[saved " + event.Path + "]")
	case events.SaveFailed:
		d.Note("[save failed: " + event.Err.Error() + "]")
	case events.StatusRefreshFailed:
		d.Note("[status update failed: " + event.Err.Error() + "]")
	}
}

// onLoop runs fn on the foreground loop and waits for its result.
func onLoop[T any](loop *orchestration.EventLoop, fn func() T) T {
	result := make(chan T, 1)
	loop.Post(func() { result <- fn() })
	return <-result
}

type startResult struct {
	handle *orchestration.TurnHandle
	err    error
}

// runHeadless reads player input line by line. Ctrl+C stops a reply that is
// being streamed, at the prompt it quits.
func (a *app) runHeadless(ctx context.Context, in io.Reader, out io.Writer) error {
	loop := orchestration.NewEventLoop()
	loop.Start()
	defer loop.Close()

	display := &lineDisplay{out: out, notes: os.Stderr}
	opts := append(a.controllerOptions(ctx),
		orchestration.WithDisplay(display),
		orchestration.WithScheduler(loop),
		orchestration.WithEventHandler(display.handleEvent),
	)
	controller := orchestration.NewController(opts...)
	defer func() {
		controller.Close()
		a.finish(controller.History())
	}()

	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	defer signal.Stop(interrupts)

	play := func(start func() (*orchestration.TurnHandle, error)) {
		result := onLoop(loop, func() startResult {
			handle, err := start()
			return startResult{handle: handle, err: err}
		})
		if result.err != nil {
			display.Note("[" + result.err.Error() + "]")
			return
		}
		for {
			select {
			case <-result.handle.Done():
				fmt.Fprintln(out)
				return
			case <-interrupts:
				loop.Post(controller.Cancel)
			case <-ctx.Done():
				loop.Post(controller.Cancel)
				<-result.handle.Done()
				return
			}
		}
	}

	if opening := a.opening(); opening != "" {
		play(func() (*orchestration.TurnHandle, error) { return controller.Start(opening) })
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		fmt.Fprintf(out, "\n%s> ", persistence.RoleLabel(llms.RoleUser))

		var line string
		select {
		case <-ctx.Done():
			return nil
		case <-interrupts:
			return nil
		case text, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(text)
		}

		switch line {
		case "":
			continue
		case "exit", "quit":
			return nil
		case "/retry":
			play(controller.Retry)
		case "/save":
			path, err := controller.Save(ctx)
			if err != nil {
				display.Note("[save failed: " + err.Error() + "]")
			} else {
				display.Note("[saved " + path + "]")
			}
		case "/narration":
			enabled := onLoop(loop, func() bool {
				controller.SetNarration(!controller.Narration())
				return controller.Narration()
			})
			display.Note(fmt.Sprintf("[narration %v]", enabled))
		case "/autosave":
			enabled := onLoop(loop, func() bool {
				controller.SetAutoSave(!controller.AutoSave())
				return controller.AutoSave()
			})
			display.Note(fmt.Sprintf("[auto-save %v]", enabled))
		default:
			input := line
			play(func() (*orchestration.TurnHandle, error) { return controller.Start(input) })
		}
	}
}
