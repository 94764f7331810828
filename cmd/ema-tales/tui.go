package main

import (
	"context"
	"errors"

	tea "github.com/charmbracelet/bubbletea"
	orchestration "github.com/koscakluka/ema-tales/core"
	"github.com/koscakluka/ema-tales/internal/tui"
)

func (a *app) runTUI(ctx context.Context) error {
	scheduler := tui.NewScheduler()
	defer scheduler.Close()

	model := tui.New(tui.Options{
		Title:     a.story.Title(),
		Opening:   a.opening(),
		Saves:     a.store,
		ReplayDir: a.project.LogDir(),
	})

	opts := append(a.controllerOptions(ctx),
		orchestration.WithDisplay(model),
		orchestration.WithScheduler(scheduler),
		orchestration.WithEventHandler(model.HandleEvent),
	)
	controller := orchestration.NewController(opts...)
	model.Bind(controller)

	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	scheduler.Attach(program.Send)

	_, err := program.Run()
	controller.Close()
	a.finish(controller.History())

	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
