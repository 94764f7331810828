package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	orchestration "github.com/koscakluka/ema-tales/core"
	"github.com/koscakluka/ema-tales/core/events"
	"github.com/koscakluka/ema-tales/core/llms"
	"github.com/koscakluka/ema-tales/core/llms/openai"
	"github.com/koscakluka/ema-tales/core/markdown"
	"github.com/koscakluka/ema-tales/core/persistence"
	"github.com/koscakluka/ema-tales/core/session"
	"github.com/koscakluka/ema-tales/core/status"
	"github.com/koscakluka/ema-tales/internal/config"
	"github.com/koscakluka/ema-tales/internal/paths"
	"github.com/spf13/pflag"
	"go.opentelemetry.io/contrib/bridges/otelslog"
)

var logger = otelslog.NewLogger("github.com/koscakluka/ema-tales/cmd/ema-tales")

// app holds everything a session needs apart from the front end.
type app struct {
	cfg      *config.Config
	project  paths.Project
	story    session.Story
	client   *openai.Client
	store    *persistence.Store
	journal  *persistence.Journal
	narrator *narrator

	// resumed is the save a session continues from, if any.
	resumed *persistence.Record
}

func newApp(ctx context.Context, f flags, flagSet *pflag.FlagSet) (*app, error) {
	cfg, err := config.Load(f.configPath, ".env")
	if err != nil {
		return nil, err
	}
	applyFlags(cfg, f, flagSet)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	project, err := resolveProject(cfg.Root)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, project: project}
	if f.list {
		return a, nil
	}

	apiKey := cfg.LLM.APIKey
	if apiKey == "" {
		if apiKey, err = project.APIKey(); err != nil {
			return nil, err
		}
	}

	a.story, err = session.LoadStory(
		cfg.Session.Rule,
		cfg.Session.Story,
		project.RuleFile(cfg.Session.Rule),
		project.StoryFile(cfg.Session.Rule, cfg.Session.Story),
		project.OpeningFile(),
	)
	if err != nil {
		return nil, err
	}

	a.client = openai.NewClient(apiKey,
		openai.WithBaseURL(cfg.LLM.BaseURL),
		openai.WithModel(cfg.LLM.Model),
		openai.WithTemperature(cfg.LLM.Temperature),
	)
	a.store = persistence.NewStore(project.SaveDir(), persistence.WithStory(a.story.Title()))
	a.journal = persistence.NewJournal(project.LogDir())

	if f.resume {
		latest, err := a.store.Latest()
		if err != nil {
			return nil, fmt.Errorf("cannot resume: %w", err)
		}
		record, err := a.store.Load(latest.Path)
		if err != nil {
			return nil, fmt.Errorf("cannot resume from %s: %w", latest.Path, err)
		}
		a.resumed = &record
	}

	if !f.noAudio {
		a.narrator, err = newNarrator(ctx, cfg.Narration)
		if err != nil {
			logger.Warn("narration is unavailable", "error", err)
			a.narrator = nil
		}
	}

	return a, nil
}

func applyFlags(cfg *config.Config, f flags, flagSet *pflag.FlagSet) {
	if f.root != "" {
		cfg.Root = f.root
	}
	if f.rule != "" {
		cfg.Session.Rule = f.rule
	}
	if f.story != "" {
		cfg.Session.Story = f.story
	}
	if f.model != "" {
		cfg.LLM.Model = f.model
	}
	if flagSet.Changed("narration") {
		cfg.Narration.Enabled = f.narration
	}
	if f.noAutoSave {
		cfg.Session.AutoSave = false
	}
	if cfg.Session.Rule == "" {
		cfg.Session.Rule = defaultRule
	}
	if cfg.Session.Story == "" {
		cfg.Session.Story = defaultStory
	}
}

func resolveProject(root string) (paths.Project, error) {
	if root != "" {
		return paths.Project{Root: root}, nil
	}
	return paths.FindRoot(".")
}

// controllerOptions wires the session collaborators. Front ends add their
// display, scheduler and event handlers.
func (a *app) controllerOptions(ctx context.Context) []orchestration.ControllerOption {
	history := session.NewHistory(a.story.InitialHistory()...)
	initialStatus := status.Default()
	if a.resumed != nil {
		history = session.NewHistory(a.resumed.History...)
		if a.resumed.Status != nil {
			initialStatus = a.resumed.Status
		}
	}

	opts := []orchestration.ControllerOption{
		orchestration.WithBaseContext(ctx),
		orchestration.WithGenerator(a.client),
		orchestration.WithHistory(history),
		orchestration.WithInitialStatus(initialStatus),
		orchestration.WithStatusRefresher(status.NewRefresher(a.client,
			status.WithHistoryWindow(a.cfg.Status.HistoryWindow),
			status.WithTemperature(a.cfg.Status.Temperature),
			status.WithStrictSchema(a.cfg.Status.StrictSchema),
		)),
		orchestration.WithPersister(a.store),
		orchestration.WithNormalizer(markdown.PlainText{}),
		orchestration.WithDrainPeriod(a.cfg.Turn.DrainPeriod),
		orchestration.WithDrainBatchBytes(a.cfg.Turn.DrainBatchBytes),
		orchestration.WithFinalizeTimeout(a.cfg.Turn.FinalizeTimeout),
		orchestration.WithAutoSave(a.cfg.Session.AutoSave),
		orchestration.WithNarration(a.cfg.Narration.Enabled && a.narrator != nil),
		orchestration.WithEventHandler(a.journalEvent),
	}
	if a.narrator != nil {
		opts = append(opts, orchestration.WithNarrator(a.narrator))
	}
	return opts
}

// opening is the prompt sent as the first turn of a new game.
func (a *app) opening() string {
	if a.resumed != nil {
		return ""
	}
	return markdown.ToPlainText(a.story.Opening)
}

func (a *app) journalEvent(event events.Event) {
	switch event := event.(type) {
	case events.TurnStarted:
		a.journal.Record(persistence.RoleLabel(llms.RoleUser), event.UserInput)
	case events.TurnCompleted:
		a.journal.Record(persistence.RoleLabel(llms.RoleAssistant), event.Reply)
	case events.TurnFailed:
		a.journal.Record("error", event.Err.Error())
	case events.SaveCompleted:
		a.journal.Record("save", event.Path)
	}
}

// finish exports the replay and the session journal.
func (a *app) finish(history []llms.Message) {
	if a.journal != nil {
		if path, err := a.journal.Flush(); err != nil {
			logger.Warn("failed to write session journal", "error", err)
		} else {
			logger.Info("session journal written", "path", path)
		}
	}

	if len(session.FilterMessages(history, "")) == 0 {
		return
	}
	path, err := persistence.ExportReplay(a.project.LogDir(), history, time.Now())
	if err != nil && !errors.Is(err, persistence.ErrNothingToSave) {
		logger.Warn("failed to export replay", "error", err)
		return
	}
	logger.Info("replay exported", "path", path)
}

func (a *app) close() {
	if a.narrator != nil {
		a.narrator.Close()
	}
}

func (a *app) printCatalog(w io.Writer) error {
	rules, err := a.project.Rules()
	if err != nil {
		return err
	}
	for _, rule := range rules {
		stories, err := a.project.Stories(rule)
		if err != nil {
			fmt.Fprintf(w, "%s\t(no stories)\n", rule)
			continue
		}
		fmt.Fprintf(w, "%s\t%s\n", rule, strings.Join(stories, ", "))
	}
	return nil
}
