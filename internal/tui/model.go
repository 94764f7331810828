// Package tui is the terminal front end of ema-tales. The Model is the
// display of the turn controller and the bubbletea goroutine is its
// foreground, every controller callback runs inside Update.
package tui

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	orchestration "github.com/koscakluka/ema-tales/core"
	"github.com/koscakluka/ema-tales/core/events"
	"github.com/koscakluka/ema-tales/core/llms"
	"github.com/koscakluka/ema-tales/core/persistence"
	"github.com/koscakluka/ema-tales/core/session"
	"github.com/koscakluka/ema-tales/core/status"
	"github.com/muesli/reflow/wordwrap"
	"github.com/muesli/reflow/wrap"
)

const (
	statusPanelWidth = 34
	inputHeight      = 4
	saveTimeout      = 30 * time.Second
)

// Controller is the part of the turn controller the front end drives.
type Controller interface {
	Start(userInput string) (*orchestration.TurnHandle, error)
	Cancel()
	Retry() (*orchestration.TurnHandle, error)
	Save(ctx context.Context) (string, error)
	Restore(history []llms.Message, snapshot *status.Snapshot) error
	Status() *status.Snapshot
	History() []llms.Message
	SetNarration(enabled bool)
	Narration() bool
	SetAutoSave(enabled bool)
	AutoSave() bool
}

// Saves finds and reads save files.
type Saves interface {
	Latest() (persistence.SaveInfo, error)
	Load(path string) (persistence.Record, error)
}

type Options struct {
	Title string
	// Opening is sent as the first turn once the program starts.
	Opening   string
	Saves     Saves
	ReplayDir string
}

type submitMsg struct {
	text string
}

type savedMsg struct {
	path string
	err  error
}

type loadedMsg struct {
	path   string
	record persistence.Record
	err    error
}

type exportedMsg struct {
	path string
	err  error
}

type Model struct {
	opts       Options
	controller Controller
	keys       keyMap

	reply viewport.Model
	input textarea.Model

	width  int
	height int

	turnInput   string
	transcript  strings.Builder
	statusRows  []status.Change
	notice      string
	streaming   bool
	historyMode bool

	titleStyle  lipgloss.Style
	playerStyle lipgloss.Style
	noticeStyle lipgloss.Style
	helpStyle   lipgloss.Style
	changed     lipgloss.Style
}

func New(opts Options) *Model {
	input := textarea.New()
	input.Placeholder = "What do you do?"
	input.ShowLineNumbers = false
	input.CharLimit = 0
	input.KeyMap.InsertNewline = key.NewBinding(key.WithKeys("alt+enter"))
	input.SetHeight(inputHeight)
	input.Focus()

	m := &Model{
		opts:        opts,
		keys:        defaultKeyMap(),
		reply:       viewport.New(80, 20),
		input:       input,
		notice:      "ready",
		titleStyle:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213")),
		playerStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("111")),
		noticeStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("250")).Background(lipgloss.Color("236")),
		helpStyle:   lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		changed:     lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true),
	}
	return m
}

// Bind attaches the controller. It must be called before the program runs.
func (m *Model) Bind(controller Controller) {
	m.controller = controller
	if controller != nil {
		m.statusRows = status.Unchanged(controller.Status())
	}
}

func (m *Model) Init() tea.Cmd {
	cmds := []tea.Cmd{textarea.Blink}
	if opening := strings.TrimSpace(m.opts.Opening); opening != "" {
		cmds = append(cmds, func() tea.Msg { return submitMsg{text: opening} })
	}
	return tea.Batch(cmds...)
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case runMsg:
		msg.fn()
		return m, nil

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.layout()
		return m, nil

	case submitMsg:
		m.submit(msg.text)
		return m, nil

	case savedMsg:
		if msg.err != nil {
			m.notice = "save failed: " + msg.err.Error()
		} else {
			m.notice = "saved " + filepath.Base(msg.path)
		}
		return m, nil

	case loadedMsg:
		m.applyLoaded(msg)
		return m, nil

	case exportedMsg:
		if msg.err != nil {
			m.notice = "export failed: " + msg.err.Error()
		} else {
			m.notice = "replay exported to " + filepath.Base(msg.path)
		}
		return m, nil

	case tea.KeyMsg:
		if cmd, handled := m.handleKey(msg); handled {
			return m, cmd
		}
	}

	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.reply, cmd = m.reply.Update(msg)
	cmds = append(cmds, cmd)
	if m.historyMode {
		m.refreshReply()
	}
	return m, tea.Batch(cmds...)
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Cmd, bool) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return tea.Quit, true

	case key.Matches(msg, m.keys.Send):
		if m.historyMode {
			return nil, true
		}
		text := m.input.Value()
		m.submit(text)
		return nil, true

	case key.Matches(msg, m.keys.Stop):
		if m.controller != nil && m.streaming {
			m.controller.Cancel()
		}
		return nil, true

	case key.Matches(msg, m.keys.Retry):
		m.retry()
		return nil, true

	case key.Matches(msg, m.keys.Save):
		m.notice = "saving..."
		return m.saveCmd(), true

	case key.Matches(msg, m.keys.Load):
		if m.streaming {
			m.notice = "cannot load while the keeper is speaking"
			return nil, true
		}
		m.notice = "loading latest save..."
		return m.loadCmd(), true

	case key.Matches(msg, m.keys.Export):
		return m.exportCmd(), true

	case key.Matches(msg, m.keys.Narration):
		if m.controller != nil {
			m.controller.SetNarration(!m.controller.Narration())
			m.notice = "narration " + onOff(m.controller.Narration())
		}
		return nil, true

	case key.Matches(msg, m.keys.AutoSave):
		if m.controller != nil {
			m.controller.SetAutoSave(!m.controller.AutoSave())
			m.notice = "auto-save " + onOff(m.controller.AutoSave())
		}
		return nil, true

	case key.Matches(msg, m.keys.History):
		m.historyMode = !m.historyMode
		if m.historyMode {
			m.notice = "history search: type to filter, ctrl+f to go back"
		} else {
			m.notice = "ready"
		}
		m.refreshReply()
		return nil, true

	case key.Matches(msg, m.keys.Clear):
		m.input.Reset()
		m.notice = "input cleared"
		return nil, true
	}
	return nil, false
}

func (m *Model) submit(text string) {
	if m.controller == nil {
		return
	}
	text = strings.TrimSpace(text)
	if text == "" {
		m.notice = "type something first"
		return
	}

	if _, err := m.controller.Start(text); err != nil {
		m.notice = describeStartError(err)
		return
	}
	m.input.Reset()
}

func (m *Model) retry() {
	if m.controller == nil {
		return
	}
	if _, err := m.controller.Retry(); err != nil {
		m.notice = describeStartError(err)
	}
}

func describeStartError(err error) string {
	switch {
	case errors.Is(err, orchestration.ErrAlreadyStreaming):
		return "the keeper is still speaking, press esc to stop"
	case errors.Is(err, orchestration.ErrNothingToRetry):
		return "nothing to retry"
	case errors.Is(err, orchestration.ErrEmptyInput):
		return "type something first"
	}
	return "cannot start: " + err.Error()
}

func (m *Model) saveCmd() tea.Cmd {
	controller := m.controller
	return func() tea.Msg {
		if controller == nil {
			return savedMsg{err: errors.New("no session")}
		}
		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		defer cancel()
		path, err := controller.Save(ctx)
		return savedMsg{path: path, err: err}
	}
}

func (m *Model) loadCmd() tea.Cmd {
	saves := m.opts.Saves
	return func() tea.Msg {
		if saves == nil {
			return loadedMsg{err: errors.New("saves are not configured")}
		}
		latest, err := saves.Latest()
		if err != nil {
			return loadedMsg{err: err}
		}
		record, err := saves.Load(latest.Path)
		return loadedMsg{path: latest.Path, record: record, err: err}
	}
}

func (m *Model) applyLoaded(msg loadedMsg) {
	if msg.err != nil {
		m.notice = "load failed: " + msg.err.Error()
		return
	}
	if err := m.controller.Restore(msg.record.History, msg.record.Status); err != nil {
		m.notice = "load failed: " + describeStartError(err)
		return
	}

	m.turnInput = ""
	m.transcript.Reset()
	if last, ok := lastOfRole(msg.record.History, llms.RoleAssistant); ok {
		m.transcript.WriteString(last.Content)
	}
	m.refreshReply()
	m.notice = "loaded " + filepath.Base(msg.path)
}

func (m *Model) exportCmd() tea.Cmd {
	if m.controller == nil {
		return nil
	}
	history := m.controller.History()
	dir := m.opts.ReplayDir
	return func() tea.Msg {
		path, err := persistence.ExportReplay(dir, history, time.Now())
		return exportedMsg{path: path, err: err}
	}
}

// BeginTurn clears the reply pane for a new turn.
func (m *Model) BeginTurn(_ int64, userInput string) {
	m.historyMode = false
	m.turnInput = userInput
	m.transcript.Reset()
	m.refreshReply()
}

func (m *Model) Append(text string) {
	m.transcript.WriteString(text)
	m.refreshReply()
}

func (m *Model) Note(text string) {
	m.notice = text
}

// HandleEvent updates the status line and the status table.
func (m *Model) HandleEvent(event events.Event) {
	switch event := event.(type) {
	case events.TurnStarted:
		m.streaming = true
		m.notice = "waiting for the keeper..."
	case events.AssistantResponseProgress:
		m.notice = fmt.Sprintf("receiving... %d chars", event.Chars)
	case events.TurnCancelling:
		m.notice = "stopping..."
	case events.TurnCancelled:
		m.streaming = false
		m.notice = "stopped (not committed)"
	case events.TurnFailed:
		m.streaming = false
		m.notice = "request failed: " + event.Err.Error()
	case events.TurnCompleted:
		m.streaming = false
		if !strings.HasPrefix(m.notice, "auto-saved") {
			m.notice = "ready"
		}
	case events.StatusUpdated:
		m.statusRows = event.Changes
	case events.StatusRefreshFailed:
		m.notice = "status update failed: " + event.Err.Error()
	case events.SaveCompleted:
		if event.Auto {
			m.notice = "auto-saved " + filepath.Base(event.Path)
		} else {
			m.notice = "saved " + filepath.Base(event.Path)
		}
	case events.SaveFailed:
		m.notice = "save failed: " + event.Err.Error()
	case events.NarrationFailed:
		m.notice = "narration failed: " + event.Err.Error()
	}
}

func (m *Model) layout() {
	replyWidth := max(m.width-statusPanelWidth-1, 20)
	replyHeight := max(m.height-inputHeight-5, 3)

	m.reply.Width = replyWidth
	m.reply.Height = replyHeight
	m.input.SetWidth(max(m.width, 20))
	m.refreshReply()
}

func (m *Model) refreshReply() {
	width := max(m.reply.Width, 1)

	var content string
	if m.historyMode {
		content = m.renderHistory(width)
	} else {
		var b strings.Builder
		if m.turnInput != "" {
			b.WriteString(m.playerStyle.Render(persistence.RoleLabel(llms.RoleUser) + ": " + wrapText(m.turnInput, width-4)))
			b.WriteString("\n\n")
		}
		b.WriteString(wrapText(m.transcript.String(), width))
		content = b.String()
	}

	m.reply.SetContent(content)
	if !m.historyMode {
		m.reply.GotoBottom()
	}
}

func (m *Model) renderHistory(width int) string {
	if m.controller == nil {
		return ""
	}
	messages := session.FilterMessages(m.controller.History(), strings.TrimSpace(m.input.Value()))
	if len(messages) == 0 {
		return "(no matching messages)"
	}

	var b strings.Builder
	for _, msg := range messages {
		b.WriteString(strings.Repeat("─", min(width, 40)))
		b.WriteString("\n")
		b.WriteString(m.titleStyle.Render(persistence.RoleLabel(msg.Role)))
		b.WriteString("\n")
		b.WriteString(wrapText(msg.Content, width))
		b.WriteString("\n")
	}
	return b.String()
}

func (m *Model) renderStatus() string {
	rows := make([][]string, 0, len(m.statusRows))
	for _, row := range m.statusRows {
		rows = append(rows, []string{row.Key, wrapText(row.Value, statusPanelWidth-14)})
	}
	changedRows := m.statusRows

	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("240"))).
		Headers("status", "").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			style := lipgloss.NewStyle().Padding(0, 1)
			if row >= 0 && row < len(changedRows) && changedRows[row].Changed {
				return m.changed.Padding(0, 1)
			}
			return style
		}).
		Width(statusPanelWidth).
		Render()
}

func (m *Model) View() string {
	title := m.titleStyle.Render(m.opts.Title)
	if m.controller != nil {
		title += m.helpStyle.Render(fmt.Sprintf("  narration %s · auto-save %s", onOff(m.controller.Narration()), onOff(m.controller.AutoSave())))
	}

	body := lipgloss.JoinHorizontal(lipgloss.Top, m.reply.View(), " ", m.renderStatus())
	notice := m.noticeStyle.Width(max(m.width, 1)).Render(m.notice)

	return lipgloss.JoinVertical(lipgloss.Left,
		title,
		body,
		notice,
		m.input.View(),
		m.helpStyle.Render(m.keys.helpLine()),
	)
}

// wrapText wraps on words and hard wraps what has no spaces to break on,
// which covers CJK text.
func wrapText(text string, width int) string {
	if width <= 0 {
		return text
	}
	return wrap.String(wordwrap.String(text, width), width)
}

func lastOfRole(messages []llms.Message, role llms.Role) (llms.Message, bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == role {
			return messages[i], true
		}
	}
	return llms.Message{}, false
}

func onOff(enabled bool) string {
	if enabled {
		return "on"
	}
	return "off"
}
