package persistence

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/koscakluka/ema-tales/core/llms"
)

const replayFilePrefix = "REPLAY_"

var roleLabels = map[llms.Role]string{
	llms.RoleSystem:    "系统",
	llms.RoleUser:      "玩家",
	llms.RoleAssistant: "主持人",
	"tool":             "工具",
}

// RoleLabel returns the display name of a history role.
func RoleLabel(role llms.Role) string {
	if label, ok := roleLabels[role]; ok {
		return label
	}
	return string(role)
}

// ExportReplay writes the whole history as a readable transcript into dir and
// returns the file path.
func ExportReplay(dir string, history []llms.Message, now time.Time) (string, error) {
	if len(history) == 0 {
		return "", ErrNothingToSave
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create log directory: %w", err)
	}

	var b strings.Builder
	for _, msg := range history {
		fmt.Fprintf(&b, "【%s】\n%s\n%s\n\n", RoleLabel(msg.Role), msg.Content, strings.Repeat("-", 40))
	}

	path := filepath.Join(dir, replayFilePrefix+now.Format(timestampLayout)+".txt")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("failed to write replay: %w", err)
	}
	return path, nil
}

// Journal collects a timestamped log of everything that happened during a
// session and writes it out on Flush.
type Journal struct {
	dir       string
	startedAt time.Time
	now       func() time.Time

	mu      sync.Mutex
	entries []journalEntry
}

type journalEntry struct {
	at      time.Time
	owner   string
	content string
}

func NewJournal(dir string) *Journal {
	now := time.Now()
	return &Journal{dir: dir, startedAt: now, now: time.Now}
}

func (j *Journal) Record(owner, content string) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.entries = append(j.entries, journalEntry{at: j.now(), owner: owner, content: content})
}

// Flush writes the journal to a per-session log file, replacing an earlier
// flush of the same session.
func (j *Journal) Flush() (string, error) {
	j.mu.Lock()
	entries := append([]journalEntry(nil), j.entries...)
	j.mu.Unlock()

	if err := os.MkdirAll(j.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create log directory: %w", err)
	}

	path := filepath.Join(j.dir, "session_"+j.startedAt.Format(timestampLayout)+".log")
	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create session log: %w", err)
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	for _, entry := range entries {
		fmt.Fprintf(w, "[%s] >> [%s]: %s\n", entry.at.Format(time.DateTime), entry.owner, entry.content)
	}
	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("failed to write session log: %w", err)
	}
	return path, nil
}
