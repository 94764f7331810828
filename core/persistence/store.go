// Package persistence writes and reads save files and exports human readable
// replays of a story.
package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/koscakluka/ema-tales/core/llms"
	"github.com/koscakluka/ema-tales/core/status"
)

// Kind tells automatic saves apart from the ones the player asked for.
type Kind string

const (
	KindAuto   Kind = "AUTO"
	KindManual Kind = "MANUAL"
)

const (
	saveFilePrefix  = "SAVE_"
	timestampLayout = "20060102_150405"
)

var (
	ErrNothingToSave = errors.New("history is empty, nothing to save")
	ErrNoSaves       = errors.New("no save files found")
)

// Record is the on-disk layout of a save file.
type Record struct {
	History []llms.Message   `json:"history"`
	Status  *status.Snapshot `json:"status,omitempty"`
	Meta    Meta             `json:"meta"`
}

type Meta struct {
	ID        string `json:"id,omitempty"`
	Kind      Kind   `json:"kind,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Story     string `json:"story,omitempty"`
	// Legacy is set on records read from the old bare history array layout.
	Legacy bool `json:"-"`
}

// SaveInfo describes a save file found on disk.
type SaveInfo struct {
	Path    string
	Kind    Kind
	ModTime time.Time
}

type Store struct {
	dir   string
	story string
	now   func() time.Time
}

type StoreOption func(*Store)

// WithStory tags every save with the title of the story being played.
func WithStory(title string) StoreOption {
	return func(s *Store) {
		s.story = title
	}
}

func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func NewStore(dir string, opts ...StoreOption) *Store {
	s := &Store{dir: dir, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Dir() string {
	return s.dir
}

// Save writes history and status to a new save file and returns its path.
func (s *Store) Save(ctx context.Context, kind Kind, history []llms.Message, snapshot *status.Snapshot) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(history) == 0 {
		return "", ErrNothingToSave
	}

	now := s.now()
	record := Record{
		History: history,
		Status:  snapshot,
		Meta: Meta{
			ID:        uuid.NewString(),
			Kind:      kind,
			Timestamp: now.Format(timestampLayout),
			Story:     s.story,
		},
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode save: %w", err)
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create save directory: %w", err)
	}

	name := fmt.Sprintf("%s%s_%s_%03d.json", saveFilePrefix, kind, now.Format(timestampLayout), now.Nanosecond()/int(time.Millisecond))
	path := filepath.Join(s.dir, name)
	if err := writeFileAtomic(path, data); err != nil {
		return "", err
	}
	return path, nil
}

// Load reads a save file. Both the current layout and the legacy layout, a
// bare history array, are accepted.
func (s *Store) Load(path string) (Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Record{}, fmt.Errorf("failed to read save: %w", err)
	}
	return Decode(data)
}

// Decode validates and decodes the content of a save file.
func Decode(data []byte) (Record, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return Record{}, fmt.Errorf("save file is empty")
	}

	schemas, err := loadSchemas()
	if err != nil {
		return Record{}, err
	}

	var payload any
	if err := json.Unmarshal([]byte(trimmed), &payload); err != nil {
		return Record{}, fmt.Errorf("save file is not valid JSON: %w", err)
	}

	switch trimmed[0] {
	case '[':
		if err := schemas.legacy.Validate(payload); err != nil {
			return Record{}, fmt.Errorf("unsupported save layout: %w", err)
		}
		var history []llms.Message
		if err := json.Unmarshal([]byte(trimmed), &history); err != nil {
			return Record{}, fmt.Errorf("failed to decode legacy save: %w", err)
		}
		return Record{History: history, Meta: Meta{Legacy: true}}, nil

	case '{':
		if err := schemas.save.Validate(payload); err != nil {
			return Record{}, fmt.Errorf("unsupported save layout: %w", err)
		}
		var record Record
		if err := json.Unmarshal([]byte(trimmed), &record); err != nil {
			return Record{}, fmt.Errorf("failed to decode save: %w", err)
		}
		return record, nil
	}

	return Record{}, fmt.Errorf("unsupported save layout")
}

// List returns the save files in the store directory, newest first.
func (s *Store) List() ([]SaveInfo, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list saves: %w", err)
	}

	var saves []SaveInfo
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		saves = append(saves, SaveInfo{
			Path:    filepath.Join(s.dir, entry.Name()),
			Kind:    kindFromName(entry.Name()),
			ModTime: info.ModTime(),
		})
	}

	slices.SortFunc(saves, func(a, b SaveInfo) int {
		if c := b.ModTime.Compare(a.ModTime); c != 0 {
			return c
		}
		return strings.Compare(b.Path, a.Path)
	})
	return saves, nil
}

// Latest returns the newest save file.
func (s *Store) Latest() (SaveInfo, error) {
	saves, err := s.List()
	if err != nil {
		return SaveInfo{}, err
	}
	if len(saves) == 0 {
		return SaveInfo{}, ErrNoSaves
	}
	return saves[0], nil
}

func kindFromName(name string) Kind {
	rest, ok := strings.CutPrefix(name, saveFilePrefix)
	if !ok {
		rest, ok = strings.CutPrefix(name, "TRPG_"+saveFilePrefix)
	}
	if !ok {
		return ""
	}
	switch {
	case strings.HasPrefix(rest, string(KindAuto)):
		return KindAuto
	case strings.HasPrefix(rest, string(KindManual)):
		return KindManual
	}
	return ""
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".save-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary save: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write save: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write save: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move save into place: %w", err)
	}
	return nil
}
