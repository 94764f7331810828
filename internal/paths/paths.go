// Package paths locates the project directory and the files in it.
//
// A project directory holds the Gameplay, Log and Save folders next to a
// key.txt file with the model API key:
//
//	Gameplay/Rule/<RULE>_PROMPT.txt
//	Gameplay/Story/<RULE>/<STORY>.txt
//	Gameplay/Function/BEGINNING_PROMPT.txt
package paths

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

const (
	ruleSuffix  = "_PROMPT.txt"
	openingFile = "BEGINNING_PROMPT.txt"
)

var (
	ErrRootNotFound = errors.New("cannot locate project root, expected folders Gameplay, Log, Save and a key.txt file")
	ErrEmptyKey     = errors.New("api key file is empty")
)

type Project struct {
	Root string
}

// FindRoot walks up from start until it finds a project directory.
func FindRoot(start string) (Project, error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return Project{}, fmt.Errorf("failed to resolve %s: %w", start, err)
	}

	for {
		if isProjectRoot(dir) {
			return Project{Root: dir}, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return Project{}, ErrRootNotFound
		}
		dir = parent
	}
}

func isProjectRoot(dir string) bool {
	for _, name := range []string{"Gameplay", "Log", "Save"} {
		if info, err := os.Stat(filepath.Join(dir, name)); err != nil || !info.IsDir() {
			return false
		}
	}
	info, err := os.Stat(filepath.Join(dir, "key.txt"))
	return err == nil && !info.IsDir()
}

func (p Project) Gameplay() string    { return filepath.Join(p.Root, "Gameplay") }
func (p Project) RuleDir() string     { return filepath.Join(p.Gameplay(), "Rule") }
func (p Project) StoryDir() string    { return filepath.Join(p.Gameplay(), "Story") }
func (p Project) FunctionDir() string { return filepath.Join(p.Gameplay(), "Function") }
func (p Project) LogDir() string      { return filepath.Join(p.Root, "Log") }
func (p Project) SaveDir() string     { return filepath.Join(p.Root, "Save") }
func (p Project) KeyFile() string     { return filepath.Join(p.Root, "key.txt") }

func (p Project) RuleFile(rule string) string {
	return filepath.Join(p.RuleDir(), rule+ruleSuffix)
}

func (p Project) StoryFile(rule, story string) string {
	return filepath.Join(p.StoryDir(), rule, story+".txt")
}

func (p Project) OpeningFile() string {
	return filepath.Join(p.FunctionDir(), openingFile)
}

// APIKey reads the key stored in key.txt.
func (p Project) APIKey() (string, error) {
	data, err := os.ReadFile(p.KeyFile())
	if err != nil {
		return "", fmt.Errorf("failed to read api key: %w", err)
	}
	key := strings.TrimSpace(string(data))
	if key == "" {
		return "", fmt.Errorf("%w: %s", ErrEmptyKey, p.KeyFile())
	}
	return key, nil
}

// Rules lists the available rule sets, sorted by name.
func (p Project) Rules() ([]string, error) {
	names, err := listTxt(p.RuleDir())
	if err != nil {
		return nil, err
	}

	var rules []string
	for _, name := range names {
		if rule, ok := strings.CutSuffix(name, ruleSuffix); ok && rule != "" {
			rules = append(rules, rule)
		}
	}
	return rules, nil
}

// Stories lists the stories written for rule, sorted by name.
func (p Project) Stories(rule string) ([]string, error) {
	names, err := listTxt(filepath.Join(p.StoryDir(), rule))
	if err != nil {
		return nil, err
	}

	stories := make([]string, 0, len(names))
	for _, name := range names {
		stories = append(stories, strings.TrimSuffix(name, ".txt"))
	}
	return stories, nil
}

func listTxt(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && filepath.Ext(entry.Name()) == ".txt" {
			names = append(names, entry.Name())
		}
	}
	slices.Sort(names)
	return names, nil
}
