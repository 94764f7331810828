package session

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/koscakluka/ema-tales/core/llms"
)

var ErrEmptyStory = errors.New("story material is empty")

// Story is the material a game is started from: the rule set the narrator
// follows, the background of the chosen story and an optional opening prompt
// that asks the narrator to begin.
type Story struct {
	ID         string
	Rule       string
	Name       string
	RulePrompt string
	Background string
	Opening    string
}

// LoadStory reads the rule and story files. openingFile may be empty, a
// missing opening file is not an error.
func LoadStory(rule, name, ruleFile, storyFile, openingFile string) (Story, error) {
	story := Story{ID: uuid.NewString(), Rule: rule, Name: name}

	rulePrompt, err := os.ReadFile(ruleFile)
	if err != nil {
		return Story{}, fmt.Errorf("failed to read rule %q: %w", rule, err)
	}
	story.RulePrompt = strings.TrimSpace(string(rulePrompt))

	background, err := os.ReadFile(storyFile)
	if err != nil {
		return Story{}, fmt.Errorf("failed to read story %q: %w", name, err)
	}
	story.Background = strings.TrimSpace(string(background))

	if story.RulePrompt == "" && story.Background == "" {
		return Story{}, ErrEmptyStory
	}

	if openingFile != "" {
		opening, err := os.ReadFile(openingFile)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return Story{}, fmt.Errorf("failed to read opening prompt: %w", err)
		}
		story.Opening = strings.TrimSpace(string(opening))
	}

	return story, nil
}

// InitialHistory returns the system messages every conversation about this
// story starts with.
func (s Story) InitialHistory() []llms.Message {
	var messages []llms.Message
	if s.RulePrompt != "" {
		messages = append(messages, llms.SystemMessage(s.RulePrompt))
	}
	if s.Background != "" {
		messages = append(messages, llms.SystemMessage(s.Background))
	}
	return messages
}

func (s Story) Title() string {
	if s.Name == "" {
		return s.Rule
	}
	return s.Rule + " / " + s.Name
}
