package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/koscakluka/ema-tales/core/llms"
)

func TestHistory_PopLastOnlyPopsMatchingRole(t *testing.T) {
	history := NewHistory(llms.SystemMessage("rules"), llms.UserMessage("hi"))

	if _, ok := history.PopLast(llms.RoleAssistant); ok {
		t.Fatalf("expected no pop when trailing message is not an assistant message")
	}
	if history.Len() != 2 {
		t.Fatalf("expected history to be untouched, got %d messages", history.Len())
	}

	msg, ok := history.PopLast(llms.RoleUser)
	if !ok || msg.Content != "hi" {
		t.Fatalf("expected to pop user message, got %+v (ok=%v)", msg, ok)
	}
	if history.Len() != 1 {
		t.Fatalf("expected 1 message left, got %d", history.Len())
	}
}

func TestHistory_MessagesReturnsCopy(t *testing.T) {
	history := NewHistory(llms.UserMessage("a"))
	messages := history.Messages()
	messages[0].Content = "changed"

	if last, _ := history.Last(); last.Content != "a" {
		t.Fatalf("expected history to be unaffected by caller mutation, got %q", last.Content)
	}
}

func TestHistory_FilterSkipsSystemAndReturnsNewestFirst(t *testing.T) {
	history := NewHistory(
		llms.SystemMessage("门 rules"),
		llms.UserMessage("打开门"),
		llms.AssistantMessage("门开了"),
		llms.UserMessage("离开"),
	)

	filtered := history.Filter("门")
	if len(filtered) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(filtered))
	}
	if filtered[0].Content != "门开了" || filtered[1].Content != "打开门" {
		t.Fatalf("expected newest first, got %+v", filtered)
	}
	if len(history.Filter("")) != 3 {
		t.Fatalf("expected empty keyword to match all non-system messages")
	}
}

func TestLoadStory_BuildsInitialHistory(t *testing.T) {
	dir := t.TempDir()
	ruleFile := filepath.Join(dir, "COC_PROMPT.txt")
	storyFile := filepath.Join(dir, "manor.txt")
	if err := os.WriteFile(ruleFile, []byte("  rules \n"), 0o644); err != nil {
		t.Fatalf("failed to write rule: %v", err)
	}
	if err := os.WriteFile(storyFile, []byte("background"), 0o644); err != nil {
		t.Fatalf("failed to write story: %v", err)
	}

	story, err := LoadStory("COC", "manor", ruleFile, storyFile, filepath.Join(dir, "missing.txt"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	initial := story.InitialHistory()
	if len(initial) != 2 {
		t.Fatalf("expected 2 system messages, got %d", len(initial))
	}
	if initial[0].Role != llms.RoleSystem || initial[0].Content != "rules" {
		t.Fatalf("unexpected rule message: %+v", initial[0])
	}
	if initial[1].Content != "background" {
		t.Fatalf("unexpected background message: %+v", initial[1])
	}
	if story.Opening != "" {
		t.Fatalf("expected missing opening prompt to be ignored, got %q", story.Opening)
	}
	if story.ID == "" {
		t.Fatalf("expected a story id")
	}
}

func TestLoadStory_FailsForMissingRule(t *testing.T) {
	if _, err := LoadStory("X", "y", filepath.Join(t.TempDir(), "nope"), "also-nope", ""); err == nil {
		t.Fatalf("expected an error for a missing rule file")
	}
}
