package events

import (
	"errors"
	"testing"
)

func TestConstructorsEmitExpectedKinds(t *testing.T) {
	testCases := []struct {
		name     string
		event    Event
		expected Kind
	}{
		{name: "turn started", event: NewTurnStarted(1, "hi", false), expected: KindTurnStarted},
		{name: "turn cancelling", event: NewTurnCancelling(1), expected: KindTurnCancelling},
		{name: "turn cancelled", event: NewTurnCancelled(1, 2), expected: KindTurnCancelled},
		{name: "turn failed", event: NewTurnFailed(1, errors.New("x")), expected: KindTurnFailed},
		{name: "turn completed", event: NewTurnCompleted(1, "reply"), expected: KindTurnCompleted},
		{name: "response progress", event: NewAssistantResponseProgress(1, 5), expected: KindAssistantResponseProgress},
		{name: "status updated", event: NewStatusUpdated(nil), expected: KindStatusUpdated},
		{name: "status refresh failed", event: NewStatusRefreshFailed(errors.New("x")), expected: KindStatusRefreshFailed},
		{name: "save completed", event: NewSaveCompleted("path", true), expected: KindSaveCompleted},
		{name: "save failed", event: NewSaveFailed(errors.New("x"), false), expected: KindSaveFailed},
		{name: "narration failed", event: NewNarrationFailed(errors.New("x")), expected: KindNarrationFailed},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if got := testCase.event.Kind(); got != testCase.expected {
				t.Fatalf("expected kind %q, got %q", testCase.expected, got)
			}
			if testCase.event.Timestamp().IsZero() {
				t.Fatalf("expected a timestamp")
			}
		})
	}
}

func TestCancelledAndFailedKindsAreDistinct(t *testing.T) {
	cancelled := NewTurnCancelled(1, 0)
	failed := NewTurnFailed(1, nil)

	if cancelled.Kind() == failed.Kind() {
		t.Fatalf("expected cancelled and failed kinds to differ, both were %q", cancelled.Kind())
	}
}

func TestKindNamespace(t *testing.T) {
	testCases := map[Kind]string{
		KindTurnCancelled:                  "turn_state",
		NewStatusRefreshFailed(nil).Kind(): "status",
		Kind("plain"):                      "plain",
	}
	for kind, expected := range testCases {
		if got := kind.Namespace(); got != expected {
			t.Fatalf("expected namespace %q for %q, got %q", expected, kind, got)
		}
	}
}
