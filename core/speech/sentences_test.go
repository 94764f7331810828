package speech

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplitSentences(t *testing.T) {
	testCases := []struct {
		text     string
		expected []string
	}{
		{text: "", expected: nil},
		{text: "  \n ", expected: nil},
		{text: "Hello there. General Kenobi!", expected: []string{"Hello there.", "General Kenobi!"}},
		{text: "第一行\n第二行。尾巴", expected: []string{"第一行", "第二行。", "尾巴"}},
	}

	for _, testCase := range testCases {
		t.Run(testCase.text, func(t *testing.T) {
			got := SplitSentences(testCase.text)
			if strings.Join(got, "|") != strings.Join(testCase.expected, "|") || len(got) != len(testCase.expected) {
				t.Fatalf("expected %q, got %q", testCase.expected, got)
			}
		})
	}
}

func TestGroupSentencesPacksUnderLimit(t *testing.T) {
	groups := GroupSentences("一二三。四五。六七八九。十", 9)
	expected := []string{"一二三。 四五。", "六七八九。 十"}
	if strings.Join(groups, "|") != strings.Join(expected, "|") {
		t.Fatalf("expected %q, got %q", expected, groups)
	}
}

func TestGroupSentencesCutsOverlongSentence(t *testing.T) {
	text := strings.Repeat("字", 25) + "。短句。"
	groups := GroupSentences(text, 10)
	for _, group := range groups {
		if n := utf8.RuneCountInString(group); n > 10 {
			t.Fatalf("expected groups of at most 10 runes, got %d in %q", n, group)
		}
	}
	if joined := strings.ReplaceAll(strings.Join(groups, ""), " ", ""); joined != text {
		t.Fatalf("expected groups to keep every rune, got %q", joined)
	}
}
