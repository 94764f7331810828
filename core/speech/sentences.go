package speech

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// SplitSentences cuts text after sentence ending punctuation and line breaks.
func SplitSentences(text string) []string {
	var sentences []string
	var current strings.Builder
	emit := func() {
		if sentence := strings.TrimSpace(current.String()); sentence != "" {
			sentences = append(sentences, sentence)
		}
		current.Reset()
	}

	for _, r := range text {
		if r == '\n' {
			emit()
			continue
		}
		current.WriteRune(r)
		if isSentenceEnd(r) {
			emit()
		}
	}
	emit()
	return sentences
}

// GroupSentences packs consecutive sentences of text into chunks of at most
// maxRunes runes. A sentence longer than maxRunes is cut at the limit.
func GroupSentences(text string, maxRunes int) []string {
	if maxRunes <= 0 {
		return SplitSentences(text)
	}

	var groups []string
	var current strings.Builder
	currentRunes := 0
	emit := func() {
		if current.Len() > 0 {
			groups = append(groups, current.String())
		}
		current.Reset()
		currentRunes = 0
	}

	for _, sentence := range SplitSentences(text) {
		for _, piece := range cutRunes(sentence, maxRunes) {
			n := utf8.RuneCountInString(piece)
			// one extra rune for the joining space
			if currentRunes > 0 && currentRunes+1+n > maxRunes {
				emit()
			}
			if currentRunes > 0 {
				current.WriteByte(' ')
				currentRunes++
			}
			current.WriteString(piece)
			currentRunes += n
		}
	}
	emit()
	return groups
}

func cutRunes(s string, maxRunes int) []string {
	if utf8.RuneCountInString(s) <= maxRunes {
		return []string{s}
	}
	runes := []rune(s)
	var pieces []string
	for len(runes) > maxRunes {
		pieces = append(pieces, string(runes[:maxRunes]))
		runes = runes[maxRunes:]
	}
	if len(runes) > 0 {
		pieces = append(pieces, string(runes))
	}
	return pieces
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '。', '！', '？', '!', '?', '.', '…', '；':
		return true
	}
	return unicode.Is(unicode.Sentence_Terminal, r)
}
