package status

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/jsonc"
)

var ErrNoObject = errors.New("no JSON object found")

var fullWidthReplacer = strings.NewReplacer(
	"：", ":",
	"“", `"`,
	"”", `"`,
	"（", "(",
	"）", ")",
)

// Parse reads a status object out of a model reply. Models are sloppy with
// JSON, so on top of strict parsing it accepts comments and trailing commas,
// full-width punctuation, and prose around the object.
func Parse(raw string) (*Snapshot, error) {
	candidates := []string{raw}
	if normalized := fullWidthReplacer.Replace(raw); normalized != raw {
		candidates = append(candidates, normalized)
	}

	var errs []error
	for _, candidate := range candidates {
		snapshot, err := decode(candidate)
		if err == nil {
			return snapshot, nil
		}
		errs = append(errs, err)

		if block, ok := firstObject(candidate); ok && block != strings.TrimSpace(candidate) {
			snapshot, err := decode(block)
			if err == nil {
				return snapshot, nil
			}
			errs = append(errs, err)
		}
	}

	return nil, fmt.Errorf("failed to parse status: %w", errors.Join(errs...))
}

func decode(candidate string) (*Snapshot, error) {
	trimmed := strings.TrimSpace(candidate)
	if !strings.HasPrefix(trimmed, "{") {
		return nil, ErrNoObject
	}

	snapshot := New()
	if err := snapshot.UnmarshalJSON(jsonc.ToJSON([]byte(trimmed))); err != nil {
		return nil, err
	}
	return snapshot, nil
}

// firstObject returns the first brace balanced {...} block of s. Braces inside
// string literals are not counted.
func firstObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
