// Package status keeps the player status sheet that is refreshed after every
// completed turn: an ordered set of short key/value facts (health, fear,
// companions, inventory, ...) that the front end renders as a table.
package status

import (
	"encoding/json"
	"fmt"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Default keys of a fresh status sheet, in display order.
var DefaultKeys = []string{"生理状态", "恐惧程度", "NPC队友", "背包物品", "对怪物的认知"}

var defaultValues = []string{"良好", "低", "暂无", "暂无", "暂无"}

// Snapshot is an insertion ordered key/value status sheet. The zero value is
// not usable, create one with New or Default.
type Snapshot struct {
	values *orderedmap.OrderedMap[string, string]
}

func New() *Snapshot {
	return &Snapshot{values: orderedmap.New[string, string]()}
}

// Default returns the status sheet a new game starts with.
func Default() *Snapshot {
	s := New()
	for i, key := range DefaultKeys {
		s.Set(key, defaultValues[i])
	}
	return s
}

func (s *Snapshot) Set(key, value string) {
	s.values.Set(key, value)
}

func (s *Snapshot) Get(key string) (string, bool) {
	if s == nil {
		return "", false
	}
	return s.values.Get(key)
}

func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return s.values.Len()
}

func (s *Snapshot) Keys() []string {
	if s == nil {
		return nil
	}

	keys := make([]string, 0, s.values.Len())
	for pair := s.values.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	return keys
}

// Each calls fn for every entry in order until fn returns false.
func (s *Snapshot) Each(fn func(key, value string) bool) {
	if s == nil {
		return
	}
	for pair := s.values.Oldest(); pair != nil; pair = pair.Next() {
		if !fn(pair.Key, pair.Value) {
			return
		}
	}
}

func (s *Snapshot) Clone() *Snapshot {
	clone := New()
	s.Each(func(key, value string) bool {
		clone.Set(key, value)
		return true
	})
	return clone
}

// Merge returns a new snapshot holding every key of s followed by keys only
// next knows about. Values present in next win.
func (s *Snapshot) Merge(next *Snapshot) *Snapshot {
	merged := s.Clone()
	next.Each(func(key, value string) bool {
		merged.Set(key, value)
		return true
	})
	return merged
}

func (s *Snapshot) MarshalJSON() ([]byte, error) {
	if s == nil || s.values == nil {
		return []byte("{}"), nil
	}
	return s.values.MarshalJSON()
}

func (s *Snapshot) UnmarshalJSON(data []byte) error {
	raw := orderedmap.New[string, any]()
	if err := raw.UnmarshalJSON(data); err != nil {
		return err
	}

	s.values = orderedmap.New[string, string]()
	for pair := raw.Oldest(); pair != nil; pair = pair.Next() {
		s.values.Set(pair.Key, stringify(pair.Value))
	}
	return nil
}

func (s *Snapshot) String() string {
	var b strings.Builder
	s.Each(func(key, value string) bool {
		if b.Len() > 0 {
			b.WriteString("; ")
		}
		b.WriteString(key)
		b.WriteString(": ")
		b.WriteString(value)
		return true
	})
	return b.String()
}

// stringify flattens a decoded JSON value into the single line shown in the
// status table.
func stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool, float64, json.Number:
		return fmt.Sprint(v)
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			parts = append(parts, stringify(item))
		}
		return strings.Join(parts, ", ")
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(encoded)
	}
}
