package events

import "time"

// Kind names an event as "<namespace>.<name>", see the package docs.
type Kind string

// Namespace is the part of the kind before the first dot.
func (k Kind) Namespace() string {
	for i := range len(k) {
		if k[i] == '.' {
			return string(k[:i])
		}
	}
	return string(k)
}

// Event is anything the turn controller reports. Handlers are called on the
// foreground schedule, in emission order.
type Event interface {
	Kind() Kind
	Timestamp() time.Time
}

// Base is embedded by every event to carry its kind and creation time.
type Base struct {
	kind Kind
	at   time.Time
}

func NewBase(kind Kind) Base {
	return Base{kind: kind, at: time.Now()}
}

func (b Base) Kind() Kind           { return b.kind }
func (b Base) Timestamp() time.Time { return b.at }
func (b Base) String() string       { return string(b.kind) }
