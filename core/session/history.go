// Package session holds the conversation state of one story: the message
// history sent to the model and the story material it starts from.
package session

import (
	"slices"
	"strings"
	"sync"

	"github.com/koscakluka/ema-tales/core/llms"
)

// History is an append-mostly, concurrency safe message log. The turn
// controller only mutates it from the foreground, the lock is there for
// readers such as savers and the front end.
type History struct {
	mu       sync.RWMutex
	messages []llms.Message
}

func NewHistory(initial ...llms.Message) *History {
	return &History{messages: slices.Clone(initial)}
}

// Messages returns a copy of the history, oldest first.
func (h *History) Messages() []llms.Message {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return slices.Clone(h.messages)
}

func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.messages)
}

func (h *History) Append(messages ...llms.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.messages = append(h.messages, messages...)
}

// PopLast removes the trailing message only if it has the given role.
func (h *History) PopLast(role llms.Role) (llms.Message, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.messages) == 0 {
		return llms.Message{}, false
	}

	last := h.messages[len(h.messages)-1]
	if last.Role != role {
		return llms.Message{}, false
	}

	h.messages = h.messages[:len(h.messages)-1]
	return last, true
}

func (h *History) Last() (llms.Message, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.messages) == 0 {
		return llms.Message{}, false
	}
	return h.messages[len(h.messages)-1], true
}

func (h *History) Replace(messages []llms.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.messages = slices.Clone(messages)
}

// Filter returns the non-system messages whose content contains keyword,
// newest first. An empty keyword matches everything.
func (h *History) Filter(keyword string) []llms.Message {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return FilterMessages(h.messages, keyword)
}

// FilterMessages applies the History.Filter rules to a plain message slice.
func FilterMessages(messages []llms.Message, keyword string) []llms.Message {
	var out []llms.Message
	for _, msg := range slices.Backward(messages) {
		if msg.Role == llms.RoleSystem {
			continue
		}
		if keyword != "" && !strings.Contains(msg.Content, keyword) {
			continue
		}
		out = append(out, msg)
	}
	return out
}
