package llms

// Role describes who a message in the conversation history is from.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single role-tagged entry of the conversation history. The
// history is what gets sent to the model on every turn, so system messages
// (rules, background) come first, followed by alternating user and assistant
// messages.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// LastN returns at most n trailing messages, skipping system messages.
func LastN(messages []Message, n int) []Message {
	if n <= 0 {
		return nil
	}

	var out []Message
	for i := len(messages) - 1; i >= 0 && len(out) < n; i-- {
		if messages[i].Role == RoleSystem {
			continue
		}
		out = append(out, messages[i])
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}
