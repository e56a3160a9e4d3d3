package pipeline

import "strings"

// Role labels a prompt message.
type Role string

const (
	RoleSystem Role = "system"
	RoleHuman  Role = "human"
)

// Message is one entry of a rendered prompt.
type Message struct {
	Role    Role
	Content string
}

// Prompt is the rendered form of a user message: the system instruction
// followed by the human turn.
type Prompt struct {
	Messages []Message
}

// Text flattens the prompt for completion-style backends.
// Format: "System: <instruction>\nHuman: <text>".
func (p Prompt) Text() string {
	var b strings.Builder
	for i, m := range p.Messages {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(roleLabel(m.Role))
		b.WriteString(": ")
		b.WriteString(m.Content)
	}
	return b.String()
}

func roleLabel(r Role) string {
	switch r {
	case RoleSystem:
		return "System"
	case RoleHuman:
		return "Human"
	default:
		return string(r)
	}
}
