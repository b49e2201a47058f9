// Package memory holds the two memory surfaces of a dialogue: the
// short-term transcript an executor builds per request, and the persistent
// per-conversation record store behind it.
package memory

import (
	"strings"
	"time"
)

type Role string

const (
	RoleSystem     Role = "system"
	RoleUser       Role = "user"
	RoleAssistant  Role = "assistant"
	RoleToolResult Role = "tool-result"
	RoleHistory    Role = "history"
	RoleSystemTime Role = "system-time"
	RoleDatabase   Role = "database"
	// RoleNone renders the content without a prefix.
	RoleNone Role = ""
)

type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ShortTerm is the append-only ordered dialog log backing loop
// continuation. It lives for one executor instance and is not safe for
// concurrent use; the reason-act loop is sequential.
type ShortTerm struct {
	turns []Turn
}

func NewShortTerm() *ShortTerm {
	return &ShortTerm{}
}

func (m *ShortTerm) Add(role Role, content string) {
	m.turns = append(m.turns, Turn{
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	})
}

// Render flattens the log into the model-facing transcript: one paragraph
// per turn, role-prefixed unless the role is empty.
func (m *ShortTerm) Render() string {
	parts := make([]string, 0, len(m.turns))
	for _, turn := range m.turns {
		if turn.Role == RoleNone {
			parts = append(parts, turn.Content)
			continue
		}
		parts = append(parts, string(turn.Role)+": "+turn.Content)
	}
	return strings.Join(parts, "\n\n")
}

// Snapshot returns a shallow copy of the turns in insertion order.
func (m *ShortTerm) Snapshot() []Turn {
	out := make([]Turn, len(m.turns))
	copy(out, m.turns)
	return out
}

func (m *ShortTerm) Len() int {
	return len(m.turns)
}

// Clear empties the log. The executor never calls this during a loop.
func (m *ShortTerm) Clear() {
	m.turns = nil
}
