package chat

import (
	"fmt"
	"strings"
	"sync"
)

// Turn roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one message in a conversation.
type Turn struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// maxHistoryTurns bounds how much history feeds back into prompts.
const maxHistoryTurns = 12

// Conversation is the explicit chat context for one document. It is
// created when a document is selected, cleared on explicit reset, and
// never shared across documents.
type Conversation struct {
	DocumentID string

	mu    sync.Mutex
	turns []Turn
}

// NewConversation creates an empty conversation bound to a document.
func NewConversation(documentID string) *Conversation {
	return &Conversation{DocumentID: documentID}
}

// Append records a turn, keeping only the most recent history.
func (c *Conversation) Append(role, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.turns = append(c.turns, Turn{Role: role, Text: text})
	if len(c.turns) > maxHistoryTurns {
		c.turns = c.turns[len(c.turns)-maxHistoryTurns:]
	}
}

// Turns returns a copy of the recorded history.
func (c *Conversation) Turns() []Turn {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

// Reset clears the history. The document binding stays.
func (c *Conversation) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turns = nil
}

// PromptHistory renders the history as a prompt section, empty when there
// is none.
func (c *Conversation) PromptHistory() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.turns) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("Conversation so far:\n")
	for _, t := range c.turns {
		fmt.Fprintf(&sb, "%s: %s\n", t.Role, t.Text)
	}
	sb.WriteString("\n")
	return sb.String()
}
