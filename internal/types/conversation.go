// Package types holds the domain structs shared across the context engine.
package types

import "time"

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
)

// Conversation is a long-running chat thread owned by one user.
type Conversation struct {
	ID        string
	UserID    string
	Behaviors map[string]string
	Memory    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message is a single turn in a conversation. SummaryID is empty while the
// message is still active context; once summarized it points at the
// TopicSummary that subsumed it and the message drops out of recency windows.
type Message struct {
	ID             string
	ConversationID string
	Role           string
	Content        string
	SummaryID      string
	CreatedAt      time.Time
}

// Summarized reports whether the message has been folded into a summary.
func (m Message) Summarized() bool {
	return m.SummaryID != ""
}
