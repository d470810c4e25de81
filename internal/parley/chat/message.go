// Package chat implements the conversation core: the per-session message
// log, the embedding index, the context selector that decides which prior
// turns are replayed to the model, and the session state machine that ties
// them together. Short-term coherence comes from a fixed recency window;
// older turns are recalled by embedding similarity within the token budget.
package chat

import "time"

// Role identifies the author of a message in the conversation log.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the three known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// Message is a single turn in a conversation log. Once appended to a
// session the message is immutable; only its embedding may be filled in
// later (computed at most once, cached in the session's EmbeddingIndex).
type Message struct {
	Role       Role      // author of the turn
	Content    string    // message text
	Timestamp  time.Time // when the turn was recorded
	TokenCount int       // counted at append time with the session's model
}
