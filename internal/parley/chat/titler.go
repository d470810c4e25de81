package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/parleybot/parley/internal/parley/llm"
)

// titlePrompt instructs the model to produce a short list-view title for
// the conversation so far.
const titlePrompt = "Write a title for this conversation in at most six words. " +
	"Respond with the title only — no quotes, no punctuation at the end."

const titleTimeout = 20 * time.Second

// generateTitle asks the model for a short session title. Best-effort by
// contract: any failure is logged at debug level and the placeholder title
// stays. Runs outside the submit path so it can never block a turn.
func (s *Session) generateTitle(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, titleTimeout)
	defer cancel()

	s.mu.Lock()
	if s.titled {
		s.mu.Unlock()
		return
	}
	model := s.params.Model
	transcript := transcript(s.log)
	s.mu.Unlock()

	if transcript == "" {
		return
	}

	completion, err := s.deps.Completer.Complete(ctx, llm.Request{
		Model: model,
		Messages: []llm.ChatMessage{
			{Role: string(RoleSystem), Content: titlePrompt},
			{Role: string(RoleUser), Content: transcript},
		},
		MaxTokens: 32,
	})
	if err != nil {
		s.deps.Logger.Debug("chat: title generation failed", "session_id", s.id, "err", err)
		return
	}

	title := strings.TrimSpace(strings.Trim(completion.Text, `"'`))
	if title == "" {
		return
	}

	s.mu.Lock()
	if s.titled {
		s.mu.Unlock()
		return
	}
	s.title = title
	s.titled = true
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.save(ctx, snap)
	s.deps.Logger.Debug("chat: session titled", "session_id", s.id)
}

// transcript renders the log as role-prefixed lines for the title call.
func transcript(log []Message) string {
	var b strings.Builder
	for i, m := range log {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s: %s", m.Role, m.Content)
	}
	return b.String()
}
