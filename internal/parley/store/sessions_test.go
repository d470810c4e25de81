package store_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/parleybot/parley/internal/parley/chat"
	"github.com/parleybot/parley/internal/parley/config"
	"github.com/parleybot/parley/internal/parley/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "parley-test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testSnapshot(id string) chat.Snapshot {
	base := time.Date(2026, 2, 24, 10, 0, 0, 0, time.UTC)
	return chat.Snapshot{
		ID:        id,
		Title:     "Weather talk",
		CreatedAt: base,
		Status:    chat.StatusActive,
		Parameters: config.Parameters{
			Model:         "gpt-4o-mini",
			Temperature:   0.7,
			RecencyWindow: 4,
			Instructions:  []string{"Answer briefly."},
		},
		Messages: []chat.Message{
			{Role: chat.RoleUser, Content: "Will it rain?", Timestamp: base.Add(time.Second), TokenCount: 8},
			{Role: chat.RoleAssistant, Content: "Probably.", Timestamp: base.Add(2 * time.Second), TokenCount: 6},
			{Role: chat.RoleUser, Content: "And tomorrow?", Timestamp: base.Add(3 * time.Second), TokenCount: 7},
		},
		Embeddings: map[int][]float32{
			0: {0.1, 0.2, 0.3},
			2: {0.4, 0.5, 0.6},
		},
		RunningTokens: 321,
	}
}

func TestSessionStore_SaveLoadRoundTrip(t *testing.T) {
	sessions := store.NewSessionStore(newTestStore(t))
	ctx := context.Background()
	snap := testSnapshot("round-trip")

	if err := sessions.Save(ctx, snap); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := sessions.Load(ctx, "round-trip")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if got.ID != snap.ID || got.Title != snap.Title || got.Status != snap.Status {
		t.Errorf("metadata: got %q/%q/%q", got.ID, got.Title, got.Status)
	}
	if !got.CreatedAt.Equal(snap.CreatedAt) {
		t.Errorf("CreatedAt: got %v, want %v", got.CreatedAt, snap.CreatedAt)
	}
	if got.RunningTokens != 321 {
		t.Errorf("RunningTokens: got %d, want 321", got.RunningTokens)
	}
	if got.Parameters.Model != "gpt-4o-mini" || got.Parameters.Temperature != 0.7 {
		t.Errorf("Parameters: %+v", got.Parameters)
	}
	if len(got.Parameters.Instructions) != 1 {
		t.Errorf("Instructions: %v", got.Parameters.Instructions)
	}

	if len(got.Messages) != 3 {
		t.Fatalf("messages: got %d, want 3", len(got.Messages))
	}
	for i, m := range got.Messages {
		want := snap.Messages[i]
		if m.Role != want.Role || m.Content != want.Content || m.TokenCount != want.TokenCount {
			t.Errorf("message %d: got %+v, want %+v", i, m, want)
		}
		if !m.Timestamp.Equal(want.Timestamp) {
			t.Errorf("message %d timestamp: got %v, want %v", i, m.Timestamp, want.Timestamp)
		}
	}

	if len(got.Embeddings) != 2 {
		t.Fatalf("embeddings: got %d, want 2", len(got.Embeddings))
	}
	if vec := got.Embeddings[0]; len(vec) != 3 || vec[0] != 0.1 {
		t.Errorf("embedding 0: got %v", vec)
	}
	if _, ok := got.Embeddings[1]; ok {
		t.Error("message 1 has no embedding and must stay that way")
	}
}

func TestSessionStore_SaveReplacesPreviousState(t *testing.T) {
	sessions := store.NewSessionStore(newTestStore(t))
	ctx := context.Background()
	snap := testSnapshot("replace")

	if err := sessions.Save(ctx, snap); err != nil {
		t.Fatalf("Save: %v", err)
	}

	snap.Title = "Renamed"
	snap.Status = chat.StatusArchived
	snap.Messages = snap.Messages[:1]
	snap.Embeddings = map[int][]float32{0: {0.1, 0.2, 0.3}}
	if err := sessions.Save(ctx, snap); err != nil {
		t.Fatalf("second Save: %v", err)
	}

	got, err := sessions.Load(ctx, "replace")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Title != "Renamed" || got.Status != chat.StatusArchived {
		t.Errorf("metadata after overwrite: %q/%q", got.Title, got.Status)
	}
	if len(got.Messages) != 1 {
		t.Errorf("messages after overwrite: got %d, want 1", len(got.Messages))
	}
}

func TestSessionStore_ReadsAreIdempotent(t *testing.T) {
	sessions := store.NewSessionStore(newTestStore(t))
	ctx := context.Background()

	if err := sessions.Save(ctx, testSnapshot("stable")); err != nil {
		t.Fatalf("Save: %v", err)
	}

	first, err := sessions.Load(ctx, "stable")
	if err != nil {
		t.Fatalf("first Load: %v", err)
	}
	if _, err := sessions.List(ctx); err != nil {
		t.Fatalf("List: %v", err)
	}
	second, err := sessions.Load(ctx, "stable")
	if err != nil {
		t.Fatalf("second Load: %v", err)
	}

	if len(first.Messages) != len(second.Messages) {
		t.Fatalf("loads disagree: %d vs %d messages", len(first.Messages), len(second.Messages))
	}
	for i := range first.Messages {
		if first.Messages[i] != second.Messages[i] {
			t.Errorf("message %d differs between loads", i)
		}
	}
	if first.Title != second.Title || first.RunningTokens != second.RunningTokens {
		t.Errorf("metadata differs between loads")
	}
}

func TestSessionStore_LoadMissing(t *testing.T) {
	sessions := store.NewSessionStore(newTestStore(t))
	_, err := sessions.Load(context.Background(), "no-such-session")
	if !errors.Is(err, store.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestSessionStore_ListNewestFirst(t *testing.T) {
	sessions := store.NewSessionStore(newTestStore(t))
	ctx := context.Background()

	older := testSnapshot("older")
	newer := testSnapshot("newer")
	newer.CreatedAt = older.CreatedAt.Add(time.Hour)

	if err := sessions.Save(ctx, older); err != nil {
		t.Fatalf("Save older: %v", err)
	}
	if err := sessions.Save(ctx, newer); err != nil {
		t.Fatalf("Save newer: %v", err)
	}

	summaries, err := sessions.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("summaries: got %d, want 2", len(summaries))
	}
	if summaries[0].ID != "newer" || summaries[1].ID != "older" {
		t.Errorf("order: got %q, %q", summaries[0].ID, summaries[1].ID)
	}
	if summaries[0].Title != "Weather talk" || summaries[0].RunningTokens != 321 {
		t.Errorf("summary: %+v", summaries[0])
	}
}

func TestSessionStore_CorruptStates(t *testing.T) {
	cases := []struct {
		name   string
		tamper string
	}{
		{
			name:   "sequence gap",
			tamper: `UPDATE messages SET seq = 5 WHERE session_id = ? AND seq = 1`,
		},
		{
			name:   "unknown role",
			tamper: `UPDATE messages SET role = 'robot' WHERE session_id = ? AND seq = 0`,
		},
		{
			name:   "unknown status",
			tamper: `UPDATE sessions SET status = 'zombie' WHERE id = ?`,
		},
		{
			name:   "chronology break",
			tamper: `UPDATE messages SET created_at = '2020-01-01T00:00:00Z' WHERE session_id = ? AND seq = 1`,
		},
		{
			name:   "embedding dimension mismatch",
			tamper: `UPDATE messages SET embedding = '[1,2]' WHERE session_id = ? AND seq = 2`,
		},
		{
			name:   "unparsable embedding",
			tamper: `UPDATE messages SET embedding = 'not json' WHERE session_id = ? AND seq = 0`,
		},
		{
			name:   "parameters fail schema",
			tamper: `UPDATE sessions SET parameters = '{"model":"gpt-4o-mini","temperature":"hot"}' WHERE id = ?`,
		},
		{
			name:   "parameters unknown field",
			tamper: `UPDATE sessions SET parameters = '{"model":"gpt-4o-mini","surprise":true}' WHERE id = ?`,
		},
		{
			name:   "parameters fail validation",
			tamper: `UPDATE sessions SET parameters = '{"model":"gpt-4o-mini","temperature":9}' WHERE id = ?`,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestStore(t)
			sessions := store.NewSessionStore(s)
			ctx := context.Background()

			if err := sessions.Save(ctx, testSnapshot("victim")); err != nil {
				t.Fatalf("Save: %v", err)
			}
			if _, err := s.DB().ExecContext(ctx, tc.tamper, "victim"); err != nil {
				t.Fatalf("tamper: %v", err)
			}

			_, err := sessions.Load(ctx, "victim")
			if !errors.Is(err, store.ErrCorruptState) {
				t.Fatalf("expected ErrCorruptState, got %v", err)
			}
		})
	}
}

func TestSessionStore_SavesAreIsolatedPerSession(t *testing.T) {
	sessions := store.NewSessionStore(newTestStore(t))
	ctx := context.Background()

	a := testSnapshot("session-a")
	b := testSnapshot("session-b")
	b.Messages = b.Messages[:1]

	if err := sessions.Save(ctx, a); err != nil {
		t.Fatalf("Save a: %v", err)
	}
	if err := sessions.Save(ctx, b); err != nil {
		t.Fatalf("Save b: %v", err)
	}

	gotA, err := sessions.Load(ctx, "session-a")
	if err != nil {
		t.Fatalf("Load a: %v", err)
	}
	gotB, err := sessions.Load(ctx, "session-b")
	if err != nil {
		t.Fatalf("Load b: %v", err)
	}
	if len(gotA.Messages) != 3 || len(gotB.Messages) != 1 {
		t.Errorf("message counts: a=%d b=%d, want 3 and 1", len(gotA.Messages), len(gotB.Messages))
	}
}
