package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/parleybot/parley/internal/parley/chat"
	"github.com/parleybot/parley/internal/parley/config"
)

// ErrSessionNotFound is returned by Load when no record exists for the id.
var ErrSessionNotFound = errors.New("store: session not found")

// ErrCorruptState is returned by Load when stored data violates the data
// model: out-of-order log, invalid role, embedding dimension mismatch, or
// a parameter document that fails schema validation. Corrupt sessions are
// surfaced, never silently repaired.
var ErrCorruptState = errors.New("store: corrupt session state")

//go:embed schema/parameters.schema.json
var parametersSchemaJSON string

// parametersSchema validates stored parameter documents on load. Compiled
// once; schema validation failures map to ErrCorruptState.
var parametersSchema = jsonschema.MustCompileString("parameters.schema.json", parametersSchemaJSON)

// Summary is the lightweight listing record: metadata only, no log, no
// embeddings.
type Summary struct {
	ID            string      `json:"id"`
	Title         string      `json:"title"`
	CreatedAt     time.Time   `json:"created_at"`
	Status        chat.Status `json:"status"`
	RunningTokens int         `json:"running_tokens"`
}

// SessionStore persists and restores session snapshots.
type SessionStore struct {
	db *Store
}

// NewSessionStore creates a SessionStore on top of the application
// database.
func NewSessionStore(db *Store) *SessionStore {
	return &SessionStore{db: db}
}

// Save writes the complete snapshot in one transaction: metadata row,
// message log, and embedding cache. A crash mid-save leaves the previous
// complete state; readers of other sessions are unaffected.
func (s *SessionStore) Save(ctx context.Context, snap chat.Snapshot) error {
	paramsJSON, err := json.Marshal(snap.Parameters)
	if err != nil {
		return fmt.Errorf("store: marshal parameters: %w", err)
	}

	tx, err := s.db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin save: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (id, title, created_at, status, parameters, running_tokens, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title          = excluded.title,
			status         = excluded.status,
			parameters     = excluded.parameters,
			running_tokens = excluded.running_tokens,
			updated_at     = excluded.updated_at`,
		snap.ID,
		snap.Title,
		snap.CreatedAt.UTC().Format(time.RFC3339Nano),
		string(snap.Status),
		string(paramsJSON),
		snap.RunningTokens,
		now,
	)
	if err != nil {
		return fmt.Errorf("store: upsert session: %w", err)
	}

	// The log is append-only in memory, but rewriting it whole keeps the
	// save path trivially atomic and handles restored sessions uniformly.
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, snap.ID); err != nil {
		return fmt.Errorf("store: clear messages: %w", err)
	}

	for seq, m := range snap.Messages {
		var embeddingJSON []byte
		if vec, ok := snap.Embeddings[seq]; ok {
			embeddingJSON, err = json.Marshal(vec)
			if err != nil {
				return fmt.Errorf("store: marshal embedding %d: %w", seq, err)
			}
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO messages (session_id, seq, role, content, created_at, token_count, embedding)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			snap.ID,
			seq,
			string(m.Role),
			m.Content,
			m.Timestamp.UTC().Format(time.RFC3339Nano),
			m.TokenCount,
			embeddingJSON,
		)
		if err != nil {
			return fmt.Errorf("store: insert message %d: %w", seq, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit save: %w", err)
	}
	return nil
}

// Load restores the full snapshot for the session id. It fails with
// ErrSessionNotFound when no record exists and with ErrCorruptState when
// the stored data violates the data-model invariants.
func (s *SessionStore) Load(ctx context.Context, id string) (chat.Snapshot, error) {
	var (
		snap         chat.Snapshot
		createdAtStr string
		statusStr    string
		paramsJSON   string
	)
	err := s.db.db.QueryRowContext(ctx, `
		SELECT id, title, created_at, status, parameters, running_tokens
		FROM sessions WHERE id = ?`, id,
	).Scan(&snap.ID, &snap.Title, &createdAtStr, &statusStr, &paramsJSON, &snap.RunningTokens)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Snapshot{}, fmt.Errorf("store: load %q: %w", id, ErrSessionNotFound)
	}
	if err != nil {
		return chat.Snapshot{}, fmt.Errorf("store: load %q: %w", id, err)
	}

	snap.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAtStr)
	if err != nil {
		return chat.Snapshot{}, corrupt(id, "unparsable created_at %q", createdAtStr)
	}

	snap.Status = chat.Status(statusStr)
	if snap.Status != chat.StatusActive && snap.Status != chat.StatusArchived {
		return chat.Snapshot{}, corrupt(id, "unknown status %q", statusStr)
	}

	if err := validateParameters(paramsJSON); err != nil {
		return chat.Snapshot{}, corrupt(id, "parameters: %v", err)
	}
	if err := json.Unmarshal([]byte(paramsJSON), &snap.Parameters); err != nil {
		return chat.Snapshot{}, corrupt(id, "parameters: %v", err)
	}

	snap.Messages, snap.Embeddings, err = s.loadMessages(ctx, id)
	if err != nil {
		return chat.Snapshot{}, err
	}

	return snap, nil
}

// loadMessages reads the ordered log, verifying the data-model invariants
// as it goes: contiguous sequence, valid roles, chronological order, and a
// single embedding dimension across the session.
func (s *SessionStore) loadMessages(ctx context.Context, id string) ([]chat.Message, map[int][]float32, error) {
	rows, err := s.db.db.QueryContext(ctx, `
		SELECT seq, role, content, created_at, token_count, embedding
		FROM messages WHERE session_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, nil, fmt.Errorf("store: query messages for %q: %w", id, err)
	}
	defer rows.Close()

	var (
		messages   []chat.Message
		embeddings = make(map[int][]float32)
		dim        int
		lastTime   time.Time
	)
	for rows.Next() {
		var (
			seq           int
			roleStr       string
			m             chat.Message
			createdAtStr  string
			embeddingJSON sql.NullString
		)
		if err := rows.Scan(&seq, &roleStr, &m.Content, &createdAtStr, &m.TokenCount, &embeddingJSON); err != nil {
			return nil, nil, fmt.Errorf("store: scan message for %q: %w", id, err)
		}

		if seq != len(messages) {
			return nil, nil, corrupt(id, "message gap: expected seq %d, got %d", len(messages), seq)
		}

		m.Role = chat.Role(roleStr)
		if !m.Role.Valid() {
			return nil, nil, corrupt(id, "message %d has unknown role %q", seq, roleStr)
		}

		m.Timestamp, err = time.Parse(time.RFC3339Nano, createdAtStr)
		if err != nil {
			return nil, nil, corrupt(id, "message %d has unparsable timestamp %q", seq, createdAtStr)
		}
		if m.Timestamp.Before(lastTime) {
			return nil, nil, corrupt(id, "message %d breaks chronological order", seq)
		}
		lastTime = m.Timestamp

		if embeddingJSON.Valid && embeddingJSON.String != "" {
			var vec []float32
			if err := json.Unmarshal([]byte(embeddingJSON.String), &vec); err != nil {
				return nil, nil, corrupt(id, "message %d has unparsable embedding", seq)
			}
			if len(vec) > 0 {
				if dim == 0 {
					dim = len(vec)
				} else if len(vec) != dim {
					return nil, nil, corrupt(id, "message %d embedding dimension %d, session dimension %d", seq, len(vec), dim)
				}
				embeddings[seq] = vec
			}
		}

		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("store: iterate messages for %q: %w", id, err)
	}

	return messages, embeddings, nil
}

// List returns session summaries, newest first. It reads metadata only
// and never touches the message or embedding rows.
func (s *SessionStore) List(ctx context.Context) ([]Summary, error) {
	rows, err := s.db.db.QueryContext(ctx, `
		SELECT id, title, created_at, status, running_tokens
		FROM sessions ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("store: list sessions: %w", err)
	}
	defer rows.Close()

	var summaries []Summary
	for rows.Next() {
		var (
			sum          Summary
			createdAtStr string
			statusStr    string
		)
		if err := rows.Scan(&sum.ID, &sum.Title, &createdAtStr, &statusStr, &sum.RunningTokens); err != nil {
			return nil, fmt.Errorf("store: scan summary: %w", err)
		}
		sum.Status = chat.Status(statusStr)
		sum.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAtStr)
		if err != nil {
			return nil, corrupt(sum.ID, "unparsable created_at %q", createdAtStr)
		}
		summaries = append(summaries, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate summaries: %w", err)
	}
	return summaries, nil
}

// validateParameters checks a stored parameter document against the
// embedded JSON Schema, then against the config-level validation rules.
func validateParameters(paramsJSON string) error {
	var doc any
	if err := json.Unmarshal([]byte(paramsJSON), &doc); err != nil {
		return fmt.Errorf("not valid JSON: %w", err)
	}
	if err := parametersSchema.Validate(doc); err != nil {
		return err
	}
	var params config.Parameters
	if err := json.Unmarshal([]byte(paramsJSON), &params); err != nil {
		return err
	}
	return params.Validate()
}

func corrupt(id, format string, args ...any) error {
	return fmt.Errorf("store: session %q: %s: %w", id, fmt.Sprintf(format, args...), ErrCorruptState)
}

// Compile-time check: SessionStore satisfies the session's persistence hook.
var _ chat.Persister = (*SessionStore)(nil)
