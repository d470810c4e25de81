// Package app wires the assistant together: one Manager owns the open
// sessions, the persistence layer, and the shared collaborators (model
// client, embedder, token accountant). Front-ends — HTTP handlers, the
// CLI — call the Manager and never touch the packages below directly.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/parleybot/parley/common/retry"
	"github.com/parleybot/parley/internal/parley/chat"
	"github.com/parleybot/parley/internal/parley/config"
	"github.com/parleybot/parley/internal/parley/embed"
	"github.com/parleybot/parley/internal/parley/llm"
	"github.com/parleybot/parley/internal/parley/store"
	"github.com/parleybot/parley/internal/parley/tokens"
)

// Config assembles a Manager.
type Config struct {
	// Profile is the assistant profile copied into every new session.
	Profile config.Profile

	// Credential authenticates the model and embedding clients. Held in
	// memory only; the persistence layer never sees it.
	Credential llm.Credential

	// BaseURL overrides the API endpoint for both clients.
	BaseURL string

	// DBPath is the SQLite database location.
	DBPath string

	// Logger defaults to slog.Default.
	Logger *slog.Logger

	// Retry bounds transient-error retries on model calls.
	Retry retry.Config

	// Completer and Embedder override the OpenAI-backed defaults (tests,
	// alternative providers).
	Completer llm.Completer
	Embedder  embed.Embedder
}

// Manager is the front door for every exposed operation: create, submit,
// list, load, archive, update parameters. Sessions are isolated from one
// another; the Manager only guards its own registry.
type Manager struct {
	profile   config.Profile
	logger    *slog.Logger
	db        *store.Store
	sessions  *store.SessionStore
	ledger    *tokens.Ledger
	completer llm.Completer
	embedder  embed.Embedder
	deps      chat.Deps

	mu   sync.Mutex
	open map[string]*chat.Session
}

// New opens the database and builds the Manager.
func New(cfg Config) (*Manager, error) {
	if err := cfg.Profile.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	completer := cfg.Completer
	if completer == nil {
		completer = llm.New(llm.Config{Credential: cfg.Credential, BaseURL: cfg.BaseURL})
	}

	embedder := cfg.Embedder
	if embedder == nil {
		if cfg.Profile.EmbeddingModel == "" {
			embedder = embed.Noop{}
		} else {
			embedder = embed.NewOpenAI(embed.OpenAIConfig{
				Credential: cfg.Credential,
				BaseURL:    cfg.BaseURL,
				Model:      cfg.Profile.EmbeddingModel,
			})
		}
	}

	sessions := store.NewSessionStore(db)
	ledger := tokens.NewLedger(db.DB())

	m := &Manager{
		profile:   cfg.Profile,
		logger:    cfg.Logger,
		db:        db,
		sessions:  sessions,
		ledger:    ledger,
		completer: completer,
		embedder:  embedder,
		open:      make(map[string]*chat.Session),
	}
	m.deps = chat.Deps{
		Completer: completer,
		Embedder:  embedder,
		Persister: sessions,
		Ledger:    ledger,
		Logger:    cfg.Logger,
		Retry:     cfg.Retry,
	}
	return m, nil
}

// Close releases the database. Open sessions stay usable in memory but
// can no longer persist; call only on shutdown.
func (m *Manager) Close() error {
	return m.db.Close()
}

// Greeting returns the assistant's opening line for fresh sessions.
func (m *Manager) Greeting() string {
	return m.profile.Greeting()
}

// CreateSession starts a fresh conversation and persists its initial
// state.
func (m *Manager) CreateSession(ctx context.Context) (*chat.Session, error) {
	sess := chat.New(m.profile, m.deps)

	m.mu.Lock()
	m.open[sess.ID()] = sess
	m.mu.Unlock()

	// Persist immediately so the session is listable before its first turn.
	if err := m.sessions.Save(ctx, chat.Snapshot{
		ID:         sess.ID(),
		Title:      sess.Title(),
		CreatedAt:  sess.CreatedAt(),
		Status:     chat.StatusActive,
		Parameters: sess.Parameters(),
	}); err != nil {
		m.mu.Lock()
		delete(m.open, sess.ID())
		m.mu.Unlock()
		return nil, err
	}

	m.logger.Info("session created", "session_id", sess.ID())
	return sess, nil
}

// LoadSession returns the open session for id, restoring it from the
// store when needed. Archived sessions load read-only (submits fail with
// ErrSessionArchived).
func (m *Manager) LoadSession(ctx context.Context, id string) (*chat.Session, error) {
	m.mu.Lock()
	if sess, ok := m.open[id]; ok {
		m.mu.Unlock()
		return sess, nil
	}
	m.mu.Unlock()

	snap, err := m.sessions.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	sess, err := chat.Restore(snap, m.profile, m.deps)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", store.ErrCorruptState, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// A concurrent load may have won the race; keep the first one so both
	// callers share the session and its single-submit discipline.
	if existing, ok := m.open[id]; ok {
		return existing, nil
	}
	m.open[id] = sess
	m.logger.Info("session loaded", "session_id", id, "messages", len(snap.Messages))
	return sess, nil
}

// Submit sends one user turn to the identified session and returns the
// assistant's reply.
func (m *Manager) Submit(ctx context.Context, id, text string) (string, error) {
	sess, err := m.LoadSession(ctx, id)
	if err != nil {
		return "", err
	}
	return sess.Submit(ctx, text)
}

// ListSessions returns stored session summaries, newest first.
func (m *Manager) ListSessions(ctx context.Context) ([]store.Summary, error) {
	return m.sessions.List(ctx)
}

// ArchiveSession closes the session with a final flush and drops it from
// the open registry.
func (m *Manager) ArchiveSession(ctx context.Context, id string) error {
	sess, err := m.LoadSession(ctx, id)
	if err != nil {
		return err
	}
	if err := sess.Archive(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.open, id)
	m.mu.Unlock()

	m.logger.Info("session archived", "session_id", id)
	return nil
}

// UpdateParameters applies a partial model-parameter change to the
// session.
func (m *Manager) UpdateParameters(ctx context.Context, id string, patch config.Patch) error {
	sess, err := m.LoadSession(ctx, id)
	if err != nil {
		return err
	}
	return sess.UpdateParameters(ctx, patch)
}

// RenameSession sets a session title.
func (m *Manager) RenameSession(ctx context.Context, id, title string) error {
	sess, err := m.LoadSession(ctx, id)
	if err != nil {
		return err
	}
	sess.Rename(ctx, title)
	return nil
}

// UsageTotals returns the accumulated token usage ledger grouped by model.
func (m *Manager) UsageTotals(ctx context.Context) ([]tokens.ModelTotals, error) {
	return m.ledger.Totals(ctx)
}

// IsNotFound reports whether err is the missing-session error.
func IsNotFound(err error) bool {
	return errors.Is(err, store.ErrSessionNotFound)
}
