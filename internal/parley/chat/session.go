package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/parleybot/parley/common/retry"
	"github.com/parleybot/parley/internal/parley/config"
	"github.com/parleybot/parley/internal/parley/embed"
	"github.com/parleybot/parley/internal/parley/llm"
	"github.com/parleybot/parley/internal/parley/tokens"
)

// ErrSessionBusy rejects a Submit while another Submit on the same session
// is still in flight. A session allows exactly one outstanding model call.
var ErrSessionBusy = errors.New("chat: session has a request in flight")

// ErrSessionArchived rejects operations on a closed session.
var ErrSessionArchived = errors.New("chat: session is archived")

// Status is the session lifecycle state. Within StatusActive the session
// alternates between awaiting user input and awaiting the model response;
// the latter is observable through Busy.
type Status string

const (
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
)

// Snapshot is the full persistable state of a session. The persistence
// layer reads snapshots to serialize and produces them on load; it never
// touches the live session.
type Snapshot struct {
	ID            string
	Title         string
	CreatedAt     time.Time
	Status        Status
	Parameters    config.Parameters
	Messages      []Message
	Embeddings    map[int][]float32
	RunningTokens int
}

// Persister is the session's hook into the persistence layer. Save must be
// atomic: a crash mid-save leaves either the prior or the new complete
// state on disk.
type Persister interface {
	Save(ctx context.Context, snap Snapshot) error
}

// Deps are the collaborators a session needs. Completer is required;
// everything else has a working default (noop embedder, no ledger,
// default logger).
type Deps struct {
	Completer llm.Completer
	Embedder  embed.Embedder
	Counter   tokens.Counter
	Persister Persister
	Ledger    *tokens.Ledger
	Logger    *slog.Logger

	// Retry bounds the transient-error retry loop around model calls.
	Retry retry.Config
}

func (d *Deps) fill() {
	if d.Embedder == nil {
		d.Embedder = embed.Noop{}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Retry.Attempts == 0 {
		d.Retry = retry.Config{Attempts: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 10 * time.Second}
	}
}

// Session owns one conversation: its ordered message log, metadata, and
// embedding index. It orchestrates embedding, context selection, budget
// accounting, and dispatch for every user turn. Each session serializes
// its own model calls; distinct sessions are fully independent.
type Session struct {
	deps    Deps
	profile config.Profile

	mu            sync.Mutex
	id            string
	title         string
	createdAt     time.Time
	status        Status
	params        config.Parameters
	log           []Message
	index         *EmbeddingIndex
	runningTokens int
	exchanges     int
	titled        bool
	inFlight      bool
}

// New creates a fresh session from the given profile.
func New(profile config.Profile, deps Deps) *Session {
	deps.fill()
	now := time.Now().UTC()
	return &Session{
		deps:      deps,
		profile:   profile,
		id:        uuid.New().String(),
		title:     fmt.Sprintf("Chat on %s", now.Format("2006-01-02 15:04")),
		createdAt: now,
		status:    StatusActive,
		params:    profile.Parameters,
		index:     NewEmbeddingIndex(),
	}
}

// Restore rebuilds a session from a persisted snapshot. The embedding
// index is restored alongside the log so nothing is recomputed.
func Restore(snap Snapshot, profile config.Profile, deps Deps) (*Session, error) {
	deps.fill()
	index := NewEmbeddingIndex()
	for seq, vec := range snap.Embeddings {
		if err := index.Put(seq, vec); err != nil {
			return nil, err
		}
	}
	titled := snap.Title != "" && len(snap.Messages) > 0
	return &Session{
		deps:          deps,
		profile:       profile,
		id:            snap.ID,
		title:         snap.Title,
		createdAt:     snap.CreatedAt,
		status:        snap.Status,
		params:        snap.Parameters,
		log:           slices.Clone(snap.Messages),
		index:         index,
		runningTokens: snap.RunningTokens,
		exchanges:     len(snap.Messages) / 2,
		titled:        titled,
	}, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// CreatedAt returns the session creation time.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Title returns the current session title.
func (s *Session) Title() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.title
}

// Status returns the lifecycle state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Busy reports whether a model call is in flight.
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

// Messages returns a copy of the conversation log.
func (s *Session) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.log)
}

// Parameters returns the session's current model parameters.
func (s *Session) Parameters() config.Parameters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params
}

// Submit sends one user turn through the full pipeline: embed the message,
// select context within the token budget, dispatch to the model with
// bounded retries for transient failures, then append the exchange to the
// log and persist. At most one Submit may be in flight per session; a
// concurrent call fails immediately with ErrSessionBusy.
//
// On cancellation or failure nothing is appended and the session returns
// to awaiting input. Embedding-backend failure is not a failure of the
// turn: selection degrades to recency-only and the call proceeds.
func (s *Session) Submit(ctx context.Context, text string) (string, error) {
	s.mu.Lock()
	if s.status == StatusArchived {
		s.mu.Unlock()
		return "", ErrSessionArchived
	}
	if s.inFlight {
		s.mu.Unlock()
		return "", ErrSessionBusy
	}
	s.inFlight = true
	params := s.params
	history := slices.Clone(s.log)
	index := s.index
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inFlight = false
		s.mu.Unlock()
	}()

	userTokens := s.deps.Counter.Count(text, params.Model)
	directive := s.profile.Directive(time.Now())
	directiveTokens := s.deps.Counter.Count(directive, params.Model)

	budget := s.deps.Counter.BudgetFor(params.Model, params.MaxResponseTokens, params.ResponseFraction)
	allowance, err := budget.ContextAllowance(directiveTokens, userTokens)
	if err != nil {
		return "", err
	}

	// Best-effort query embedding. Unavailability is a documented degraded
	// mode, never surfaced to the caller.
	queryVec, err := s.deps.Embedder.Embed(ctx, text)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		s.deps.Logger.Warn("chat: embedding unavailable, using recency-only selection",
			"session_id", s.id, "err", err)
		queryVec = nil
	}

	selector := Selector{RecencyWindow: params.RecencyWindow}
	sel := selector.Select(history, index, queryVec, allowance)
	if sel.Degraded && queryVec == nil && len(history) > 0 {
		s.deps.Logger.Debug("chat: recency-only context", "session_id", s.id, "selected", len(sel.Messages))
	}

	prompt := make([]llm.ChatMessage, 0, len(sel.Messages)+2)
	prompt = append(prompt, llm.ChatMessage{Role: string(RoleSystem), Content: directive})
	for _, m := range sel.Messages {
		prompt = append(prompt, llm.ChatMessage{Role: string(m.Role), Content: m.Content})
	}
	prompt = append(prompt, llm.ChatMessage{Role: string(RoleUser), Content: text})

	var completion *llm.Completion
	err = retry.Do(ctx, s.deps.Retry, llm.IsRetryable, func() error {
		var callErr error
		completion, callErr = s.deps.Completer.Complete(ctx, llm.Request{
			Model:       params.Model,
			Messages:    prompt,
			Temperature: params.Temperature,
			MaxTokens:   params.MaxResponseTokens,
		})
		return callErr
	})
	if err != nil {
		return "", err
	}

	// Best-effort embedding of the reply. A missing vector only keeps the
	// turn out of relevance ranking; it can never fail the exchange.
	var replyVec []float32
	if queryVec != nil {
		replyVec, err = s.deps.Embedder.Embed(ctx, completion.Text)
		if err != nil {
			replyVec = nil
		}
	}

	s.finalize(ctx, text, userTokens, queryVec, completion, replyVec, params.Model)

	return completion.Text, nil
}

// finalize appends the completed exchange, updates counters, and persists.
// Everything here happens under the session lock so a snapshot is always a
// complete, consistent state.
func (s *Session) finalize(ctx context.Context, userText string, userTokens int, userVec []float32, completion *llm.Completion, replyVec []float32, model string) {
	now := time.Now().UTC()

	s.mu.Lock()
	userSeq := len(s.log)
	s.log = append(s.log, Message{
		Role:       RoleUser,
		Content:    userText,
		Timestamp:  now,
		TokenCount: userTokens,
	})
	s.log = append(s.log, Message{
		Role:       RoleAssistant,
		Content:    completion.Text,
		Timestamp:  now,
		TokenCount: s.deps.Counter.Count(completion.Text, model),
	})
	if userVec != nil {
		if err := s.index.Put(userSeq, userVec); err != nil {
			s.deps.Logger.Warn("chat: discarding user embedding", "session_id", s.id, "err", err)
		}
	}
	if replyVec != nil {
		if err := s.index.Put(userSeq+1, replyVec); err != nil {
			s.deps.Logger.Warn("chat: discarding reply embedding", "session_id", s.id, "err", err)
		}
	}
	s.runningTokens += completion.Usage.TotalTokens
	s.exchanges++
	snap := s.snapshotLocked()
	needTitle := !s.titled && s.profile.TitleAfterExchanges > 0 && s.exchanges >= s.profile.TitleAfterExchanges
	s.mu.Unlock()

	if s.deps.Ledger != nil {
		if err := s.deps.Ledger.Record(ctx, model, completion.Usage.PromptTokens, completion.Usage.CompletionTokens); err != nil {
			s.deps.Logger.Warn("chat: usage ledger write failed", "session_id", s.id, "err", err)
		}
	}

	s.save(ctx, snap)

	if needTitle {
		// Detached from the submit call: title generation is best-effort
		// and must never block or fail the conversation.
		go s.generateTitle(context.WithoutCancel(ctx))
	}
}

// save flushes a snapshot through the persister. A failed save is logged
// and retried implicitly on the next state change — the in-memory session
// stays authoritative.
func (s *Session) save(ctx context.Context, snap Snapshot) {
	if s.deps.Persister == nil {
		return
	}
	if err := s.deps.Persister.Save(ctx, snap); err != nil {
		s.deps.Logger.Error("chat: session save failed", "session_id", s.id, "err", err)
	}
}

// snapshotLocked builds a Snapshot. Caller holds s.mu.
func (s *Session) snapshotLocked() Snapshot {
	embeddings := make(map[int][]float32, s.index.Len())
	for seq := range s.log {
		if vec, ok := s.index.Get(seq); ok {
			embeddings[seq] = vec
		}
	}
	return Snapshot{
		ID:            s.id,
		Title:         s.title,
		CreatedAt:     s.createdAt,
		Status:        s.status,
		Parameters:    s.params,
		Messages:      slices.Clone(s.log),
		Embeddings:    embeddings,
		RunningTokens: s.runningTokens,
	}
}

// Rename sets the session title. Metadata only — the log is untouched.
func (s *Session) Rename(ctx context.Context, title string) {
	s.mu.Lock()
	s.title = title
	s.titled = true
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.save(ctx, snap)
}

// UpdateParameters applies a partial configuration change after
// validation.
func (s *Session) UpdateParameters(ctx context.Context, patch config.Patch) error {
	s.mu.Lock()
	if s.status == StatusArchived {
		s.mu.Unlock()
		return ErrSessionArchived
	}
	next, err := s.params.Apply(patch)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.params = next
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.save(ctx, snap)
	return nil
}

// Archive closes the session with a final persistence flush. Archiving
// while a model call is in flight fails with ErrSessionBusy.
func (s *Session) Archive(ctx context.Context) error {
	s.mu.Lock()
	if s.inFlight {
		s.mu.Unlock()
		return ErrSessionBusy
	}
	if s.status == StatusArchived {
		s.mu.Unlock()
		return nil
	}
	s.status = StatusArchived
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if s.deps.Persister == nil {
		return nil
	}
	if err := s.deps.Persister.Save(ctx, snap); err != nil {
		return fmt.Errorf("chat: final flush: %w", err)
	}
	return nil
}
