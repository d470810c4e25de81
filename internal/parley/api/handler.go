// Package api exposes the Manager's operations over HTTP. Transport glue
// only: decode, dispatch, map the error taxonomy to status codes. Latency
// presentation (spinners, streaming) belongs to the front-ends.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/parleybot/parley/internal/parley/app"
	"github.com/parleybot/parley/internal/parley/chat"
	"github.com/parleybot/parley/internal/parley/config"
	"github.com/parleybot/parley/internal/parley/llm"
	"github.com/parleybot/parley/internal/parley/store"
	"github.com/parleybot/parley/internal/parley/tokens"
)

// Handler serves the session API.
type Handler struct {
	manager *app.Manager
	logger  *slog.Logger
}

// New creates the HTTP handler.
func New(manager *app.Manager, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{manager: manager, logger: logger}
}

// Router builds the chi router for the session API.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", h.handleCreate)
		r.Get("/", h.handleList)
		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", h.handleGet)
			r.Post("/messages", h.handleSubmit)
			r.Post("/archive", h.handleArchive)
			r.Patch("/parameters", h.handleUpdateParameters)
			r.Patch("/title", h.handleRename)
		})
	})
	r.Get("/usage", h.handleUsage)

	return r
}

type sessionResponse struct {
	ID       string            `json:"id"`
	Title    string            `json:"title"`
	Status   chat.Status       `json:"status"`
	Messages []messageResponse `json:"messages,omitempty"`
}

type messageResponse struct {
	Role      chat.Role `json:"role"`
	Content   string    `json:"content"`
	Timestamp string    `json:"timestamp"`
}

func toSessionResponse(sess *chat.Session, withLog bool) sessionResponse {
	resp := sessionResponse{
		ID:     sess.ID(),
		Title:  sess.Title(),
		Status: sess.Status(),
	}
	if withLog {
		for _, m := range sess.Messages() {
			resp.Messages = append(resp.Messages, messageResponse{
				Role:      m.Role,
				Content:   m.Content,
				Timestamp: m.Timestamp.Format(time.RFC3339Nano),
			})
		}
	}
	return resp
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	sess, err := h.manager.CreateSession(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, toSessionResponse(sess, false))
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.manager.ListSessions(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if summaries == nil {
		summaries = []store.Summary{}
	}
	respondJSON(w, http.StatusOK, summaries)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	sess, err := h.manager.LoadSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toSessionResponse(sess, true))
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondErrorMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.Text == "" {
		respondErrorMessage(w, http.StatusBadRequest, "text is required")
		return
	}

	reply, err := h.manager.Submit(r.Context(), chi.URLParam(r, "sessionID"), payload.Text)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"reply": reply})
}

func (h *Handler) handleArchive(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.ArchiveSession(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "archived"})
}

func (h *Handler) handleUpdateParameters(w http.ResponseWriter, r *http.Request) {
	var patch config.Patch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		respondErrorMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.manager.UpdateParameters(r.Context(), chi.URLParam(r, "sessionID"), patch); err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (h *Handler) handleRename(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.Title == "" {
		respondErrorMessage(w, http.StatusBadRequest, "title is required")
		return
	}
	if err := h.manager.RenameSession(r.Context(), chi.URLParam(r, "sessionID"), payload.Title); err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "renamed"})
}

func (h *Handler) handleUsage(w http.ResponseWriter, r *http.Request) {
	totals, err := h.manager.UsageTotals(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if totals == nil {
		totals = []tokens.ModelTotals{}
	}
	respondJSON(w, http.StatusOK, totals)
}

// respondError maps the domain error taxonomy onto HTTP status codes.
func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrSessionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, chat.ErrSessionBusy):
		status = http.StatusConflict
	case errors.Is(err, chat.ErrSessionArchived):
		status = http.StatusGone
	case errors.Is(err, tokens.ErrBudgetExceeded):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, store.ErrCorruptState):
		status = http.StatusInternalServerError
	case llm.IsRetryable(err):
		status = http.StatusServiceUnavailable
	default:
		var apiErr *llm.APIError
		if errors.As(err, &apiErr) {
			status = http.StatusBadGateway
		}
	}

	if status >= 500 {
		h.logger.Error("api: request failed", "path", r.URL.Path, "err", err)
	}
	respondErrorMessage(w, status, err.Error())
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func respondErrorMessage(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
