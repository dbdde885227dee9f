package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/synaptic/internal/chat"
	"github.com/kalambet/synaptic/internal/storage"
)

// ChatRequest carries the question plus the caller-held conversation
// history for the document.
type ChatRequest struct {
	Message string      `json:"message"`
	History []chat.Turn `json:"history,omitempty"`
}

func handleChat(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Message == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "message is required")
			return
		}

		conv := chat.NewConversation(chi.URLParam(r, "id"))
		for _, t := range req.History {
			conv.Append(t.Role, t.Text)
		}

		answer, err := deps.Chat.Ask(r.Context(), conv, req.Message)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			httpError(w, http.StatusNotFound, "not_found_error", "document not found")
			return
		case errors.Is(err, chat.ErrIndexMissing):
			httpError(w, http.StatusConflict, "retrieval_index_missing_error", "no chunk index for this document; re-index it and retry")
			return
		case err != nil:
			httpError(w, http.StatusBadGateway, "api_error", "failed to answer: %v", err)
			return
		}

		writeJSON(w, http.StatusOK, answer)
	}
}

// StartSessionRequest opens a study session when an artifact view mounts.
type StartSessionRequest struct {
	DocumentID   string `json:"document_id"`
	ActivityKind string `json:"activity_kind"`
}

func handleStartSession(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req StartSessionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.DocumentID == "" || req.ActivityKind == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "document_id and activity_kind are required")
			return
		}

		id := deps.Sessions.Start(req.DocumentID, req.ActivityKind)
		writeJSON(w, http.StatusCreated, map[string]string{"session_id": id})
	}
}

// StudySessionResponse is one recorded (completed, long-enough) session.
type StudySessionResponse struct {
	ID              string    `json:"id"`
	DocumentID      string    `json:"document_id"`
	ActivityKind    string    `json:"activity_kind"`
	StartedAt       time.Time `json:"started_at"`
	CompletedAt     time.Time `json:"completed_at"`
	DurationSeconds int       `json:"duration_seconds"`
}

func handleListSessions(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		documentID := r.URL.Query().Get("document_id")
		limit := queryInt(r, "limit", 50)

		sessions, err := deps.Store.ListStudySessions(documentID, limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "internal_error", "listing sessions: %v", err)
			return
		}

		resp := make([]StudySessionResponse, 0, len(sessions))
		for _, s := range sessions {
			resp = append(resp, StudySessionResponse{
				ID:              s.ID,
				DocumentID:      s.DocumentID,
				ActivityKind:    s.ActivityKind,
				StartedAt:       s.StartedAt,
				CompletedAt:     s.CompletedAt,
				DurationSeconds: s.DurationSeconds,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"sessions": resp})
	}
}

// handleCompleteSession is fire-and-forget: it acknowledges before any
// slow work so client teardown never blocks, and unknown ids are a no-op.
func handleCompleteSession(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		w.WriteHeader(http.StatusAccepted)

		go func() {
			if _, err := deps.Sessions.Complete(id); err != nil {
				// Best-effort; the response is already gone.
				slog.Error("failed to complete session", "session_id", id, "error", err)
			}
		}()
	}
}
