// Package api exposes the HTTP and MCP surfaces: document intake,
// generation streaming, draft commit/discard, artifacts, chat and study
// sessions.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/synaptic/internal/chat"
	"github.com/kalambet/synaptic/internal/generate"
	"github.com/kalambet/synaptic/internal/lifecycle"
	"github.com/kalambet/synaptic/internal/session"
	"github.com/kalambet/synaptic/internal/storage"
)

const maxRequestBodySize = 25 << 20 // 25MB, PDFs included

// AppDeps holds the wiring for the HTTP surface.
type AppDeps struct {
	Store    *storage.Store
	Runner   *generate.Runner
	Drafts   *lifecycle.Manager
	Chat     *chat.Service
	Sessions *session.Tracker

	// DirectThreshold mirrors the router's threshold; documents whose
	// extracted text exceeds it are queued for indexing on intake.
	DirectThreshold int
	// AudioDir is where podcast audio files live.
	AudioDir string
	// Token enables bearer auth on mutating routes when non-empty.
	Token string
}

// NewAppHandler builds the chi router for the full HTTP surface.
func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth(deps))

	// Read-only routes.
	r.Get("/v1/documents", handleListDocuments(deps))
	r.Get("/v1/documents/{id}", handleGetDocument(deps))
	r.Get("/v1/documents/{id}/artifacts", handleListArtifacts(deps))
	r.Get("/v1/artifacts/{id}", handleGetArtifact(deps))
	r.Get("/v1/generations/{id}", handleGetGeneration(deps))
	r.Get("/v1/audio/{name}", handleGetAudio(deps))
	r.Get("/v1/sessions", handleListSessions(deps))

	// Mutating routes, bearer-authenticated when a token is configured.
	r.Group(func(r chi.Router) {
		if deps.Token != "" {
			r.Use(BearerAuth(deps.Token))
		}
		r.Post("/v1/documents", handleCreateDocument(deps))
		r.Delete("/v1/documents/{id}", handleDeleteDocument(deps))
		r.Post("/v1/documents/{id}/index", handleIndexDocument(deps))
		r.Post("/v1/documents/{id}/generations", handleStartGeneration(deps))
		r.Post("/v1/documents/{id}/chat", handleChat(deps))
		r.Post("/v1/drafts/{ref}/commit", handleCommitDraft(deps))
		r.Delete("/v1/drafts/{ref}", handleDiscardDraft(deps))
		r.Delete("/v1/artifacts/{id}", handleDeleteArtifact(deps))
		r.Post("/v1/sessions", handleStartSession(deps))
		r.Post("/v1/sessions/{id}/complete", handleCompleteSession(deps))
	})

	return r
}

func handleHealth(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
