package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/synaptic/internal/generate"
	"github.com/kalambet/synaptic/internal/lifecycle"
	"github.com/kalambet/synaptic/internal/storage"
	"github.com/kalambet/synaptic/internal/stream"
)

// StartGenerationRequest selects the artifact kind and optional parameter
// overrides; zero values fall back to complexity-profile defaults.
type StartGenerationRequest struct {
	Kind  string `json:"kind"`
	Nodes int    `json:"nodes,omitempty"`
	Depth int    `json:"depth,omitempty"`
}

// handleStartGeneration starts a job and delivers its progress either as a
// framed event stream or, when the caller does not accept event streams,
// as a single JSON document carrying the terminal event.
func handleStartGeneration(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

		var req StartGenerationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		h, err := deps.Runner.Submit(chi.URLParam(r, "id"), req.Kind, generate.Params{Nodes: req.Nodes, Depth: req.Depth})
		if err != nil {
			var verr *generate.ValidationError
			switch {
			case errors.As(err, &verr):
				httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", verr)
			case errors.Is(err, storage.ErrNotFound):
				httpError(w, http.StatusNotFound, "not_found_error", "document not found")
			default:
				httpError(w, http.StatusInternalServerError, "api_error", "failed to start generation: %v", err)
			}
			return
		}

		if acceptsEventStream(r) {
			streamGeneration(w, h)
			return
		}

		// Single-JSON fallback: wait for the terminal event and return it.
		// The job keeps its own timeout; a closed client connection does
		// not cancel it.
		var terminal stream.Event
		for e := range h.Events() {
			if e.IsTerminal() {
				terminal = e
			}
		}
		w.Header().Set("X-Run-Id", h.RunID)
		writeJSON(w, http.StatusOK, terminal)
	}
}

func acceptsEventStream(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), stream.ContentTypeEventStream)
}

func streamGeneration(w http.ResponseWriter, h *generate.Handle) {
	sw, err := stream.NewWriter(w)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "streaming not supported")
		return
	}
	w.Header().Set("X-Run-Id", h.RunID)

	for e := range h.Events() {
		if e.Kind == stream.KindHeartbeat {
			sw.Heartbeat()
			continue
		}
		if err := sw.Send(e); err != nil {
			// Client went away; drain so the job finishes server-side.
			for range h.Events() {
			}
			return
		}
	}
}

// GenerationRunResponse is the post-hoc status of a run, including the
// draft ref once the run completed.
type GenerationRunResponse struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	Kind       string    `json:"kind"`
	Status     string    `json:"status"`
	Progress   int       `json:"progress"`
	Error      string    `json:"error,omitempty"`
	DraftRef   string    `json:"draft_ref,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func handleGetGeneration(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		run, err := deps.Store.GetGenerationRun(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found_error", "generation run not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load run: %v", err)
			return
		}

		writeJSON(w, http.StatusOK, GenerationRunResponse{
			ID:         run.ID,
			DocumentID: run.DocumentID,
			Kind:       run.Kind,
			Status:     run.Status,
			Progress:   run.Progress,
			Error:      run.Error,
			DraftRef:   run.DraftRef,
			CreatedAt:  run.CreatedAt,
			UpdatedAt:  run.UpdatedAt,
		})
	}
}

func handleCommitDraft(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, err := deps.Drafts.Commit(chi.URLParam(r, "ref"))
		if errors.Is(err, lifecycle.ErrDraftNotFound) {
			httpError(w, http.StatusConflict, "save_conflict_error", "draft no longer exists: discarded, superseded, or unknown")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to commit draft: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, artifactResponse(a))
	}
}

func handleDiscardDraft(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := deps.Drafts.Discard(chi.URLParam(r, "ref"))
		if errors.Is(err, lifecycle.ErrDraftNotFound) {
			httpError(w, http.StatusNotFound, "not_found_error", "draft not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to discard draft: %v", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleGetAudio(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		if name != filepath.Base(name) || deps.AudioDir == "" {
			httpError(w, http.StatusNotFound, "not_found_error", "audio file not found")
			return
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		http.ServeFile(w, r, filepath.Join(deps.AudioDir, name))
	}
}
