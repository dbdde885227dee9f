package api

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kalambet/synaptic/internal/ingest"
	"github.com/kalambet/synaptic/internal/storage"
)

// CreateDocumentRequest is the JSON intake body. Content carries text or
// HTML directly; ContentBase64 carries binary uploads (PDF).
type CreateDocumentRequest struct {
	Title         string `json:"title"`
	Source        string `json:"source"`
	ContentType   string `json:"content_type"`
	Content       string `json:"content"`
	ContentBase64 string `json:"content_base64"`
}

// DocumentResponse is the document shape returned by the API; the
// extracted text body is only included on single-document fetches.
type DocumentResponse struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Source        string    `json:"source,omitempty"`
	ContentType   string    `json:"content_type"`
	TextLength    int       `json:"text_length"`
	Indexed       bool      `json:"indexed"`
	ChunkCount    int       `json:"chunk_count"`
	CreatedAt     time.Time `json:"created_at"`
	ExtractedText string    `json:"extracted_text,omitempty"`
}

func docResponse(d storage.Document, includeText bool) DocumentResponse {
	resp := DocumentResponse{
		ID:          d.ID,
		Title:       d.Title,
		Source:      d.Source,
		ContentType: d.ContentType,
		TextLength:  d.TextLength,
		Indexed:     d.Indexed,
		ChunkCount:  d.ChunkCount,
		CreatedAt:   d.CreatedAt,
	}
	if includeText {
		resp.ExtractedText = d.ExtractedText
	}
	return resp
}

func handleCreateDocument(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var title, source, contentType string
		var raw []byte

		ct := r.Header.Get("Content-Type")
		if mt, _, _ := parseMediaType(ct); mt == "multipart/form-data" {
			if err := r.ParseMultipartForm(maxRequestBodySize); err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid multipart body: %v", err)
				return
			}
			file, header, err := r.FormFile("file")
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "file field is required")
				return
			}
			defer file.Close()

			raw, err = io.ReadAll(file)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "reading upload: %v", err)
				return
			}
			title = r.FormValue("title")
			if title == "" {
				title = header.Filename
			}
			source = r.FormValue("source")
			contentType = header.Header.Get("Content-Type")
		} else {
			var req CreateDocumentRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
				return
			}
			switch {
			case req.ContentBase64 != "":
				decoded, err := base64.StdEncoding.DecodeString(req.ContentBase64)
				if err != nil {
					httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid base64 content")
					return
				}
				raw = decoded
			case req.Content != "":
				raw = []byte(req.Content)
			default:
				httpError(w, http.StatusBadRequest, "invalid_request_error", "one of content or content_base64 is required")
				return
			}
			title = req.Title
			source = req.Source
			contentType = req.ContentType
		}

		extracted, err := ingest.Extract(raw, contentType)
		if err != nil {
			httpError(w, http.StatusUnprocessableEntity, "invalid_request_error", "extracting text: %v", err)
			return
		}
		if title == "" {
			title = extracted.Title
		}

		doc := storage.Document{
			ID:            uuid.New().String(),
			Title:         title,
			Source:        source,
			ContentType:   normalizeContentType(contentType, raw),
			ExtractedText: extracted.Text,
			CreatedAt:     time.Now().UTC(),
		}
		if err := deps.Store.SaveDocument(doc); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save document: %v", err)
			return
		}

		queued := false
		if utf8.RuneCountInString(extracted.Text) > deps.DirectThreshold {
			if err := ingest.EnqueueIndexJob(deps.Store, doc.ID); err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to queue indexing: %v", err)
				return
			}
			queued = true
		}

		writeJSON(w, http.StatusCreated, map[string]any{
			"id":           doc.ID,
			"title":        doc.Title,
			"text_length":  len(extracted.Text),
			"index_queued": queued,
		})
	}
}

func handleListDocuments(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := queryInt(r, "limit", 50)
		offset := queryInt(r, "offset", 0)

		docs, err := deps.Store.ListDocuments(limit, offset)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list documents: %v", err)
			return
		}

		resp := make([]DocumentResponse, len(docs))
		for i, d := range docs {
			resp[i] = docResponse(d, false)
		}
		writeJSON(w, http.StatusOK, map[string]any{"documents": resp})
	}
}

func handleGetDocument(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc, err := deps.Store.GetDocument(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found_error", "document not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load document: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, docResponse(doc, true))
	}
}

func handleDeleteDocument(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := deps.Store.DeleteDocument(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found_error", "document not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete document: %v", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleIndexDocument forces (re-)indexing. This is the remedial action
// when a chat query fails with a missing chunk index.
func handleIndexDocument(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		doc, err := deps.Store.GetDocument(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found_error", "document not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load document: %v", err)
			return
		}
		if doc.ExtractedText == "" {
			httpError(w, http.StatusConflict, "invalid_request_error", "document has no extracted text to index")
			return
		}

		if err := ingest.EnqueueIndexJob(deps.Store, id); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to queue indexing: %v", err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": "queued"})
	}
}

// ArtifactResponse is the persisted artifact shape returned by the API.
type ArtifactResponse struct {
	ID         string          `json:"id"`
	DocumentID string          `json:"document_id"`
	Kind       string          `json:"kind"`
	Content    json.RawMessage `json:"content"`
	CreatedAt  time.Time       `json:"created_at"`
}

func artifactResponse(a storage.Artifact) ArtifactResponse {
	return ArtifactResponse{
		ID:         a.ID,
		DocumentID: a.DocumentID,
		Kind:       a.Kind,
		Content:    json.RawMessage(a.ContentJSON),
		CreatedAt:  a.CreatedAt,
	}
}

func handleListArtifacts(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		artifacts, err := deps.Store.ListArtifacts(chi.URLParam(r, "id"), r.URL.Query().Get("kind"), queryInt(r, "limit", 20))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list artifacts: %v", err)
			return
		}

		resp := make([]ArtifactResponse, len(artifacts))
		for i, a := range artifacts {
			resp[i] = artifactResponse(a)
		}
		writeJSON(w, http.StatusOK, map[string]any{"artifacts": resp})
	}
}

func handleGetArtifact(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, err := deps.Store.GetArtifact(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found_error", "artifact not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load artifact: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, artifactResponse(a))
	}
}

func handleDeleteArtifact(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := deps.Store.DeleteArtifact(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found_error", "artifact not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete artifact: %v", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func parseMediaType(ct string) (string, map[string]string, error) {
	if ct == "" {
		return "", nil, nil
	}
	return mime.ParseMediaType(ct)
}

// normalizeContentType reduces an upload's media type to the stored
// "text" / "html" / "pdf" discriminator.
func normalizeContentType(ct string, raw []byte) string {
	mt, _, _ := parseMediaType(ct)
	switch {
	case mt == "application/pdf" || bytes.HasPrefix(raw, []byte("%PDF-")):
		return "pdf"
	case mt == "text/html" || mt == "application/xhtml+xml":
		return "html"
	default:
		return "text"
	}
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}
