package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/synaptic/internal/config"
	"github.com/kalambet/synaptic/internal/stream"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
	Accept string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
			Accept: r.Header.Get("Accept"),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found_error"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		httpClient: ts.server.Client(),
	}
}

var ctx = context.Background()

func TestAddDocument(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /v1/documents": `{"id":"doc-123","title":"Notes","text_length":42,"index_queued":false}`,
	})

	client := ts.client()

	req := map[string]any{
		"source":       "cli",
		"content_type": "text/plain",
		"content":      "hello world",
		"title":        "Notes",
	}

	resp, err := client.post(ctx, "/v1/documents", req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result struct {
		ID         string `json:"id"`
		TextLength int    `json:"text_length"`
	}
	if err := decodeJSON(resp, &result); err != nil {
		t.Fatalf("decode error: %v", err)
	}

	if result.ID != "doc-123" {
		t.Errorf("id = %q, want %q", result.ID, "doc-123")
	}
	if result.TextLength != 42 {
		t.Errorf("text_length = %d, want 42", result.TextLength)
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}

	r := ts.requests[0]
	if r.Method != "POST" {
		t.Errorf("method = %q, want POST", r.Method)
	}
	if r.Path != "/v1/documents" {
		t.Errorf("path = %q, want /v1/documents", r.Path)
	}
	if r.Auth != "Bearer test-token" {
		t.Errorf("auth = %q, want Bearer test-token", r.Auth)
	}

	var body map[string]any
	if err := json.Unmarshal([]byte(r.Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body["source"] != "cli" {
		t.Errorf("body.source = %v, want cli", body["source"])
	}
	if body["content"] != "hello world" {
		t.Errorf("body.content = %v, want hello world", body["content"])
	}
}

func TestAddCommand_MissingArgs(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"add"})
	err := rootCmd.Execute()
	if err == nil {
		t.Fatal("expected error for missing args")
	}
	if !strings.Contains(err.Error(), "required") {
		t.Errorf("error = %q, want it to mention 'required'", err.Error())
	}
}

func TestContentTypeForFile(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"chapter.pdf", "application/pdf"},
		{"notes.HTML", "text/html"},
		{"page.htm", "text/html"},
		{"notes.txt", "text/plain"},
		{"README", "text/plain"},
	}
	for _, tt := range tests {
		if got := contentTypeForFile(tt.path); got != tt.want {
			t.Errorf("contentTypeForFile(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestDocsList(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /v1/documents": `{"documents":[{"id":"doc-1","title":"One","text_length":10,"indexed":true}]}`,
	})

	client := ts.client()
	resp, err := client.get(ctx, "/v1/documents?limit=50")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var list struct {
		Documents []struct {
			ID      string `json:"id"`
			Indexed bool   `json:"indexed"`
		} `json:"documents"`
	}
	if err := decodeJSON(resp, &list); err != nil {
		t.Fatalf("decode error: %v", err)
	}

	if len(list.Documents) != 1 {
		t.Fatalf("expected 1 document, got %d", len(list.Documents))
	}
	if !list.Documents[0].Indexed {
		t.Error("expected document to be indexed")
	}
}

func TestConsumeProgress(t *testing.T) {
	var buf bytes.Buffer
	w := stream.NewWriterTo(&buf)
	w.Send(stream.Progress(10, "extracting concepts"))
	w.Heartbeat()
	w.Send(stream.Progress(60, "building structure"))
	w.Send(stream.Complete(json.RawMessage(`{"draft_ref":"draft-1","document_id":"doc-1","kind":"summary","run_id":"run-1"}`)))

	terminal, err := consumeProgress(&buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if terminal.Kind != stream.KindComplete {
		t.Fatalf("terminal kind = %q, want complete", terminal.Kind)
	}

	var payload struct {
		DraftRef string `json:"draft_ref"`
	}
	if err := json.Unmarshal(terminal.Payload, &payload); err != nil {
		t.Fatalf("payload parse error: %v", err)
	}
	if payload.DraftRef != "draft-1" {
		t.Errorf("draft_ref = %q, want draft-1", payload.DraftRef)
	}
}

func TestConsumeProgress_Error(t *testing.T) {
	var buf bytes.Buffer
	w := stream.NewWriterTo(&buf)
	w.Send(stream.Progress(30, "working"))
	w.Send(stream.Error("superseded"))

	terminal, err := consumeProgress(&buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if terminal.Kind != stream.KindError {
		t.Fatalf("terminal kind = %q, want error", terminal.Kind)
	}
	if terminal.Reason != "superseded" {
		t.Errorf("reason = %q, want superseded", terminal.Reason)
	}
}

func TestGenerateRequestsEventStream(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /v1/documents/doc-1/generations": `data: {"kind":"complete","percent":100,"payload":{"draft_ref":"draft-9","document_id":"doc-1","kind":"summary","run_id":"run-9"}}

`,
	})

	client := ts.client()
	resp, err := client.postStream(ctx, "/v1/documents/doc-1/generations", map[string]any{"kind": "summary"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	if got := ts.requests[0].Accept; got != "text/event-stream" {
		t.Errorf("Accept = %q, want text/event-stream", got)
	}

	terminal, err := consumeProgress(resp.Body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if terminal.Kind != stream.KindComplete {
		t.Errorf("terminal kind = %q, want complete", terminal.Kind)
	}
}

func TestAsk(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /v1/documents/doc-1/chat": `{"text":"42","decision":{"strategy":"direct","reason":"within_direct_threshold"}}`,
	})

	client := ts.client()
	resp, err := client.post(ctx, "/v1/documents/doc-1/chat", map[string]any{"message": "what is the answer?"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var answer struct {
		Text     string `json:"text"`
		Decision struct {
			Strategy string `json:"strategy"`
		} `json:"decision"`
	}
	if err := decodeJSON(resp, &answer); err != nil {
		t.Fatalf("decode error: %v", err)
	}

	if answer.Text != "42" {
		t.Errorf("text = %q, want 42", answer.Text)
	}
	if answer.Decision.Strategy != "direct" {
		t.Errorf("strategy = %q, want direct", answer.Decision.Strategy)
	}
}

func TestSetConfigKey(t *testing.T) {
	var cfg config.Config

	if err := setConfigKey(&cfg, "server.port", "5000"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 5000 {
		t.Errorf("port = %d, want 5000", cfg.Server.Port)
	}

	if err := setConfigKey(&cfg, "llm.model", "some/model"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LLM.Model != "some/model" {
		t.Errorf("model = %q, want some/model", cfg.LLM.Model)
	}

	if err := setConfigKey(&cfg, "generation.draft_ttl", "48h"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Generation.DraftTTL != 48*time.Hour {
		t.Errorf("draft_ttl = %v, want 48h", cfg.Generation.DraftTTL)
	}

	if err := setConfigKey(&cfg, "server.port", "not-a-number"); err == nil {
		t.Error("expected error for non-integer port")
	}
	if err := setConfigKey(&cfg, "bogus.key", "x"); err == nil {
		t.Error("expected error for unknown key")
	}
}

func TestDecodeJSON_ErrorStatus(t *testing.T) {
	ts := newTestServer(t, nil)

	client := ts.client()
	resp, err := client.get(ctx, "/v1/documents/missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var v any
	err = decodeJSON(resp, &v)
	if err == nil {
		t.Fatal("expected error for 404 response")
	}
	if !strings.Contains(err.Error(), "404") {
		t.Errorf("error = %q, want it to mention 404", err.Error())
	}
}
