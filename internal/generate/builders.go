package generate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/kalambet/synaptic/internal/lifecycle"
	"github.com/kalambet/synaptic/internal/storage"
)

// promptTextBudget caps how much document text goes into a generation
// prompt; past this the prompt is truncated, not rejected.
const promptTextBudget = 24_000

// Completer is the content-generation capability.
type Completer interface {
	Complete(ctx context.Context, system, user string, jsonMode bool) (string, error)
	Speech(ctx context.Context, text, voice string) ([]byte, error)
}

// LLMGenerator builds artifact content with a chat completion model.
// Podcast audio synthesis is best-effort: a transcript without audio is
// still a valid artifact, so speech failures are logged, not fatal.
type LLMGenerator struct {
	llm      Completer
	voice    string
	audioDir string
	logger   *slog.Logger
}

// NewLLMGenerator creates a generator. voice and audioDir may be empty to
// skip podcast audio synthesis.
func NewLLMGenerator(llm Completer, voice, audioDir string) *LLMGenerator {
	return &LLMGenerator{
		llm:      llm,
		voice:    voice,
		audioDir: audioDir,
		logger:   slog.Default(),
	}
}

func (g *LLMGenerator) Generate(ctx context.Context, doc storage.Document, kind string, params Params, emit func(percent int, message string)) (lifecycle.Content, error) {
	switch kind {
	case lifecycle.KindMindMap:
		return g.mindMap(ctx, doc, params, emit)
	case lifecycle.KindPodcast:
		return g.podcast(ctx, doc, emit)
	case lifecycle.KindSummary:
		return g.summary(ctx, doc, emit)
	default:
		return lifecycle.Content{}, fmt.Errorf("unknown kind %q", kind)
	}
}

const mindMapSystem = `You build mind maps from study material. Respond with a JSON object:
{"nodes": [{"id": "n1", "label": "...", "depth": 0}], "edges": [{"from": "n1", "to": "n2"}]}
Depth 0 is the single root concept. Every node except the root appears in exactly one edge as "to". Labels are short noun phrases.`

func (g *LLMGenerator) mindMap(ctx context.Context, doc storage.Document, params Params, emit func(int, string)) (lifecycle.Content, error) {
	emit(20, "building mind map")

	user := fmt.Sprintf("Build a mind map with about %d nodes and a maximum depth of %d for this document:\n\n%s",
		params.Nodes, params.Depth, clipText(doc.ExtractedText, promptTextBudget))

	raw, err := g.llm.Complete(ctx, mindMapSystem, user, true)
	if err != nil {
		return lifecycle.Content{}, fmt.Errorf("generating mind map: %w", err)
	}
	emit(80, "parsing mind map")

	var body lifecycle.MindMapBody
	if err := json.Unmarshal([]byte(raw), &body); err != nil {
		return lifecycle.Content{}, fmt.Errorf("parsing mind map response: %w", err)
	}
	if len(body.Nodes) == 0 {
		return lifecycle.Content{}, fmt.Errorf("mind map response has no nodes")
	}

	return lifecycle.Content{Kind: lifecycle.KindMindMap, MindMap: &body}, nil
}

const podcastSystem = `You write two-host educational podcast scripts. Respond with a JSON object:
{"lines": [{"speaker": "host", "text": "..."}, {"speaker": "guest", "text": "..."}]}
The hosts are "host" and "guest". Keep it conversational and cover the document's main ideas.`

func (g *LLMGenerator) podcast(ctx context.Context, doc storage.Document, emit func(int, string)) (lifecycle.Content, error) {
	emit(20, "writing podcast script")

	user := fmt.Sprintf("Write a podcast conversation about this document:\n\n%s",
		clipText(doc.ExtractedText, promptTextBudget))

	raw, err := g.llm.Complete(ctx, podcastSystem, user, true)
	if err != nil {
		return lifecycle.Content{}, fmt.Errorf("generating podcast script: %w", err)
	}

	var parsed struct {
		Lines []lifecycle.PodcastLine `json:"lines"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return lifecycle.Content{}, fmt.Errorf("parsing podcast response: %w", err)
	}
	if len(parsed.Lines) == 0 {
		return lifecycle.Content{}, fmt.Errorf("podcast response has no transcript lines")
	}

	body := lifecycle.PodcastBody{Transcript: parsed.Lines}

	if g.voice != "" && g.audioDir != "" {
		emit(60, "synthesizing audio")
		if path, err := g.synthesize(ctx, parsed.Lines); err != nil {
			g.logger.Warn("podcast audio synthesis failed, keeping transcript only", "document_id", doc.ID, "error", err)
		} else {
			body.AudioPath = path
		}
	}

	emit(90, "finishing podcast")
	return lifecycle.Content{Kind: lifecycle.KindPodcast, Podcast: &body}, nil
}

func (g *LLMGenerator) synthesize(ctx context.Context, lines []lifecycle.PodcastLine) (string, error) {
	var sb strings.Builder
	for _, line := range lines {
		sb.WriteString(line.Text)
		sb.WriteString("\n")
	}

	audio, err := g.llm.Speech(ctx, sb.String(), g.voice)
	if err != nil {
		return "", fmt.Errorf("synthesizing speech: %w", err)
	}

	if err := os.MkdirAll(g.audioDir, 0o755); err != nil {
		return "", fmt.Errorf("creating audio dir: %w", err)
	}
	name := "podcast-" + uuid.New().String() + ".mp3"
	if err := os.WriteFile(filepath.Join(g.audioDir, name), audio, 0o644); err != nil {
		return "", fmt.Errorf("writing audio file: %w", err)
	}
	return name, nil
}

const summarySystem = `You summarize study material. Write a concise prose summary covering the document's key points. Respond with the summary text only.`

func (g *LLMGenerator) summary(ctx context.Context, doc storage.Document, emit func(int, string)) (lifecycle.Content, error) {
	emit(20, "writing summary")

	user := fmt.Sprintf("Summarize this document:\n\n%s", clipText(doc.ExtractedText, promptTextBudget))

	text, err := g.llm.Complete(ctx, summarySystem, user, false)
	if err != nil {
		return lifecycle.Content{}, fmt.Errorf("generating summary: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return lifecycle.Content{}, fmt.Errorf("summary response is empty")
	}

	emit(90, "finishing summary")
	return lifecycle.Content{Kind: lifecycle.KindSummary, Summary: &lifecycle.SummaryBody{Text: text}}, nil
}

func clipText(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
