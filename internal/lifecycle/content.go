// Package lifecycle manages the draft lifecycle of generated artifacts: a
// finished generation is held as an ephemeral draft until the caller
// explicitly commits it to durable storage or discards it.
package lifecycle

import (
	"encoding/json"
	"fmt"
)

// Artifact kinds.
const (
	KindMindMap = "mind_map"
	KindPodcast = "podcast"
	KindSummary = "summary"
)

// ValidKind reports whether kind names a supported artifact kind.
func ValidKind(kind string) bool {
	switch kind {
	case KindMindMap, KindPodcast, KindSummary:
		return true
	}
	return false
}

// Content is the tagged-variant artifact payload: the Kind tag selects
// exactly one of the kind-specific bodies. The other bodies are nil.
type Content struct {
	Kind    string       `json:"kind"`
	MindMap *MindMapBody `json:"mind_map,omitempty"`
	Podcast *PodcastBody `json:"podcast,omitempty"`
	Summary *SummaryBody `json:"summary,omitempty"`
}

// MindMapBody is a node/edge graph of the document's concepts.
type MindMapBody struct {
	Nodes []MindMapNode `json:"nodes"`
	Edges []MindMapEdge `json:"edges"`
}

type MindMapNode struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Depth int    `json:"depth"`
}

type MindMapEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// PodcastBody is a two-host conversational transcript plus an optional
// reference to the synthesized audio file.
type PodcastBody struct {
	Transcript []PodcastLine `json:"transcript"`
	AudioPath  string        `json:"audio_path,omitempty"`
}

type PodcastLine struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// SummaryBody is prose summary text.
type SummaryBody struct {
	Text string `json:"text"`
}

// Validate checks that exactly the body matching Kind is set.
func (c Content) Validate() error {
	if !ValidKind(c.Kind) {
		return fmt.Errorf("unknown content kind %q", c.Kind)
	}
	if (c.MindMap != nil) != (c.Kind == KindMindMap) ||
		(c.Podcast != nil) != (c.Kind == KindPodcast) ||
		(c.Summary != nil) != (c.Kind == KindSummary) {
		return fmt.Errorf("content body does not match kind %q", c.Kind)
	}
	return nil
}

// Encode serializes the envelope for storage.
func (c Content) Encode() (string, error) {
	if err := c.Validate(); err != nil {
		return "", err
	}
	b, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encoding content: %w", err)
	}
	return string(b), nil
}

// DecodeContent parses a stored content envelope.
func DecodeContent(data string) (Content, error) {
	var c Content
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return Content{}, fmt.Errorf("decoding content: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Content{}, err
	}
	return c, nil
}
