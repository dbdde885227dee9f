package ingest

import (
	"strings"
	"unicode"
)

// ChunkConfig defines text splitting parameters in characters.
type ChunkConfig struct {
	// Target is the ideal chunk size.
	Target int
	// Max is the hard upper bound; oversized paragraphs split at sentences.
	Max int
	// Overlap is carried over from the tail of the previous chunk.
	Overlap int
}

// DefaultChunkConfig returns the splitting parameters used when none are
// configured.
func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{Target: 750, Max: 1000, Overlap: 100}
}

// Chunk splits text into retrieval-sized pieces. Paragraph boundaries are
// preferred; paragraphs larger than Max are split at sentence boundaries.
// Adjacent chunks share an Overlap-sized tail to preserve context across
// boundaries.
func Chunk(text string, config ChunkConfig) []string {
	if config.Target <= 0 {
		config = DefaultChunkConfig()
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= config.Max {
		return []string{text}
	}

	var chunks []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, strings.TrimSpace(current.String()))
			current.Reset()
		}
	}

	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}

		if current.Len()+len(para) > config.Max && current.Len() > 0 {
			flush()
		}

		if len(para) > config.Max {
			flush()
			chunks = append(chunks, packSentences(para, config.Target)...)
			continue
		}

		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}
	flush()

	return applyOverlap(chunks, config.Overlap)
}

// packSentences groups sentences into chunks of roughly target size.
func packSentences(text string, target int) []string {
	var chunks []string
	var current strings.Builder

	for _, sentence := range splitSentences(text) {
		sentence = strings.TrimSpace(sentence)
		if sentence == "" {
			continue
		}

		if current.Len()+len(sentence) > target && current.Len() > 0 {
			chunks = append(chunks, strings.TrimSpace(current.String()))
			current.Reset()
		}

		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(sentence)
	}
	if current.Len() > 0 {
		chunks = append(chunks, strings.TrimSpace(current.String()))
	}

	return chunks
}

// splitSentences splits on terminal punctuation followed by whitespace.
// A capital letter right before the terminator is treated as an
// abbreviation ("Dr.") and does not end the sentence.
func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	runes := []rune(text)
	for i, r := range runes {
		current.WriteRune(r)

		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
			continue
		}
		if i > 1 && unicode.IsUpper(runes[i-1]) {
			continue
		}
		sentences = append(sentences, current.String())
		current.Reset()
	}
	if current.Len() > 0 {
		sentences = append(sentences, current.String())
	}

	return sentences
}

// applyOverlap prepends the word-aligned tail of each chunk to its
// successor.
func applyOverlap(chunks []string, overlap int) []string {
	if overlap <= 0 || len(chunks) <= 1 {
		return chunks
	}

	result := make([]string, len(chunks))
	copy(result, chunks)

	for i := 1; i < len(result); i++ {
		prev := chunks[i-1]
		if len(prev) <= overlap {
			continue
		}
		tail := prev[len(prev)-overlap:]
		if idx := strings.LastIndex(tail, " "); idx > 0 {
			tail = tail[idx+1:]
		}
		result[i] = tail + " " + result[i]
	}

	return result
}
