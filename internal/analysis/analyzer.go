// Package analysis derives a complexity profile from document text. The
// profile parametrizes generation defaults (mind map node count and depth);
// callers may override the recommendations. Analysis never fails: input it
// cannot score falls back to the default profile so generation proceeds.
package analysis

import (
	"strings"
	"unicode"
)

// Label is the categorical complexity band.
type Label string

const (
	LabelSimple      Label = "simple"
	LabelModerate    Label = "moderate"
	LabelComplex     Label = "complex"
	LabelVeryComplex Label = "very_complex"
)

// Profile holds four normalized factor scores in [0, 1], the derived label,
// and recommended generation parameters.
type Profile struct {
	LengthScore     float64 `json:"length_score"`
	VocabularyScore float64 `json:"vocabulary_score"`
	StructureScore  float64 `json:"structure_score"`
	TechnicalScore  float64 `json:"technical_score"`

	Label Label `json:"label"`

	RecommendedNodes int `json:"recommended_nodes"`
	RecommendedDepth int `json:"recommended_depth"`
}

// minAnalyzableChars is the input length below which scores would be noise;
// shorter inputs get the default profile.
const minAnalyzableChars = 200

// lengthSaturation is the text length (characters) at which the length
// factor reaches 1.0.
const lengthSaturation = 50_000

// DefaultProfile is the fallback used for empty or sub-minimal input.
func DefaultProfile() Profile {
	return Profile{
		LengthScore:      0.5,
		VocabularyScore:  0.5,
		StructureScore:   0.5,
		TechnicalScore:   0.5,
		Label:            LabelModerate,
		RecommendedNodes: 12,
		RecommendedDepth: 3,
	}
}

// Analyze scores the given text. Deterministic: identical input always
// yields an identical profile.
func Analyze(text string) Profile {
	if len(text) < minAnalyzableChars {
		return DefaultProfile()
	}

	words := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	if len(words) == 0 {
		return DefaultProfile()
	}

	p := Profile{
		LengthScore:     lengthScore(len(text)),
		VocabularyScore: vocabularyScore(words),
		StructureScore:  structureScore(text),
		TechnicalScore:  technicalScore(words),
	}

	composite := 0.3*p.LengthScore + 0.25*p.VocabularyScore + 0.2*p.StructureScore + 0.25*p.TechnicalScore
	p.Label = labelFor(composite)
	p.RecommendedNodes, p.RecommendedDepth = recommend(p.Label)
	return p
}

func lengthScore(n int) float64 {
	return clamp01(float64(n) / lengthSaturation)
}

// vocabularyScore measures richness as the type/token ratio over a fixed
// window. The ratio naturally shrinks with length, so it is sampled over at
// most the first 2000 words to stay comparable across document sizes.
func vocabularyScore(words []string) float64 {
	const window = 2000
	if len(words) > window {
		words = words[:window]
	}
	seen := make(map[string]struct{}, len(words))
	for _, w := range words {
		seen[strings.ToLower(w)] = struct{}{}
	}
	ratio := float64(len(seen)) / float64(len(words))
	// A ratio around 0.6 is already rich prose; scale so it maps near 1.
	return clamp01(ratio / 0.6)
}

// structureScore counts structural markers (headings, list items, blank-line
// separated paragraphs) per 1000 characters of text.
func structureScore(text string) float64 {
	lines := strings.Split(text, "\n")
	markers := 0
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "":
			markers++
		case strings.HasPrefix(trimmed, "#"):
			markers += 2
		case strings.HasPrefix(trimmed, "-") || strings.HasPrefix(trimmed, "*"):
			markers++
		case len(trimmed) > 2 && unicode.IsDigit(rune(trimmed[0])) && (trimmed[1] == '.' || trimmed[1] == ')'):
			markers++
		}
	}
	perKilo := float64(markers) / (float64(len(text)) / 1000)
	// ~15 markers per 1000 chars is heavily structured text.
	return clamp01(perKilo / 15)
}

// technicalScore estimates density of technical vocabulary: long words,
// numbers, and mixed-case identifiers.
func technicalScore(words []string) float64 {
	technical := 0
	for _, w := range words {
		switch {
		case len(w) >= 10:
			technical++
		case hasDigit(w):
			technical++
		case hasInnerUpper(w):
			technical++
		}
	}
	ratio := float64(technical) / float64(len(words))
	// A quarter of words being technical is dense scientific text.
	return clamp01(ratio / 0.25)
}

func hasDigit(w string) bool {
	for _, r := range w {
		if unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

func hasInnerUpper(w string) bool {
	for i, r := range w {
		if i > 0 && unicode.IsUpper(r) {
			return true
		}
	}
	return false
}

func labelFor(composite float64) Label {
	switch {
	case composite < 0.3:
		return LabelSimple
	case composite < 0.55:
		return LabelModerate
	case composite < 0.75:
		return LabelComplex
	default:
		return LabelVeryComplex
	}
}

func recommend(label Label) (nodes, depth int) {
	switch label {
	case LabelSimple:
		return 8, 2
	case LabelModerate:
		return 12, 3
	case LabelComplex:
		return 18, 4
	default:
		return 24, 5
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
