package ingest

import (
	"strings"
	"testing"
)

func TestExtractPlainTextPassthrough(t *testing.T) {
	got, err := Extract([]byte("Just some notes.\r\n\r\n\r\nSecond paragraph."), "text/plain")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	want := "Just some notes.\n\nSecond paragraph."
	if got.Text != want {
		t.Errorf("Text = %q, want %q", got.Text, want)
	}
}

func TestExtractHTML(t *testing.T) {
	html := `<!DOCTYPE html>
<html>
<head><title>Study Guide</title><style>body { color: red }</style></head>
<body>
<script>var tracked = true;</script>
<h1>Chapter One</h1>
<p>First paragraph of content.</p>
<p>Second paragraph of content.</p>
</body>
</html>`

	got, err := Extract([]byte(html), "text/html; charset=utf-8")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got.Title != "Study Guide" {
		t.Errorf("Title = %q, want %q", got.Title, "Study Guide")
	}
	if !strings.Contains(got.Text, "First paragraph of content.") {
		t.Errorf("Text missing paragraph: %q", got.Text)
	}
	if strings.Contains(got.Text, "tracked") {
		t.Errorf("Text contains script content: %q", got.Text)
	}
	if strings.Contains(got.Text, "color: red") {
		t.Errorf("Text contains style content: %q", got.Text)
	}
}

func TestExtractHTMLSniffedWithoutContentType(t *testing.T) {
	got, err := Extract([]byte("<html><head><title>Sniffed</title></head><body>Body text</body></html>"), "")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got.Title != "Sniffed" {
		t.Errorf("Title = %q, want Sniffed", got.Title)
	}
}

func TestExtractHTMLTitleFallsBackToH1(t *testing.T) {
	got, err := Extract([]byte("<html><body><h1>Heading Title</h1><p>text</p></body></html>"), "text/html")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got.Title != "Heading Title" {
		t.Errorf("Title = %q, want %q", got.Title, "Heading Title")
	}
}

func TestExtractCorruptPDFReturnsError(t *testing.T) {
	if _, err := Extract([]byte("%PDF-1.4 not really a pdf"), "application/pdf"); err == nil {
		t.Error("Extract accepted a corrupt PDF")
	}
}

func TestNormalizeTextCollapsesBlankRuns(t *testing.T) {
	got := normalizeText("a\n\n\n\nb\n\nc\n")
	want := "a\n\nb\n\nc"
	if got != want {
		t.Errorf("normalizeText = %q, want %q", got, want)
	}
}
