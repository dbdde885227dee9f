// Package ingest handles document intake and the background chunk index
// build. Intake extracts plain text from uploaded content; the worker
// splits, embeds and stores chunks for retrieval.
package ingest

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
)

// Extracted is the result of text extraction from an uploaded document.
type Extracted struct {
	Text  string
	Title string
}

// Extract converts uploaded content into plain text. The content type is
// matched on its media type prefix; anything unrecognized is treated as
// plain text.
func Extract(data []byte, contentType string) (Extracted, error) {
	ct := contentType
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = ct[:i]
	}
	ct = strings.TrimSpace(strings.ToLower(ct))

	switch {
	case ct == "application/pdf" || bytes.HasPrefix(data, []byte("%PDF-")):
		return extractPDF(data)
	case ct == "text/html" || ct == "application/xhtml+xml" || looksLikeHTML(data):
		return extractHTML(data)
	default:
		return Extracted{Text: normalizeText(string(data))}, nil
	}
}

func extractPDF(data []byte) (Extracted, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Extracted{}, fmt.Errorf("opening pdf: %w", err)
	}

	var sb strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// Skip pages that fail to decode rather than losing the
			// whole document.
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(text)
	}

	return Extracted{Text: normalizeText(sb.String())}, nil
}

func extractHTML(data []byte) (Extracted, error) {
	root, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return Extracted{}, fmt.Errorf("parsing html: %w", err)
	}

	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript", "head":
				return
			case "p", "div", "br", "li", "tr", "h1", "h2", "h3", "h4", "h5", "h6":
				sb.WriteString("\n")
			}
		}
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)

	title := ""
	if doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data)); err == nil {
		title = strings.TrimSpace(doc.Find("title").First().Text())
		if title == "" {
			title = strings.TrimSpace(doc.Find("h1").First().Text())
		}
	}

	return Extracted{Text: normalizeText(sb.String()), Title: title}, nil
}

func looksLikeHTML(data []byte) bool {
	head := bytes.ToLower(bytes.TrimSpace(data))
	if len(head) > 256 {
		head = head[:256]
	}
	return bytes.HasPrefix(head, []byte("<!doctype html")) || bytes.HasPrefix(head, []byte("<html"))
}

// normalizeText collapses runs of blank lines and trims surrounding
// whitespace so extracted text chunks cleanly on paragraph boundaries.
func normalizeText(s string) string {
	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")

	var out []string
	blank := true
	for _, line := range lines {
		line = strings.TrimRight(line, " \t")
		if strings.TrimSpace(line) == "" {
			if !blank {
				out = append(out, "")
			}
			blank = true
			continue
		}
		out = append(out, line)
		blank = false
	}

	return strings.TrimSpace(strings.Join(out, "\n"))
}
