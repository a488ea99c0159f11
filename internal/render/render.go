// Package render builds the summarized entry body and recovers the original
// article from it.
//
// A rendered body is, in order: the summary rendered from markdown, a
// paragraph holding Watermark, a horizontal rule, and the original content.
// Only the generated part is passed through the UGC allow-list. The original
// is appended exactly as the feed reader stored it (Miniflux sanitizes entry
// content on ingest), so ExtractOriginal(Render(s, c)) == c for any c.
package render

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"golang.org/x/net/html"

	"github.com/JakeFAU/minigist/internal/gist"
)

// Watermark is the literal text that marks a generated summary.
const Watermark = "Summarized by minigist"

const (
	watermarkBlock = "<p><em>" + Watermark + "</em></p>\n"
	separator      = "<hr>\n"
	boundary       = watermarkBlock + separator
)

// ErrEmptySummary is returned when there is nothing to render.
var ErrEmptySummary = errors.New("summary is empty")

// Renderer turns summaries into sanitized entry bodies. It is safe for
// concurrent use.
type Renderer struct {
	markdown goldmark.Markdown
	policy   *bluemonday.Policy
}

// New builds a Renderer with GitHub-flavoured markdown and the UGC policy.
func New() *Renderer {
	return &Renderer{
		markdown: goldmark.New(goldmark.WithExtensions(extension.GFM)),
		policy:   bluemonday.UGCPolicy(),
	}
}

// Render splices the sanitized summary, the watermark and the untouched
// original content.
func (r *Renderer) Render(summary, original string) (string, error) {
	if strings.TrimSpace(summary) == "" {
		return "", ErrEmptySummary
	}
	var buf bytes.Buffer
	if err := r.markdown.Convert([]byte(summary), &buf); err != nil {
		return "", fmt.Errorf("%w: markdown: %v", gist.ErrRender, err)
	}
	generated := r.policy.Sanitize(buf.String())
	// The first boundary in a body must be the one written here.
	generated = strings.ReplaceAll(generated, boundary, separator)
	if generated != "" && !strings.HasSuffix(generated, "\n") {
		generated += "\n"
	}
	return generated + boundary + original, nil
}

// Sanitize applies the allow-list to arbitrary markup.
func (r *Renderer) Sanitize(markup string) string {
	return r.policy.Sanitize(markup)
}

// HasWatermark reports whether the watermark text occurs anywhere in content.
// It is a cheap pre-check; an article may quote the phrase, so use
// IsSummarized to decide whether an entry carries a generated summary.
func HasWatermark(content string) bool {
	return strings.Contains(content, Watermark)
}

// IsSummarized reports whether content holds a watermark block followed by
// the separator, either as written by Render or re-serialized.
func IsSummarized(content string) bool {
	if !HasWatermark(content) {
		return false
	}
	if _, err := ExtractOriginal(content); err == nil {
		return true
	}
	_, err := ExtractOriginalDOM(content)
	return err == nil
}

// ExtractOriginal returns the content that followed the watermark boundary.
// ExtractOriginal(Render(s, c)) returns c byte for byte, including leading
// and trailing whitespace.
func ExtractOriginal(content string) (string, error) {
	if !HasWatermark(content) {
		return "", gist.ErrNoWatermark
	}
	idx := strings.Index(content, boundary)
	if idx < 0 {
		return "", fmt.Errorf("%w: separator after watermark missing", gist.ErrNoWatermark)
	}
	return content[idx+len(boundary):], nil
}

// ExtractOriginalDOM recovers the original content from a document whose
// markup was re-serialized after it was written (for example "<hr/>" instead
// of "<hr>"), where the literal boundary no longer matches. It finds the
// element holding the watermark text, the first <hr> after it, and returns
// everything that follows that rule.
func ExtractOriginalDOM(content string) (string, error) {
	if !HasWatermark(content) {
		return "", gist.ErrNoWatermark
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return "", fmt.Errorf("parse content: %w", err)
	}
	block := doc.Find("body *").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return strings.TrimSpace(s.Text()) == Watermark && s.Children().Length() == 0
	}).First()
	if block.Length() == 0 {
		return "", fmt.Errorf("%w: watermark is not inside an element", gist.ErrNoWatermark)
	}
	// Walk up to the top-level block so that the rule is found among its
	// siblings.
	for block.Parent().Length() > 0 && !block.Parent().Is("body") {
		block = block.Parent()
	}
	rule := block.NextAllFiltered("hr").First()
	if rule.Length() == 0 {
		return "", fmt.Errorf("%w: separator after watermark missing", gist.ErrNoWatermark)
	}

	var buf bytes.Buffer
	for node := rule.Nodes[0].NextSibling; node != nil; node = node.NextSibling {
		if err := html.Render(&buf, node); err != nil {
			return "", fmt.Errorf("render original: %w", err)
		}
	}
	original := strings.TrimLeft(buf.String(), "\n")
	if strings.TrimSpace(original) == "" {
		return "", errors.New("original content after separator is empty")
	}
	return original, nil
}
