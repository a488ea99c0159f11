// Package detector decides when a statically fetched page needs a headless
// browser to produce its article markup.
package detector

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const (
	defaultBodyLengthThreshold = 2048
	minReadableText            = 200
	scriptCoveragePercent      = 25
)

// spaRoots are mount points of client-rendered applications.
const spaRoots = "#__next, #root, #app, [data-reactroot], [ng-app]"

// Heuristic implements a handful of rule-based promotions.
type Heuristic struct {
	// BodyLengthThreshold bounds the pages checked for script density.
	BodyLengthThreshold int
}

// NewHeuristic creates a new detector. A zero threshold uses 2048 bytes.
func NewHeuristic(threshold int) *Heuristic {
	if threshold == 0 {
		threshold = defaultBodyLengthThreshold
	}
	return &Heuristic{BodyLengthThreshold: threshold}
}

// ShouldPromote reports whether body looks like a page whose article is
// produced by scripts: an empty document, a small script-dominated one, or an
// application shell with little readable text.
func (h *Heuristic) ShouldPromote(body string) bool {
	if strings.TrimSpace(body) == "" {
		return true
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return false
	}

	scripts := doc.Find("script")
	if len(body) < h.BodyLengthThreshold && scriptCoverage(scripts, len(body)) >= scriptCoveragePercent {
		return true
	}

	readable := readableText(doc)
	if readable >= minReadableText {
		return false
	}
	if doc.Find(spaRoots).Length() > 0 {
		return true
	}
	return strings.Contains(strings.ToLower(doc.Find("noscript").Text()), "javascript")
}

// scriptCoverage estimates the share of the document taken by script elements.
func scriptCoverage(scripts *goquery.Selection, total int) int {
	if total == 0 || scripts.Length() == 0 {
		return 0
	}
	covered := 0
	scripts.Each(func(_ int, s *goquery.Selection) {
		covered += len("<script></script>") + len(s.Text())
		for _, attr := range s.Nodes[0].Attr {
			covered += len(attr.Key) + len(attr.Val) + 4
		}
	})
	return min(covered, total) * 100 / total
}

func readableText(doc *goquery.Document) int {
	body := doc.Find("body").Clone()
	body.Find("script, style, noscript, template").Remove()
	return len(strings.Join(strings.Fields(body.Text()), " "))
}
