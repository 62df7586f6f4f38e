// Package render turns a parsed issue into a PDF on disk: it resolves the
// output file name from the page's headings, rewrites relative links so the
// renderer can resolve assets, and drives one of two external rendering
// engines.
package render

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
)

// maxHeadingRunes caps the sanitized heading so resolved paths stay well
// under filesystem limits.
const maxHeadingRunes = 120

var (
	illegalChars = regexp.MustCompile(`[<>:"/\\|?*[:cntrl:]]`)
	whitespace   = regexp.MustCompile(`\s+`)
	underscores  = regexp.MustCompile(`_+`)
)

// ResolveName derives the PDF file name for an issue: the first non-empty
// second-level heading, else the first third-level heading, else the bare
// issue id. The heading is sanitized and prefixed with the issue id, giving
// "<issueId>_<heading>.pdf" or "<issueId>.pdf". Resolving the same inputs
// twice yields the same name.
func ResolveName(issueID string, html []byte) string {
	heading := firstHeading(html)
	if heading == "" {
		return issueID + ".pdf"
	}
	return fmt.Sprintf("%s_%s.pdf", issueID, heading)
}

// firstHeading returns the sanitized text of the first usable h2, then h3.
// An empty-text heading counts as missing and falls through.
func firstHeading(html []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return ""
	}
	for _, sel := range []string{"h2", "h3"} {
		found := ""
		doc.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if text := sanitizeHeading(s.Text()); text != "" {
				found = text
				return false
			}
			return true
		})
		if found != "" {
			return found
		}
	}
	return ""
}

// sanitizeHeading maps heading text to a filesystem-safe fragment.
func sanitizeHeading(text string) string {
	text = strings.TrimSpace(text)
	text = illegalChars.ReplaceAllString(text, "_")
	text = whitespace.ReplaceAllString(text, "_")
	text = underscores.ReplaceAllString(text, "_")
	text = strings.Trim(text, "_ .")
	runes := []rune(text)
	if len(runes) > maxHeadingRunes {
		text = strings.Trim(string(runes[:maxHeadingRunes]), "_ .")
	}
	return text
}

// NameRegistry guarantees output names are unique within one run. The
// issue-id prefix already separates distinct issues; collisions only occur
// when the same identifier is requested more than once, in which case a
// numeric suffix keeps the later file from overwriting the earlier one.
type NameRegistry struct {
	mu    sync.Mutex
	taken map[string]struct{}
}

// NewNameRegistry builds an empty registry for one run.
func NewNameRegistry() *NameRegistry {
	return &NameRegistry{taken: make(map[string]struct{})}
}

// Claim reserves name, disambiguating duplicates with "_2", "_3", … before
// the extension.
func (r *NameRegistry) Claim(name string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.taken[name]; !dup {
		r.taken[name] = struct{}{}
		return name
	}
	stem := strings.TrimSuffix(name, ".pdf")
	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s_%d.pdf", stem, i)
		if _, dup := r.taken[candidate]; !dup {
			r.taken[candidate] = struct{}{}
			return candidate
		}
	}
}
