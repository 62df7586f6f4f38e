// Package parser extracts structured issue records from fetched tracker
// pages. The selectors encode the markup contract with the target site;
// a page without the expected content region is treated as a structure
// mismatch rather than an empty issue.
package parser

import (
	"bytes"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/redarc/redarc/internal/archive"
)

// attachmentPathMarker identifies tracker attachment download links.
const attachmentPathMarker = "/attachments/download/"

// Parser is a stateless, reusable page parser. Parsing never touches the
// network; attachment hrefs are resolved against the configured base URL.
type Parser struct {
	base *url.URL
}

// New builds a Parser for the given tracker base URL.
func New(baseURL string) (*Parser, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	return &Parser{base: base}, nil
}

// Parse extracts the issue record from one fetched page. Missing title or
// description are non-fatal; a missing content region, an error box, or a
// login form in place of the issue yields *archive.ParseError.
func (p *Parser) Parse(issueID string, body []byte) (archive.IssueRecord, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return archive.IssueRecord{}, &archive.ParseError{
			IssueID: issueID,
			Reason:  fmt.Sprintf("unreadable document: %v", err),
		}
	}

	content := doc.Find("#content")
	if content.Length() == 0 {
		return archive.IssueRecord{}, &archive.ParseError{
			IssueID: issueID,
			Reason:  "content region #content not found",
		}
	}
	if content.Find("div.error, p.nodata").Length() > 0 {
		return archive.IssueRecord{}, &archive.ParseError{
			IssueID: issueID,
			Reason:  "tracker returned an error page",
		}
	}
	if doc.Find("form#login-form, input[name=password]").Length() > 0 {
		return archive.IssueRecord{}, &archive.ParseError{
			IssueID: issueID,
			Reason:  "login page returned instead of issue; session likely stale",
		}
	}

	rec := archive.IssueRecord{
		ID:          issueID,
		Title:       extractTitle(content),
		Body:        append([]byte(nil), body...),
		Comments:    extractComments(content),
		Attachments: p.extractAttachments(issueID, content),
	}
	return rec, nil
}

// extractTitle returns the first non-empty recognized heading, or "".
func extractTitle(content *goquery.Selection) string {
	for _, sel := range []string{"div.subject h3", "h2", "h3"} {
		title := ""
		content.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if text := strings.TrimSpace(s.Text()); text != "" {
				title = text
				return false
			}
			return true
		})
		if title != "" {
			return title
		}
	}
	return ""
}

// extractComments returns the journal entries as HTML fragments in page
// order. Entries without a wiki body (status-only changes) are skipped.
func extractComments(content *goquery.Selection) []string {
	var comments []string
	content.Find("div#history div.journal").Each(func(_ int, journal *goquery.Selection) {
		wiki := journal.Find("div.wiki").First()
		if wiki.Length() == 0 {
			return
		}
		html, err := wiki.Html()
		if err != nil {
			return
		}
		if strings.TrimSpace(html) == "" {
			return
		}
		comments = append(comments, html)
	})
	return comments
}

// extractAttachments collects every attachment link, deduplicated by
// resolved source URL.
func (p *Parser) extractAttachments(issueID string, content *goquery.Selection) []archive.AttachmentRef {
	seen := make(map[string]struct{})
	var refs []archive.AttachmentRef
	content.Find("a").Each(func(i int, link *goquery.Selection) {
		href, ok := link.Attr("href")
		if !ok || href == "" {
			return
		}
		if !link.HasClass("icon-attachment") && !strings.Contains(href, attachmentPathMarker) {
			return
		}
		resolved := p.resolve(href)
		if resolved == "" {
			return
		}
		if _, dup := seen[resolved]; dup {
			return
		}
		seen[resolved] = struct{}{}
		refs = append(refs, archive.AttachmentRef{
			URL:      resolved,
			Filename: attachmentFilename(link, resolved, len(refs)+1),
			IssueID:  issueID,
		})
	})
	return refs
}

func (p *Parser) resolve(href string) string {
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return p.base.ResolveReference(ref).String()
}

// attachmentFilename prefers the link text, then the URL path basename,
// then a positional fallback.
func attachmentFilename(link *goquery.Selection, resolved string, position int) string {
	if name := strings.TrimSpace(link.Text()); name != "" {
		return name
	}
	if u, err := url.Parse(resolved); err == nil {
		if base := path.Base(u.Path); base != "" && base != "." && base != "/" {
			return base
		}
	}
	return fmt.Sprintf("attachment_%d", position)
}
