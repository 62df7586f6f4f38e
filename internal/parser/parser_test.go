package parser

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/redarc/redarc/internal/archive"
)

const issuePage = `<!DOCTYPE html>
<html><body>
<div id="content">
  <h2>Bug #31091</h2>
  <div class="subject"><h3>Login button unresponsive on Safari</h3></div>
  <div class="description">
    <div class="wiki"><p>Clicking login does nothing.</p></div>
  </div>
  <div class="attachments">
    <a class="icon icon-attachment" href="/attachments/download/101/screenshot.png">screenshot.png</a>
    <a class="icon icon-attachment" href="/attachments/download/102/console.log">console.log</a>
    <a class="icon icon-attachment" href="/attachments/download/101/screenshot.png">screenshot.png</a>
  </div>
  <div id="history">
    <div class="journal"><div class="wiki"><p>Reproduced on 16.4.</p></div></div>
    <div class="journal"><ul class="details"><li>Status changed</li></ul></div>
    <div class="journal"><div class="wiki"><p>Fix deployed.</p></div></div>
  </div>
</div>
</body></html>`

func newTestParser(t *testing.T) *Parser {
	t.Helper()
	p, err := New("https://tracker.example.com")
	require.NoError(t, err)
	return p
}

func TestParseFullIssuePage(t *testing.T) {
	t.Parallel()
	p := newTestParser(t)

	rec, err := p.Parse("31091", []byte(issuePage))
	require.NoError(t, err)

	require.Equal(t, "31091", rec.ID)
	require.Equal(t, "Login button unresponsive on Safari", rec.Title)
	require.Equal(t, []byte(issuePage), rec.Body)

	require.Len(t, rec.Comments, 2)
	require.Contains(t, rec.Comments[0], "Reproduced on 16.4.")
	require.Contains(t, rec.Comments[1], "Fix deployed.")
}

func TestParseDeduplicatesAttachments(t *testing.T) {
	t.Parallel()
	p := newTestParser(t)

	rec, err := p.Parse("31091", []byte(issuePage))
	require.NoError(t, err)

	require.Len(t, rec.Attachments, 2)
	require.Equal(t,
		"https://tracker.example.com/attachments/download/101/screenshot.png",
		rec.Attachments[0].URL)
	require.Equal(t, "screenshot.png", rec.Attachments[0].Filename)
	require.Equal(t, "31091", rec.Attachments[0].IssueID)
	require.Equal(t, "console.log", rec.Attachments[1].Filename)
}

func TestParseMissingTitleAndDescriptionIsNonFatal(t *testing.T) {
	t.Parallel()
	p := newTestParser(t)

	page := `<html><body><div id="content"><p>bare issue</p></div></body></html>`
	rec, err := p.Parse("7", []byte(page))
	require.NoError(t, err)
	require.Empty(t, rec.Title)
	require.Empty(t, rec.Comments)
	require.Empty(t, rec.Attachments)
}

func TestParseMissingContentRegion(t *testing.T) {
	t.Parallel()
	p := newTestParser(t)

	_, err := p.Parse("7", []byte(`<html><body><div id="main">nope</div></body></html>`))
	var perr *archive.ParseError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, "7", perr.IssueID)
}

func TestParseErrorPage(t *testing.T) {
	t.Parallel()
	p := newTestParser(t)

	page := `<html><body><div id="content"><div class="error">Issue not found</div></div></body></html>`
	_, err := p.Parse("404404", []byte(page))
	var perr *archive.ParseError
	require.ErrorAs(t, err, &perr)
}

func TestParseLoginPage(t *testing.T) {
	t.Parallel()
	p := newTestParser(t)

	page := `<html><body><div id="content">
	<form id="login-form" action="/login"><input name="password" type="password"></form>
	</div></body></html>`
	_, err := p.Parse("1", []byte(page))
	var perr *archive.ParseError
	require.ErrorAs(t, err, &perr)
	require.Contains(t, perr.Error(), "login")
}

func TestParseTitleFallsBackToH2(t *testing.T) {
	t.Parallel()
	p := newTestParser(t)

	page := `<html><body><div id="content"><h2>Feature #9</h2><p>text</p></div></body></html>`
	rec, err := p.Parse("9", []byte(page))
	require.NoError(t, err)
	require.Equal(t, "Feature #9", rec.Title)
}

func TestParseAttachmentFilenameFromURL(t *testing.T) {
	t.Parallel()
	p := newTestParser(t)

	page := `<html><body><div id="content">
	<a class="icon icon-attachment" href="/attachments/download/55/trace.txt"></a>
	</div></body></html>`
	rec, err := p.Parse("5", []byte(page))
	require.NoError(t, err)
	require.Len(t, rec.Attachments, 1)
	require.Equal(t, "trace.txt", rec.Attachments[0].Filename)
}
