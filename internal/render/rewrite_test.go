package render

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRewriteRelativeLinks(t *testing.T) {
	t.Parallel()

	in := []byte(`<link href="/styles/app.css"><img src="/img/logo.png">` +
		`<a href="https://other.example.com/x">abs</a>` +
		`<script src="//cdn.example.com/lib.js"></script>`)
	out := RewriteRelativeLinks(in, "https://tracker.example.com/")

	s := string(out)
	require.Contains(t, s, `href="https://tracker.example.com/styles/app.css"`)
	require.Contains(t, s, `src="https://tracker.example.com/img/logo.png"`)
	require.Contains(t, s, `href="https://other.example.com/x"`)
	require.Contains(t, s, `src="//cdn.example.com/lib.js"`)
}

func TestRewriteLeavesDocumentWithoutLinksAlone(t *testing.T) {
	t.Parallel()

	in := []byte(`<p>plain text</p>`)
	require.Equal(t, in, RewriteRelativeLinks(in, "https://tracker.example.com"))
}
