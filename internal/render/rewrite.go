package render

import (
	"regexp"
	"strings"
)

var relativeAttr = regexp.MustCompile(`(href|src)="/([^/"][^"]*)"`)

// RewriteRelativeLinks points root-relative href/src attributes at the
// tracker base URL so stylesheets and images resolve when the renderer
// loads the page outside the site. Protocol-relative ("//…") and absolute
// URLs pass through untouched.
func RewriteRelativeLinks(html []byte, baseURL string) []byte {
	base := strings.TrimRight(baseURL, "/")
	return relativeAttr.ReplaceAll(html, []byte(`${1}="`+base+`/${2}"`))
}
