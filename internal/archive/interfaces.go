package archive

import (
	"context"
	"net/http"
)

// Fetcher issues one authenticated GET and returns the response body. The
// session credential and rate limiting live behind this interface; callers
// see only the final body or a *FetchError.
type Fetcher interface {
	Fetch(ctx context.Context, url string, headers http.Header) ([]byte, error)
}

// Parser turns a fetched issue page into a structured record.
type Parser interface {
	Parse(issueID string, body []byte) (IssueRecord, error)
}

// Renderer converts issue HTML into a PDF at outputPath.
type Renderer interface {
	Render(ctx context.Context, html []byte, outputPath string) error
}

// AttachmentResult reports one attachment download.
type AttachmentResult struct {
	Ref AttachmentRef
	// Path is the file written on success.
	Path  string
	Bytes int64
	Err   error
}

// AttachmentDownloader fetches every ref and reports each outcome
// independently; one failure never cancels siblings.
type AttachmentDownloader interface {
	DownloadAll(ctx context.Context, refs []AttachmentRef) []AttachmentResult
}
