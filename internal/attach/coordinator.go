// Package attach downloads the attachments referenced by a parsed issue.
// Downloads run in parallel up to a configured bound while every request
// still serializes through the shared rate-limited client; one failed
// attachment never cancels its siblings.
package attach

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/redarc/redarc/internal/archive"
)

var illegalFilenameChars = regexp.MustCompile(`[<>:"/\\|?*[:cntrl:]]`)

// Coordinator writes each issue's attachments under
// <root>/<issueID>/<filename>. Existing files are overwritten.
type Coordinator struct {
	client      archive.Fetcher
	root        string
	maxParallel int
	logger      *zap.Logger
}

// New builds a Coordinator rooted at the attachments directory.
func New(client archive.Fetcher, root string, maxParallel int, logger *zap.Logger) *Coordinator {
	if maxParallel <= 0 {
		maxParallel = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		client:      client,
		root:        root,
		maxParallel: maxParallel,
		logger:      logger,
	}
}

// DownloadAll fetches every ref and reports one result per ref, in ref
// order. All refs are attempted even when some fail; each result carries
// its own error.
func (c *Coordinator) DownloadAll(ctx context.Context, refs []archive.AttachmentRef) []archive.AttachmentResult {
	if len(refs) == 0 {
		return nil
	}
	results := make([]archive.AttachmentResult, len(refs))
	sem := make(chan struct{}, c.maxParallel)
	var wg sync.WaitGroup
	for i, ref := range refs {
		wg.Add(1)
		go func(i int, ref archive.AttachmentRef) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = c.download(ctx, ref)
		}(i, ref)
	}
	wg.Wait()
	return results
}

func (c *Coordinator) download(ctx context.Context, ref archive.AttachmentRef) archive.AttachmentResult {
	res := archive.AttachmentResult{Ref: ref}

	body, err := c.client.Fetch(ctx, ref.URL, nil)
	if err != nil {
		c.logger.Warn("attachment download failed",
			zap.String("issue_id", ref.IssueID),
			zap.String("url", ref.URL),
			zap.Error(err),
		)
		res.Err = err
		return res
	}

	dir := filepath.Join(c.root, ref.IssueID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		res.Err = fmt.Errorf("create attachment dir %s: %w", dir, err)
		return res
	}
	target := filepath.Join(dir, sanitizeFilename(ref.Filename))
	if err := os.WriteFile(target, body, 0o600); err != nil {
		res.Err = fmt.Errorf("write attachment %s: %w", target, err)
		return res
	}

	res.Path = target
	res.Bytes = int64(len(body))
	c.logger.Debug("attachment saved",
		zap.String("issue_id", ref.IssueID),
		zap.String("path", target),
		zap.Int64("bytes", res.Bytes),
	)
	return res
}

// sanitizeFilename strips characters the filesystem rejects. The declared
// name comes from page markup and is untrusted.
func sanitizeFilename(name string) string {
	name = illegalFilenameChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, " .")
	if name == "" {
		name = "unnamed_file"
	}
	return name
}
