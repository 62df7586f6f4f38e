package archive

import (
	"time"

	"github.com/google/uuid"
)

// Overrides carries optional per-run knobs that take precedence over the
// loaded configuration. Zero values mean "use the configured default".
type Overrides struct {
	Delay      time.Duration
	Timeout    time.Duration
	MaxRetries int
}

// CrawlRequest describes one batch run. It is immutable once created; the
// identifier order is preserved by the orchestrator's dispatch loop.
type CrawlRequest struct {
	IssueIDs  []string
	OutputDir string
	Overrides Overrides
	// RunID lets the caller correlate progress events and persisted
	// outcomes; a zero value means the orchestrator generates one.
	RunID uuid.UUID
}

// AttachmentRef points at a single downloadable attachment discovered on an
// issue page. Refs are created by the parser and consumed exactly once by
// the attachment coordinator.
type AttachmentRef struct {
	// URL is absolute, already resolved against the tracker base URL.
	URL string
	// Filename is the name declared by the page link, sanitized later at
	// write time.
	Filename string
	// IssueID is the owning issue.
	IssueID string
}

// IssueRecord is the structured form of one fetched issue page.
type IssueRecord struct {
	ID string
	// Title is empty when the page carried no recognizable subject.
	Title string
	// Body is the raw HTML of the fetched page, kept verbatim for rendering.
	Body []byte
	// Comments holds the journal entries as HTML fragments in page order.
	Comments []string
	// Attachments lists the attachment links found on the page, deduplicated
	// by source URL.
	Attachments []AttachmentRef
}

// IssueState tracks an issue through the pipeline.
type IssueState string

// Pipeline states. FailedEarly, PartiallyFailed, Done and Incomplete are
// terminal.
const (
	StatePending                IssueState = "pending"
	StateFetching               IssueState = "fetching"
	StateParsing                IssueState = "parsing"
	StateDownloadingAttachments IssueState = "downloading_attachments"
	StateRendering              IssueState = "rendering"
	StateDone                   IssueState = "done"
	StateFailedEarly            IssueState = "failed_early"
	StatePartiallyFailed        IssueState = "partially_failed"
	StateIncomplete             IssueState = "incomplete"
)

// Terminal reports whether the state ends an issue's processing.
func (s IssueState) Terminal() bool {
	switch s {
	case StateDone, StateFailedEarly, StatePartiallyFailed, StateIncomplete:
		return true
	}
	return false
}

// OutcomeStatus is the per-issue verdict recorded in the crawl result.
type OutcomeStatus string

// Outcome verdicts.
const (
	// StatusSucceeded: fetch, parse, every attachment and the render all
	// completed.
	StatusSucceeded OutcomeStatus = "succeeded"
	// StatusPartiallyFailed: the issue body was fetched and parsed but at
	// least one attachment or the render failed.
	StatusPartiallyFailed OutcomeStatus = "partially_failed"
	// StatusFailed: fetch or parse failed; nothing was produced.
	StatusFailed OutcomeStatus = "failed"
	// StatusIncomplete: the run was cancelled or stopped before the issue
	// reached a terminal state.
	StatusIncomplete OutcomeStatus = "incomplete"
)

// CrawlOutcome is the final record for one requested identifier.
type CrawlOutcome struct {
	IssueID string        `json:"issue_id"`
	Status  OutcomeStatus `json:"status"`
	// Errors holds human-readable descriptors for every failure recorded
	// while processing the issue.
	Errors []string `json:"errors,omitempty"`
	// PDFPath is set when the render step produced a file.
	PDFPath string `json:"pdf_path,omitempty"`
	// AttachmentPaths lists every attachment file written for the issue.
	AttachmentPaths []string `json:"attachment_paths,omitempty"`
}

// CrawlResult is the terminal value of one run. It enumerates exactly one
// outcome per requested identifier, in request order.
type CrawlResult struct {
	Requested       int            `json:"requested"`
	Succeeded       int            `json:"succeeded"`
	PartiallyFailed int            `json:"partially_failed"`
	Failed          int            `json:"failed"`
	Incomplete      int            `json:"incomplete"`
	Elapsed         time.Duration  `json:"elapsed"`
	Outcomes        []CrawlOutcome `json:"outcomes"`
}

// Tally recomputes the counters from the outcome list.
func (r *CrawlResult) Tally() {
	r.Requested = len(r.Outcomes)
	r.Succeeded, r.PartiallyFailed, r.Failed, r.Incomplete = 0, 0, 0, 0
	for _, o := range r.Outcomes {
		switch o.Status {
		case StatusSucceeded:
			r.Succeeded++
		case StatusPartiallyFailed:
			r.PartiallyFailed++
		case StatusFailed:
			r.Failed++
		case StatusIncomplete:
			r.Incomplete++
		}
	}
}
