// Package orchestrator drives the per-issue pipeline: fetch, parse, download
// attachments, render. A fixed pool of workers drains the requested
// identifiers while a shared client serializes all traffic through the rate
// gate; the run ends early only on cancellation or session expiry.
package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/redarc/redarc/internal/archive"
	"github.com/redarc/redarc/internal/progress"
	"github.com/redarc/redarc/internal/render"
)

// UnauthorizedCounter exposes the client's consecutive 401/403 streak. The
// orchestrator polls it after every finished issue and stops dispatching once
// the threshold is crossed.
type UnauthorizedCounter interface {
	ConsecutiveUnauthorized() int
}

// OverrideApplier is implemented by fetchers that can retune their delay,
// timeout and retry settings for one run. The orchestrator applies the
// request's overrides before dispatching any work.
type OverrideApplier interface {
	ApplyOverrides(archive.Overrides)
}

// Config carries the run-independent orchestration knobs.
type Config struct {
	// BaseURL is the tracker root; issue pages live at <BaseURL>/issues/<id>.
	BaseURL string
	// Concurrency is the worker pool size (minimum 1).
	Concurrency int
	// UnauthorizedThreshold is the consecutive 401/403 count that aborts the
	// run (minimum 1).
	UnauthorizedThreshold int
	// PDFDir is the default PDF destination when the request carries no
	// output directory.
	PDFDir string
}

// Deps are the pipeline stages, injected explicitly.
type Deps struct {
	Fetcher     archive.Fetcher
	Parser      archive.Parser
	Attachments archive.AttachmentDownloader
	Renderer    archive.Renderer
	// Emitter receives one event per state transition; nil disables emission.
	Emitter progress.Emitter
	// Unauthorized is optional; without it session expiry is never escalated.
	Unauthorized UnauthorizedCounter
	Logger       *zap.Logger
}

// Orchestrator is safe for sequential runs; each Run gets its own name
// registry and run ID.
type Orchestrator struct {
	cfg     Config
	deps    Deps
	emitter progress.Emitter
	logger  *zap.Logger
}

// New validates the dependency set and builds an Orchestrator.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	if deps.Fetcher == nil || deps.Parser == nil || deps.Renderer == nil {
		return nil, fmt.Errorf("fetcher, parser and renderer are required")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.UnauthorizedThreshold <= 0 {
		cfg.UnauthorizedThreshold = 1
	}
	emitter := deps.Emitter
	if emitter == nil {
		emitter = progress.NopEmitter{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{cfg: cfg, deps: deps, emitter: emitter, logger: logger}, nil
}

type task struct {
	idx int
	id  string
}

// Run processes every requested identifier and returns one outcome per id in
// request order. Per-issue failures are recorded, never propagated; the
// returned error is non-nil only for cancellation or session expiry, and the
// result is complete either way.
func (o *Orchestrator) Run(ctx context.Context, req archive.CrawlRequest) (archive.CrawlResult, error) {
	start := time.Now()
	result := archive.CrawlResult{Outcomes: make([]archive.CrawlOutcome, len(req.IssueIDs))}
	if len(req.IssueIDs) == 0 {
		result.Tally()
		return result, nil
	}

	runUUID := req.RunID
	if runUUID == (uuid.UUID{}) {
		runUUID = uuid.New()
	}
	runID := progress.UUIDToBytes(runUUID)
	names := render.NewNameRegistry()
	pdfDir := o.cfg.PDFDir
	if req.OutputDir != "" {
		pdfDir = filepath.Join(req.OutputDir, "pdfs")
	}

	if applier, ok := o.deps.Fetcher.(OverrideApplier); ok {
		applier.ApplyOverrides(req.Overrides)
	}

	tasks := make(chan task)
	var stop atomic.Bool
	var expired atomic.Bool

	var wg sync.WaitGroup
	for w := 0; w < o.cfg.Concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range tasks {
				result.Outcomes[t.idx] = o.processIssue(ctx, runID, t.id, pdfDir, names)
				if o.sessionExpired() {
					expired.Store(true)
					stop.Store(true)
				}
			}
		}()
	}

dispatch:
	for i, id := range req.IssueIDs {
		if stop.Load() {
			break
		}
		o.emit(runID, id, archive.StatePending, progress.Event{})
		select {
		case tasks <- task{idx: i, id: id}:
		case <-ctx.Done():
			break dispatch
		}
	}
	close(tasks)
	wg.Wait()

	// Undispatched identifiers still get a verdict so the result stays
	// one-to-one with the request. Processed slots always carry a status, so
	// an empty one marks a slot no worker reached.
	for i := range result.Outcomes {
		if result.Outcomes[i].Status == "" {
			result.Outcomes[i] = archive.CrawlOutcome{
				IssueID: req.IssueIDs[i],
				Status:  archive.StatusIncomplete,
				Errors:  []string{"run stopped before processing"},
			}
			o.emit(runID, req.IssueIDs[i], archive.StateIncomplete, progress.Event{
				Note: "run stopped before processing",
			})
		}
	}

	result.Elapsed = time.Since(start)
	result.Tally()

	switch {
	case expired.Load():
		o.logger.Warn("run aborted: session credential rejected",
			zap.Int("threshold", o.cfg.UnauthorizedThreshold))
		return result, archive.ErrSessionExpired
	case ctx.Err() != nil:
		return result, ctx.Err()
	}
	return result, nil
}

func (o *Orchestrator) sessionExpired() bool {
	return o.deps.Unauthorized != nil &&
		o.deps.Unauthorized.ConsecutiveUnauthorized() >= o.cfg.UnauthorizedThreshold
}

// processIssue walks one issue through the full pipeline and returns its
// terminal outcome.
func (o *Orchestrator) processIssue(
	ctx context.Context,
	runID [16]byte,
	issueID string,
	pdfDir string,
	names *render.NameRegistry,
) archive.CrawlOutcome {
	started := time.Now()
	outcome := archive.CrawlOutcome{IssueID: issueID}

	o.emit(runID, issueID, archive.StateFetching, progress.Event{})
	body, err := o.deps.Fetcher.Fetch(ctx, o.issueURL(issueID), nil)
	if err != nil {
		return o.failEarly(runID, issueID, started, outcome, err)
	}

	o.emit(runID, issueID, archive.StateParsing, progress.Event{})
	record, err := o.deps.Parser.Parse(issueID, body)
	if err != nil {
		return o.failEarly(runID, issueID, started, outcome, err)
	}

	o.emit(runID, issueID, archive.StateDownloadingAttachments, progress.Event{})
	var (
		attachErrs  int
		attachBytes int64
	)
	if o.deps.Attachments != nil && len(record.Attachments) > 0 {
		for _, res := range o.deps.Attachments.DownloadAll(ctx, record.Attachments) {
			if res.Err != nil {
				attachErrs++
				outcome.Errors = append(outcome.Errors,
					fmt.Sprintf("attachment %s: %v", res.Ref.URL, res.Err))
				continue
			}
			attachBytes += res.Bytes
			outcome.AttachmentPaths = append(outcome.AttachmentPaths, res.Path)
		}
	}

	name := names.Claim(render.ResolveName(issueID, record.Body))
	html := render.RewriteRelativeLinks(record.Body, o.cfg.BaseURL)

	o.emit(runID, issueID, archive.StateRendering, progress.Event{
		AttachmentsOK:     len(outcome.AttachmentPaths),
		AttachmentsFailed: attachErrs,
		Bytes:             attachBytes,
	})
	pdfPath := filepath.Join(pdfDir, name)
	renderErr := o.deps.Renderer.Render(ctx, html, pdfPath)
	if renderErr != nil {
		outcome.Errors = append(outcome.Errors, renderErr.Error())
	} else {
		outcome.PDFPath = pdfPath
	}

	switch {
	case renderErr == nil && attachErrs == 0:
		outcome.Status = archive.StatusSucceeded
	default:
		outcome.Status = archive.StatusPartiallyFailed
	}

	state := archive.StateDone
	if outcome.Status != archive.StatusSucceeded {
		state = archive.StatePartiallyFailed
	}
	o.emit(runID, issueID, state, progress.Event{
		Dur:               time.Since(started),
		Note:              strings.Join(outcome.Errors, "; "),
		PDFPath:           outcome.PDFPath,
		AttachmentsOK:     len(outcome.AttachmentPaths),
		AttachmentsFailed: attachErrs,
		Bytes:             attachBytes,
	})
	o.logger.Info("issue finished",
		zap.String("issue_id", issueID),
		zap.String("status", string(outcome.Status)),
		zap.Duration("elapsed", time.Since(started)),
	)
	return outcome
}

// failEarly records a fetch or parse failure; nothing was produced.
func (o *Orchestrator) failEarly(
	runID [16]byte,
	issueID string,
	started time.Time,
	outcome archive.CrawlOutcome,
	err error,
) archive.CrawlOutcome {
	outcome.Status = archive.StatusFailed
	outcome.Errors = append(outcome.Errors, err.Error())
	o.emit(runID, issueID, archive.StateFailedEarly, progress.Event{
		Dur:  time.Since(started),
		Note: err.Error(),
	})
	o.logger.Warn("issue failed",
		zap.String("issue_id", issueID),
		zap.Error(err),
	)
	return outcome
}

// emit fills the envelope fields and forwards the event.
func (o *Orchestrator) emit(runID [16]byte, issueID string, state archive.IssueState, evt progress.Event) {
	evt.RunID = runID
	evt.IssueID = issueID
	evt.TS = time.Now().UTC()
	evt.State = state
	o.emitter.Emit(evt)
}

func (o *Orchestrator) issueURL(issueID string) string {
	return strings.TrimRight(o.cfg.BaseURL, "/") + "/issues/" + issueID
}
