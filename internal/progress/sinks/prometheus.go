package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/redarc/redarc/internal/archive"
	"github.com/redarc/redarc/internal/progress"
)

// PrometheusSink exports crawl progress metrics. It owns all collectors for
// issues started/completed/in-flight plus attachment volume counters.
type PrometheusSink struct {
	issuesStarted   prometheus.Counter
	issuesCompleted *prometheus.CounterVec
	issuesInFlight  prometheus.Gauge
	issueRuntime    *prometheus.HistogramVec

	attachmentsOK     prometheus.Counter
	attachmentsFailed prometheus.Counter
	attachmentBytes   prometheus.Counter

	tracker *issueTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		issuesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "redarc_issues_started_total",
			Help: "Total issues whose pipeline has started.",
		}),
		issuesCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "redarc_issues_completed_total",
			Help: "Total issues finished partitioned by verdict.",
		}, []string{"verdict"}),
		issuesInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "redarc_issues_in_flight",
			Help: "Issues currently moving through the pipeline.",
		}),
		issueRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "redarc_issue_runtime_seconds",
			Help:    "Wall time per finished issue.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}, []string{"verdict"}),
		attachmentsOK: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "redarc_attachments_downloaded_total",
			Help: "Attachments written to disk.",
		}),
		attachmentsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "redarc_attachments_failed_total",
			Help: "Attachment downloads that errored.",
		}),
		attachmentBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "redarc_attachment_bytes_total",
			Help: "Attachment payload bytes written to disk.",
		}),
		tracker: newIssueTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.issuesStarted,
		s.issuesCompleted,
		s.issuesInFlight,
		s.issueRuntime,
		s.attachmentsOK,
		s.attachmentsFailed,
		s.attachmentBytes,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors using the provided batch. It is safe for
// concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.State {
	case archive.StateFetching:
		s.issuesStarted.Inc()
		if s.tracker.start(evt.RunID, evt.IssueID) {
			s.issuesInFlight.Inc()
		}
	case archive.StateDone, archive.StatePartiallyFailed,
		archive.StateFailedEarly, archive.StateIncomplete:
		s.handleTerminal(evt)
	}
}

func (s *PrometheusSink) handleTerminal(evt progress.Event) {
	verdict := string(evt.OutcomeStatus())
	s.issuesCompleted.WithLabelValues(verdict).Inc()
	if evt.Dur > 0 {
		s.issueRuntime.WithLabelValues(verdict).Observe(evt.Dur.Seconds())
	}
	if evt.AttachmentsOK > 0 {
		s.attachmentsOK.Add(float64(evt.AttachmentsOK))
	}
	if evt.AttachmentsFailed > 0 {
		s.attachmentsFailed.Add(float64(evt.AttachmentsFailed))
	}
	if evt.Bytes > 0 {
		s.attachmentBytes.Add(float64(evt.Bytes))
	}
	if s.tracker.complete(evt.RunID, evt.IssueID) {
		s.issuesInFlight.Dec()
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type issueKey struct {
	run     [16]byte
	issueID string
}

type issueTracker struct {
	mu      sync.Mutex
	running map[issueKey]struct{}
}

func newIssueTracker() *issueTracker {
	return &issueTracker{running: make(map[issueKey]struct{})}
}

func (t *issueTracker) start(run [16]byte, issueID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := issueKey{run: run, issueID: issueID}
	if _, ok := t.running[key]; ok {
		return false
	}
	t.running[key] = struct{}{}
	return true
}

func (t *issueTracker) complete(run [16]byte, issueID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := issueKey{run: run, issueID: issueID}
	if _, ok := t.running[key]; !ok {
		return false
	}
	delete(t.running, key)
	return true
}
