package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/redarc/redarc/internal/archive"
	"github.com/redarc/redarc/internal/progress"
)

// TestPrometheusSinkRecordsMetrics ensures counters and histograms are incremented from events.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	runID := progress.UUIDToBytes(uuid.New())
	now := time.Now()
	batch := []progress.Event{
		{RunID: runID, IssueID: "31091", TS: now, State: archive.StateFetching},
		{RunID: runID, IssueID: "31091", TS: now.Add(time.Second), State: archive.StateParsing},
		{
			RunID:         runID,
			IssueID:       "31091",
			TS:            now.Add(8 * time.Second),
			State:         archive.StateDone,
			Dur:           8 * time.Second,
			AttachmentsOK: 2,
			Bytes:         1024,
		},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.issuesStarted))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.issuesCompleted.WithLabelValues("succeeded")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.issuesCompleted.WithLabelValues("failed")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.issuesInFlight))
	require.Equal(t, 2.0, testutil.ToFloat64(sink.attachmentsOK))
	require.Equal(t, 1024.0, testutil.ToFloat64(sink.attachmentBytes))
	require.Equal(t, 1, testutil.CollectAndCount(sink.issueRuntime, "redarc_issue_runtime_seconds"))
}

// TestPrometheusSinkInFlightGauge tracks the gauge across start/terminal pairs.
func TestPrometheusSinkInFlightGauge(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	runID := progress.UUIDToBytes(uuid.New())
	now := time.Now()

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: runID, IssueID: "1", TS: now, State: archive.StateFetching},
		{RunID: runID, IssueID: "2", TS: now, State: archive.StateFetching},
	}))
	require.Equal(t, 2.0, testutil.ToFloat64(sink.issuesInFlight))

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: runID, IssueID: "1", TS: now, State: archive.StateFailedEarly, AttachmentsFailed: 1},
	}))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.issuesInFlight))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.issuesCompleted.WithLabelValues("failed")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.attachmentsFailed))
}

// TestPrometheusSinkDuplicateRegistration surfaces registry conflicts.
func TestPrometheusSinkDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
