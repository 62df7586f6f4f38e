package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/redarc/redarc/internal/archive"
)

type captureSink struct {
	mu     sync.Mutex
	events []Event
	closed bool
	err    error
}

func (s *captureSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, batch...)
	return nil
}

func (s *captureSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func (s *captureSink) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func testEvent(issueID string, state archive.IssueState) Event {
	return Event{
		RunID:   UUIDToBytes(uuid.New()),
		IssueID: issueID,
		TS:      time.Now().UTC(),
		State:   state,
	}
}

func TestHubDeliversToAllSinks(t *testing.T) {
	t.Parallel()

	first := &captureSink{}
	second := &captureSink{}
	h := NewHub(HubConfig{FlushInterval: 10 * time.Millisecond, Logger: zap.NewNop()}, first, second)

	h.Emit(testEvent("1", archive.StateFetching))
	h.Emit(testEvent("1", archive.StateParsing))

	require.Eventually(t, func() bool {
		return first.count() == 2 && second.count() == 2
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, h.Close(context.Background()))
	require.True(t, first.isClosed())
	require.True(t, second.isClosed())
}

func TestHubCloseDrainsPendingEvents(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	// Long flush interval so delivery can only happen through Close.
	h := NewHub(HubConfig{FlushInterval: time.Minute, Logger: zap.NewNop()}, sink)

	for i := 0; i < 50; i++ {
		h.Emit(testEvent("7", archive.StateFetching))
	}
	require.NoError(t, h.Close(context.Background()))
	require.Equal(t, 50, sink.count())
}

func TestHubEmitNeverBlocksWhenFull(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	h := NewHub(HubConfig{BufferSize: 4, FlushInterval: time.Minute, Logger: zap.NewNop()}, sink)
	defer h.Close(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			h.Emit(testEvent("9", archive.StateRendering))
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("emit blocked on a full buffer")
	}
}

func TestHubDiscardsInvalidEvents(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	h := NewHub(HubConfig{FlushInterval: 10 * time.Millisecond, Logger: zap.NewNop()}, sink)

	h.Emit(Event{IssueID: "missing-run-id"})
	h.Emit(testEvent("3", archive.StateDone))

	require.NoError(t, h.Close(context.Background()))
	require.Equal(t, 1, sink.count())
	require.Equal(t, "3", sink.events[0].IssueID)
}

func TestHubEmitAfterCloseIsNoop(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	h := NewHub(HubConfig{FlushInterval: 10 * time.Millisecond, Logger: zap.NewNop()}, sink)
	require.NoError(t, h.Close(context.Background()))

	h.Emit(testEvent("4", archive.StateDone))
	require.Zero(t, sink.count())
}

func TestEventValidate(t *testing.T) {
	t.Parallel()

	valid := testEvent("5", archive.StateDone)
	require.NoError(t, valid.Validate())

	missingIssue := valid
	missingIssue.IssueID = ""
	require.Error(t, missingIssue.Validate())

	badState := valid
	badState.State = archive.IssueState("warp")
	require.Error(t, badState.Validate())

	negativeDur := valid
	negativeDur.Dur = -time.Second
	require.Error(t, negativeDur.Validate())
}

func TestEventOutcomeStatus(t *testing.T) {
	t.Parallel()

	require.Equal(t, archive.StatusSucceeded, testEvent("1", archive.StateDone).OutcomeStatus())
	require.Equal(t, archive.StatusPartiallyFailed, testEvent("1", archive.StatePartiallyFailed).OutcomeStatus())
	require.Equal(t, archive.StatusFailed, testEvent("1", archive.StateFailedEarly).OutcomeStatus())
	require.Equal(t, archive.StatusIncomplete, testEvent("1", archive.StateIncomplete).OutcomeStatus())
	require.Empty(t, testEvent("1", archive.StateFetching).OutcomeStatus())
}
