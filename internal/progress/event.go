package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/redarc/redarc/internal/archive"
)

// Event captures a single issue state transition within a run.
type Event struct {
	// RunID identifies the batch run in 16-byte UUID form.
	RunID [16]byte
	// IssueID is the tracker identifier the transition belongs to.
	IssueID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// State is the state just entered.
	State archive.IssueState
	// Dur carries the issue's total processing time on terminal
	// transitions, zero otherwise.
	Dur time.Duration
	// Note holds error detail for failing transitions.
	Note string
	// PDFPath is set on Done/PartiallyFailed when a PDF was produced.
	PDFPath string
	// AttachmentsOK/AttachmentsFailed summarize the download step; they are
	// populated from the DownloadingAttachments transition onward.
	AttachmentsOK     int
	AttachmentsFailed int
	// Bytes counts attachment payload written so far for the issue.
	Bytes int64
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.IssueID == "" {
		return errors.New("issue id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.State {
	case archive.StatePending, archive.StateFetching, archive.StateParsing,
		archive.StateDownloadingAttachments, archive.StateRendering,
		archive.StateDone, archive.StateFailedEarly,
		archive.StatePartiallyFailed, archive.StateIncomplete:
	default:
		return fmt.Errorf("unknown state %q", e.State)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID for repositories.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

// OutcomeStatus maps a terminal state to the outcome verdict recorded for
// the issue; it returns "" for non-terminal states.
func (e Event) OutcomeStatus() archive.OutcomeStatus {
	switch e.State {
	case archive.StateDone:
		return archive.StatusSucceeded
	case archive.StatePartiallyFailed:
		return archive.StatusPartiallyFailed
	case archive.StateFailedEarly:
		return archive.StatusFailed
	case archive.StateIncomplete:
		return archive.StatusIncomplete
	}
	return ""
}
