package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/redarc/redarc/internal/progress"
	"github.com/redarc/redarc/internal/store"
)

// StoreSink persists terminal issue verdicts via a store.ArchiveRepository.
// Intermediate state transitions are ignored; the run row itself is owned by
// the orchestration layer.
type StoreSink struct {
	repo   store.ArchiveRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.ArchiveRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume records one outcome row per terminal event in the batch. It
// respects ctx deadlines and returns repository errors verbatim.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	for _, evt := range batch {
		status := evt.OutcomeStatus()
		if status == "" {
			continue
		}
		outcome := store.IssueOutcome{
			RunID:             evt.RunUUID(),
			IssueID:           evt.IssueID,
			Status:            string(status),
			AttachmentsOK:     evt.AttachmentsOK,
			AttachmentsFailed: evt.AttachmentsFailed,
			Bytes:             evt.Bytes,
			RecordedAt:        evt.TS,
		}
		if evt.PDFPath != "" {
			path := evt.PDFPath
			outcome.PDFPath = &path
		}
		if evt.Note != "" {
			note := evt.Note
			outcome.Note = &note
		}
		if err := s.repo.RecordOutcome(ctx, outcome); err != nil {
			return fmt.Errorf("record outcome %s: %w", evt.IssueID, err)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
