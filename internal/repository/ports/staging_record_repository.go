package ports

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/njprem/ImportPipeline_BackEnd/internal/domain"
)

type StagingRecordRepository interface {
	InsertBatch(ctx context.Context, records []domain.StagingRecord) error
	// ApplyResult updates a pending record and reports its row number. applied
	// is false when the record had already left pending.
	ApplyResult(ctx context.Context, sessionID uuid.UUID, result domain.StagingResult, processedAt time.Time) (rowNumber int, applied bool, err error)
	CountByStatus(ctx context.Context, sessionID uuid.UUID) (domain.StagingCounts, error)
	List(ctx context.Context, filter domain.StagingRecordFilter) ([]domain.StagingRecord, error)
	Count(ctx context.Context, filter domain.StagingRecordFilter) (int, error)
	ListIDsByStatus(ctx context.Context, sessionID uuid.UUID, status domain.StagingStatus) ([]uuid.UUID, error)
	ResetFailed(ctx context.Context, sessionID uuid.UUID) (int, error)
}
