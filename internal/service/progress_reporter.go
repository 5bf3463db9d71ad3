package service

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/njprem/ImportPipeline_BackEnd/internal/domain"
	"github.com/njprem/ImportPipeline_BackEnd/internal/repository/ports"
)

const (
	defaultRecordsPageSize = 50
	maxRecordsPageSize     = 500
	exportPageSize         = 1000
)

type SessionProgress struct {
	SessionID           string                     `json:"sessionId"`
	Status              domain.ImportSessionStatus `json:"status"`
	TotalRecords        int                        `json:"totalRecords"`
	ProcessedRecords    int                        `json:"processedRecords"`
	SuccessfulRecords   int                        `json:"successfulRecords"`
	FailedRecords       int                        `json:"failedRecords"`
	DuplicateRecords    int                        `json:"duplicateRecords"`
	PendingRecords      int                        `json:"pendingRecords"`
	CurrentBatch        int                        `json:"currentBatch"`
	LastProcessedRow    int                        `json:"lastProcessedRow"`
	PercentComplete     float64                    `json:"percentComplete"`
	RecordsPerSecond    float64                    `json:"recordsPerSecond"`
	EstimatedSecondsETA *float64                   `json:"estimatedSecondsRemaining,omitempty"`
	StartedAt           *time.Time                 `json:"startedAt,omitempty"`
	CompletedAt         *time.Time                 `json:"completedAt,omitempty"`
	ErrorSummary        *string                    `json:"errorSummary,omitempty"`
	WorkflowExecutionID *string                    `json:"workflowExecutionId,omitempty"`
}

type RecordsPage struct {
	Records  []domain.StagingRecord `json:"records"`
	Page     int                    `json:"page"`
	PageSize int                    `json:"pageSize"`
	Total    int                    `json:"total"`
}

// ProgressReporter answers read-only progress queries. Nothing it returns is
// cached; speed and ETA are derived on every call.
type ProgressReporter struct {
	store ports.ImportStore
	now   func() time.Time
}

func NewProgressReporter(store ports.ImportStore) *ProgressReporter {
	return &ProgressReporter{store: store, now: time.Now}
}

func (p *ProgressReporter) Status(ctx context.Context, key domain.SessionKey) (*SessionProgress, error) {
	session, err := p.store.Sessions().FindByKey(ctx, key)
	if err != nil {
		return nil, notFound(err)
	}

	pending := session.TotalRecords - session.ProcessedRecords
	if pending < 0 {
		pending = 0
	}
	progress := &SessionProgress{
		SessionID:           session.ID.String(),
		Status:              session.Status,
		TotalRecords:        session.TotalRecords,
		ProcessedRecords:    session.ProcessedRecords,
		SuccessfulRecords:   session.SuccessfulRecords,
		FailedRecords:       session.FailedRecords,
		DuplicateRecords:    session.DuplicateRecords,
		PendingRecords:      pending,
		CurrentBatch:        session.CurrentBatch,
		LastProcessedRow:    session.LastProcessedRow,
		StartedAt:           session.ProcessingStartedAt,
		CompletedAt:         session.ProcessingCompletedAt,
		ErrorSummary:        session.ErrorSummary,
		WorkflowExecutionID: session.WorkflowExecutionID,
	}
	if session.TotalRecords > 0 {
		progress.PercentComplete = round2(float64(session.ProcessedRecords) * 100 / float64(session.TotalRecords))
	}

	runProcessed := session.ProcessedRecords - metadataInt(session.ProcessingMetadata, runBaselineKey)
	if session.ProcessingStartedAt != nil && runProcessed > 0 {
		end := p.now()
		if session.ProcessingCompletedAt != nil {
			end = *session.ProcessingCompletedAt
		}
		elapsed := end.Sub(*session.ProcessingStartedAt).Seconds()
		if elapsed > 0 {
			speed := float64(runProcessed) / elapsed
			progress.RecordsPerSecond = round2(speed)
			if !session.Status.IsTerminal() && pending > 0 {
				eta := round2(float64(pending) / speed)
				progress.EstimatedSecondsETA = &eta
			}
		}
	}
	return progress, nil
}

func (p *ProgressReporter) Records(ctx context.Context, key domain.SessionKey, page, pageSize int, status *domain.StagingStatus) (*RecordsPage, error) {
	session, err := p.store.Sessions().FindByKey(ctx, key)
	if err != nil {
		return nil, notFound(err)
	}
	if status != nil && !status.Valid() {
		return nil, fmt.Errorf("%w: unknown record status %q", ErrInvalidInput, *status)
	}
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = defaultRecordsPageSize
	}
	if pageSize > maxRecordsPageSize {
		pageSize = maxRecordsPageSize
	}

	filter := domain.StagingRecordFilter{
		SessionID: session.ID,
		Status:    status,
		Limit:     pageSize,
		Offset:    (page - 1) * pageSize,
	}
	records, err := p.store.Staging().List(ctx, filter)
	if err != nil {
		return nil, err
	}
	total, err := p.store.Staging().Count(ctx, filter)
	if err != nil {
		return nil, err
	}
	return &RecordsPage{Records: records, Page: page, PageSize: pageSize, Total: total}, nil
}

// ExportFailed writes every failed staging row of the session as CSV.
func (p *ProgressReporter) ExportFailed(ctx context.Context, key domain.SessionKey, w io.Writer) (int, error) {
	session, err := p.store.Sessions().FindByKey(ctx, key)
	if err != nil {
		return 0, notFound(err)
	}

	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"row_number", "raw_data", "errors", "warnings", "processed_at"}); err != nil {
		return 0, err
	}

	failed := domain.StagingStatusFailed
	written := 0
	for offset := 0; ; offset += exportPageSize {
		records, err := p.store.Staging().List(ctx, domain.StagingRecordFilter{
			SessionID: session.ID,
			Status:    &failed,
			Limit:     exportPageSize,
			Offset:    offset,
		})
		if err != nil {
			return written, err
		}
		for _, rec := range records {
			raw, err := json.Marshal(rec.RawData)
			if err != nil {
				return written, err
			}
			processedAt := ""
			if rec.ProcessedAt != nil {
				processedAt = rec.ProcessedAt.UTC().Format(time.RFC3339)
			}
			if err := writer.Write([]string{
				strconv.Itoa(rec.RowNumber),
				string(raw),
				strings.Join(rec.ErrorMessages, "; "),
				strings.Join(rec.Warnings, "; "),
				processedAt,
			}); err != nil {
				return written, err
			}
			written++
		}
		if len(records) < exportPageSize {
			break
		}
	}
	writer.Flush()
	return written, writer.Error()
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
