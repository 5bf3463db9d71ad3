package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/njprem/ImportPipeline_BackEnd/internal/domain"
)

const stagingRecordColumns = `
		id, session_id, tenant_id, is_live, row_number, raw_data, mapped_data,
		processing_status, error_messages, warnings, created_record_id, created_record_type,
		processed_at, created_at`

type StagingRecordRepository struct {
	db sqlx.ExtContext
}

func NewStagingRecordRepo(db sqlx.ExtContext) *StagingRecordRepository {
	return &StagingRecordRepository{db: db}
}

func (r *StagingRecordRepository) InsertBatch(ctx context.Context, records []domain.StagingRecord) error {
	if len(records) == 0 {
		return nil
	}
	const query = `
		INSERT INTO import_staging_record (
			id, session_id, tenant_id, is_live, row_number, raw_data, mapped_data,
			processing_status, error_messages, warnings, created_at
		) VALUES (
			:id, :session_id, :tenant_id, :is_live, :row_number, :raw_data, :mapped_data,
			:processing_status, :error_messages, :warnings, NOW()
		)
	`
	_, err := sqlx.NamedExecContext(ctx, r.db, query, records)
	return err
}

func (r *StagingRecordRepository) ApplyResult(ctx context.Context, sessionID uuid.UUID, result domain.StagingResult, processedAt time.Time) (int, bool, error) {
	const update = `
		UPDATE import_staging_record
		SET processing_status = $3,
		    error_messages = $4,
		    warnings = warnings || $5,
		    created_record_id = $6,
		    created_record_type = $7,
		    processed_at = $8
		WHERE id = $1 AND session_id = $2 AND processing_status = 'pending'
		RETURNING row_number
	`
	var rowNumber int
	err := sqlx.GetContext(ctx, r.db, &rowNumber, update,
		result.StagingRecordID,
		sessionID,
		result.Status,
		pq.StringArray(nonNil(result.Errors)),
		pq.StringArray(nonNil(result.Warnings)),
		nullStringPtr(result.CreatedRecordID),
		nullStringPtr(result.CreatedRecordType),
		processedAt,
	)
	if err == nil {
		return rowNumber, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, false, err
	}

	const lookup = `
		SELECT row_number
		FROM import_staging_record
		WHERE id = $1 AND session_id = $2
	`
	if err := sqlx.GetContext(ctx, r.db, &rowNumber, lookup, result.StagingRecordID, sessionID); err != nil {
		return 0, false, err
	}
	return rowNumber, false, nil
}

func (r *StagingRecordRepository) CountByStatus(ctx context.Context, sessionID uuid.UUID) (domain.StagingCounts, error) {
	const query = `
		SELECT
			COUNT(*) FILTER (WHERE processing_status = 'pending')   AS pending,
			COUNT(*) FILTER (WHERE processing_status = 'success')   AS success,
			COUNT(*) FILTER (WHERE processing_status = 'failed')    AS failed,
			COUNT(*) FILTER (WHERE processing_status = 'duplicate') AS duplicate,
			COUNT(*) FILTER (WHERE processing_status = 'skipped')   AS skipped
		FROM import_staging_record
		WHERE session_id = $1
	`
	var counts domain.StagingCounts
	if err := sqlx.GetContext(ctx, r.db, &counts, query, sessionID); err != nil {
		return domain.StagingCounts{}, err
	}
	return counts, nil
}

func (r *StagingRecordRepository) List(ctx context.Context, filter domain.StagingRecordFilter) ([]domain.StagingRecord, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	const query = `
		SELECT` + stagingRecordColumns + `
		FROM import_staging_record
		WHERE session_id = $1 AND ($2::text IS NULL OR processing_status = $2)
		ORDER BY row_number ASC
		LIMIT $3 OFFSET $4
	`
	records := make([]domain.StagingRecord, 0)
	if err := sqlx.SelectContext(ctx, r.db, &records, query,
		filter.SessionID, statusArg(filter.Status), limit, filter.Offset,
	); err != nil {
		return nil, err
	}
	return records, nil
}

func (r *StagingRecordRepository) Count(ctx context.Context, filter domain.StagingRecordFilter) (int, error) {
	const query = `
		SELECT COUNT(*)
		FROM import_staging_record
		WHERE session_id = $1 AND ($2::text IS NULL OR processing_status = $2)
	`
	var total int
	if err := sqlx.GetContext(ctx, r.db, &total, query, filter.SessionID, statusArg(filter.Status)); err != nil {
		return 0, err
	}
	return total, nil
}

func (r *StagingRecordRepository) ListIDsByStatus(ctx context.Context, sessionID uuid.UUID, status domain.StagingStatus) ([]uuid.UUID, error) {
	const query = `
		SELECT id
		FROM import_staging_record
		WHERE session_id = $1 AND processing_status = $2
		ORDER BY row_number ASC
	`
	ids := make([]uuid.UUID, 0)
	if err := sqlx.SelectContext(ctx, r.db, &ids, query, sessionID, status); err != nil {
		return nil, err
	}
	return ids, nil
}

// ResetFailed returns failed rows to pending. Their errors are kept as
// warnings prefixed with PreviousAttemptPrefix.
func (r *StagingRecordRepository) ResetFailed(ctx context.Context, sessionID uuid.UUID) (int, error) {
	const query = `
		UPDATE import_staging_record
		SET processing_status = 'pending',
		    warnings = warnings || ARRAY(SELECT $2::text || msg FROM unnest(error_messages) AS msg),
		    error_messages = '{}',
		    created_record_id = NULL,
		    created_record_type = NULL,
		    processed_at = NULL
		WHERE session_id = $1 AND processing_status = 'failed'
	`
	res, err := r.db.ExecContext(ctx, query, sessionID, domain.PreviousAttemptPrefix)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func statusArg(status *domain.StagingStatus) sql.NullString {
	if status == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*status), Valid: true}
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
