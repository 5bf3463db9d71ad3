package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/njprem/ImportPipeline_BackEnd/internal/domain"
)

const importSessionColumns = `
		id, tenant_id, is_live, session_name, import_type, status,
		source_file_key, source_file_name,
		total_records, processed_records, successful_records, failed_records, duplicate_records,
		current_batch, last_processed_row, processing_started_at, processing_completed_at,
		error_summary, workflow_execution_id, processing_metadata,
		created_by, created_at, updated_at`

type ImportSessionRepository struct {
	db sqlx.ExtContext
}

func NewImportSessionRepo(db sqlx.ExtContext) *ImportSessionRepository {
	return &ImportSessionRepository{db: db}
}

func (r *ImportSessionRepository) Create(ctx context.Context, session *domain.ImportSession) (*domain.ImportSession, error) {
	const query = `
		INSERT INTO import_session (
			id, tenant_id, is_live, session_name, import_type, status,
			source_file_key, source_file_name, total_records, processing_metadata,
			created_by, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, NOW(), NOW()
		)
		RETURNING` + importSessionColumns

	var inserted domain.ImportSession
	if err := sqlx.GetContext(ctx, r.db, &inserted, query,
		session.ID,
		session.TenantID,
		session.IsLive,
		session.SessionName,
		session.ImportType,
		session.Status,
		nullStringPtr(session.SourceFileKey),
		nullStringPtr(session.SourceFileName),
		session.TotalRecords,
		session.ProcessingMetadata,
		session.CreatedBy,
	); err != nil {
		return nil, err
	}
	return &inserted, nil
}

func (r *ImportSessionRepository) FindByKey(ctx context.Context, key domain.SessionKey) (*domain.ImportSession, error) {
	const query = `
		SELECT` + importSessionColumns + `
		FROM import_session
		WHERE tenant_id = $1 AND is_live = $2 AND id = $3
	`
	var session domain.ImportSession
	if err := sqlx.GetContext(ctx, r.db, &session, query, key.TenantID, key.IsLive, key.ID); err != nil {
		return nil, err
	}
	return &session, nil
}

// LockByKey reads the session row with FOR UPDATE; only meaningful inside a transaction.
func (r *ImportSessionRepository) LockByKey(ctx context.Context, key domain.SessionKey) (*domain.ImportSession, error) {
	const query = `
		SELECT` + importSessionColumns + `
		FROM import_session
		WHERE tenant_id = $1 AND is_live = $2 AND id = $3
		FOR UPDATE
	`
	var session domain.ImportSession
	if err := sqlx.GetContext(ctx, r.db, &session, query, key.TenantID, key.IsLive, key.ID); err != nil {
		return nil, err
	}
	return &session, nil
}

// LockByID is the callback path: the engine only knows the session id.
func (r *ImportSessionRepository) LockByID(ctx context.Context, id uuid.UUID) (*domain.ImportSession, error) {
	const query = `
		SELECT` + importSessionColumns + `
		FROM import_session
		WHERE id = $1
		FOR UPDATE
	`
	var session domain.ImportSession
	if err := sqlx.GetContext(ctx, r.db, &session, query, id); err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *ImportSessionRepository) List(ctx context.Context, filter domain.ImportSessionFilter) ([]domain.ImportSession, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	statuses := make([]string, 0, len(filter.Statuses))
	for _, s := range filter.Statuses {
		statuses = append(statuses, string(s))
	}

	const query = `
		SELECT` + importSessionColumns + `
		FROM import_session
		WHERE tenant_id = $1 AND is_live = $2
		  AND (cardinality($3::text[]) = 0 OR status = ANY($3))
		ORDER BY created_at DESC
		LIMIT $4 OFFSET $5
	`
	sessions := make([]domain.ImportSession, 0)
	if err := sqlx.SelectContext(ctx, r.db, &sessions, query,
		filter.TenantID, filter.IsLive, pq.Array(statuses), limit, filter.Offset,
	); err != nil {
		return nil, err
	}
	return sessions, nil
}

func (r *ImportSessionRepository) Update(ctx context.Context, session *domain.ImportSession, expected domain.ImportSessionStatus) (*domain.ImportSession, error) {
	const query = `
		UPDATE import_session
		SET status = $5,
		    total_records = $6,
		    processed_records = $7,
		    successful_records = $8,
		    failed_records = $9,
		    duplicate_records = $10,
		    current_batch = $11,
		    last_processed_row = $12,
		    processing_started_at = $13,
		    processing_completed_at = $14,
		    error_summary = $15,
		    workflow_execution_id = $16,
		    processing_metadata = $17,
		    updated_at = NOW()
		WHERE tenant_id = $1 AND is_live = $2 AND id = $3 AND status = $4
		RETURNING` + importSessionColumns

	var updated domain.ImportSession
	if err := sqlx.GetContext(ctx, r.db, &updated, query,
		session.TenantID,
		session.IsLive,
		session.ID,
		expected,
		session.Status,
		session.TotalRecords,
		session.ProcessedRecords,
		session.SuccessfulRecords,
		session.FailedRecords,
		session.DuplicateRecords,
		session.CurrentBatch,
		session.LastProcessedRow,
		nullTimePtr(session.ProcessingStartedAt),
		nullTimePtr(session.ProcessingCompletedAt),
		nullStringPtr(session.ErrorSummary),
		nullStringPtr(session.WorkflowExecutionID),
		session.ProcessingMetadata,
	); err != nil {
		return nil, err
	}
	return &updated, nil
}

func nullStringPtr(ptr *string) sql.NullString {
	if ptr == nil {
		return sql.NullString{Valid: false}
	}
	if *ptr == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: *ptr, Valid: true}
}

func nullTimePtr(ptr *time.Time) sql.NullTime {
	if ptr == nil {
		return sql.NullTime{Valid: false}
	}
	return sql.NullTime{Time: *ptr, Valid: true}
}
