package service

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/njprem/ImportPipeline_BackEnd/internal/domain"
	"github.com/njprem/ImportPipeline_BackEnd/internal/metrics"
	"github.com/njprem/ImportPipeline_BackEnd/internal/repository/ports"
)

type executionCanceller interface {
	CancelExecution(ctx context.Context, executionID string) error
}

type ImportSessionServiceConfig struct {
	Bucket       string
	MaxFileBytes int64
}

type CreateSessionInput struct {
	TenantID    uuid.UUID
	IsLive      bool
	CreatedBy   uuid.UUID
	SessionName string
	ImportType  domain.ImportType
	FileName    string
	ContentType string
	Contents    []byte
}

// ImportSessionService owns the session lifecycle. Every status write goes
// through applyTransition.
type ImportSessionService struct {
	store        ports.ImportStore
	storage      ports.ObjectStorage
	canceller    executionCanceller
	bucket       string
	maxFileBytes int64
	metrics      *metrics.Pipeline
	logger       logrus.FieldLogger
	now          func() time.Time
}

func NewImportSessionService(store ports.ImportStore, storage ports.ObjectStorage, canceller executionCanceller, logger logrus.FieldLogger, cfg ImportSessionServiceConfig) *ImportSessionService {
	maxFile := cfg.MaxFileBytes
	if maxFile <= 0 {
		maxFile = 20 * 1024 * 1024
	}
	return &ImportSessionService{
		store:        store,
		storage:      storage,
		canceller:    canceller,
		bucket:       cfg.Bucket,
		maxFileBytes: maxFile,
		metrics:      metrics.Default(),
		logger:       logger,
		now:          time.Now,
	}
}

// SetCanceller wires the component that stops engine executions on cancel.
// The dispatcher needs the session service, so it is attached after both exist.
func (s *ImportSessionService) SetCanceller(c executionCanceller) {
	s.canceller = c
}

func (s *ImportSessionService) Create(ctx context.Context, input CreateSessionInput) (*domain.ImportSession, error) {
	if !input.ImportType.Valid() {
		return nil, ErrInvalidImportType
	}
	name := strings.TrimSpace(input.SessionName)
	if name == "" {
		return nil, ErrSessionNameRequired
	}
	if len(input.Contents) == 0 {
		return nil, ErrEmptySource
	}
	if int64(len(input.Contents)) > s.maxFileBytes {
		return nil, ErrFileTooLarge
	}

	id := uuid.New()
	fileName := sanitizeFileName(input.FileName)
	objectName := sourceObjectName(input.TenantID, id, fileName)
	contentType := input.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	if s.storage != nil {
		key, err := s.storage.Upload(ctx, s.bucket, objectName, contentType, bytes.NewReader(input.Contents), int64(len(input.Contents)))
		if err != nil {
			return nil, fmt.Errorf("store source file: %w", err)
		}
		objectName = key
	}

	session := &domain.ImportSession{
		ID:             id,
		TenantID:       input.TenantID,
		IsLive:         input.IsLive,
		SessionName:    name,
		ImportType:     input.ImportType,
		Status:         domain.ImportSessionStatusPending,
		SourceFileKey:  &objectName,
		SourceFileName: &fileName,
		CreatedBy:      input.CreatedBy,
		ProcessingMetadata: domain.Metadata{
			"source": map[string]any{
				"fileName":    fileName,
				"contentType": contentType,
				"size":        len(input.Contents),
			},
		},
	}
	created, err := s.store.Sessions().Create(ctx, session)
	if err != nil {
		return nil, err
	}
	s.log(created.Key()).WithField("import_type", created.ImportType).Info("import session created")
	return created, nil
}

func (s *ImportSessionService) Get(ctx context.Context, key domain.SessionKey) (*domain.ImportSession, error) {
	session, err := s.store.Sessions().FindByKey(ctx, key)
	if err != nil {
		return nil, notFound(err)
	}
	return session, nil
}

func (s *ImportSessionService) List(ctx context.Context, filter domain.ImportSessionFilter) ([]domain.ImportSession, error) {
	return s.store.Sessions().List(ctx, filter)
}

// MarkStaged records the staged row count. It joins the caller's transaction
// when tx is one.
func (s *ImportSessionService) MarkStaged(ctx context.Context, tx ports.ImportStore, key domain.SessionKey, totalRows int, meta map[string]any) (*domain.ImportSession, error) {
	updated, from, err := applyTransition(ctx, tx, key, domain.ImportSessionStatusStaged, func(session *domain.ImportSession) {
		session.TotalRecords = totalRows
		session.ErrorSummary = nil
		if session.ProcessingMetadata == nil {
			session.ProcessingMetadata = domain.Metadata{}
		}
		session.ProcessingMetadata.Merge(meta)
	})
	if err != nil {
		return nil, err
	}
	s.metrics.Transition(string(from), string(updated.Status))
	return updated, nil
}

func (s *ImportSessionService) MarkProcessing(ctx context.Context, key domain.SessionKey) (*domain.ImportSession, error) {
	started := s.now()
	updated, from, err := applyTransition(ctx, s.store, key, domain.ImportSessionStatusProcessing, func(session *domain.ImportSession) {
		session.ProcessingStartedAt = &started
		session.ProcessingCompletedAt = nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.Transition(string(from), string(updated.Status))
	return updated, nil
}

// MarkFailed moves a non-terminal session to failed with a diagnostic summary.
func (s *ImportSessionService) MarkFailed(ctx context.Context, key domain.SessionKey, summary string) (*domain.ImportSession, error) {
	completed := s.now()
	updated, from, err := applyTransition(ctx, s.store, key, domain.ImportSessionStatusFailed, func(session *domain.ImportSession) {
		session.ErrorSummary = &summary
		session.ProcessingCompletedAt = &completed
	})
	if err != nil {
		return nil, err
	}
	s.metrics.Transition(string(from), string(updated.Status))
	return updated, nil
}

// Cancel stops a session and asks the engine to stop its execution. Engine
// cancellation is best-effort and never undoes the status change.
func (s *ImportSessionService) Cancel(ctx context.Context, key domain.SessionKey) (*domain.ImportSession, error) {
	completed := s.now()
	updated, from, err := applyTransition(ctx, s.store, key, domain.ImportSessionStatusCancelled, func(session *domain.ImportSession) {
		session.ProcessingCompletedAt = &completed
	})
	if err != nil {
		return nil, err
	}
	s.metrics.Transition(string(from), string(updated.Status))
	s.log(key).WithField("from", from).Info("import session cancelled")

	if s.canceller != nil && updated.WorkflowExecutionID != nil {
		if err := s.canceller.CancelExecution(ctx, *updated.WorkflowExecutionID); err != nil {
			s.log(key).WithError(err).Warn("workflow cancellation failed")
		}
	}
	return updated, nil
}

// failBestEffort runs after a rolled back transaction. It uses a detached
// context so a cancelled request still leaves a diagnostic behind.
func (s *ImportSessionService) failBestEffort(ctx context.Context, key domain.SessionKey, summary string) {
	ctx = context.WithoutCancel(ctx)
	if _, err := s.MarkFailed(ctx, key, summary); err != nil && !errors.Is(err, ErrInvalidTransition) {
		s.log(key).WithError(err).Error("could not mark import session failed")
	}
}

func (s *ImportSessionService) log(key domain.SessionKey) logrus.FieldLogger {
	return sessionLogger(s.logger, key)
}

// applyTransition locks the session row, checks the lifecycle table and
// writes next guarded by the locked status. It returns the status it moved from.
func applyTransition(ctx context.Context, store ports.ImportStore, key domain.SessionKey, next domain.ImportSessionStatus, mutate func(*domain.ImportSession)) (*domain.ImportSession, domain.ImportSessionStatus, error) {
	var (
		updated *domain.ImportSession
		from    domain.ImportSessionStatus
	)
	err := store.WithinTx(ctx, func(tx ports.ImportStore) error {
		current, err := tx.Sessions().LockByKey(ctx, key)
		if err != nil {
			return notFound(err)
		}
		from = current.Status
		if !from.CanTransition(next) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, next)
		}

		draft := *current
		draft.Status = next
		if mutate != nil {
			mutate(&draft)
		}
		updated, err = tx.Sessions().Update(ctx, &draft, from)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: status changed concurrently", ErrInvalidTransition)
		}
		return err
	})
	if err != nil {
		return nil, "", err
	}
	return updated, from, nil
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrSessionNotFound
	}
	return err
}

func sessionLogger(logger logrus.FieldLogger, key domain.SessionKey) logrus.FieldLogger {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return logger.WithFields(logrus.Fields{
		"session_id": key.ID.String(),
		"tenant_id":  key.TenantID.String(),
		"is_live":    key.IsLive,
	})
}

func sanitizeFileName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "upload.csv"
	}
	name = filepath.Base(name)
	return strings.ReplaceAll(name, " ", "_")
}

func sourceObjectName(tenantID, sessionID uuid.UUID, fileName string) string {
	return fmt.Sprintf("imports/%s/%s/%s", tenantID, sessionID, fileName)
}
