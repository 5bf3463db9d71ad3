package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/njprem/ImportPipeline_BackEnd/internal/domain"
	"github.com/njprem/ImportPipeline_BackEnd/internal/metrics"
	"github.com/njprem/ImportPipeline_BackEnd/internal/repository/ports"
)

const localExecutionPrefix = "local-"

type WorkflowDispatcherConfig struct {
	MaxAttempts int
	BackoffBase time.Duration
	BatchSize   int
	CallbackURL string
}

type DispatchResult struct {
	Session      *domain.ImportSession
	ExecutionID  string
	Attempts     int
	ResetRecords int
}

// WorkflowDispatcher hands staged sessions to the workflow engine. Results
// come back later through CallbackReconciler.
type WorkflowDispatcher struct {
	store       ports.ImportStore
	sessions    *ImportSessionService
	engine      ports.WorkflowEngine
	maxAttempts int
	backoffBase time.Duration
	batchSize   int
	callbackURL string
	sleep       func(ctx context.Context, d time.Duration) error
	metrics     *metrics.Pipeline
	logger      logrus.FieldLogger
	now         func() time.Time
}

func NewWorkflowDispatcher(store ports.ImportStore, sessions *ImportSessionService, engine ports.WorkflowEngine, logger logrus.FieldLogger, cfg WorkflowDispatcherConfig) *WorkflowDispatcher {
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	base := cfg.BackoffBase
	if base <= 0 {
		base = time.Second
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 100
	}
	return &WorkflowDispatcher{
		store:       store,
		sessions:    sessions,
		engine:      engine,
		maxAttempts: attempts,
		backoffBase: base,
		batchSize:   batch,
		callbackURL: cfg.CallbackURL,
		sleep:       sleepContext,
		metrics:     metrics.Default(),
		logger:      logger,
		now:         time.Now,
	}
}

// Dispatch moves a staged session to processing and submits it to the engine.
// When every attempt fails the session ends in failed and ErrDispatchFailed is returned.
func (d *WorkflowDispatcher) Dispatch(ctx context.Context, key domain.SessionKey) (*DispatchResult, error) {
	session, err := d.sessions.MarkProcessing(ctx, key)
	if err != nil {
		return nil, err
	}
	return d.submit(ctx, session, nil)
}

// Reprocess resets the failed rows of a completed_with_errors session to
// pending and dispatches only those rows again.
func (d *WorkflowDispatcher) Reprocess(ctx context.Context, key domain.SessionKey) (*DispatchResult, error) {
	var (
		updated *domain.ImportSession
		reset   int
		ids     []uuid.UUID
	)
	err := d.store.WithinTx(ctx, func(tx ports.ImportStore) error {
		current, err := tx.Sessions().LockByKey(ctx, key)
		if err != nil {
			return notFound(err)
		}
		if current.Status != domain.ImportSessionStatusCompletedWithErrors {
			return fmt.Errorf("%w: cannot reprocess a %s session", ErrInvalidTransition, current.Status)
		}

		reset, err = tx.Staging().ResetFailed(ctx, current.ID)
		if err != nil {
			return err
		}
		if reset == 0 {
			return ErrNothingToReprocess
		}
		ids, err = tx.Staging().ListIDsByStatus(ctx, current.ID, domain.StagingStatusPending)
		if err != nil {
			return err
		}
		counts, err := tx.Staging().CountByStatus(ctx, current.ID)
		if err != nil {
			return err
		}

		started := d.now()
		draft := *current
		draft.ApplyCounts(counts)
		draft.Status = domain.ImportSessionStatusProcessing
		draft.ProcessingStartedAt = &started
		draft.ProcessingCompletedAt = nil
		draft.ErrorSummary = nil
		draft.ProcessingMetadata = cloneMetadata(current.ProcessingMetadata)
		draft.ProcessingMetadata["reprocess_count"] = metadataInt(draft.ProcessingMetadata, "reprocess_count") + 1
		draft.ProcessingMetadata["last_reprocessed_at"] = started.UTC().Format(time.RFC3339)
		draft.ProcessingMetadata[runBaselineKey] = draft.ProcessedRecords

		updated, err = tx.Sessions().Update(ctx, &draft, current.Status)
		if err != nil {
			return notFound(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	d.metrics.Transition(string(domain.ImportSessionStatusCompletedWithErrors), string(domain.ImportSessionStatusProcessing))
	sessionLogger(d.logger, key).WithField("reset_records", reset).Info("reprocessing failed records")

	recordIDs := make([]any, 0, len(ids))
	for _, id := range ids {
		recordIDs = append(recordIDs, id.String())
	}
	result, err := d.submit(ctx, updated, map[string]any{
		"reprocess":        true,
		"stagingRecordIds": recordIDs,
	})
	if err != nil {
		return nil, err
	}
	result.ResetRecords = reset
	return result, nil
}

// CancelExecution asks the engine to stop an execution. An execution the
// engine no longer knows about counts as cancelled.
func (d *WorkflowDispatcher) CancelExecution(ctx context.Context, executionID string) error {
	if executionID == "" || strings.HasPrefix(executionID, localExecutionPrefix) {
		return nil
	}
	if err := d.engine.Cancel(ctx, executionID); err != nil {
		if errors.Is(err, ports.ErrWorkflowExecutionNotFound) {
			return nil
		}
		return err
	}
	return nil
}

func (d *WorkflowDispatcher) submit(ctx context.Context, session *domain.ImportSession, extra map[string]any) (*DispatchResult, error) {
	key := session.Key()
	log := sessionLogger(d.logger, key)

	meta := map[string]any{
		"sessionName":  session.SessionName,
		"totalRecords": session.TotalRecords,
	}
	if mappings, ok := session.ProcessingMetadata["mappings"]; ok {
		meta["mappings"] = mappings
	}
	for k, v := range extra {
		meta[k] = v
	}
	req := domain.WorkflowRequest{
		SessionID:   session.ID,
		ImportType:  session.ImportType,
		TenantID:    session.TenantID,
		IsLive:      session.IsLive,
		BatchSize:   d.batchSize,
		CallbackURL: d.callbackURL,
		Metadata:    meta,
	}

	exec, attempts, err := d.submitWithRetry(ctx, req, log)
	if err != nil {
		summary := fmt.Sprintf("workflow dispatch failed after %d attempts: %v", attempts, err)
		d.sessions.failBestEffort(ctx, key, summary)
		log.WithError(err).WithField("attempts", attempts).Error("workflow dispatch exhausted")
		return nil, fmt.Errorf("%w: %v", ErrDispatchFailed, err)
	}

	executionID := strings.TrimSpace(exec.ExecutionID)
	if executionID == "" {
		executionID = localExecutionPrefix + uuid.NewString()
	}

	updated, err := d.recordExecution(ctx, key, executionID, exec.Status, attempts)
	if err != nil {
		return nil, err
	}
	log.WithFields(logrus.Fields{
		"execution_id": executionID,
		"attempts":     attempts,
	}).Info("workflow dispatched")

	return &DispatchResult{Session: updated, ExecutionID: executionID, Attempts: attempts}, nil
}

func (d *WorkflowDispatcher) submitWithRetry(ctx context.Context, req domain.WorkflowRequest, log logrus.FieldLogger) (*domain.WorkflowExecution, int, error) {
	var lastErr error
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		started := time.Now()
		exec, err := d.engine.Submit(ctx, req)
		elapsed := time.Since(started).Seconds()
		if err == nil && exec != nil {
			d.metrics.DispatchAttempt(string(req.ImportType), "ok", elapsed)
			return exec, attempt, nil
		}
		if err == nil {
			err = errors.New("workflow engine returned no execution")
		}
		lastErr = err
		d.metrics.DispatchAttempt(string(req.ImportType), "error", elapsed)
		log.WithError(err).WithField("attempt", attempt).Warn("workflow submit failed")

		if attempt == d.maxAttempts {
			break
		}
		if err := d.sleep(ctx, backoff(attempt, d.backoffBase)); err != nil {
			return nil, attempt, errors.Join(lastErr, err)
		}
	}
	return nil, d.maxAttempts, lastErr
}

// recordExecution stores the execution id without touching the status. A
// session cancelled while the request was in flight keeps its status and the
// engine is asked to stop.
func (d *WorkflowDispatcher) recordExecution(ctx context.Context, key domain.SessionKey, executionID, engineStatus string, attempts int) (*domain.ImportSession, error) {
	var updated *domain.ImportSession
	err := d.store.WithinTx(ctx, func(tx ports.ImportStore) error {
		current, err := tx.Sessions().LockByKey(ctx, key)
		if err != nil {
			return notFound(err)
		}
		draft := *current
		draft.WorkflowExecutionID = &executionID
		draft.ProcessingMetadata = cloneMetadata(current.ProcessingMetadata)
		draft.ProcessingMetadata.Merge(map[string]any{
			"dispatch": map[string]any{
				"attempts":     attempts,
				"dispatchedAt": d.now().UTC().Format(time.RFC3339),
				"engineStatus": engineStatus,
			},
		})
		updated, err = tx.Sessions().Update(ctx, &draft, current.Status)
		return notFound(err)
	})
	if err != nil {
		return nil, err
	}
	if updated.Status == domain.ImportSessionStatusCancelled {
		if err := d.CancelExecution(context.WithoutCancel(ctx), executionID); err != nil {
			sessionLogger(d.logger, key).WithError(err).Warn("workflow cancellation failed")
		}
	}
	return updated, nil
}

// backoff returns base * 2^(attempt-1).
func backoff(attempt int, base time.Duration) time.Duration {
	if attempt <= 0 {
		return 0
	}
	return time.Duration(math.Pow(2, float64(attempt-1)) * float64(base))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func cloneMetadata(src domain.Metadata) domain.Metadata {
	out := domain.Metadata{}
	out.Merge(src)
	return out
}

// runBaselineKey records how many rows were already processed when the current
// processing run started. Progress speed only counts rows beyond it.
const runBaselineKey = "run_baseline_processed"

func metadataInt(meta domain.Metadata, key string) int {
	switch v := meta[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
