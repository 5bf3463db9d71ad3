package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/njprem/ImportPipeline_BackEnd/internal/domain"
	"github.com/njprem/ImportPipeline_BackEnd/internal/metrics"
	"github.com/njprem/ImportPipeline_BackEnd/internal/repository/ports"
)

type ReconcileResult struct {
	Session *domain.ImportSession
	Applied int
	Ignored int
}

// CallbackReconciler folds one engine callback into staging rows and session
// aggregates inside a single transaction. Aggregates are always recounted from
// the staging rows, so replaying a callback changes nothing.
type CallbackReconciler struct {
	store    ports.ImportStore
	sessions *ImportSessionService
	metrics  *metrics.Pipeline
	logger   logrus.FieldLogger
	now      func() time.Time
}

func NewCallbackReconciler(store ports.ImportStore, sessions *ImportSessionService, logger logrus.FieldLogger) *CallbackReconciler {
	return &CallbackReconciler{
		store:    store,
		sessions: sessions,
		metrics:  metrics.Default(),
		logger:   logger,
		now:      time.Now,
	}
}

func (r *CallbackReconciler) Reconcile(ctx context.Context, payload domain.CallbackPayload) (*ReconcileResult, error) {
	if err := validateCallback(payload); err != nil {
		r.metrics.Reconciled("invalid")
		return nil, err
	}

	var (
		key    domain.SessionKey
		locked bool
		result ReconcileResult
	)
	err := r.store.WithinTx(ctx, func(tx ports.ImportStore) error {
		current, err := tx.Sessions().LockByID(ctx, payload.SessionID)
		if err != nil {
			return notFound(err)
		}
		key, locked = current.Key(), true

		processedAt := r.now()
		lastRow := current.LastProcessedRow
		for _, res := range payload.Results {
			rowNumber, applied, err := tx.Staging().ApplyResult(ctx, current.ID, res, processedAt)
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: %s", ErrStagingRecordNotFound, res.StagingRecordID)
			}
			if err != nil {
				return fmt.Errorf("apply result %s: %w", res.StagingRecordID, err)
			}
			if applied {
				result.Applied++
			} else {
				result.Ignored++
			}
			if rowNumber > lastRow {
				lastRow = rowNumber
			}
		}

		counts, err := tx.Staging().CountByStatus(ctx, current.ID)
		if err != nil {
			return fmt.Errorf("recount staging rows: %w", err)
		}

		draft := *current
		draft.ApplyCounts(counts)
		draft.LastProcessedRow = lastRow
		if payload.BatchNumber > draft.CurrentBatch {
			draft.CurrentBatch = payload.BatchNumber
		}
		draft.ProcessingMetadata = cloneMetadata(current.ProcessingMetadata)
		draft.ProcessingMetadata.Merge(map[string]any{
			"engine_status": payload.Status,
			"last_batch":    payload.BatchNumber,
			"batch_summaries": map[string]any{
				strconv.Itoa(payload.BatchNumber): batchSummary(payload, result, processedAt),
			},
		})

		next := decideStatus(current.Status, counts, payload.Status)
		if next != current.Status {
			if next.IsTerminal() {
				draft.ProcessingCompletedAt = &processedAt
			}
			if next == domain.ImportSessionStatusFailed {
				summary := fmt.Sprintf("workflow engine reported %s with %d records pending", payload.Status, counts.Pending)
				draft.ErrorSummary = &summary
			}
		}
		draft.Status = next

		// Status is the last write of the transaction.
		updated, err := tx.Sessions().Update(ctx, &draft, current.Status)
		if err != nil {
			return fmt.Errorf("update session: %w", err)
		}
		result.Session = updated
		if next != current.Status {
			r.metrics.Transition(string(current.Status), string(next))
		}
		return nil
	})
	if err != nil {
		r.metrics.Reconciled("error")
		if errors.Is(err, ErrSessionNotFound) {
			return nil, err
		}
		log := r.logger
		if log == nil {
			log = logrus.StandardLogger()
		}
		log.WithError(err).WithField("session_id", payload.SessionID.String()).Error("callback reconciliation failed")
		if locked {
			r.sessions.failBestEffort(ctx, key, fmt.Sprintf("callback reconciliation failed for batch %d: %v", payload.BatchNumber, err))
		}
		return nil, fmt.Errorf("%w: %w", ErrReconcileFailed, err)
	}

	outcome := "applied"
	if result.Applied == 0 {
		outcome = "noop"
	}
	r.metrics.Reconciled(outcome)
	sessionLogger(r.logger, key).WithFields(logrus.Fields{
		"batch":   payload.BatchNumber,
		"applied": result.Applied,
		"ignored": result.Ignored,
		"status":  result.Session.Status,
	}).Info("callback reconciled")
	return &result, nil
}

// decideStatus only moves a processing session. Any other status, terminal or
// not yet dispatched, is left as it is so late callbacks cannot regress it.
func decideStatus(current domain.ImportSessionStatus, counts domain.StagingCounts, engineStatus string) domain.ImportSessionStatus {
	if current != domain.ImportSessionStatusProcessing {
		return current
	}
	if counts.Pending == 0 {
		if counts.Failed > 0 {
			return domain.ImportSessionStatusCompletedWithErrors
		}
		return domain.ImportSessionStatusCompleted
	}
	if engineReportedFailure(engineStatus) {
		return domain.ImportSessionStatusFailed
	}
	return current
}

func engineReportedFailure(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "failed", "error", "aborted":
		return true
	}
	return false
}

func validateCallback(payload domain.CallbackPayload) error {
	if payload.SessionID == uuid.Nil {
		return fmt.Errorf("%w: sessionId is required", ErrInvalidCallback)
	}
	if strings.TrimSpace(payload.Status) == "" {
		return fmt.Errorf("%w: status is required", ErrInvalidCallback)
	}
	if payload.Results == nil {
		return fmt.Errorf("%w: results is required", ErrInvalidCallback)
	}
	for i, res := range payload.Results {
		if res.StagingRecordID == uuid.Nil {
			return fmt.Errorf("%w: results[%d].stagingRecordId is required", ErrInvalidCallback, i)
		}
		if !res.Status.IsTerminal() {
			return fmt.Errorf("%w: results[%d].status %q is not a final status", ErrInvalidCallback, i, res.Status)
		}
	}
	return nil
}

func batchSummary(payload domain.CallbackPayload, result ReconcileResult, receivedAt time.Time) map[string]any {
	summary := map[string]any{
		"status":           payload.Status,
		"processedRecords": payload.ProcessedRecords,
		"results":          len(payload.Results),
		"applied":          result.Applied,
		"ignored":          result.Ignored,
		"receivedAt":       receivedAt.UTC().Format(time.RFC3339),
	}
	if len(payload.Summary) > 0 {
		summary["engine"] = payload.Summary
	}
	return summary
}
