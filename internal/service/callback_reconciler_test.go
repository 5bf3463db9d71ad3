package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/njprem/ImportPipeline_BackEnd/internal/domain"
)

func TestCallbackReconciler_MixedOutcomes(t *testing.T) {
	h := newPipelineHarness(t)
	session, records := h.processing(t, 10)

	statuses := append(repeat(domain.StagingStatusSuccess, 7), repeat(domain.StagingStatusFailed, 2)...)
	statuses = append(statuses, domain.StagingStatusDuplicate)
	result, err := h.reconciler.Reconcile(context.Background(), callbackFor(session.ID, 1, records, statuses...))
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if result.Applied != 10 || result.Ignored != 0 {
		t.Fatalf("unexpected result %+v", result)
	}

	got := result.Session
	if got.Status != domain.ImportSessionStatusCompletedWithErrors {
		t.Fatalf("expected completed_with_errors, got %s", got.Status)
	}
	if got.SuccessfulRecords != 7 || got.FailedRecords != 2 || got.DuplicateRecords != 1 || got.ProcessedRecords != 10 {
		t.Fatalf("unexpected counters %+v", got)
	}
	if got.CurrentBatch != 1 || got.LastProcessedRow != 10 {
		t.Fatalf("unexpected progress markers batch=%d row=%d", got.CurrentBatch, got.LastProcessedRow)
	}
	if got.ProcessingCompletedAt == nil {
		t.Fatalf("expected completion time")
	}
	assertCountInvariant(t, h, got)

	rows := h.store.seeded(session.ID)
	if rows[0].CreatedRecordID == nil || *rows[0].CreatedRecordID != "cust-1" || rows[0].ProcessedAt == nil {
		t.Fatalf("expected created record on row 1, got %+v", rows[0])
	}
	if len(rows[7].ErrorMessages) != 1 {
		t.Fatalf("expected failure reason on row 8, got %v", rows[7].ErrorMessages)
	}
}

func TestCallbackReconciler_AllSuccessCompletes(t *testing.T) {
	h := newPipelineHarness(t)
	session, records := h.processing(t, 4)

	result, err := h.reconciler.Reconcile(context.Background(), callbackFor(session.ID, 1, records, repeat(domain.StagingStatusSuccess, 4)...))
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if result.Session.Status != domain.ImportSessionStatusCompleted {
		t.Fatalf("expected completed, got %s", result.Session.Status)
	}
}

func TestCallbackReconciler_ReplayIsIdempotent(t *testing.T) {
	h := newPipelineHarness(t)
	session, records := h.processing(t, 6)
	payload := callbackFor(session.ID, 1, records[:3], domain.StagingStatusSuccess, domain.StagingStatusFailed, domain.StagingStatusSkipped)

	first, err := h.reconciler.Reconcile(context.Background(), payload)
	if err != nil {
		t.Fatalf("first reconcile: %v", err)
	}
	payload.Results[1].Status = domain.StagingStatusSuccess
	second, err := h.reconciler.Reconcile(context.Background(), payload)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if second.Applied != 0 || second.Ignored != 3 {
		t.Fatalf("replay should apply nothing, got %+v", second)
	}

	a, b := first.Session, second.Session
	if a.ProcessedRecords != b.ProcessedRecords || a.SuccessfulRecords != b.SuccessfulRecords || a.FailedRecords != b.FailedRecords {
		t.Fatalf("replay changed counters: %+v vs %+v", a, b)
	}
	if b.Status != domain.ImportSessionStatusProcessing || b.ProcessedRecords != 3 {
		t.Fatalf("partial batch should stay processing with 3 processed, got %s %d", b.Status, b.ProcessedRecords)
	}
	if rows := h.store.seeded(session.ID); rows[1].ProcessingStatus != domain.StagingStatusFailed {
		t.Fatalf("final row status must not be overwritten, got %s", rows[1].ProcessingStatus)
	}
	assertCountInvariant(t, h, b)
}

func TestCallbackReconciler_LateCallbackKeepsCancelled(t *testing.T) {
	h := newPipelineHarness(t)
	session, records := h.processing(t, 3)
	if _, err := h.sessions.Cancel(context.Background(), session.Key()); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	result, err := h.reconciler.Reconcile(context.Background(), callbackFor(session.ID, 1, records, repeat(domain.StagingStatusSuccess, 3)...))
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if result.Session.Status != domain.ImportSessionStatusCancelled {
		t.Fatalf("cancelled session must not move, got %s", result.Session.Status)
	}
	assertCountInvariant(t, h, result.Session)
}

func TestCallbackReconciler_UnknownRecordRollsBack(t *testing.T) {
	h := newPipelineHarness(t)
	session, records := h.processing(t, 3)
	payload := callbackFor(session.ID, 1, records[:2], domain.StagingStatusSuccess, domain.StagingStatusSuccess)
	payload.Results = append(payload.Results, domain.StagingResult{StagingRecordID: uuid.New(), Status: domain.StagingStatusSuccess})

	_, err := h.reconciler.Reconcile(context.Background(), payload)
	if !errors.Is(err, ErrReconcileFailed) || !errors.Is(err, ErrStagingRecordNotFound) {
		t.Fatalf("expected reconcile failure for unknown record, got %v", err)
	}
	for _, rec := range h.store.seeded(session.ID) {
		if rec.ProcessingStatus != domain.StagingStatusPending {
			t.Fatalf("row %d should be rolled back, got %s", rec.RowNumber, rec.ProcessingStatus)
		}
	}
	got := h.store.session(session.ID)
	if got.Status != domain.ImportSessionStatusFailed || got.ProcessedRecords != 0 {
		t.Fatalf("expected failed session with untouched counters, got %s %d", got.Status, got.ProcessedRecords)
	}
	if got.ErrorSummary == nil {
		t.Fatalf("expected error summary")
	}
}

func TestCallbackReconciler_RecountFailureRollsBack(t *testing.T) {
	h := newPipelineHarness(t)
	session, records := h.processing(t, 2)
	h.store.root.failCount = errors.New("statement timeout")

	_, err := h.reconciler.Reconcile(context.Background(), callbackFor(session.ID, 1, records, repeat(domain.StagingStatusSuccess, 2)...))
	if !errors.Is(err, ErrReconcileFailed) {
		t.Fatalf("expected ErrReconcileFailed, got %v", err)
	}
	if rows := h.store.seeded(session.ID); rows[0].ProcessingStatus != domain.StagingStatusPending {
		t.Fatalf("row updates must roll back with the recount, got %s", rows[0].ProcessingStatus)
	}
}

func TestCallbackReconciler_EngineFailureWithPendingRows(t *testing.T) {
	h := newPipelineHarness(t)
	session, records := h.processing(t, 4)
	payload := callbackFor(session.ID, 2, records[:1], domain.StagingStatusSuccess)
	payload.Status = "failed"

	result, err := h.reconciler.Reconcile(context.Background(), payload)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if result.Session.Status != domain.ImportSessionStatusFailed || result.Session.ErrorSummary == nil {
		t.Fatalf("expected failed with summary, got %+v", result.Session)
	}
	if result.Session.CurrentBatch != 2 {
		t.Fatalf("expected batch 2, got %d", result.Session.CurrentBatch)
	}
}

func TestCallbackReconciler_ConcurrentBatches(t *testing.T) {
	h := newPipelineHarness(t)
	session, records := h.processing(t, 20)

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for i, half := range [][]domain.StagingRecord{records[:10], records[10:]} {
		wg.Add(1)
		go func(batch int, rows []domain.StagingRecord) {
			defer wg.Done()
			_, err := h.reconciler.Reconcile(context.Background(), callbackFor(session.ID, batch, rows, repeat(domain.StagingStatusSuccess, len(rows))...))
			errs <- err
		}(i+1, half)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("reconcile: %v", err)
		}
	}

	got := h.store.session(session.ID)
	if got.Status != domain.ImportSessionStatusCompleted || got.SuccessfulRecords != 20 {
		t.Fatalf("expected completed with 20 successes, got %s %d", got.Status, got.SuccessfulRecords)
	}
	if got.CurrentBatch != 2 || got.LastProcessedRow != 20 {
		t.Fatalf("unexpected progress markers batch=%d row=%d", got.CurrentBatch, got.LastProcessedRow)
	}
	assertCountInvariant(t, h, &got)
}

func TestCallbackReconciler_RejectsInvalidPayload(t *testing.T) {
	h := newPipelineHarness(t)
	session, records := h.processing(t, 1)

	cases := map[string]domain.CallbackPayload{
		"missing session": {Status: "completed", Results: []domain.StagingResult{}},
		"missing status":  {SessionID: session.ID, Results: []domain.StagingResult{}},
		"missing results": {SessionID: session.ID, Status: "completed"},
		"pending result": {SessionID: session.ID, Status: "completed", Results: []domain.StagingResult{
			{StagingRecordID: records[0].ID, Status: domain.StagingStatusPending},
		}},
	}
	for name, payload := range cases {
		if _, err := h.reconciler.Reconcile(context.Background(), payload); !errors.Is(err, ErrInvalidCallback) {
			t.Errorf("%s: expected ErrInvalidCallback, got %v", name, err)
		}
	}
	if got := h.store.session(session.ID); got.Status != domain.ImportSessionStatusProcessing {
		t.Fatalf("invalid callbacks must not mutate the session, got %s", got.Status)
	}
}

func TestCallbackReconciler_UnknownSession(t *testing.T) {
	h := newPipelineHarness(t)
	payload := domain.CallbackPayload{SessionID: uuid.New(), Status: "completed", Results: []domain.StagingResult{}}
	if _, err := h.reconciler.Reconcile(context.Background(), payload); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}
