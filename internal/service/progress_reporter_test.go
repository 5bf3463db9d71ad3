package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"testing"
	"time"

	"github.com/njprem/ImportPipeline_BackEnd/internal/domain"
)

func TestProgressReporter_StatusDerivesSpeedAndETA(t *testing.T) {
	h := newPipelineHarness(t)
	session, records := h.processing(t, 10)
	h.clock = h.clock.Add(10 * time.Second)
	if _, err := h.reconciler.Reconcile(context.Background(), callbackFor(session.ID, 1, records[:4], repeat(domain.StagingStatusSuccess, 4)...)); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	progress, err := h.reporter.Status(context.Background(), session.Key())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if progress.PercentComplete != 40 || progress.PendingRecords != 6 {
		t.Fatalf("unexpected progress %+v", progress)
	}
	if progress.RecordsPerSecond != 0.4 {
		t.Fatalf("expected 0.4 records/s, got %v", progress.RecordsPerSecond)
	}
	if progress.EstimatedSecondsETA == nil || *progress.EstimatedSecondsETA != 15 {
		t.Fatalf("expected 15s remaining, got %v", progress.EstimatedSecondsETA)
	}
}

func TestProgressReporter_NoETAOnceTerminal(t *testing.T) {
	h := newPipelineHarness(t)
	session, records := h.processing(t, 2)
	h.clock = h.clock.Add(4 * time.Second)
	if _, err := h.reconciler.Reconcile(context.Background(), callbackFor(session.ID, 1, records, repeat(domain.StagingStatusSuccess, 2)...)); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	h.clock = h.clock.Add(time.Hour)

	progress, err := h.reporter.Status(context.Background(), session.Key())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if progress.Status != domain.ImportSessionStatusCompleted || progress.PercentComplete != 100 {
		t.Fatalf("unexpected progress %+v", progress)
	}
	if progress.EstimatedSecondsETA != nil {
		t.Fatalf("terminal sessions have no ETA")
	}
	if progress.RecordsPerSecond != 0.5 {
		t.Fatalf("speed should stop at completion, got %v", progress.RecordsPerSecond)
	}
}

func TestProgressReporter_ReprocessRunMeasuresOnlyResetRows(t *testing.T) {
	h := newPipelineHarness(t)
	session, records := h.processing(t, 10)
	statuses := append(repeat(domain.StagingStatusSuccess, 6), repeat(domain.StagingStatusFailed, 4)...)
	h.clock = h.clock.Add(time.Minute)
	if _, err := h.reconciler.Reconcile(context.Background(), callbackFor(session.ID, 1, records, statuses...)); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	h.clock = h.clock.Add(time.Hour)
	if _, err := h.dispatcher.Reprocess(context.Background(), session.Key()); err != nil {
		t.Fatalf("reprocess: %v", err)
	}

	progress, err := h.reporter.Status(context.Background(), session.Key())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if progress.ProcessedRecords != 6 || progress.PendingRecords != 4 {
		t.Fatalf("unexpected progress %+v", progress)
	}
	if progress.RecordsPerSecond != 0 || progress.EstimatedSecondsETA != nil {
		t.Fatalf("rows from the first run must not count towards speed, got %v eta %v", progress.RecordsPerSecond, progress.EstimatedSecondsETA)
	}

	h.clock = h.clock.Add(4 * time.Second)
	retried := h.store.seeded(session.ID)[6:8]
	if _, err := h.reconciler.Reconcile(context.Background(), callbackFor(session.ID, 2, retried, repeat(domain.StagingStatusSuccess, 2)...)); err != nil {
		t.Fatalf("second reconcile: %v", err)
	}
	progress, err = h.reporter.Status(context.Background(), session.Key())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if progress.RecordsPerSecond != 0.5 {
		t.Fatalf("expected 0.5 records/s for this run, got %v", progress.RecordsPerSecond)
	}
	if progress.EstimatedSecondsETA == nil || *progress.EstimatedSecondsETA != 4 {
		t.Fatalf("expected 4s remaining, got %v", progress.EstimatedSecondsETA)
	}
}

func TestProgressReporter_StagedSessionHasNoSpeed(t *testing.T) {
	h := newPipelineHarness(t)
	session := h.staged(t, 3)

	progress, err := h.reporter.Status(context.Background(), session.Key())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if progress.PercentComplete != 0 || progress.RecordsPerSecond != 0 || progress.EstimatedSecondsETA != nil {
		t.Fatalf("unexpected progress %+v", progress)
	}
}

func TestProgressReporter_RecordsPaging(t *testing.T) {
	h := newPipelineHarness(t)
	session, records := h.processing(t, 7)
	statuses := []domain.StagingStatus{
		domain.StagingStatusFailed, domain.StagingStatusSuccess, domain.StagingStatusFailed,
	}
	if _, err := h.reconciler.Reconcile(context.Background(), callbackFor(session.ID, 1, records[:3], statuses...)); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	page, err := h.reporter.Records(context.Background(), session.Key(), 2, 3, nil)
	if err != nil {
		t.Fatalf("records: %v", err)
	}
	if page.Total != 7 || len(page.Records) != 3 || page.Records[0].RowNumber != 4 {
		t.Fatalf("unexpected page %+v", page)
	}

	failed := domain.StagingStatusFailed
	page, err = h.reporter.Records(context.Background(), session.Key(), 1, 0, &failed)
	if err != nil {
		t.Fatalf("records: %v", err)
	}
	if page.Total != 2 || page.PageSize != defaultRecordsPageSize || page.Records[1].RowNumber != 3 {
		t.Fatalf("unexpected filtered page %+v", page)
	}

	bogus := domain.StagingStatus("exploded")
	if _, err := h.reporter.Records(context.Background(), session.Key(), 1, 10, &bogus); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestProgressReporter_ExportFailed(t *testing.T) {
	h := newPipelineHarness(t)
	session, records := h.processing(t, 4)
	statuses := []domain.StagingStatus{
		domain.StagingStatusSuccess, domain.StagingStatusFailed, domain.StagingStatusSuccess, domain.StagingStatusFailed,
	}
	if _, err := h.reconciler.Reconcile(context.Background(), callbackFor(session.ID, 1, records, statuses...)); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	var buf bytes.Buffer
	n, err := h.reporter.ExportFailed(context.Background(), session.Key(), &buf)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 failed rows, got %d", n)
	}
	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(rows) != 3 || rows[0][0] != "row_number" {
		t.Fatalf("unexpected csv %v", rows)
	}
	if rows[1][0] != "2" || rows[2][0] != "4" || rows[1][2] != "customer rejected" {
		t.Fatalf("unexpected failed rows %v", rows[1:])
	}
}
