package service

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/njprem/ImportPipeline_BackEnd/internal/domain"
	"github.com/njprem/ImportPipeline_BackEnd/internal/logging"
)

type pipelineHarness struct {
	store      *memoryStore
	objects    *memoryObjects
	engine     *fakeEngine
	sessions   *ImportSessionService
	populator  *StagingPopulator
	dispatcher *WorkflowDispatcher
	reconciler *CallbackReconciler
	reporter   *ProgressReporter
	delays     []time.Duration
	tenantID   uuid.UUID
	clock      time.Time
}

func newPipelineHarness(t *testing.T) *pipelineHarness {
	t.Helper()
	logger := logging.Discard()
	h := &pipelineHarness{
		store:    newMemoryStore(),
		objects:  newMemoryObjects(),
		engine:   &fakeEngine{executionID: "exec-1"},
		tenantID: uuid.New(),
		clock:    time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC),
	}
	now := func() time.Time { return h.clock }

	h.sessions = NewImportSessionService(h.store, h.objects, nil, logger, ImportSessionServiceConfig{Bucket: "import-sources"})
	h.sessions.now = now
	h.dispatcher = NewWorkflowDispatcher(h.store, h.sessions, h.engine, logger, WorkflowDispatcherConfig{
		MaxAttempts: 3,
		BackoffBase: time.Second,
		BatchSize:   25,
		CallbackURL: "http://localhost:8080/api/v1/imports/callback",
	})
	h.dispatcher.now = now
	h.dispatcher.sleep = func(ctx context.Context, d time.Duration) error {
		h.delays = append(h.delays, d)
		return nil
	}
	h.sessions.SetCanceller(h.dispatcher)
	h.populator = NewStagingPopulator(h.store, h.sessions, h.objects, logger, StagingPopulatorConfig{InsertChunk: 4})
	h.reconciler = NewCallbackReconciler(h.store, h.sessions, logger)
	h.reconciler.now = now
	h.reporter = NewProgressReporter(h.store)
	h.reporter.now = now
	return h
}

func customerMappings() []domain.FieldMapping {
	return []domain.FieldMapping{
		{SourceField: "Ref", TargetField: "customer_reference", IsActive: true, Transformation: domain.TransformationUppercase},
		{SourceField: "First", TargetField: "first_name", IsActive: true},
		{SourceField: "Last", TargetField: "last_name", IsActive: true},
		{SourceField: "Email", TargetField: "email", IsActive: true, Transformation: domain.TransformationLowercase},
		{SourceField: "Phone", TargetField: "phone", IsActive: true, Transformation: domain.TransformationNormalizePhone},
	}
}

func customerCSV(rows int) string {
	lines := []string{"Ref,First,Last,Email,Phone"}
	for i := 1; i <= rows; i++ {
		lines = append(lines, fmt.Sprintf("c-%03d,First%d,Last%d,User%d@Example.com,+44 7700 900%03d", i, i, i, i, i))
	}
	return strings.Join(lines, "\n") + "\n"
}

func (h *pipelineHarness) create(t *testing.T, contents string) *domain.ImportSession {
	t.Helper()
	session, err := h.sessions.Create(context.Background(), CreateSessionInput{
		TenantID:    h.tenantID,
		IsLive:      true,
		CreatedBy:   uuid.New(),
		SessionName: "July customers",
		ImportType:  domain.ImportTypeCustomerData,
		FileName:    "customers.csv",
		ContentType: "text/csv",
		Contents:    []byte(contents),
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return session
}

func (h *pipelineHarness) staged(t *testing.T, rows int) *domain.ImportSession {
	t.Helper()
	session := h.create(t, customerCSV(rows))
	result, err := h.populator.Populate(context.Background(), session.Key(), "", customerMappings())
	if err != nil {
		t.Fatalf("populate: %v", err)
	}
	return result.Session
}

func (h *pipelineHarness) processing(t *testing.T, rows int) (*domain.ImportSession, []domain.StagingRecord) {
	t.Helper()
	session := h.staged(t, rows)
	result, err := h.dispatcher.Dispatch(context.Background(), session.Key())
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	return result.Session, h.store.seeded(session.ID)
}

func callbackFor(sessionID uuid.UUID, batch int, records []domain.StagingRecord, statuses ...domain.StagingStatus) domain.CallbackPayload {
	payload := domain.CallbackPayload{
		SessionID:        sessionID,
		BatchNumber:      batch,
		Status:           "completed",
		ProcessedRecords: len(statuses),
		Results:          make([]domain.StagingResult, 0, len(statuses)),
	}
	for i, status := range statuses {
		res := domain.StagingResult{StagingRecordID: records[i].ID, Status: status}
		if status == domain.StagingStatusFailed {
			res.Errors = []string{"customer rejected"}
		}
		if status == domain.StagingStatusSuccess {
			id := fmt.Sprintf("cust-%d", records[i].RowNumber)
			kind := "customer"
			res.CreatedRecordID = &id
			res.CreatedRecordType = &kind
		}
		payload.Results = append(payload.Results, res)
	}
	return payload
}

func repeat(status domain.StagingStatus, n int) []domain.StagingStatus {
	out := make([]domain.StagingStatus, n)
	for i := range out {
		out[i] = status
	}
	return out
}

func assertCountInvariant(t *testing.T, h *pipelineHarness, session *domain.ImportSession) {
	t.Helper()
	counts, err := h.store.Staging().CountByStatus(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if session.TotalRecords != counts.Success+counts.Failed+counts.Duplicate+counts.Skipped+counts.Pending {
		t.Fatalf("total %d does not match recount %+v", session.TotalRecords, counts)
	}
	if session.ProcessedRecords != session.TotalRecords-counts.Pending {
		t.Fatalf("processed %d, expected %d", session.ProcessedRecords, session.TotalRecords-counts.Pending)
	}
}
