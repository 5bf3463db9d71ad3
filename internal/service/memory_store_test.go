package service

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/njprem/ImportPipeline_BackEnd/internal/domain"
	"github.com/njprem/ImportPipeline_BackEnd/internal/repository/ports"
)

// memoryStore is a transactional in-memory ImportStore. Transactions work on a
// snapshot that replaces the committed data on success, and run one at a time
// the way FOR UPDATE serializes them on a session row.
type memoryStore struct {
	root *memoryRoot
	data *memoryData
	inTx bool
}

type memoryRoot struct {
	txMu   sync.Mutex
	dataMu sync.Mutex
	data   *memoryData

	failInsert error
	failCount  error
}

type memoryData struct {
	sessions map[uuid.UUID]domain.ImportSession
	records  map[uuid.UUID]domain.StagingRecord
}

func newMemoryStore() *memoryStore {
	root := &memoryRoot{data: &memoryData{
		sessions: map[uuid.UUID]domain.ImportSession{},
		records:  map[uuid.UUID]domain.StagingRecord{},
	}}
	return &memoryStore{root: root}
}

func (m *memoryStore) current() *memoryData {
	if m.inTx {
		return m.data
	}
	return m.root.data
}

func (m *memoryStore) Sessions() ports.ImportSessionRepository { return memorySessions{m} }
func (m *memoryStore) Staging() ports.StagingRecordRepository  { return memoryStaging{m} }

func (m *memoryStore) WithinTx(ctx context.Context, fn func(tx ports.ImportStore) error) error {
	if m.inTx {
		return fn(m)
	}
	m.root.txMu.Lock()
	defer m.root.txMu.Unlock()

	m.root.dataMu.Lock()
	snapshot := m.root.data.clone()
	m.root.dataMu.Unlock()

	tx := &memoryStore{root: m.root, data: snapshot, inTx: true}
	if err := fn(tx); err != nil {
		return err
	}
	m.root.dataMu.Lock()
	m.root.data = snapshot
	m.root.dataMu.Unlock()
	return nil
}

// lock guards direct reads and writes outside a transaction.
func (m *memoryStore) lock() func() {
	if m.inTx {
		return func() {}
	}
	m.root.dataMu.Lock()
	return m.root.dataMu.Unlock
}

func (d *memoryData) clone() *memoryData {
	out := &memoryData{
		sessions: make(map[uuid.UUID]domain.ImportSession, len(d.sessions)),
		records:  make(map[uuid.UUID]domain.StagingRecord, len(d.records)),
	}
	for id, s := range d.sessions {
		out.sessions[id] = cloneSession(s)
	}
	for id, r := range d.records {
		out.records[id] = cloneRecord(r)
	}
	return out
}

func cloneSession(s domain.ImportSession) domain.ImportSession {
	raw, _ := json.Marshal(s.ProcessingMetadata)
	meta := domain.Metadata{}
	_ = json.Unmarshal(raw, &meta)
	s.ProcessingMetadata = meta
	return s
}

func cloneRecord(r domain.StagingRecord) domain.StagingRecord {
	r.ErrorMessages = append([]string{}, r.ErrorMessages...)
	r.Warnings = append([]string{}, r.Warnings...)
	return r
}

// seeded returns committed records of a session sorted by row number.
func (m *memoryStore) seeded(sessionID uuid.UUID) []domain.StagingRecord {
	unlock := m.lock()
	defer unlock()
	var out []domain.StagingRecord
	for _, r := range m.current().records {
		if r.SessionID == sessionID {
			out = append(out, cloneRecord(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RowNumber < out[j].RowNumber })
	return out
}

func (m *memoryStore) session(id uuid.UUID) domain.ImportSession {
	unlock := m.lock()
	defer unlock()
	return cloneSession(m.current().sessions[id])
}

type memorySessions struct{ m *memoryStore }

func (r memorySessions) Create(ctx context.Context, session *domain.ImportSession) (*domain.ImportSession, error) {
	unlock := r.m.lock()
	defer unlock()
	clone := cloneSession(*session)
	if clone.ID == uuid.Nil {
		clone.ID = uuid.New()
	}
	now := time.Now()
	clone.CreatedAt = now
	clone.UpdatedAt = now
	r.m.current().sessions[clone.ID] = clone
	out := cloneSession(clone)
	return &out, nil
}

func (r memorySessions) FindByKey(ctx context.Context, key domain.SessionKey) (*domain.ImportSession, error) {
	unlock := r.m.lock()
	defer unlock()
	s, ok := r.m.current().sessions[key.ID]
	if !ok || s.TenantID != key.TenantID || s.IsLive != key.IsLive {
		return nil, sql.ErrNoRows
	}
	out := cloneSession(s)
	return &out, nil
}

func (r memorySessions) LockByKey(ctx context.Context, key domain.SessionKey) (*domain.ImportSession, error) {
	return r.FindByKey(ctx, key)
}

func (r memorySessions) LockByID(ctx context.Context, id uuid.UUID) (*domain.ImportSession, error) {
	unlock := r.m.lock()
	defer unlock()
	s, ok := r.m.current().sessions[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	out := cloneSession(s)
	return &out, nil
}

func (r memorySessions) List(ctx context.Context, filter domain.ImportSessionFilter) ([]domain.ImportSession, error) {
	unlock := r.m.lock()
	defer unlock()
	out := make([]domain.ImportSession, 0)
	for _, s := range r.m.current().sessions {
		if s.TenantID != filter.TenantID || s.IsLive != filter.IsLive {
			continue
		}
		if len(filter.Statuses) > 0 {
			match := false
			for _, st := range filter.Statuses {
				if st == s.Status {
					match = true
				}
			}
			if !match {
				continue
			}
		}
		out = append(out, cloneSession(s))
	}
	return out, nil
}

func (r memorySessions) Update(ctx context.Context, session *domain.ImportSession, expected domain.ImportSessionStatus) (*domain.ImportSession, error) {
	unlock := r.m.lock()
	defer unlock()
	existing, ok := r.m.current().sessions[session.ID]
	if !ok || existing.TenantID != session.TenantID || existing.IsLive != session.IsLive || existing.Status != expected {
		return nil, sql.ErrNoRows
	}
	clone := cloneSession(*session)
	clone.UpdatedAt = time.Now()
	r.m.current().sessions[clone.ID] = clone
	out := cloneSession(clone)
	return &out, nil
}

type memoryStaging struct{ m *memoryStore }

func (r memoryStaging) InsertBatch(ctx context.Context, records []domain.StagingRecord) error {
	if r.m.root.failInsert != nil {
		return r.m.root.failInsert
	}
	unlock := r.m.lock()
	defer unlock()
	data := r.m.current()
	for _, rec := range records {
		for _, existing := range data.records {
			if existing.SessionID == rec.SessionID && existing.RowNumber == rec.RowNumber {
				return fmt.Errorf("duplicate row number %d", rec.RowNumber)
			}
		}
		rec.CreatedAt = time.Now()
		data.records[rec.ID] = cloneRecord(rec)
	}
	return nil
}

func (r memoryStaging) ApplyResult(ctx context.Context, sessionID uuid.UUID, result domain.StagingResult, processedAt time.Time) (int, bool, error) {
	unlock := r.m.lock()
	defer unlock()
	data := r.m.current()
	rec, ok := data.records[result.StagingRecordID]
	if !ok || rec.SessionID != sessionID {
		return 0, false, sql.ErrNoRows
	}
	if rec.ProcessingStatus != domain.StagingStatusPending {
		return rec.RowNumber, false, nil
	}
	rec.ProcessingStatus = result.Status
	rec.ErrorMessages = append([]string{}, result.Errors...)
	rec.Warnings = append(append([]string{}, rec.Warnings...), result.Warnings...)
	rec.CreatedRecordID = result.CreatedRecordID
	rec.CreatedRecordType = result.CreatedRecordType
	at := processedAt
	rec.ProcessedAt = &at
	data.records[rec.ID] = rec
	return rec.RowNumber, true, nil
}

func (r memoryStaging) CountByStatus(ctx context.Context, sessionID uuid.UUID) (domain.StagingCounts, error) {
	if r.m.root.failCount != nil {
		return domain.StagingCounts{}, r.m.root.failCount
	}
	unlock := r.m.lock()
	defer unlock()
	var c domain.StagingCounts
	for _, rec := range r.m.current().records {
		if rec.SessionID != sessionID {
			continue
		}
		switch rec.ProcessingStatus {
		case domain.StagingStatusPending:
			c.Pending++
		case domain.StagingStatusSuccess:
			c.Success++
		case domain.StagingStatusFailed:
			c.Failed++
		case domain.StagingStatusDuplicate:
			c.Duplicate++
		case domain.StagingStatusSkipped:
			c.Skipped++
		}
	}
	return c, nil
}

func (r memoryStaging) filtered(filter domain.StagingRecordFilter) []domain.StagingRecord {
	var out []domain.StagingRecord
	for _, rec := range r.m.current().records {
		if rec.SessionID != filter.SessionID {
			continue
		}
		if filter.Status != nil && rec.ProcessingStatus != *filter.Status {
			continue
		}
		out = append(out, cloneRecord(rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RowNumber < out[j].RowNumber })
	return out
}

func (r memoryStaging) List(ctx context.Context, filter domain.StagingRecordFilter) ([]domain.StagingRecord, error) {
	unlock := r.m.lock()
	defer unlock()
	all := r.filtered(filter)
	if filter.Offset >= len(all) {
		return []domain.StagingRecord{}, nil
	}
	end := len(all)
	if filter.Limit > 0 && filter.Offset+filter.Limit < end {
		end = filter.Offset + filter.Limit
	}
	return all[filter.Offset:end], nil
}

func (r memoryStaging) Count(ctx context.Context, filter domain.StagingRecordFilter) (int, error) {
	unlock := r.m.lock()
	defer unlock()
	return len(r.filtered(filter)), nil
}

func (r memoryStaging) ListIDsByStatus(ctx context.Context, sessionID uuid.UUID, status domain.StagingStatus) ([]uuid.UUID, error) {
	unlock := r.m.lock()
	defer unlock()
	ids := make([]uuid.UUID, 0)
	for _, rec := range r.filtered(domain.StagingRecordFilter{SessionID: sessionID, Status: &status}) {
		ids = append(ids, rec.ID)
	}
	return ids, nil
}

func (r memoryStaging) ResetFailed(ctx context.Context, sessionID uuid.UUID) (int, error) {
	unlock := r.m.lock()
	defer unlock()
	data := r.m.current()
	n := 0
	for id, rec := range data.records {
		if rec.SessionID != sessionID || rec.ProcessingStatus != domain.StagingStatusFailed {
			continue
		}
		rec.ProcessingStatus = domain.StagingStatusPending
		warnings := append([]string{}, rec.Warnings...)
		for _, msg := range rec.ErrorMessages {
			warnings = append(warnings, domain.PreviousAttemptPrefix+msg)
		}
		rec.ErrorMessages = []string{}
		rec.Warnings = warnings
		rec.CreatedRecordID = nil
		rec.CreatedRecordType = nil
		rec.ProcessedAt = nil
		data.records[id] = rec
		n++
	}
	return n, nil
}

// memoryObjects is both the upload target and the primary source store.
type memoryObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	openErr error
	// beforeOpen runs on every Open; tests use it to line up concurrent readers.
	beforeOpen func()
}

func newMemoryObjects() *memoryObjects {
	return &memoryObjects{objects: map[string][]byte{}}
}

func (s *memoryObjects) Upload(ctx context.Context, bucket, objectName, contentType string, reader io.Reader, size int64) (string, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[objectName] = data
	return objectName, nil
}

func (s *memoryObjects) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if s.beforeOpen != nil {
		s.beforeOpen()
	}
	if s.openErr != nil {
		return nil, s.openErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ports.ErrObjectNotFound, key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

type fakeEngine struct {
	mu          sync.Mutex
	submits     []domain.WorkflowRequest
	failFirst   int
	err         error
	executionID string
	cancels     []string
	cancelErr   error
}

func (e *fakeEngine) Submit(ctx context.Context, req domain.WorkflowRequest) (*domain.WorkflowExecution, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.submits = append(e.submits, req)
	if e.err != nil {
		return nil, e.err
	}
	if len(e.submits) <= e.failFirst {
		return nil, errors.New("engine unavailable")
	}
	return &domain.WorkflowExecution{ExecutionID: e.executionID, Status: "accepted"}, nil
}

func (e *fakeEngine) Cancel(ctx context.Context, executionID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancels = append(e.cancels, executionID)
	return e.cancelErr
}

var (
	_ ports.ImportStore    = (*memoryStore)(nil)
	_ ports.SourceStore    = (*memoryObjects)(nil)
	_ ports.ObjectStorage  = (*memoryObjects)(nil)
	_ ports.WorkflowEngine = (*fakeEngine)(nil)
)
