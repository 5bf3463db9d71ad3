package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type ImportType string

const (
	ImportTypeCustomerData    ImportType = "CustomerData"
	ImportTypeTransactionData ImportType = "TransactionData"
	ImportTypeSchemeData      ImportType = "SchemeData"
)

func (t ImportType) Valid() bool {
	switch t {
	case ImportTypeCustomerData, ImportTypeTransactionData, ImportTypeSchemeData:
		return true
	}
	return false
}

type ImportSessionStatus string

const (
	ImportSessionStatusPending             ImportSessionStatus = "pending"
	ImportSessionStatusStaged              ImportSessionStatus = "staged"
	ImportSessionStatusProcessing          ImportSessionStatus = "processing"
	ImportSessionStatusCompleted           ImportSessionStatus = "completed"
	ImportSessionStatusCompletedWithErrors ImportSessionStatus = "completed_with_errors"
	ImportSessionStatusFailed              ImportSessionStatus = "failed"
	ImportSessionStatusCancelled           ImportSessionStatus = "cancelled"
)

// IsTerminal reports whether no further lifecycle transition is allowed,
// apart from the reprocess re-entry out of completed_with_errors.
func (s ImportSessionStatus) IsTerminal() bool {
	switch s {
	case ImportSessionStatusCompleted, ImportSessionStatusCompletedWithErrors,
		ImportSessionStatusFailed, ImportSessionStatusCancelled:
		return true
	}
	return false
}

var sessionTransitions = map[ImportSessionStatus][]ImportSessionStatus{
	ImportSessionStatusPending: {
		ImportSessionStatusStaged,
		ImportSessionStatusFailed,
		ImportSessionStatusCancelled,
	},
	ImportSessionStatusStaged: {
		ImportSessionStatusProcessing,
		ImportSessionStatusFailed,
		ImportSessionStatusCancelled,
	},
	ImportSessionStatusProcessing: {
		ImportSessionStatusCompleted,
		ImportSessionStatusCompletedWithErrors,
		ImportSessionStatusFailed,
		ImportSessionStatusCancelled,
	},
	ImportSessionStatusCompletedWithErrors: {
		ImportSessionStatusProcessing,
	},
}

// CanTransition reports whether the lifecycle permits moving from s to next.
func (s ImportSessionStatus) CanTransition(next ImportSessionStatus) bool {
	for _, allowed := range sessionTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// TransitionSources lists every status from which next can be entered.
func TransitionSources(next ImportSessionStatus) []ImportSessionStatus {
	var out []ImportSessionStatus
	for _, from := range []ImportSessionStatus{
		ImportSessionStatusPending,
		ImportSessionStatusStaged,
		ImportSessionStatusProcessing,
		ImportSessionStatusCompletedWithErrors,
	} {
		if from.CanTransition(next) {
			out = append(out, from)
		}
	}
	return out
}

// SessionKey identifies a session row. Every tenant-facing lookup goes
// through the full key so a foreign session reads as not found.
type SessionKey struct {
	TenantID uuid.UUID
	IsLive   bool
	ID       uuid.UUID
}

func (k SessionKey) String() string {
	env := "test"
	if k.IsLive {
		env = "live"
	}
	return fmt.Sprintf("%s/%s/%s", k.TenantID, env, k.ID)
}

type Metadata map[string]any

func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (m *Metadata) Scan(value any) error {
	if value == nil {
		*m = Metadata{}
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("expected []byte for metadata, got %T", value)
	}
	out := Metadata{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return err
		}
	}
	*m = out
	return nil
}

// Merge copies src into m, recursing into nested objects present on both sides.
func (m Metadata) Merge(src map[string]any) {
	for k, v := range src {
		if nested, ok := v.(map[string]any); ok {
			if existing, ok := m[k].(map[string]any); ok {
				Metadata(existing).Merge(nested)
				continue
			}
			cp := Metadata{}
			cp.Merge(nested)
			m[k] = map[string]any(cp)
			continue
		}
		m[k] = v
	}
}

type ImportSession struct {
	ID                    uuid.UUID           `db:"id" json:"id"`
	TenantID              uuid.UUID           `db:"tenant_id" json:"tenant_id"`
	IsLive                bool                `db:"is_live" json:"is_live"`
	SessionName           string              `db:"session_name" json:"session_name"`
	ImportType            ImportType          `db:"import_type" json:"import_type"`
	Status                ImportSessionStatus `db:"status" json:"status"`
	SourceFileKey         *string             `db:"source_file_key" json:"source_file_key,omitempty"`
	SourceFileName        *string             `db:"source_file_name" json:"source_file_name,omitempty"`
	TotalRecords          int                 `db:"total_records" json:"total_records"`
	ProcessedRecords      int                 `db:"processed_records" json:"processed_records"`
	SuccessfulRecords     int                 `db:"successful_records" json:"successful_records"`
	FailedRecords         int                 `db:"failed_records" json:"failed_records"`
	DuplicateRecords      int                 `db:"duplicate_records" json:"duplicate_records"`
	CurrentBatch          int                 `db:"current_batch" json:"current_batch"`
	LastProcessedRow      int                 `db:"last_processed_row" json:"last_processed_row"`
	ProcessingStartedAt   *time.Time          `db:"processing_started_at" json:"processing_started_at,omitempty"`
	ProcessingCompletedAt *time.Time          `db:"processing_completed_at" json:"processing_completed_at,omitempty"`
	ErrorSummary          *string             `db:"error_summary" json:"error_summary,omitempty"`
	WorkflowExecutionID   *string             `db:"workflow_execution_id" json:"workflow_execution_id,omitempty"`
	ProcessingMetadata    Metadata            `db:"processing_metadata" json:"processing_metadata"`
	CreatedBy             uuid.UUID           `db:"created_by" json:"created_by"`
	CreatedAt             time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time           `db:"updated_at" json:"updated_at"`
}

func (s ImportSession) Key() SessionKey {
	return SessionKey{TenantID: s.TenantID, IsLive: s.IsLive, ID: s.ID}
}

// ApplyCounts overwrites the aggregate counters from a recount of the
// session's staging rows.
func (s *ImportSession) ApplyCounts(c StagingCounts) {
	s.TotalRecords = c.Total()
	s.SuccessfulRecords = c.Success
	s.FailedRecords = c.Failed
	s.DuplicateRecords = c.Duplicate
	s.ProcessedRecords = c.Total() - c.Pending
}

type ImportSessionFilter struct {
	TenantID uuid.UUID
	IsLive   bool
	Statuses []ImportSessionStatus
	Limit    int
	Offset   int
}
