package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

type StagingStatus string

const (
	StagingStatusPending   StagingStatus = "pending"
	StagingStatusSuccess   StagingStatus = "success"
	StagingStatusFailed    StagingStatus = "failed"
	StagingStatusDuplicate StagingStatus = "duplicate"
	StagingStatusSkipped   StagingStatus = "skipped"
)

// PreviousAttemptPrefix marks warnings carried over from a failed attempt when
// a row is reset for reprocessing.
const PreviousAttemptPrefix = "previous attempt: "

func (s StagingStatus) Valid() bool {
	switch s {
	case StagingStatusPending, StagingStatusSuccess, StagingStatusFailed,
		StagingStatusDuplicate, StagingStatusSkipped:
		return true
	}
	return false
}

func (s StagingStatus) IsTerminal() bool {
	return s.Valid() && s != StagingStatusPending
}

// RawRow is the source row exactly as the parser produced it.
type RawRow map[string]string

func (r RawRow) Value() (driver.Value, error) {
	if r == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(r)
}

func (r *RawRow) Scan(value any) error {
	out := RawRow{}
	if err := scanJSON(value, &out); err != nil {
		return fmt.Errorf("raw row: %w", err)
	}
	*r = out
	return nil
}

// MappedRow holds target field values after transformation; nil is SQL null.
type MappedRow map[string]*string

func (r MappedRow) Value() (driver.Value, error) {
	if r == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(r)
}

func (r *MappedRow) Scan(value any) error {
	out := MappedRow{}
	if err := scanJSON(value, &out); err != nil {
		return fmt.Errorf("mapped row: %w", err)
	}
	*r = out
	return nil
}

func scanJSON(value any, dest any) error {
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		if len(v) == 0 {
			return nil
		}
		return json.Unmarshal(v, dest)
	case string:
		if v == "" {
			return nil
		}
		return json.Unmarshal([]byte(v), dest)
	default:
		return fmt.Errorf("unsupported type %T", value)
	}
}

type StagingRecord struct {
	ID                uuid.UUID      `db:"id" json:"id"`
	SessionID         uuid.UUID      `db:"session_id" json:"session_id"`
	TenantID          uuid.UUID      `db:"tenant_id" json:"-"`
	IsLive            bool           `db:"is_live" json:"-"`
	RowNumber         int            `db:"row_number" json:"row_number"`
	RawData           RawRow         `db:"raw_data" json:"raw_data"`
	MappedData        MappedRow      `db:"mapped_data" json:"mapped_data,omitempty"`
	ProcessingStatus  StagingStatus  `db:"processing_status" json:"processing_status"`
	ErrorMessages     pq.StringArray `db:"error_messages" json:"error_messages"`
	Warnings          pq.StringArray `db:"warnings" json:"warnings"`
	CreatedRecordID   *string        `db:"created_record_id" json:"created_record_id,omitempty"`
	CreatedRecordType *string        `db:"created_record_type" json:"created_record_type,omitempty"`
	ProcessedAt       *time.Time     `db:"processed_at" json:"processed_at,omitempty"`
	CreatedAt         time.Time      `db:"created_at" json:"created_at"`
}

// StagingResult is one per-record outcome reported by the workflow engine.
type StagingResult struct {
	StagingRecordID   uuid.UUID
	Status            StagingStatus
	Errors            []string
	Warnings          []string
	CreatedRecordID   *string
	CreatedRecordType *string
}

// StagingCounts is a recount of a session's staging rows by status.
type StagingCounts struct {
	Pending   int `db:"pending" json:"pending"`
	Success   int `db:"success" json:"success"`
	Failed    int `db:"failed" json:"failed"`
	Duplicate int `db:"duplicate" json:"duplicate"`
	Skipped   int `db:"skipped" json:"skipped"`
}

func (c StagingCounts) Total() int {
	return c.Pending + c.Success + c.Failed + c.Duplicate + c.Skipped
}

type StagingRecordFilter struct {
	SessionID uuid.UUID
	Status    *StagingStatus
	Limit     int
	Offset    int
}
