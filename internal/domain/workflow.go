package domain

import "github.com/google/uuid"

// WorkflowRequest is the intake payload sent to the external workflow engine.
type WorkflowRequest struct {
	SessionID   uuid.UUID      `json:"sessionId"`
	ImportType  ImportType     `json:"importType"`
	TenantID    uuid.UUID      `json:"tenantId"`
	IsLive      bool           `json:"isLive"`
	BatchSize   int            `json:"batchSize"`
	CallbackURL string         `json:"callbackUrl"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// WorkflowExecution is what the engine returns on a successful intake.
type WorkflowExecution struct {
	ExecutionID string
	Status      string
}

// CallbackPayload is one asynchronous batch report from the engine.
type CallbackPayload struct {
	SessionID        uuid.UUID
	BatchNumber      int
	Status           string
	ProcessedRecords int
	Results          []StagingResult
	Summary          map[string]any
}
