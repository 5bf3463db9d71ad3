package ports

import (
	"context"
	"errors"

	"github.com/njprem/ImportPipeline_BackEnd/internal/domain"
)

var ErrWorkflowExecutionNotFound = errors.New("workflow execution not found")

type WorkflowEngine interface {
	Submit(ctx context.Context, req domain.WorkflowRequest) (*domain.WorkflowExecution, error)
	Cancel(ctx context.Context, executionID string) error
}
