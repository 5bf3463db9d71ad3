package ports

import (
	"context"

	"github.com/google/uuid"

	"github.com/njprem/ImportPipeline_BackEnd/internal/domain"
)

// ImportSessionRepository persists import sessions. Update is a compare-and-set
// on the expected status and returns sql.ErrNoRows when the guard fails.
type ImportSessionRepository interface {
	Create(ctx context.Context, session *domain.ImportSession) (*domain.ImportSession, error)
	FindByKey(ctx context.Context, key domain.SessionKey) (*domain.ImportSession, error)
	LockByKey(ctx context.Context, key domain.SessionKey) (*domain.ImportSession, error)
	LockByID(ctx context.Context, id uuid.UUID) (*domain.ImportSession, error)
	List(ctx context.Context, filter domain.ImportSessionFilter) ([]domain.ImportSession, error)
	Update(ctx context.Context, session *domain.ImportSession, expected domain.ImportSessionStatus) (*domain.ImportSession, error)
}
