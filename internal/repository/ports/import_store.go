package ports

import "context"

// ImportStore groups the import repositories behind one transaction boundary.
// Repositories returned from the store passed to fn run inside that transaction.
type ImportStore interface {
	Sessions() ImportSessionRepository
	Staging() StagingRecordRepository
	WithinTx(ctx context.Context, fn func(tx ImportStore) error) error
}
