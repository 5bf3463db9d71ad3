package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/njprem/ImportPipeline_BackEnd/internal/repository/ports"
)

// ImportStore wires the import repositories to either the pool or an open transaction.
type ImportStore struct {
	db       *sqlx.DB
	tx       *sqlx.Tx
	sessions *ImportSessionRepository
	staging  *StagingRecordRepository
}

func NewImportStore(db *sqlx.DB) *ImportStore {
	return &ImportStore{
		db:       db,
		sessions: NewImportSessionRepo(db),
		staging:  NewStagingRecordRepo(db),
	}
}

func (s *ImportStore) Sessions() ports.ImportSessionRepository {
	return s.sessions
}

func (s *ImportStore) Staging() ports.StagingRecordRepository {
	return s.staging
}

// WithinTx runs fn in a transaction. Nested calls reuse the outer transaction.
func (s *ImportStore) WithinTx(ctx context.Context, fn func(tx ports.ImportStore) error) (err error) {
	if s.tx != nil {
		return fn(s)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	scoped := &ImportStore{
		db:       s.db,
		tx:       tx,
		sessions: NewImportSessionRepo(tx),
		staging:  NewStagingRecordRepo(tx),
	}
	if err = fn(scoped); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
