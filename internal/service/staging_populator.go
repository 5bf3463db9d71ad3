package service

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/njprem/ImportPipeline_BackEnd/internal/domain"
	"github.com/njprem/ImportPipeline_BackEnd/internal/metrics"
	"github.com/njprem/ImportPipeline_BackEnd/internal/repository/ports"
	"github.com/njprem/ImportPipeline_BackEnd/internal/tabular"
)

type StagingPopulatorConfig struct {
	InsertChunk int
}

type PopulateResult struct {
	Session     *domain.ImportSession
	TotalRows   int
	FlaggedRows int
}

// StagingPopulator turns a source file plus a mapping set into pending
// staging rows and moves the session from pending to staged.
type StagingPopulator struct {
	store    ports.ImportStore
	sessions *ImportSessionService
	sources  ports.SourceStore
	chunk    int
	metrics  *metrics.Pipeline
	logger   logrus.FieldLogger
}

func NewStagingPopulator(store ports.ImportStore, sessions *ImportSessionService, sources ports.SourceStore, logger logrus.FieldLogger, cfg StagingPopulatorConfig) *StagingPopulator {
	chunk := cfg.InsertChunk
	if chunk <= 0 {
		chunk = 500
	}
	return &StagingPopulator{
		store:    store,
		sessions: sessions,
		sources:  sources,
		chunk:    chunk,
		metrics:  metrics.Default(),
		logger:   logger,
	}
}

// Populate stages every row of the source file. filePath overrides the key
// stored on the session at upload time but must stay inside the session's own
// upload prefix.
func (p *StagingPopulator) Populate(ctx context.Context, key domain.SessionKey, filePath string, mappings []domain.FieldMapping) (*PopulateResult, error) {
	session, err := p.sessions.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if session.Status != domain.ImportSessionStatusPending {
		return nil, fmt.Errorf("%w: session is %s", ErrInvalidTransition, session.Status)
	}
	if err := ValidateMappings(session.ImportType, mappings); err != nil {
		return nil, err
	}

	table, err := p.readSource(ctx, session, filePath)
	if err != nil {
		return nil, err
	}

	validator := NewRowValidator(session.ImportType, mappings)
	records := make([]domain.StagingRecord, 0, len(table.Rows))
	flagged := 0
	for idx, row := range table.Rows {
		raw := domain.RawRow(row)
		mapped, fieldErrs := validator.Apply(raw)
		if len(fieldErrs) > 0 {
			flagged++
		}
		records = append(records, domain.StagingRecord{
			ID:               uuid.New(),
			SessionID:        session.ID,
			TenantID:         session.TenantID,
			IsLive:           session.IsLive,
			RowNumber:        idx + 1,
			RawData:          raw,
			MappedData:       mapped,
			ProcessingStatus: domain.StagingStatusPending,
			ErrorMessages:    fieldErrorMessages(fieldErrs),
			Warnings:         []string{},
		})
	}

	meta := map[string]any{
		"mappings": mappingsMetadata(mappings),
		"staging": map[string]any{
			"headers":     table.Headers,
			"flaggedRows": flagged,
		},
	}

	var staged *domain.ImportSession
	err = p.store.WithinTx(ctx, func(tx ports.ImportStore) error {
		current, err := tx.Sessions().LockByKey(ctx, key)
		if err != nil {
			return notFound(err)
		}
		// A concurrent stage request may have committed since the check above.
		if current.Status != domain.ImportSessionStatusPending {
			return fmt.Errorf("%w: session is %s", ErrInvalidTransition, current.Status)
		}
		for start := 0; start < len(records); start += p.chunk {
			end := start + p.chunk
			if end > len(records) {
				end = len(records)
			}
			if err := tx.Staging().InsertBatch(ctx, records[start:end]); err != nil {
				return fmt.Errorf("insert staging rows %d-%d: %w", start+1, end, err)
			}
		}
		staged, err = p.sessions.MarkStaged(ctx, tx, key, len(records), meta)
		return err
	})
	if err != nil {
		if !errors.Is(err, ErrInvalidTransition) && !errors.Is(err, ErrSessionNotFound) {
			p.sessions.failBestEffort(ctx, key, fmt.Sprintf("staging failed: %v", err))
		}
		sessionLogger(p.logger, key).WithError(err).Error("staging population failed")
		return nil, err
	}

	p.metrics.RowsStaged(string(session.ImportType), len(records)-flagged, flagged)
	sessionLogger(p.logger, key).WithFields(logrus.Fields{
		"rows":    len(records),
		"flagged": flagged,
	}).Info("staging populated")

	return &PopulateResult{Session: staged, TotalRows: len(records), FlaggedRows: flagged}, nil
}

func (p *StagingPopulator) readSource(ctx context.Context, session *domain.ImportSession, filePath string) (*tabular.Table, error) {
	key := strings.TrimSpace(filePath)
	if key != "" {
		key = path.Clean("/" + key)[1:]
		if !strings.HasPrefix(key, sourceObjectName(session.TenantID, session.ID, "")) {
			return nil, fmt.Errorf("%w: file path is outside this session", ErrSourceUnavailable)
		}
	} else if session.SourceFileKey != nil {
		key = *session.SourceFileKey
	}
	if key == "" {
		return nil, fmt.Errorf("%w: session has no source file", ErrSourceUnavailable)
	}

	rc, err := p.sources.Open(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	defer rc.Close()

	name := path.Base(key)
	if session.SourceFileName != nil && strings.TrimSpace(filePath) == "" {
		name = *session.SourceFileName
	}
	table, err := tabular.Parse(name, rc)
	if err != nil {
		if errors.Is(err, tabular.ErrEmptyFile) {
			return nil, ErrEmptySource
		}
		return nil, fmt.Errorf("%w: %v", ErrUnreadableSource, err)
	}
	return table, nil
}

func mappingsMetadata(mappings []domain.FieldMapping) []any {
	out := make([]any, 0, len(mappings))
	for _, m := range mappings {
		if !m.IsActive {
			continue
		}
		transformation := m.Transformation
		if transformation == "" {
			transformation = domain.TransformationNone
		}
		out = append(out, map[string]any{
			"sourceField":    m.SourceField,
			"targetField":    m.TargetField,
			"isRequired":     m.IsRequired,
			"transformation": string(transformation),
		})
	}
	return out
}
