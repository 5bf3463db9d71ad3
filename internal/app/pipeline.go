// Package app assembles the import pipeline from configuration.
package app

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/njprem/ImportPipeline_BackEnd/internal/config"
	"github.com/njprem/ImportPipeline_BackEnd/internal/repository/filesystem"
	miniorepo "github.com/njprem/ImportPipeline_BackEnd/internal/repository/minio"
	"github.com/njprem/ImportPipeline_BackEnd/internal/repository/ports"
	"github.com/njprem/ImportPipeline_BackEnd/internal/repository/postgres"
	"github.com/njprem/ImportPipeline_BackEnd/internal/service"
	httptransport "github.com/njprem/ImportPipeline_BackEnd/internal/transport/http"
	"github.com/njprem/ImportPipeline_BackEnd/internal/transport/workflow"
	"github.com/njprem/ImportPipeline_BackEnd/internal/util"
)

type Pipeline struct {
	DB         *sqlx.DB
	Tokens     *util.JWTManager
	Sessions   *service.ImportSessionService
	Populator  *service.StagingPopulator
	Dispatcher *service.WorkflowDispatcher
	Reconciler *service.CallbackReconciler
	Reporter   *service.ProgressReporter
}

// New connects the backing stores and builds every pipeline component.
// Callers must Close the result.
func New(ctx context.Context, cfg config.Config, logger logrus.FieldLogger) (*Pipeline, error) {
	policy, err := service.ParseFallbackPolicy(cfg.SourceFallbackPolicy)
	if err != nil {
		return nil, err
	}
	engine, err := workflow.NewClient(workflow.Config{
		BaseURL:    cfg.Workflow.BaseURL,
		IntakePath: cfg.Workflow.IntakePath,
		APIKey:     cfg.Workflow.APIKey,
		Timeout:    cfg.Workflow.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("workflow engine: %w", err)
	}

	db, err := postgres.New(cfg.DatabaseURL, postgres.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}

	local := filesystem.NewSourceStore(cfg.UploadDir)
	var uploads ports.ObjectStorage = local
	sources := &service.FallbackSourceStore{Primary: local, Policy: service.FallbackNever, Logger: logger}

	if cfg.MinIO.Enabled() {
		client, err := miniorepo.NewClient(cfg.MinIO.Endpoint, cfg.MinIO.AccessKey, cfg.MinIO.SecretKey, cfg.MinIO.UseSSL)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("minio: %w", err)
		}
		objects := miniorepo.NewStorage(client, cfg.MinIO.BucketImport)
		if err := objects.EnsureBucket(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("minio bucket: %w", err)
		}
		uploads = objects
		sources = &service.FallbackSourceStore{Primary: objects, Fallback: local, Policy: policy, Logger: logger}
	}

	store := postgres.NewImportStore(db)
	sessions := service.NewImportSessionService(store, uploads, nil, logger, service.ImportSessionServiceConfig{
		Bucket:       cfg.MinIO.BucketImport,
		MaxFileBytes: cfg.UploadMaxBytes,
	})
	dispatcher := service.NewWorkflowDispatcher(store, sessions, engine, logger, service.WorkflowDispatcherConfig{
		MaxAttempts: cfg.Workflow.MaxAttempts,
		BackoffBase: cfg.Workflow.BackoffBase,
		BatchSize:   cfg.ImportBatchSize,
		CallbackURL: cfg.CallbackURL(),
	})
	sessions.SetCanceller(dispatcher)

	return &Pipeline{
		DB:         db,
		Tokens:     util.NewJWTManager(cfg.JWTSecret, cfg.JWTTTL),
		Sessions:   sessions,
		Populator:  service.NewStagingPopulator(store, sessions, sources, logger, service.StagingPopulatorConfig{InsertChunk: cfg.StagingInsertChunk}),
		Dispatcher: dispatcher,
		Reconciler: service.NewCallbackReconciler(store, sessions, logger),
		Reporter:   service.NewProgressReporter(store),
	}, nil
}

// Services exposes the components in the shape the HTTP layer consumes.
func (p *Pipeline) Services() httptransport.ImportServices {
	return httptransport.ImportServices{
		Sessions:   p.Sessions,
		Populator:  p.Populator,
		Dispatcher: p.Dispatcher,
		Reporter:   p.Reporter,
		Reconciler: p.Reconciler,
	}
}

func (p *Pipeline) Close() error {
	if p == nil || p.DB == nil {
		return nil
	}
	return p.DB.Close()
}
