package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/JonMunkholm/lakeingest/internal/config"
	"github.com/JonMunkholm/lakeingest/internal/core"
	"github.com/JonMunkholm/lakeingest/internal/database"
	"github.com/JonMunkholm/lakeingest/internal/pipeline"
	"github.com/jackc/pgx/v5/pgxpool"
)

// app holds the wired engine for one process.
type app struct {
	cfg        *config.Config
	pool       *pgxpool.Pool
	lineage    *core.PgLineageStore
	service    *core.Service
	reconciler *core.Reconciler
}

func openPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if u, err := url.Parse(cfg.URL); err == nil {
		slog.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
	} else {
		slog.Info("connected to database")
	}
	return pool, nil
}

func migrateDatabase(cfg config.DatabaseConfig) error {
	version, err := database.Migrate(cfg.URL)
	if err != nil {
		return err
	}
	slog.Info("database migrated", "version", version)
	return nil
}

// newApp connects, migrates when configured, loads the dictionary and wires
// the engine. The dictionary is read once, so rule changes need a restart.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	if cfg.Database.AutoMigrate {
		if err := migrateDatabase(cfg.Database); err != nil {
			return nil, err
		}
	}

	pool, err := openPool(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	dict, err := loadDictionary(ctx, cfg.Lake, pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	slog.Info("mapping dictionary loaded", "source_types", dict.SourceTypes())

	wh := core.NewPgWarehouse(pool)
	rec := core.NewPgRecorder(pool)
	lineage := core.NewPgLineageStore(pool)

	engine := core.NewEngine(dict, wh, rec, core.EngineConfig{
		RawSchema:     cfg.Lake.RawSchema,
		MaxFileSize:   cfg.Ingest.MaxFileSize,
		TagRows:       cfg.Ingest.TagRows,
		DerivedColumn: cfg.Ingest.DerivedColumn,
	})
	promoter := core.NewPromoter(pool, wh, rec, cfg.Lake.RawSchema, cfg.Lake.StagingSchema)

	service := core.NewService(lineage, engine, promoter, decisionSource(cfg.Lake, pool), core.ServiceConfig{
		IncomingRoot:  cfg.Lake.IncomingRoot,
		IncomingDir:   cfg.Lake.IncomingDir,
		FileExtension: cfg.Lake.FileExtension,
	})

	return &app{
		cfg:        cfg,
		pool:       pool,
		lineage:    lineage,
		service:    service,
		reconciler: core.NewReconciler(lineage, rec),
	}, nil
}

func (a *app) close() {
	a.pool.Close()
}

// steps builds the registry. gate is nil for one-shot commands.
func (a *app) steps(gate *core.BatchGate) *pipeline.Registry {
	return pipeline.Standard(pipeline.Steps{
		Service:        a.service,
		Reconciler:     a.reconciler,
		Gate:           gate,
		DefaultStale:   a.cfg.Reconcile.StaleAfter,
		DefaultPromote: a.cfg.Ingest.Promote,
	})
}

func loadDictionary(ctx context.Context, cfg config.LakeConfig, pool *pgxpool.Pool) (*core.Dictionary, error) {
	if cfg.DictionaryPath != "" {
		return core.LoadDictionaryFile(cfg.DictionaryPath)
	}
	return core.LoadDictionary(ctx, pool)
}

// decisionSource reads decisions at promotion time so edits apply to the
// next batch without a restart.
func decisionSource(cfg config.LakeConfig, pool *pgxpool.Pool) core.DecisionSource {
	if cfg.TypeDecisionsPath != "" {
		path := cfg.TypeDecisionsPath
		return func(context.Context) ([]core.TypeDecision, error) {
			return core.LoadTypeDecisionsFile(path)
		}
	}
	return func(ctx context.Context) ([]core.TypeDecision, error) {
		return core.LoadTypeDecisions(ctx, pool)
	}
}
