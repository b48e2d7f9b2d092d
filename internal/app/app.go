// Package app opens a workspace: config, logger, migrated database and engine.
package app

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"skylark/internal/config"
	"skylark/internal/db"
	"skylark/internal/engine"
	"skylark/internal/migrate"
	"skylark/internal/repo"
)

// Env is everything a command needs for one workspace.
type Env struct {
	Workspace string
	DB        *sql.DB
	Config    *config.Config
	Log       *zap.Logger
	Repo      repo.Repo
	Engine    engine.Engine
}

// Open loads the workspace config, opens and migrates the database and builds the engine.
func Open(ctx context.Context, workspace string) (*Env, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log, err := config.NewLogger(cfg.Log)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := migrate.MigrateContext(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	log.Debug("workspace opened", zap.String("db", db.Path(workspace)))
	return &Env{
		Workspace: workspace,
		DB:        conn,
		Config:    cfg,
		Log:       log,
		Repo:      repo.Repo{DB: conn, IDWidth: cfg.Fleet.IDWidth},
		Engine:    engine.New(conn, cfg, log),
	}, nil
}

func (e *Env) Close() error {
	_ = e.Log.Sync()
	return e.DB.Close()
}
