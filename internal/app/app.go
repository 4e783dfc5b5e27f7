// Package app wires a workspace's config, database and engine together for
// the CLI and the HTTP server.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"

	"aurora/internal/config"
	"aurora/internal/db"
	"aurora/internal/engine"
	"aurora/internal/logging"
	"aurora/internal/migrate"
	"aurora/internal/notify"
)

type Runtime struct {
	Workspace string
	Config    *config.Config
	DB        *sql.DB
	Dialect   db.Dialect
	Engine    engine.Engine
	Logger    *slog.Logger
}

type Options struct {
	// LogOutput defaults to stderr.
	LogOutput io.Writer
}

// Bootstrap loads the workspace config (defaults when absent), opens and
// migrates the database and builds an engine that logs every notice.
func Bootstrap(ctx context.Context, workspace string, opts Options) (*Runtime, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	out := opts.LogOutput
	if out == nil {
		out = os.Stderr
	}
	logger := logging.New(out, cfg.Log.Level, cfg.Log.Format)

	dbCfg := db.Config{Workspace: workspace, Driver: cfg.Database.Driver, DSN: cfg.Database.DSN}
	conn, err := db.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("connect database: %w", err)
	}
	version, err := migrate.Migrate(conn, dbCfg.Dialect())
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	logger.Debug("database ready", "driver", dbCfg.Dialect(), "schema_version", version)

	e := engine.New(conn, dbCfg.Dialect(), cfg)
	e.Logger = logger
	e.Notifier = notify.LogNotifier{Logger: logger}
	return &Runtime{
		Workspace: workspace,
		Config:    cfg,
		DB:        conn,
		Dialect:   dbCfg.Dialect(),
		Engine:    e,
		Logger:    logger,
	}, nil
}

func (r *Runtime) Close() error {
	if r == nil || r.DB == nil {
		return nil
	}
	return r.DB.Close()
}
