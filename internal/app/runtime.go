package app

import (
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"affiliates/internal/affiliate"
	"affiliates/internal/config"
	"affiliates/internal/db"
	"affiliates/internal/engine"
	"affiliates/internal/events"
	"affiliates/internal/logging"
	"affiliates/internal/migrate"
	"affiliates/internal/price"
	"affiliates/internal/registry"
	"affiliates/internal/repo"
	"affiliates/internal/rules"
)

const defaultServiceID = "affiliates"

// Runtime is everything a command needs to dispatch orders for one workspace.
type Runtime struct {
	Config *config.Config
	DB     *sql.DB
	Repo   repo.Repo
	Engine engine.Engine
	Logger *slog.Logger
}

// Options select the workspace and config file. LogOutput defaults to stderr.
type Options struct {
	Workspace  string
	ConfigPath string
	LogOutput  io.Writer
	Client     affiliate.Doer
}

// LoadConfig reads the config at path, or the workspace's affiliates.yml, falling
// back to defaults when neither exists.
func LoadConfig(workspace, path string) (*config.Config, error) {
	if path != "" {
		return config.FromFile(path)
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default(defaultServiceID)
	}
	return cfg, nil
}

// Open loads config, opens and migrates the workspace database and wires the engine.
func Open(opts Options) (*Runtime, error) {
	cfg, err := LoadConfig(opts.Workspace, opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	out := opts.LogOutput
	if out == nil {
		out = os.Stderr
	}
	logger, err := logging.New(out, cfg.Log.Level, cfg.Log.Format, cfg.Service.ID)
	if err != nil {
		return nil, err
	}
	seed, err := cfg.ValidatedAffiliates()
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: opts.Workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	r := repo.Repo{DB: conn}

	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}
	deps := affiliate.Deps{
		Client:    client,
		Rounder:   price.Rounder{Overrides: cfg.Rounding},
		Logger:    logger,
		Timeout:   cfg.HTTP.Timeout,
		UserAgent: cfg.HTTP.UserAgent,
	}
	var filters []registry.Filter
	if len(cfg.Rules) > 0 {
		filters = append(filters, rules.Filter(cfg.Rules, logger))
	}
	reg := registry.New(registry.Layered{Stored: r, Fallback: registry.StaticSource(seed)}, filters...)
	eng := engine.New(reg, deps)
	if cfg.Dispatch.Workers > 0 {
		eng.Workers = cfg.Dispatch.Workers
	}
	eng.Recorder = events.Writer{DB: conn}

	return &Runtime{Config: cfg, DB: conn, Repo: r, Engine: eng, Logger: logger}, nil
}

func (rt *Runtime) Close() error {
	if rt == nil || rt.DB == nil {
		return nil
	}
	return rt.DB.Close()
}
