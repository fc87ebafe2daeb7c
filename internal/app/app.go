// Package app wires config, storage, remote collaborators and the workflow
// engine together for the CLI and the server.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"upkeep/internal/config"
	"upkeep/internal/db"
	"upkeep/internal/migrate"
	"upkeep/internal/remote"
	"upkeep/internal/scheduler"
	"upkeep/internal/workflow"
)

// Options select the workspace and config file.
type Options struct {
	Workspace  string
	ConfigPath string
	// LogOutput defaults to stderr.
	LogOutput io.Writer
}

// App holds everything a command needs. Close releases it.
type App struct {
	Config   *config.Config
	DB       *sql.DB
	Logger   *slog.Logger
	Engine   workflow.Engine
	Notifier *remote.EventNotifier
	// Applied lists migrations run while opening.
	Applied []string

	redis *redis.Client
}

// LoadConfig reads the config file (explicit path first, then the workspace
// default) and applies UPKEEP_* environment overrides.
func LoadConfig(opts Options) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if opts.ConfigPath != "" {
		cfg, err = config.FromFile(opts.ConfigPath)
	} else {
		cfg, err = config.Load(opts.Workspace)
	}
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// NewLogger builds the slog logger described by cfg.Log.
func NewLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	hopts := &slog.HandlerOptions{Level: level}
	if cfg.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, hopts))
	}
	return slog.New(slog.NewTextHandler(w, hopts))
}

// Open loads config, opens and migrates the database and builds the engine.
func Open(opts Options) (*App, error) {
	cfg, err := LoadConfig(opts)
	if err != nil {
		return nil, err
	}
	logger := NewLogger(cfg, opts.LogOutput)
	conn, err := db.Open(db.Config{Workspace: opts.Workspace})
	if err != nil {
		return nil, err
	}
	applied, err := migrate.Migrate(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	for _, name := range applied {
		logger.Info("migration applied", "name", name)
	}
	a := &App{Config: cfg, DB: conn, Logger: logger, Applied: applied}
	svc := a.services()
	a.Engine = workflow.New(conn, cfg, svc, logger)
	return a, nil
}

// services builds the remote adapters and the notification pipeline.
func (a *App) services() workflow.Services {
	cfg := a.Config
	tokens := remote.NewServiceTokens(cfg.Services.TokenSecret)
	client := func(target string, sc config.ServiceConfig) *remote.Client {
		c := remote.New(target, sc.URL, sc.Timeout())
		c.Tokens = tokens
		return c
	}

	var pub remote.Publisher
	n := cfg.Notifications
	switch {
	case n.Redis.Addr != "":
		a.redis = redis.NewClient(&redis.Options{
			Addr:     n.Redis.Addr,
			Password: n.Redis.Password,
			DB:       n.Redis.DB,
		})
		pub = remote.RedisEmitter{Client: a.redis, ChannelPrefix: n.Redis.ChannelPrefix}
		a.Logger.Info("notifications via redis", "addr", n.Redis.Addr, "prefix", n.Redis.ChannelPrefix)
	case n.WebhookURL != "":
		pub = remote.HTTPEmitter{URL: n.WebhookURL, HTTPClient: &http.Client{}, Tokens: tokens}
		a.Logger.Info("notifications via webhook", "url", n.WebhookURL)
	default:
		pub = remote.LogEmitter{Logger: a.Logger}
		a.Logger.Warn("no notification transport configured; emails and alerts are only logged")
	}
	a.Notifier = remote.NewEventNotifier(pub, remote.EmitterOptions{
		Timeout:       time.Duration(n.TimeoutSeconds) * time.Second,
		RatePerSecond: n.RatePerSecond,
		Burst:         n.Burst,
		Logger:        a.Logger,
	})

	return workflow.Services{
		Tasks: remote.TaskClient{
			Client:       client("task", cfg.Services.Task),
			WriteTimeout: cfg.Services.Task.Timeout(),
		},
		Buildings: remote.BuildingClient{Client: client("building", cfg.Services.Building)},
		Cracks:    remote.CrackClient{Client: client("crack", cfg.Services.Crack)},
		Notifier:  a.Notifier,
	}
}

// Scheduler builds the cron scheduler over the engine's sweeps.
func (a *App) Scheduler() (*scheduler.Scheduler, error) {
	return scheduler.New(a.Engine, a.Config.Schedule, a.Logger)
}

// Ping checks the notification transport when one needs a connection.
func (a *App) Ping(ctx context.Context) error {
	if a.redis == nil {
		return nil
	}
	return a.redis.Ping(ctx).Err()
}

// Close waits for in-flight notifications, then closes redis and the database.
func (a *App) Close() error {
	if a.Notifier != nil {
		a.Notifier.Wait()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.Logger.Warn("close redis", "err", err)
		}
	}
	return a.DB.Close()
}
