package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/kbdesk/internal/catalog"
	"github.com/kalambet/kbdesk/internal/config"
	"github.com/kalambet/kbdesk/internal/conversation"
	"github.com/kalambet/kbdesk/internal/desk"
	"github.com/kalambet/kbdesk/internal/kbclient"
	"github.com/kalambet/kbdesk/internal/session"
	"github.com/kalambet/kbdesk/internal/storage"
	"github.com/kalambet/kbdesk/internal/users"
)

// Overridable in tests.
var (
	loadConfig = config.Load
	openKV     = func(ctx context.Context, cfg config.Config) (storage.KV, error) {
		return storage.OpenBackend(ctx, storage.BackendOptions{
			Backend: cfg.Storage.Backend,
			DataDir: cfg.Storage.DataDir,
			Redis: storage.RedisOptions{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
				Prefix:   cfg.Redis.Prefix,
			},
		})
	}
)

// app is one process worth of wired components.
type app struct {
	cfg     config.Config
	logger  *slog.Logger
	kv      storage.KV
	client  *kbclient.Client
	catalog *catalog.Catalog
	desk    *desk.Desk
}

// openApp loads config, opens storage and wires the desk. Interactive
// commands get the colored log handler and stay quiet below warn unless
// log.level is debug.
func openApp(ctx context.Context, interactive bool) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	level := cfg.Log.Level
	if interactive && parseLevel(level) == slog.LevelInfo {
		level = "warn"
	}
	logger := newLogger(os.Stderr, level, interactive)
	slog.SetDefault(logger)

	kv, err := openKV(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	admin, err := session.NewAdminCredential(cfg.Auth.AdminEmail, cfg.Auth.AdminPassword)
	if err != nil {
		kv.Close()
		return nil, fmt.Errorf("preparing admin credential: %w", err)
	}

	client := kbclient.New(cfg.Backend.BaseURL, kbclient.WithLogger(logger))

	cat := catalog.New(kv, catalog.WithLogger(logger))
	if err := cat.Load(ctx); err != nil {
		kv.Close()
		return nil, fmt.Errorf("loading catalog: %w", err)
	}

	conv := conversation.NewService(client, conversation.NewTranscripts(kv, logger), conversation.WithLogger(logger))
	dir := users.NewDirectory(kv, client, admin.Email, users.WithLogger(logger))

	d := desk.New(desk.Deps{
		Holder:       session.NewHolder(kv, logger),
		Auth:         session.NewAuthenticator(client, admin),
		Catalog:      cat,
		Uploader:     client,
		Conversation: conv,
		Users:        dir,
		Logger:       logger,
	})

	logger.Debug("kbdesk ready", "backend", client.BaseURL(), "storage", cfg.Storage.Backend)
	return &app{cfg: cfg, logger: logger, kv: kv, client: client, catalog: cat, desk: d}, nil
}

func (a *app) Close() {
	if err := a.catalog.Flush(context.Background()); err != nil {
		a.logger.Warn("flushing catalog", "error", err)
	}
	if err := a.kv.Close(); err != nil {
		a.logger.Warn("closing storage", "error", err)
	}
}

// user returns the signed-in user, or nil. The desk decides whether nil is
// acceptable for the operation.
func (a *app) user(ctx context.Context) *session.User {
	u, err := a.desk.CurrentUser(ctx)
	if err != nil {
		a.logger.Warn("reading session", "error", err)
		return nil
	}
	return u
}

// withApp runs fn against a freshly opened interactive app.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func joinArgs(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}
