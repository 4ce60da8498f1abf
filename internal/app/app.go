// Package app wires the storage, bus and auth layers from a Config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/GoCodeAlone/tally/auth"
	"github.com/GoCodeAlone/tally/backend"
	"github.com/GoCodeAlone/tally/comms"
	"github.com/GoCodeAlone/tally/config"
	"github.com/GoCodeAlone/tally/task"
)

// App holds the opened backend components.
type App struct {
	Tasks *task.SQLiteStore
	Users *auth.UserStore
	Bus   comms.Bus
	Auth  *auth.Service
	Docs  *backend.Documents

	closers []func() error
}

// Open creates the data directory, opens both databases and connects the
// configured bus. The caller must call Close.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	a := &App{}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	tasks, err := task.NewSQLiteStore(filepath.Join(cfg.DataDir, "tasks.db"))
	if err != nil {
		return nil, err
	}
	a.Tasks = tasks
	a.closers = append(a.closers, tasks.Close)

	users, err := auth.NewUserStore(filepath.Join(cfg.DataDir, "users.db"))
	if err != nil {
		return nil, err
	}
	a.Users = users
	a.closers = append(a.closers, users.Close)

	switch cfg.Bus.Kind {
	case config.BusRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.Bus.RedisAddr})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("connect redis %s: %w", cfg.Bus.RedisAddr, err)
		}
		bus := comms.NewRedisBus(client, cfg.Bus.RedisPrefix, logger)
		a.Bus = bus
		a.closers = append(a.closers, bus.Close)
		logger.Info("using redis bus", slog.String("addr", cfg.Bus.RedisAddr))
	default:
		a.Bus = comms.NewInMemoryBus()
	}

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if cfg.Auth.JWTSecret == "" {
		logger.Warn("no jwt secret configured; sessions end on restart")
	}
	a.Auth = auth.NewService(users, auth.NewPasswordHasher(cfg.Auth.BcryptCost), tokens)
	a.Docs = backend.NewDocuments(tasks, a.Bus, logger)

	ok = true
	return a, nil
}

// Local returns an in-process backend over the opened components.
func (a *App) Local(logger *slog.Logger) *backend.Local {
	return backend.NewLocal(a.Docs, a.Auth, logger)
}

// Close releases everything Open acquired, in reverse order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
