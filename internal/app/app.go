package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	grpcapp "authsvc/internal/app/grpc"
	"authsvc/internal/config"
	"authsvc/internal/gateway"
	authgrpc "authsvc/internal/grpc/auth"
	"authsvc/internal/grpc/ratelimit"
	"authsvc/internal/lib/sl"
	"authsvc/internal/services/auth"
	"authsvc/internal/storage/memory"
	"authsvc/internal/storage/mongodb"
	"authsvc/internal/storage/redis"
	"authsvc/internal/storage/sqlite"
	"authsvc/migrations"
)

type userStore interface {
	auth.UserSaver
	auth.UserProvider
}

// purger is implemented by token stores without native expiry.
type purger interface {
	PurgeRefreshTokens(ctx context.Context, before time.Time) (int64, error)
}

type App struct {
	GRPCSrv *grpcapp.App

	log           *slog.Logger
	purger        purger
	purgeInterval time.Duration
	closers       []func(context.Context) error
}

// New opens the configured stores and assembles the gRPC server.
func New(ctx context.Context, log *slog.Logger, cfg *config.Config) (*App, error) {
	const op = "app.New"

	a := &App{
		log:           log,
		purgeInterval: cfg.Storage.PurgeInterval,
	}

	users, tokens, err := a.openStores(ctx, cfg)
	if err != nil {
		_ = a.Close(ctx)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if p, ok := tokens.(purger); ok {
		a.purger = p
	}

	authService := auth.New(log, users, users, tokens, cfg.Tokens)
	verifier := gateway.NewVerifier(log, cfg.Tokens.AccessSecret)
	limiter := ratelimit.New(cfg.RateLimit.RequestsPerMinute,
		authgrpc.RegisterFullMethodName,
		authgrpc.LoginFullMethodName,
		authgrpc.RefreshFullMethodName,
		authgrpc.LogoutFullMethodName,
	)

	a.GRPCSrv = grpcapp.New(log, authService, verifier, limiter, cfg.Grpc.Port, cfg.Grpc.Timeout)

	return a, nil
}

// Run serves gRPC and purges expired tokens until ctx is done.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(a.GRPCSrv.Run)

	g.Go(func() error {
		<-ctx.Done()
		a.GRPCSrv.Stop()
		return nil
	})

	if a.purger != nil && a.purgeInterval > 0 {
		g.Go(func() error {
			a.purgeLoop(ctx)
			return nil
		})
	}

	return g.Wait()
}

// Close releases every store connection.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil

	return errors.Join(errs...)
}

func (a *App) purgeLoop(ctx context.Context) {
	const op = "app.purgeLoop"

	log := a.log.With(slog.String("op", op))

	ticker := time.NewTicker(a.purgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := a.purger.PurgeRefreshTokens(ctx, time.Now())
			if err != nil {
				log.Error("failed to purge refresh tokens", sl.Err(err))
				continue
			}
			if n > 0 {
				log.Info("expired refresh tokens purged", slog.Int64("count", n))
			}
		}
	}
}

func (a *App) openStores(ctx context.Context, cfg *config.Config) (userStore, auth.RefreshTokenProvider, error) {
	var (
		mem   *memory.Storage
		lite  *sqlite.Storage
		mongo *mongodb.Storage
	)

	getMemory := func() *memory.Storage {
		if mem == nil {
			mem = memory.New()
		}
		return mem
	}

	getSQLite := func() (*sqlite.Storage, error) {
		if lite != nil {
			return lite, nil
		}
		s, err := a.openSQLite(cfg.Storage.Path)
		if err != nil {
			return nil, err
		}
		lite = s
		a.closers = append(a.closers, func(context.Context) error { return s.Close() })
		return lite, nil
	}

	getMongo := func() (*mongodb.Storage, error) {
		if mongo != nil {
			return mongo, nil
		}
		s, err := mongodb.New(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
		if err != nil {
			return nil, err
		}
		mongo = s
		a.closers = append(a.closers, s.Close)
		return mongo, nil
	}

	var users userStore
	switch cfg.Storage.Users {
	case config.DriverMemory:
		users = getMemory()
	case config.DriverSQLite:
		s, err := getSQLite()
		if err != nil {
			return nil, nil, err
		}
		users = s
	case config.DriverMongoDB:
		s, err := getMongo()
		if err != nil {
			return nil, nil, err
		}
		users = s
	default:
		return nil, nil, fmt.Errorf("unknown users storage %q", cfg.Storage.Users)
	}

	var tokens auth.RefreshTokenProvider
	switch cfg.Storage.Tokens {
	case config.DriverMemory:
		tokens = getMemory()
	case config.DriverSQLite:
		s, err := getSQLite()
		if err != nil {
			return nil, nil, err
		}
		tokens = s
	case config.DriverMongoDB:
		s, err := getMongo()
		if err != nil {
			return nil, nil, err
		}
		tokens = s
	case config.DriverRedis:
		s, err := redis.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return s.Close() })
		tokens = s
	default:
		return nil, nil, fmt.Errorf("unknown tokens storage %q", cfg.Storage.Tokens)
	}

	a.log.Info("storage ready",
		slog.String("users", cfg.Storage.Users),
		slog.String("tokens", cfg.Storage.Tokens),
	)

	return users, tokens, nil
}

// openSQLite brings the schema up to date before opening the database.
func (a *App) openSQLite(path string) (*sqlite.Storage, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}

	applied, err := migrations.Up(path)
	if err != nil {
		return nil, err
	}
	if applied {
		a.log.Info("migrations applied", slog.String("path", path))
	}

	return sqlite.New(path)
}
