// Package bootstrap wires configuration into a ready dispatch runtime.
package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/JAKOBGTAG/multi-email-sender/internal/api"
	"github.com/JAKOBGTAG/multi-email-sender/internal/config"
	"github.com/JAKOBGTAG/multi-email-sender/internal/content"
	"github.com/JAKOBGTAG/multi-email-sender/internal/esp"
	"github.com/JAKOBGTAG/multi-email-sender/internal/pkg/distlock"
	"github.com/JAKOBGTAG/multi-email-sender/internal/pkg/logger"
	"github.com/JAKOBGTAG/multi-email-sender/internal/ratelimit"
	"github.com/JAKOBGTAG/multi-email-sender/internal/repository/postgres"
	"github.com/JAKOBGTAG/multi-email-sender/internal/service/dispatch"
	"github.com/JAKOBGTAG/multi-email-sender/internal/stats"
	"github.com/JAKOBGTAG/multi-email-sender/internal/storage"
)

// Runtime holds the wired service and the connections it owns.
type Runtime struct {
	Config  *config.Config
	Service *dispatch.Service
	Results *api.ResultBuffer
	Redis   *redis.Client
	DB      *sql.DB
}

// Build connects the optional backends and assembles the dispatch service.
// The last statistics snapshot is restored before it returns.
func Build(ctx context.Context, cfg *config.Config) (*Runtime, error) {
	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))
	logger.SetRedactPII(cfg.Logging.Redact())

	rt := &Runtime{Config: cfg, Results: api.NewResultBuffer(cfg.Server.ResultBuffer)}
	ok := false
	defer func() {
		if !ok {
			rt.Close()
		}
	}()

	if err := rt.connect(ctx); err != nil {
		return nil, err
	}

	sc, err := cfg.ServiceConfig()
	if err != nil {
		return nil, err
	}

	limiter, err := rt.limiter(sc.RateLimit)
	if err != nil {
		return nil, err
	}

	transport, err := esp.New(cfg.Transport)
	if err != nil {
		return nil, fmt.Errorf("transport: %w", err)
	}

	opts := []dispatch.Option{
		dispatch.WithEventLogger(logger.NewRecorder(nil)),
		dispatch.WithRenderer(content.NewLiquidRenderer()),
		dispatch.WithResultHandler(rt.Results.Add),
	}

	snapshots, err := rt.snapshotStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot store: %w", err)
	}
	if snapshots != nil {
		opts = append(opts, dispatch.WithSnapshotStore(snapshots))
	}

	if cfg.Lock.Enabled {
		lock := distlock.NewLock(rt.Redis, rt.DB, cfg.Lock.Key, cfg.Lock.TTL())
		if lock == nil {
			return nil, errors.New("lock enabled but neither redis nor database is configured")
		}
		opts = append(opts, dispatch.WithLock(lock))
	}

	svc, err := dispatch.NewService(sc, transport, limiter, opts...)
	if err != nil {
		return nil, err
	}
	rt.Service = svc

	if err := svc.Restore(ctx); err != nil {
		logger.Warn("statistics restore failed", "error", err)
	}

	logger.Info("dispatch runtime ready",
		"transport", string(cfg.Transport.Type),
		"strategy", string(sc.RateLimit.Strategy),
		"limiter_store", cfg.Dispatch.RateLimit.Store,
		"snapshot", cfg.Snapshot.Type,
		"lock", cfg.Lock.Enabled,
		"daily_limit", sc.DailyLimit,
	)
	ok = true
	return rt, nil
}

func (rt *Runtime) connect(ctx context.Context) error {
	if url := rt.Config.Redis.URL; url != "" {
		opts, err := redis.ParseURL(url)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(opts)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			client.Close()
			return fmt.Errorf("redis ping: %w", err)
		}
		rt.Redis = client
		logger.Info("connected to redis")
	}

	if url := rt.Config.Database.URL; url != "" {
		db, err := sql.Open("postgres", url)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(5 * time.Minute)

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			db.Close()
			return fmt.Errorf("database ping: %w", err)
		}
		rt.DB = db
		logger.Info("connected to database")
	}
	return nil
}

func (rt *Runtime) limiter(cfg ratelimit.Config) (ratelimit.Limiter, error) {
	var opts []ratelimit.Option
	rl := rt.Config.Dispatch.RateLimit
	switch rl.Store {
	case "", "memory":
	case "redis":
		if rt.Redis == nil {
			return nil, errors.New("rate limit store redis requires redis.url")
		}
		opts = append(opts, ratelimit.WithStore(ratelimit.NewRedisStore(rt.Redis, rl.Name)))
	default:
		return nil, fmt.Errorf("unknown rate limit store: %s", rl.Store)
	}
	return ratelimit.New(cfg, opts...)
}

func (rt *Runtime) snapshotStore(ctx context.Context) (stats.SnapshotStore, error) {
	if rt.Config.Snapshot.Type == "postgres" {
		if rt.DB == nil {
			return nil, errors.New("postgres snapshots require database.url")
		}
		return postgres.NewStatisticsRepo(rt.DB, rt.Config.Snapshot.Name), nil
	}
	return storage.New(ctx, rt.Config.Snapshot)
}

// Handlers builds the HTTP handlers over the runtime.
func (rt *Runtime) Handlers() *api.Handlers {
	return api.NewHandlers(rt.Service, rt.Results, api.NewHealthChecker(rt.DB, rt.Redis))
}

// Close releases the connections. It is safe to call more than once.
func (rt *Runtime) Close() {
	if rt.Redis != nil {
		rt.Redis.Close()
		rt.Redis = nil
	}
	if rt.DB != nil {
		rt.DB.Close()
		rt.DB = nil
	}
}
