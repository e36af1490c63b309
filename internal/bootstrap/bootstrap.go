// Package bootstrap wires configuration into the runtime dependencies shared
// by the server and the admin CLI.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/gerenciadorbet/ledger-engine/internal/account"
	"github.com/gerenciadorbet/ledger-engine/internal/config"
	"github.com/gerenciadorbet/ledger-engine/internal/notify"
	"github.com/gerenciadorbet/ledger-engine/internal/store"
)

// Deps holds the wired components and the functions that release them.
type Deps struct {
	Store   store.Store
	Service *account.Service

	cleanup []func()
}

// Close releases every resource in reverse acquisition order.
func (d *Deps) Close() {
	for i := len(d.cleanup) - 1; i >= 0; i-- {
		d.cleanup[i]()
	}
}

// OpenStore selects the ledger store. Postgres is used when db.dsn is set,
// optionally fronted by a Redis cache; otherwise state is kept in memory.
func OpenStore(ctx context.Context, cfg config.Config, log *zap.Logger) (store.Store, []func(), error) {
	var cleanup []func()

	if cfg.DB.DSN == "" {
		log.Warn("db.dsn not set, using in-memory store (data will not persist)")
		return store.NewMemoryStore(), nil, nil
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DB.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("parse db dsn: %w", err)
	}
	if cfg.DB.MaxConns > 0 {
		poolCfg.MaxConns = cfg.DB.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ping postgres: %w", err)
	}
	cleanup = append(cleanup, pool.Close)

	pg := store.NewPostgresStore(pool)
	if cfg.DB.Migrate {
		if err := pg.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
	}
	log.Info("connected to PostgreSQL", zap.Int32("max_conns", poolCfg.MaxConns))

	var st store.Store = pg
	if cfg.Redis.URL != "" {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("parse redis url: %w", err)
		}
		rdb := redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		st = store.NewCachedStore(st, rdb, cfg.Redis.TTL)
		log.Info("Redis cache enabled", zap.Duration("ttl", cfg.Redis.TTL))
	}
	return st, cleanup, nil
}

// Open builds the store, the notification fan-out and the account service.
// Extra sinks (the WebSocket hub in the server) are appended after Kafka.
func Open(ctx context.Context, cfg config.Config, log *zap.Logger, sinks ...notify.Sink) (*Deps, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	defaults, err := cfg.Admin.Defaults()
	if err != nil {
		return nil, err
	}

	st, cleanup, err := OpenStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	d := &Deps{Store: st, cleanup: cleanup}

	if cfg.Kafka.Brokers != "" {
		w := notify.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.TopicNotifications)
		d.cleanup = append(d.cleanup, func() {
			if err := w.Close(); err != nil {
				log.Warn("kafka writer close", zap.Error(err))
			}
		})
		sinks = append([]notify.Sink{notify.NewKafkaSink(w)}, sinks...)
		log.Info("kafka notifications enabled", zap.String("topic", w.Topic))
	}

	emitter := notify.NewEmitter(log, sinks...)
	d.Service = account.NewService(st, emitter, defaults, loc, account.WithLogger(log))
	return d, nil
}
