package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/rl1809/cart-sync/internal/adapter/storage"
	"github.com/rl1809/cart-sync/internal/config"
	"github.com/rl1809/cart-sync/internal/migrate"
	"github.com/rl1809/cart-sync/internal/port"
)

type remoteBackend interface {
	port.CartGateway
	port.OrderCreator
}

func openLocalStore(ctx context.Context, cfg *config.Config) (port.LocalStore, func() error, error) {
	switch cfg.LocalStore {
	case "sqlite":
		store, err := storage.OpenSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		return storage.NewRedisStore(rdb, ""), rdb.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown local store %q", cfg.LocalStore)
	}
}

// openRemote connects to the remote backend and brings its schema up to date.
func openRemote(ctx context.Context, cfg *config.Config) (remoteBackend, func(), error) {
	switch cfg.RemoteBackend {
	case "mysql":
		db, err := sql.Open("mysql", cfg.MySQLDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open mysql: %w", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("ping mysql: %w", err)
		}
		adapter := storage.NewMySQLAdapter(db)
		if err := adapter.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		return adapter, func() { db.Close() }, nil
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.DBConnString)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := migrate.Apply(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return storage.NewPostgresAdapter(pool), pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown remote backend %q", cfg.RemoteBackend)
	}
}
