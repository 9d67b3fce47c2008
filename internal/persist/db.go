package persist

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/swarmnav/swarm/internal/config"
)

const applicationName = "swarmsim"

// DB wraps the pgx pool that run and sample writes go through.
type DB struct {
	Pool *pgxpool.Pool
	log  *zap.Logger
}

// NewDB connects and pings the database. The ping is bounded to five
// seconds so a missing server fails startup quickly.
func NewDB(ctx context.Context, cfg config.DatabaseConfig, log *zap.Logger) (*DB, error) {
	poolCfg, err := poolConfig(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to db: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	log.Info("資料庫連線成功",
		zap.String("host", poolCfg.ConnConfig.Host),
		zap.String("database", poolCfg.ConnConfig.Database),
		zap.Int32("max_conns", poolCfg.MaxConns),
		zap.Int32("min_conns", poolCfg.MinConns),
	)
	return &DB{Pool: pool, log: log}, nil
}

// poolConfig parses the DSN and applies the pool limits. MaxConns is at
// least one and MinConns never exceeds it.
func poolConfig(cfg config.DatabaseConfig) (*pgxpool.Config, error) {
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	maxConns := max(cfg.MaxOpenConns, 1)
	pc.MaxConns = int32(maxConns)
	pc.MinConns = int32(min(max(cfg.MaxIdleConns, 0), maxConns))
	if cfg.ConnMaxLifetime > 0 {
		pc.MaxConnLifetime = cfg.ConnMaxLifetime
	}
	if _, ok := pc.ConnConfig.RuntimeParams["application_name"]; !ok {
		pc.ConnConfig.RuntimeParams["application_name"] = applicationName
	}
	return pc, nil
}

// Stats reports pool usage for the shutdown log.
func (db *DB) Stats() (total, idle int32) {
	s := db.Pool.Stat()
	return s.TotalConns(), s.IdleConns()
}

func (db *DB) Close() {
	total, idle := db.Stats()
	db.log.Info("關閉資料庫連線", zap.Int32("total", total), zap.Int32("idle", idle))
	db.Pool.Close()
}
