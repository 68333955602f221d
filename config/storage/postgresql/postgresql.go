// Package postgres opens the PostgreSQL pool shared by the plan, checkpoint
// and recovery repositories and applies the embedded schema.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/crabzie/swarm-coordinator/config/storage/postgresql/migrations"
	config "github.com/crabzie/swarm-coordinator/config/utils"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	zaptracer "github.com/jackc/pgx-zap"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/tracelog"
	"go.uber.org/zap"
)

const defaultMaxConns = 4

// DB wraps the pgx pool; the url is kept for golang-migrate, which opens its own connection
type DB struct {
	*pgxpool.Pool
	url string
	log *zap.Logger
}

// setPoolConfig parses the url and attaches the zap query tracer. Checkpoint
// writes happen on every finalized proposal, so queries trace at debug.
func setPoolConfig(url string, maxConns int32, logger *zap.Logger) (*pgxpool.Config, error) {
	dbCfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}
	if maxConns <= 0 {
		maxConns = defaultMaxConns
	}
	dbCfg.MaxConns = maxConns
	dbCfg.ConnConfig.Tracer = &tracelog.TraceLog{
		Logger:   zaptracer.NewLogger(logger),
		LogLevel: tracelog.LogLevelDebug,
	}
	dbCfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeExec
	dbCfg.ConnConfig.StatementCacheCapacity = 0

	return dbCfg, nil
}

// New connects the pool and pings the server
func New(ctx context.Context, config *config.DB, logger *zap.Logger) (*DB, error) {
	url := fmt.Sprintf("%s://%s:%s@%s:%s/%s?sslmode=disable",
		config.Connection,
		config.User,
		config.Password,
		config.Host,
		config.Port,
		config.Name,
	)

	dbCfg, err := setPoolConfig(url, config.MaxConns, logger)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, dbCfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &DB{Pool: pool, url: url, log: logger}, nil
}

// Migrate applies the embedded plan, checkpoint and recovery schema
func (db *DB) Migrate() error {
	driver, err := iofs.New(migrations.MigrationsFS, ".")
	if err != nil {
		return err
	}

	m, err := migrate.NewWithSourceInstance("iofs", driver, db.url)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}

	if version, dirty, err := m.Version(); err == nil {
		db.log.Info("Schema ready", zap.Uint("version", version), zap.Bool("dirty", dirty))
	}
	return nil
}

// Healthy pings the server
func (db *DB) Healthy(ctx context.Context) error {
	if err := db.Ping(ctx); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	return nil
}

// Close closes the database connection
func (db *DB) Close() {
	db.Pool.Close()
}
