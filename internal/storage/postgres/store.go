package postgres

import (
	"context"
	"embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/ternarybob/arbor"

	"github.com/healthpulse/pulse/internal/common"
	"github.com/healthpulse/pulse/internal/interfaces"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Manager owns the pgx pool and exposes the storage facets. The relational
// store is the shared source of truth; writes are protected by row-level
// constraints and the commit-before-publish rule enforced in transform.
type Manager struct {
	pool   *pgxpool.Pool
	logger arbor.ILogger

	jobs         *JobStore
	integrations *IntegrationStore
	raw          *RawStore
	mappings     *MappingStore
	entities     *EntityStore
	bridge       *VectorBridgeStore
	auth         *AuthStore
}

// NewManager connects the pool, optionally runs migrations, and wires the
// store facets.
func NewManager(ctx context.Context, cfg common.DatabaseConfig, logger arbor.ILogger) (*Manager, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}

	connectCtx, cancel := context.WithTimeout(ctx, common.Duration(cfg.ConnectTimeout, 10*time.Second))
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database unreachable: %w", err)
	}

	if cfg.MigrateOnStart {
		if err := migrate(cfg.DSN); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		logger.Info().Msg("Database migrations applied")
	}

	m := &Manager{pool: pool, logger: logger}
	m.jobs = &JobStore{pool: pool, logger: logger}
	m.integrations = &IntegrationStore{pool: pool}
	m.raw = &RawStore{pool: pool}
	m.mappings = &MappingStore{pool: pool}
	m.bridge = &VectorBridgeStore{pool: pool}
	m.entities = &EntityStore{pool: pool, bridge: m.bridge, logger: logger}
	m.auth = &AuthStore{pool: pool}

	logger.Info().
		Int("max_conns", int(poolCfg.MaxConns)).
		Msg("Storage layer initialized")

	return m, nil
}

// migrate applies the embedded goose migrations through database/sql.
func migrate(dsn string) error {
	connCfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return err
	}
	db := stdlib.OpenDB(*connCfg)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.Up(db, "migrations")
}

func (m *Manager) JobStorage() interfaces.JobStorage                 { return m.jobs }
func (m *Manager) IntegrationStorage() interfaces.IntegrationStorage { return m.integrations }
func (m *Manager) RawStorage() interfaces.RawStorage                 { return m.raw }
func (m *Manager) MappingStorage() interfaces.MappingStorage         { return m.mappings }
func (m *Manager) EntityStorage() interfaces.EntityStorage           { return m.entities }
func (m *Manager) VectorBridgeStorage() interfaces.VectorBridgeStorage {
	return m.bridge
}
func (m *Manager) AuthStorage() interfaces.AuthStorage { return m.auth }

// Close drains the pool.
func (m *Manager) Close() error {
	m.pool.Close()
	m.logger.Info().Msg("Storage closed")
	return nil
}

// nullTime maps a *time.Time to sql null semantics for pgx arguments.
func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
