package app

import (
	"context"
	"fmt"
	"time"

	"relay/cmd/internal/chat"
	"relay/cmd/internal/storage/memory"
	"relay/cmd/internal/storage/postgres"
	"relay/cmd/internal/storage/sqlite"

	"github.com/jackc/pgx/v5/pgxpool"
)

// durableStore is what every backend provides: the chat collaborator surface plus
// membership writes for seeding.
type durableStore interface {
	chat.Store
	chat.MemberWriter
}

// StoreHandle owns the selected store backend and the resources behind it.
type StoreHandle struct {
	Store   durableStore
	Backend string

	pool *pgxpool.Pool
}

// OpenStore opens the backend selected by cfg.
//
// Ownership model:
//   - the handle owns the pgx pool; postgres.Store.Close is a no-op
//   - the sqlite store owns its *sql.DB
func OpenStore(ctx context.Context, cfg Config, log Logger) (*StoreHandle, error) {
	backend := cfg.StoreBackend()

	switch backend {
	case StoreMemory:
		log.Warn("store.memory", "hint", "messages and memberships are lost on restart")
		return &StoreHandle{Store: memory.New(), Backend: backend}, nil

	case StoreSQLite:
		st, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		log.Info("store.sqlite", "path", cfg.SQLitePath)
		return &StoreHandle{Store: st, Backend: backend}, nil

	case StorePostgres:
		pool, err := openPostgresPool(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("open postgres pool: %w", err)
		}
		st, err := postgres.New(pool, postgres.WithSchema(cfg.DBSchema))
		if err != nil {
			pool.Close()
			return nil, err
		}
		if cfg.DBMigrate {
			mctx, cancel := context.WithTimeout(ctx, 30*time.Second)
			err := st.Migrate(mctx)
			cancel()
			if err != nil {
				pool.Close()
				return nil, fmt.Errorf("migrate postgres schema %q: %w", st.Schema(), err)
			}
			log.Info("store.postgres.migrated", "schema", st.Schema())
		}
		log.Info("store.postgres", "schema", st.Schema())
		return &StoreHandle{Store: st, Backend: backend, pool: pool}, nil

	default:
		return nil, fmt.Errorf("unknown store backend %q", backend)
	}
}

// postgresPoolConfig maps cfg onto a pgx pool config. Sessions are tagged with
// application_name so relay connections are visible in pg_stat_activity.
func postgresPoolConfig(cfg Config) (*pgxpool.Config, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse RELAY_DATABASE_URL: %w", err)
	}
	if cfg.DBMaxConns > 0 {
		pcfg.MaxConns = cfg.DBMaxConns
	}
	if cfg.DBMinConns > 0 {
		pcfg.MinConns = min(cfg.DBMinConns, pcfg.MaxConns)
	}
	if _, ok := pcfg.ConnConfig.RuntimeParams["application_name"]; !ok {
		pcfg.ConnConfig.RuntimeParams["application_name"] = "relay"
	}
	return pcfg, nil
}

// openPostgresPool builds the pool and pings it within the store timeout.
// Migrations are left to OpenStore.
func openPostgresPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	pcfg, err := postgresPoolConfig(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}

	timeout := cfg.StoreTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := pool.Ping(pctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres within %s: %w", timeout, err)
	}
	return pool, nil
}

// Durable reports whether the backend survives a restart.
func (h *StoreHandle) Durable() bool {
	return h != nil && h.Backend != StoreMemory
}

// Ping checks the backend within timeout.
func (h *StoreHandle) Ping(parent context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	return h.Store.Ping(ctx)
}

// Close releases the store and the pool behind it.
func (h *StoreHandle) Close() error {
	if h == nil || h.Store == nil {
		return nil
	}
	err := h.Store.Close()
	if h.pool != nil {
		h.pool.Close()
	}
	return err
}
