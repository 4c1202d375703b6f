// Package store selects the AccountRepository implementation from config.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/dropDatabas3/pulsebroker/internal/config"
	"github.com/dropDatabas3/pulsebroker/internal/domain/repository"
	"github.com/dropDatabas3/pulsebroker/internal/store/memory"
	"github.com/dropDatabas3/pulsebroker/internal/store/pg"
)

// Open builds the repository for cfg.Storage. The returned closer is a no-op
// for the memory driver.
func Open(ctx context.Context, cfg *config.Config) (repository.AccountRepository, func(), error) {
	switch cfg.Storage.Driver {
	case "memory", "":
		return memory.New(), func() {}, nil
	case "postgres":
		if cfg.Storage.DSN == "" {
			return nil, nil, fmt.Errorf("storage: postgres driver requires dsn")
		}
		lifetime, _ := time.ParseDuration(cfg.Storage.Postgres.ConnMaxLifetime)
		pool, err := pg.Connect(ctx, cfg.Storage.DSN, cfg.Storage.Postgres.MaxConns, lifetime)
		if err != nil {
			return nil, nil, fmt.Errorf("storage: connect postgres: %w", err)
		}
		return pg.New(pool), pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("storage: unknown driver %q", cfg.Storage.Driver)
	}
}
