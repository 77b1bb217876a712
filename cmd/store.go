package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/provider-validator/internal/coordinator"
	"github.com/sells-group/provider-validator/internal/store"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "provider-validator.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// openStore connects and migrates the configured store.
func openStore(ctx context.Context, mode string) (store.Store, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// coordinatorOptions builds worker pool options from the loaded config.
func coordinatorOptions() coordinator.Options {
	return coordinator.Options{
		Workers:            cfg.Validation.Workers,
		StoreTimeout:       cfg.Validation.StoreTimeout(),
		ProvidersPerSecond: cfg.Validation.ProvidersPerSecond,
		Retry:              cfg.Retry.Resilience(),
	}
}
