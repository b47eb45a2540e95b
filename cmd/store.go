package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fieldnotes/internal/store"
)

func storeTables() store.Tables {
	return store.Tables{
		Projects:   cfg.Store.Tables.Projects,
		FieldNotes: cfg.Store.Tables.FieldNotes,
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	tables := storeTables()
	zap.L().Info("store: configured tables",
		zap.String("driver", cfg.Store.Driver),
		zap.String("projects", tables.Projects),
		zap.String("field_notes", tables.FieldNotes),
	)

	switch cfg.Store.Driver {
	case "sqlite":
		return store.NewSQLite(cfg.Store.DatabaseURL, tables)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, tables, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// openVerifiedStore opens the store and checks the configured tables exist.
// A missing table is a configuration error and stops the command.
func openVerifiedStore(ctx context.Context) (store.Store, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.VerifySchema(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "verify schema (run `fieldnotes migrate` or fix store.tables)")
	}
	return st, nil
}
