package main

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-ingest/internal/business"
	"github.com/sells-group/lead-ingest/internal/config"
	"github.com/sells-group/lead-ingest/internal/dedupe"
	"github.com/sells-group/lead-ingest/internal/resilience"
)

const defaultSQLitePath = "lead-ingest.db"

// initStore opens the configured backend. Embedded backends are migrated on
// open; Postgres schemas are applied with the migrate command.
func initStore(ctx context.Context, sc config.StoreConfig) (business.Store, error) {
	var st business.Store
	switch sc.Driver {
	case "sqlite":
		dsn := sc.DatabaseURL
		if dsn == "" {
			dsn = defaultSQLitePath
		}
		s, err := business.NewSQLite(dsn)
		if err != nil {
			return nil, err
		}
		st = s
	case "memory":
		st = business.NewMemoryStore()
	case "postgres":
		s, err := business.NewPostgres(ctx, sc.DatabaseURL, &business.PoolConfig{
			MaxConns: sc.MaxConns,
			MinConns: sc.MinConns,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, eris.Errorf("unsupported store driver: %s", sc.Driver)
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// newIngester builds the ingest path from config. reg may be nil.
func newIngester(st business.Store, reg prometheus.Registerer) *dedupe.Ingester {
	opts := []dedupe.Option{
		dedupe.WithPriorities(dedupe.NewPriorities(cfg.Dedupe.SourcePriority)),
		dedupe.WithRetry(resilience.WithAttempts(cfg.Dedupe.ConflictRetries)),
	}
	if reg != nil {
		opts = append(opts, dedupe.WithMetrics(dedupe.NewMetrics(reg)))
	}
	return dedupe.NewIngester(st, opts...)
}
