// Package postgres holds the shared persistence plumbing: the primary
// connection pool, schema migrations, transaction helpers, PostgreSQL error
// classification and the Redis client used for distributed rate limiting.
//
// Stores in other packages take a *sql.DB from ConnectionManager.DB and run
// multi-statement operations through WithTx:
//
//	cm, err := postgres.NewConnectionManager(ctx, postgres.ConnectionConfig{
//		URL:      cfg.Database.URL,
//		MaxConns: cfg.Database.MaxConns,
//	}, logger)
//	if err != nil {
//		return err
//	}
//	if err := postgres.Migrate(ctx, cm.DB(), logger); err != nil {
//		return err
//	}
//	store := profiles.NewPostgresStore(cm.DB())
//
// Migrations are forward-only and serialised across processes with an
// advisory lock, so several replicas may start at once.
//
// Integration tests run against a real PostgreSQL container:
//
//	go test -tags integration ./pkg/storage/postgres/...
package postgres
