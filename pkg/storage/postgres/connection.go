package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/platinummonkey/tenantgate/pkg/observability"
)

// ConnectionConfig holds database connection configuration
type ConnectionConfig struct {
	URL         string
	MaxConns    int
	MinConns    int
	Timeout     time.Duration
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
}

// ConnectionManager owns the primary connection pool. Authorization reads
// must observe the latest committed role and active flag, so every query
// goes to the primary.
type ConnectionManager struct {
	db     *sql.DB
	config ConnectionConfig
	logger *observability.Logger
}

// NewConnectionManager opens the pool and waits for the database to answer
// a ping, retrying until config.Timeout elapses.
func NewConnectionManager(ctx context.Context, config ConnectionConfig, logger *observability.Logger) (*ConnectionManager, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("database URL is required")
	}
	return connect(ctx, config, logger, func() (*sql.DB, error) {
		return sql.Open("postgres", config.URL)
	})
}

func connect(ctx context.Context, config ConnectionConfig, logger *observability.Logger, open func() (*sql.DB, error)) (*ConnectionManager, error) {
	db, err := open()
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	db.SetMaxOpenConns(config.MaxConns)
	db.SetMaxIdleConns(config.MinConns)
	db.SetConnMaxLifetime(config.MaxLifetime)
	db.SetConnMaxIdleTime(config.MaxIdleTime)

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	backoff := 100 * time.Millisecond
	for attempt := 1; ; attempt++ {
		err = db.PingContext(pingCtx)
		if err == nil {
			break
		}
		logger.WithError(err).WithField("attempt", attempt).Warn("database not ready")

		select {
		case <-pingCtx.Done():
			db.Close()
			return nil, fmt.Errorf("failed to ping database: %w", err)
		case <-time.After(backoff):
		}
		if backoff < 2*time.Second {
			backoff *= 2
		}
	}

	logger.WithFields(map[string]interface{}{
		"max_conns": config.MaxConns,
		"min_conns": config.MinConns,
	}).Info("database connection established")

	return &ConnectionManager{db: db, config: config, logger: logger}, nil
}

// DB returns the connection pool
func (cm *ConnectionManager) DB() *sql.DB {
	return cm.db
}

// HealthCheck pings the database
func (cm *ConnectionManager) HealthCheck(ctx context.Context) error {
	if err := cm.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database unhealthy: %w", err)
	}
	return nil
}

// Stats returns connection pool statistics
func (cm *ConnectionManager) Stats() sql.DBStats {
	return cm.db.Stats()
}

// Close closes the pool
func (cm *ConnectionManager) Close() error {
	if err := cm.db.Close(); err != nil {
		return fmt.Errorf("database close error: %w", err)
	}
	return nil
}

// StartStatsRoutine publishes pool statistics to metrics every interval
// until ctx is done.
func (cm *ConnectionManager) StartStatsRoutine(ctx context.Context, metrics *observability.Metrics, interval time.Duration) {
	if metrics == nil {
		return
	}
	if interval == 0 {
		interval = 15 * time.Second
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		defer observability.RecoverPanic(cm.logger, "db stats routine")

		metrics.RecordDBStats(cm.db.Stats())
		for {
			select {
			case <-ticker.C:
				metrics.RecordDBStats(cm.db.Stats())
			case <-ctx.Done():
				return
			}
		}
	}()
}
