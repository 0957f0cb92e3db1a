package postgres

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenantgate/pkg/observability"
)

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.ErrorLevel, io.Discard)
}

func newPingMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	return db, mock
}

func TestNewConnectionManager_RequiresURL(t *testing.T) {
	_, err := NewConnectionManager(context.Background(), ConnectionConfig{}, testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database URL is required")
}

func TestConnect(t *testing.T) {
	db, mock := newPingMock(t)
	mock.ExpectPing()

	cm, err := connect(context.Background(), ConnectionConfig{MaxConns: 5, MinConns: 1, Timeout: time.Second}, testLogger(),
		func() (*sql.DB, error) { return db, nil })
	require.NoError(t, err)
	assert.Same(t, db, cm.DB())
	assert.Equal(t, 5, cm.Stats().MaxOpenConnections)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConnect_RetriesUntilReady(t *testing.T) {
	db, mock := newPingMock(t)
	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	mock.ExpectPing()

	cm, err := connect(context.Background(), ConnectionConfig{MaxConns: 2, Timeout: 5 * time.Second}, testLogger(),
		func() (*sql.DB, error) { return db, nil })
	require.NoError(t, err)
	require.NotNil(t, cm)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConnect_GivesUpAfterTimeout(t *testing.T) {
	db, mock := newPingMock(t)
	for i := 0; i < 10; i++ {
		mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	}
	mock.ExpectClose()

	_, err := connect(context.Background(), ConnectionConfig{MaxConns: 2, Timeout: 250 * time.Millisecond}, testLogger(),
		func() (*sql.DB, error) { return db, nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to ping database")
}

func TestConnect_OpenError(t *testing.T) {
	_, err := connect(context.Background(), ConnectionConfig{}, testLogger(),
		func() (*sql.DB, error) { return nil, errors.New("bad dsn") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad dsn")
}

func TestConnectionManager_HealthCheck(t *testing.T) {
	db, mock := newPingMock(t)
	cm := &ConnectionManager{db: db, logger: testLogger()}

	mock.ExpectPing()
	assert.NoError(t, cm.HealthCheck(context.Background()))

	mock.ExpectPing().WillReturnError(errors.New("down"))
	err := cm.HealthCheck(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database unhealthy")

	mock.ExpectClose()
	assert.NoError(t, cm.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConnectionManager_StartStatsRoutine(t *testing.T) {
	db, _ := newPingMock(t)
	db.SetMaxOpenConns(7)
	cm := &ConnectionManager{db: db, logger: testLogger()}
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cm.StartStatsRoutine(ctx, metrics, 10*time.Millisecond)

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.DBConnectionsWaitCount) == 0 &&
			testutil.CollectAndCount(metrics.DBConnectionsOpen) == 1
	}, time.Second, 10*time.Millisecond)

	// nil metrics is a no-op
	cm.StartStatsRoutine(ctx, nil, time.Millisecond)
}
