package observability

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShutdownManager_RunsAllFunctions(t *testing.T) {
	sm := NewShutdownManager(NewLogger(InfoLevel, &bytes.Buffer{}), nil, time.Second)

	var calls int32
	for _, name := range []string{"db", "redis", "otel"} {
		sm.RegisterShutdownFunc(name, func(context.Context) error {
			atomic.AddInt32(&calls, 1)
			return nil
		})
	}
	sm.RegisterShutdownFunc("ignored", nil)

	require.NoError(t, sm.Shutdown())
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestShutdownManager_CollectsErrors(t *testing.T) {
	sm := NewShutdownManager(nil, nil, time.Second)
	dbErr := errors.New("close failed")

	sm.RegisterShutdownFunc("db", func(context.Context) error { return dbErr })
	sm.RegisterShutdownFunc("ok", func(context.Context) error { return nil })
	sm.RegisterShutdownFunc("panics", func(context.Context) error { panic("boom") })

	err := sm.Shutdown()
	require.Error(t, err)
	assert.ErrorIs(t, err, dbErr)
	assert.Contains(t, err.Error(), "db: close failed")
	assert.Contains(t, err.Error(), "panics: panicked")
}

func TestShutdownManager_Timeout(t *testing.T) {
	sm := NewShutdownManager(nil, nil, 50*time.Millisecond)
	sm.RegisterShutdownFunc("slow", func(ctx context.Context) error {
		time.Sleep(time.Second)
		return nil
	})

	err := sm.Shutdown()
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestShutdownManager_DrainsServer(t *testing.T) {
	ts := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	ts.Start()
	defer ts.Close()

	server := ts.Config
	sm := NewShutdownManager(nil, server, time.Second)

	var ran bool
	sm.RegisterShutdownFunc("after", func(context.Context) error {
		ran = true
		return nil
	})

	require.NoError(t, sm.Shutdown())
	assert.True(t, ran)
}

func TestShutdownManager_Wait(t *testing.T) {
	sm := NewShutdownManager(nil, nil, time.Second)
	var ran int32
	sm.RegisterShutdownFunc("x", func(context.Context) error {
		atomic.StoreInt32(&ran, 1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sm.Wait(ctx) }()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after context cancellation")
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(&ran))
}

func TestNewShutdownManager_DefaultTimeout(t *testing.T) {
	sm := NewShutdownManager(nil, nil, 0)
	assert.Equal(t, 30*time.Second, sm.shutdownTimeout)
	assert.NotNil(t, sm.logger)
}
