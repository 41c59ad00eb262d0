package exec

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunShellStdin(t *testing.T) {
	r := NewRunner()
	out, err := r.RunShell(context.Background(), t.TempDir(), "cat", []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(out))
}

func TestRunShellErrorCarriesStderr(t *testing.T) {
	r := NewRunner()
	_, err := r.RunShell(context.Background(), "", "echo boom >&2; exit 3", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestWaitReady(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, WaitReady(ctx, srv.URL, nil))
	assert.GreaterOrEqual(t, calls.Load(), int32(2))
}

func TestWaitReadyTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	err := WaitReady(ctx, "http://127.0.0.1:1/openapi.json", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestServiceExitDetected(t *testing.T) {
	svc, err := StartService(context.Background(), t.TempDir(), "echo started; exit 1")
	require.NoError(t, err)
	defer svc.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = WaitReady(ctx, "http://127.0.0.1:1/", svc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "started")
}

func TestServiceStop(t *testing.T) {
	svc, err := StartService(context.Background(), t.TempDir(), "sleep 30")
	require.NoError(t, err)
	assert.False(t, svc.Exited())
	require.NoError(t, svc.Stop())
	assert.True(t, svc.Exited())
}
