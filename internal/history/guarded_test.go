package history

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/chatrelay/internal/metrics"
	"github.com/rickgao/chatrelay/internal/model"
)

// flakyStore fails while broken is set and counts calls that reach it.
type flakyStore struct {
	inner  *MemoryStore
	broken atomic.Bool
	calls  atomic.Int32
}

var errBackend = errors.New("connection refused")

func (f *flakyStore) Fetch(ctx context.Context, limit int) ([]model.Message, error) {
	f.calls.Add(1)
	if f.broken.Load() {
		return nil, errBackend
	}
	return f.inner.Fetch(ctx, limit)
}

func (f *flakyStore) Append(ctx context.Context, msg model.Message) (model.Message, error) {
	f.calls.Add(1)
	if f.broken.Load() {
		return model.Message{}, errBackend
	}
	return f.inner.Append(ctx, msg)
}

func newFlaky() *flakyStore {
	return &flakyStore{inner: NewMemoryStore(10, nil)}
}

func TestGuardedStore_PassesThrough(t *testing.T) {
	backend := newFlaky()
	store := NewGuardedStore(backend, GuardConfig{MaxFailures: 3, OpenTimeout: time.Minute}, nil, nil)
	ctx := context.Background()

	stored, err := store.Append(ctx, model.Message{Text: "hi"})
	require.NoError(t, err)

	got, err := store.Fetch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, stored.ID, got[0].ID)
	assert.Equal(t, gobreaker.StateClosed, store.State())
}

func TestGuardedStore_OpensAfterConsecutiveFailures(t *testing.T) {
	backend := newFlaky()
	backend.broken.Store(true)
	store := NewGuardedStore(backend, GuardConfig{MaxFailures: 3, OpenTimeout: time.Minute}, nil, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := store.Fetch(ctx, 10)
		require.ErrorIs(t, err, errBackend)
		assert.NotErrorIs(t, err, ErrUnavailable)
	}
	assert.Equal(t, gobreaker.StateOpen, store.State())

	_, err := store.Fetch(ctx, 10)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(3), backend.calls.Load(), "open breaker must not reach the backend")
}

func TestGuardedStore_ValidationErrorsDoNotTrip(t *testing.T) {
	backend := newFlaky()
	store := NewGuardedStore(backend, GuardConfig{MaxFailures: 2, OpenTimeout: time.Minute}, nil, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := store.Append(ctx, model.Message{Text: ""})
		require.ErrorIs(t, err, model.ErrEmptyText)
	}
	assert.Equal(t, gobreaker.StateClosed, store.State())
}

func TestGuardedStore_RecoversAfterTimeout(t *testing.T) {
	backend := newFlaky()
	backend.broken.Store(true)
	store := NewGuardedStore(backend, GuardConfig{MaxFailures: 1, OpenTimeout: 50 * time.Millisecond}, nil, nil)
	ctx := context.Background()

	_, err := store.Fetch(ctx, 1)
	require.Error(t, err)
	require.Equal(t, gobreaker.StateOpen, store.State())

	backend.broken.Store(false)
	time.Sleep(100 * time.Millisecond)

	_, err = store.Fetch(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, gobreaker.StateClosed, store.State())
}

func TestGuardedStore_RecordsMetrics(t *testing.T) {
	m := metrics.NewHistoryMetrics(prometheus.NewRegistry())
	backend := newFlaky()
	store := NewGuardedStore(backend, GuardConfig{MaxFailures: 5, OpenTimeout: time.Minute}, m, nil)
	ctx := context.Background()

	_, err := store.Append(ctx, model.Message{Text: "ok"})
	require.NoError(t, err)

	backend.broken.Store(true)
	_, err = store.Fetch(ctx, 1)
	require.Error(t, err)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.Requests.WithLabelValues("append", "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Requests.WithLabelValues("fetch", "error")))
}
