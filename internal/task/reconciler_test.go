package task

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconciler_SweepRequeuesStaleRecords(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return now })

	newRecordInState(t, store, "lost-pending", StatePending)
	newRecordInState(t, store, "stuck-running", StateRunning)
	newRecordInState(t, store, "old-done", StateSucceeded)

	now = now.Add(time.Hour)
	newRecordInState(t, store, "fresh-pending", StatePending)

	broker := NewMemoryBroker(MemoryBrokerConfig{}, testLogger())
	defer broker.Close()

	r, err := NewReconciler(store, broker, ReconcilerConfig{
		PendingAge:   time.Minute,
		StuckAge:     30 * time.Minute,
		RetentionTTL: 10 * time.Minute,
	}, testLogger())
	require.NoError(t, err)

	stats, err := r.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepStats{Pending: 1, Stuck: 1, Purged: 1}, stats)

	got := map[string]int{}
	for i := 0; i < 2; i++ {
		d := dequeueWithin(t, broker, time.Second)
		got[d.Descriptor.TaskID] = d.Descriptor.Attempt
	}
	assert.Equal(t, map[string]int{"lost-pending": 1, "stuck-running": 2}, got)

	_, err = store.GetTask(ctx, "old-done")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestReconciler_RequeueIsNoOpForHeldMessages(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()
	store.SetClock(func() time.Time { return time.Now().Add(-time.Hour) })
	newRecordInState(t, store, "queued", StatePending)
	store.SetClock(time.Now)

	broker := NewMemoryBroker(MemoryBrokerConfig{}, testLogger())
	defer broker.Close()
	require.NoError(t, broker.Enqueue(ctx, Descriptor{TaskID: "queued", Attempt: 1}))

	r, err := NewReconciler(store, broker, ReconcilerConfig{PendingAge: time.Minute}, testLogger())
	require.NoError(t, err)

	_, err = r.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, broker.Stats().Ready)
}

func TestReconciler_StartRecoversImmediately(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()
	store.SetClock(func() time.Time { return time.Now().Add(-time.Hour) })
	newRecordInState(t, store, "from-last-run", StatePending)
	store.SetClock(time.Now)

	broker := NewMemoryBroker(MemoryBrokerConfig{}, testLogger())
	defer broker.Close()

	r, err := NewReconciler(store, broker, ReconcilerConfig{
		SweepInterval: time.Hour,
		PendingAge:    time.Minute,
		StuckAge:      time.Minute,
	}, testLogger())
	require.NoError(t, err)

	require.NoError(t, r.Start(ctx))
	defer r.Stop()

	assert.Equal(t, "from-last-run", dequeueWithin(t, broker, time.Second).Descriptor.TaskID)
}

func TestReconciler_StartFailsWhenStoreIsDown(t *testing.T) {
	t.Parallel()

	store := NewMockResultStore()
	store.ListStaleFn = func(context.Context, State, time.Duration, int) ([]*Record, error) {
		return nil, errors.New("database unavailable")
	}
	broker := NewMemoryBroker(MemoryBrokerConfig{}, testLogger())
	defer broker.Close()

	r, err := NewReconciler(store, broker, DefaultReconcilerConfig(), testLogger())
	require.NoError(t, err)

	assert.Error(t, r.Start(context.Background()))
}

func TestReconciler_PeriodicSweep(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()
	broker := NewMemoryBroker(MemoryBrokerConfig{}, testLogger())
	defer broker.Close()

	r, err := NewReconciler(store, broker, ReconcilerConfig{
		SweepInterval: 10 * time.Millisecond,
		PendingAge:    time.Minute,
		StuckAge:      time.Minute,
	}, testLogger())
	require.NoError(t, err)
	require.NoError(t, r.Start(ctx))
	defer r.Stop()

	store.SetClock(func() time.Time { return time.Now().Add(-time.Hour) })
	newRecordInState(t, store, "late", StatePending)
	store.SetClock(time.Now)

	assert.Equal(t, "late", dequeueWithin(t, broker, time.Second).Descriptor.TaskID)
}
