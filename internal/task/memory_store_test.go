package task

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRecordInState(t *testing.T, s *MemoryStore, id string, state State) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.CreateTask(ctx, &Record{ID: id, HandlerKind: "echo", Payload: []byte("p")}))

	switch state {
	case StatePending:
	case StateRunning:
		_, err := s.MarkRunning(ctx, id)
		require.NoError(t, err)
	case StateSucceeded:
		_, err := s.MarkRunning(ctx, id)
		require.NoError(t, err)
		require.NoError(t, s.CompleteTask(ctx, id, []byte("done")))
	case StateFailed:
		require.NoError(t, s.FailTask(ctx, id, ReasonDispatchFailed, "broker down"))
	case StateDeadLettered:
		_, err := s.MarkRunning(ctx, id)
		require.NoError(t, err)
		require.NoError(t, s.MarkDeadLettered(ctx, id, "boom"))
	}
}

func TestMemoryStore_Transitions(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	ops := map[string]func(s *MemoryStore, id string) error{
		"mark running": func(s *MemoryStore, id string) error {
			_, err := s.MarkRunning(ctx, id)
			return err
		},
		"complete": func(s *MemoryStore, id string) error {
			return s.CompleteTask(ctx, id, []byte("r"))
		},
		"record attempt failure": func(s *MemoryStore, id string) error {
			return s.RecordAttemptFailure(ctx, id, "e")
		},
		"fail dispatch": func(s *MemoryStore, id string) error {
			return s.FailTask(ctx, id, ReasonDispatchFailed, "e")
		},
		"cancel": func(s *MemoryStore, id string) error {
			return s.FailTask(ctx, id, ReasonCancelled, "e")
		},
		"fail missing handler": func(s *MemoryStore, id string) error {
			return s.FailTask(ctx, id, ReasonHandlerNotFound, "e")
		},
		"dead-letter": func(s *MemoryStore, id string) error {
			return s.MarkDeadLettered(ctx, id, "e")
		},
	}

	allowed := map[string][]State{
		"mark running":           {StatePending, StateRunning},
		"complete":               {StateRunning},
		"record attempt failure": {StateRunning},
		"fail dispatch":          {StatePending},
		"cancel":                 {StateRunning},
		"fail missing handler":   {StateRunning},
		"dead-letter":            {StateRunning},
	}

	states := []State{StatePending, StateRunning, StateSucceeded, StateFailed, StateDeadLettered}

	for name, op := range ops {
		for _, from := range states {
			name, op, from := name, op, from
			t.Run(name+" from "+string(from), func(t *testing.T) {
				t.Parallel()
				s := NewMemoryStore()
				newRecordInState(t, s, "t", from)

				err := op(s, "t")

				ok := false
				for _, st := range allowed[name] {
					if st == from {
						ok = true
					}
				}
				if ok {
					assert.NoError(t, err)
				} else {
					assert.ErrorIs(t, err, ErrStateConflict)
				}
			})
		}
	}
}

func TestMemoryStore_MarkRunningIncrementsAttempt(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryStore()
	newRecordInState(t, s, "t", StatePending)

	rec, err := s.MarkRunning(ctx, "t")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Attempt)

	rec, err = s.MarkRunning(ctx, "t")
	require.NoError(t, err)
	assert.Equal(t, 2, rec.Attempt)
	assert.Equal(t, StateRunning, rec.State)
}

func TestMemoryStore_TerminalWritesAreIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryStore()
	newRecordInState(t, s, "t", StateSucceeded)

	assert.ErrorIs(t, s.CompleteTask(ctx, "t", []byte("second")), ErrStateConflict)

	rec, err := s.GetTask(ctx, "t")
	require.NoError(t, err)
	assert.Equal(t, []byte("done"), rec.Result)
}

func TestMemoryStore_NotFound(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.GetTask(ctx, "missing")
	assert.ErrorIs(t, err, ErrTaskNotFound)
	_, err = s.MarkRunning(ctx, "missing")
	assert.ErrorIs(t, err, ErrTaskNotFound)
	_, err = s.RequestCancel(ctx, "missing")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestMemoryStore_CreateDuplicate(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	newRecordInState(t, s, "t", StatePending)
	err := s.CreateTask(context.Background(), &Record{ID: "t", HandlerKind: "echo"})
	assert.ErrorIs(t, err, ErrTaskExists)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryStore()
	newRecordInState(t, s, "t", StatePending)

	rec, err := s.GetTask(ctx, "t")
	require.NoError(t, err)
	rec.State = StateSucceeded
	rec.Payload[0] = 'X'

	again, err := s.GetTask(ctx, "t")
	require.NoError(t, err)
	assert.Equal(t, StatePending, again.State)
	assert.Equal(t, []byte("p"), again.Payload)
}

func TestMemoryStore_RequestCancel(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryStore()
	newRecordInState(t, s, "live", StateRunning)
	newRecordInState(t, s, "done", StateSucceeded)

	rec, err := s.RequestCancel(ctx, "live")
	require.NoError(t, err)
	assert.True(t, rec.CancelRequested)

	rec, err = s.RequestCancel(ctx, "done")
	require.NoError(t, err)
	assert.False(t, rec.CancelRequested)
	assert.Equal(t, StateSucceeded, rec.State)
}

func TestMemoryStore_ListStaleAndPurge(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return now })

	newRecordInState(t, s, "old-pending", StatePending)
	newRecordInState(t, s, "old-done", StateSucceeded)

	now = now.Add(time.Hour)
	newRecordInState(t, s, "new-pending", StatePending)
	newRecordInState(t, s, "new-done", StateFailed)

	stale, err := s.ListStale(ctx, StatePending, 30*time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "old-pending", stale[0].ID)

	purged, err := s.PurgeTerminal(ctx, 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	_, err = s.GetTask(ctx, "old-done")
	assert.ErrorIs(t, err, ErrTaskNotFound)
	_, err = s.GetTask(ctx, "new-done")
	assert.NoError(t, err)
}

func TestMemoryStore_CancelledTaskRequiresClaim(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()
	rec := &Record{ID: "unclaimed", HandlerKind: HandlerKindEcho}
	require.NoError(t, store.CreateTask(ctx, rec))

	err := store.FailTask(ctx, rec.ID, ReasonCancelled, ErrCancelled.Error())
	assert.ErrorIs(t, err, ErrStateConflict)

	got, err := store.GetTask(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatePending, got.State)
}
