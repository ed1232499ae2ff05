package task

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process ResultStore used for local runs and tests.
// Records are copied on the way in and out, so callers never share state.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*Record
	now     func() time.Time
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*Record),
		now:     time.Now,
	}
}

// SetClock overrides the clock used for UpdatedAt stamps
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func cloneRecord(r *Record) *Record {
	c := *r
	c.Payload = append([]byte(nil), r.Payload...)
	if r.Result != nil {
		c.Result = append([]byte(nil), r.Result...)
	}
	return &c
}

func (s *MemoryStore) CreateTask(_ context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[rec.ID]; ok {
		return fmt.Errorf("%w: %s", ErrTaskExists, rec.ID)
	}
	c := cloneRecord(rec)
	if c.State == "" {
		c.State = StatePending
	}
	now := s.now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	s.records[c.ID] = c
	return nil
}

func (s *MemoryStore) GetTask(_ context.Context, id string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return cloneRecord(rec), nil
}

// transition applies mutate to the record when its state is one of from
func (s *MemoryStore) transition(id string, from []State, mutate func(*Record)) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	allowed := false
	for _, st := range from {
		if rec.State == st {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, fmt.Errorf("%w: task %s is %s", ErrStateConflict, id, rec.State)
	}
	mutate(rec)
	rec.UpdatedAt = s.now().UTC()
	return cloneRecord(rec), nil
}

func (s *MemoryStore) MarkRunning(_ context.Context, id string) (*Record, error) {
	return s.transition(id, []State{StatePending, StateRunning}, func(r *Record) {
		r.State = StateRunning
		r.Attempt++
	})
}

func (s *MemoryStore) CompleteTask(_ context.Context, id string, result []byte) error {
	_, err := s.transition(id, []State{StateRunning}, func(r *Record) {
		r.State = StateSucceeded
		r.Result = append([]byte(nil), result...)
		r.Error = ""
	})
	return err
}

func (s *MemoryStore) RecordAttemptFailure(_ context.Context, id string, errMsg string) error {
	_, err := s.transition(id, []State{StateRunning}, func(r *Record) {
		r.Error = errMsg
	})
	return err
}

func (s *MemoryStore) FailTask(_ context.Context, id string, reason FailureReason, errMsg string) error {
	_, err := s.transition(id, failSources(reason), func(r *Record) {
		r.State = StateFailed
		r.FailureReason = reason
		r.Error = errMsg
	})
	return err
}

// failSources lists the states FailTask accepts for reason
func failSources(reason FailureReason) []State {
	if reason == ReasonDispatchFailed {
		return []State{StatePending}
	}
	return []State{StateRunning}
}

func (s *MemoryStore) MarkDeadLettered(_ context.Context, id string, errMsg string) error {
	_, err := s.transition(id, []State{StateRunning}, func(r *Record) {
		r.State = StateDeadLettered
		r.Error = errMsg
	})
	return err
}

func (s *MemoryStore) RequestCancel(_ context.Context, id string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	if !rec.State.IsTerminal() && !rec.CancelRequested {
		rec.CancelRequested = true
		rec.UpdatedAt = s.now().UTC()
	}
	return cloneRecord(rec), nil
}

func (s *MemoryStore) ListStale(_ context.Context, state State, olderThan time.Duration, limit int) ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().UTC().Add(-olderThan)
	var out []*Record
	for _, rec := range s.records {
		if rec.State == state && rec.UpdatedAt.Before(cutoff) {
			out = append(out, cloneRecord(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.Before(out[j].UpdatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) PurgeTerminal(_ context.Context, olderThan time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().UTC().Add(-olderThan)
	var purged int64
	for id, rec := range s.records {
		if rec.State.IsTerminal() && rec.UpdatedAt.Before(cutoff) {
			delete(s.records, id)
			purged++
		}
	}
	return purged, nil
}
