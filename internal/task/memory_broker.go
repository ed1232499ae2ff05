package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrQueueFull is returned when the memory broker holds its maximum number of messages
var ErrQueueFull = errors.New("task queue is full")

type messageState int

const (
	messageReady messageState = iota
	messageDelayed
	messageLeased
)

type memoryMessage struct {
	desc       Descriptor
	state      messageState
	visibleAt  time.Time
	token      string
	leaseUntil time.Time
}

// MemoryBrokerConfig configures a MemoryBroker
type MemoryBrokerConfig struct {
	// LeaseTimeout is how long a dequeued descriptor stays invisible
	LeaseTimeout time.Duration

	// Capacity bounds the live messages; zero means unbounded
	Capacity int
}

// readyQueue is a FIFO of task ids. Popped slots are zeroed and the live tail
// is copied down once the consumed prefix dominates the backing array.
type readyQueue struct {
	ids  []string
	head int
}

func (q *readyQueue) push(id string) {
	q.ids = append(q.ids, id)
}

func (q *readyQueue) pop() (string, bool) {
	if q.head == len(q.ids) {
		return "", false
	}
	id := q.ids[q.head]
	q.ids[q.head] = ""
	q.head++

	switch {
	case q.head == len(q.ids):
		q.ids = q.ids[:0]
		q.head = 0
	case q.head >= 32 && q.head*2 >= len(q.ids):
		n := copy(q.ids, q.ids[q.head:])
		clear(q.ids[n:])
		q.ids = q.ids[:n]
		q.head = 0
	}
	return id, true
}

func (q *readyQueue) len() int {
	return len(q.ids) - q.head
}

// MemoryBroker is an in-process Broker with the same lease semantics as the
// Redis broker. Messages are keyed by task id, so at most one live message
// exists per task. Promotion of delayed and expired messages scans every
// held message, which keeps it O(n) per Dequeue; it backs tests and
// single-process deployments, not large backlogs.
type MemoryBroker struct {
	mu       sync.Mutex
	messages map[string]*memoryMessage
	ready    readyQueue
	dead     []DeadLetterMessage
	deadIdx  map[string]struct{}
	changed  chan struct{}
	done     chan struct{}
	closed   bool
	config   MemoryBrokerConfig
	now      func() time.Time
	logger   *slog.Logger
}

// NewMemoryBroker creates an empty MemoryBroker
func NewMemoryBroker(config MemoryBrokerConfig, logger *slog.Logger) *MemoryBroker {
	if logger == nil {
		logger = slog.Default()
	}
	if config.LeaseTimeout <= 0 {
		config.LeaseTimeout = 30 * time.Second
	}
	return &MemoryBroker{
		messages: make(map[string]*memoryMessage),
		deadIdx:  make(map[string]struct{}),
		changed:  make(chan struct{}),
		done:     make(chan struct{}),
		config:   config,
		now:      time.Now,
		logger:   logger.With("component", "memory_broker"),
	}
}

// broadcast wakes every blocked Dequeue. Callers hold b.mu.
func (b *MemoryBroker) broadcast() {
	close(b.changed)
	b.changed = make(chan struct{})
}

// promote moves due delayed messages and expired leases back to ready.
// Callers hold b.mu.
func (b *MemoryBroker) promote(now time.Time) {
	for id, m := range b.messages {
		switch m.state {
		case messageDelayed:
			if !now.Before(m.visibleAt) {
				m.state = messageReady
				b.ready.push(id)
			}
		case messageLeased:
			if !now.Before(m.leaseUntil) {
				b.logger.Debug("lease expired, redelivering",
					"task_id", id,
					"attempt", m.desc.Attempt)
				m.state = messageReady
				m.token = ""
				m.desc.Attempt++
				b.ready.push(id)
			}
		}
	}
}

// nextWake returns the earliest moment a hidden message becomes visible
func (b *MemoryBroker) nextWake() (time.Time, bool) {
	var next time.Time
	found := false
	for _, m := range b.messages {
		var at time.Time
		switch m.state {
		case messageDelayed:
			at = m.visibleAt
		case messageLeased:
			at = m.leaseUntil
		default:
			continue
		}
		if !found || at.Before(next) {
			next = at
			found = true
		}
	}
	return next, found
}

func (b *MemoryBroker) Enqueue(_ context.Context, d Descriptor) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBrokerClosed
	}
	if _, ok := b.messages[d.TaskID]; ok {
		b.logger.Debug("descriptor already queued, skipping", "task_id", d.TaskID)
		return nil
	}
	if b.config.Capacity > 0 && len(b.messages) >= b.config.Capacity {
		return fmt.Errorf("%w: queue capacity %d reached", ErrQueueFull, b.config.Capacity)
	}
	if d.Attempt <= 0 {
		d.Attempt = 1
	}

	b.messages[d.TaskID] = &memoryMessage{desc: d, state: messageReady}
	b.ready.push(d.TaskID)
	b.broadcast()

	b.logger.Debug("descriptor enqueued",
		"task_id", d.TaskID,
		"handler_kind", d.HandlerKind,
		"queue_len", b.ready.len())
	return nil
}

func (b *MemoryBroker) Dequeue(ctx context.Context) (*Delivery, error) {
	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return nil, ErrBrokerClosed
		}

		now := b.now()
		b.promote(now)
		for {
			id, ok := b.ready.pop()
			if !ok {
				break
			}
			m, ok := b.messages[id]
			if !ok || m.state != messageReady {
				continue
			}
			m.state = messageLeased
			m.token = uuid.NewString()
			m.leaseUntil = now.Add(b.config.LeaseTimeout)
			delivery := &Delivery{
				Descriptor: m.desc,
				Lease:      Lease{TaskID: id, Token: m.token, ExpiresAt: m.leaseUntil},
			}
			b.mu.Unlock()
			return delivery, nil
		}

		changed := b.changed
		var timer *time.Timer
		var wake <-chan time.Time
		if at, ok := b.nextWake(); ok {
			timer = time.NewTimer(at.Sub(now))
			wake = timer.C
		}
		b.mu.Unlock()

		var err error
		select {
		case <-ctx.Done():
			err = ctx.Err()
		case <-b.done:
			err = ErrBrokerClosed
		case <-changed:
		case <-wake:
		}
		if timer != nil {
			timer.Stop()
		}
		if err != nil {
			return nil, err
		}
	}
}

// leased returns the message held under lease or ErrLeaseLost. Callers hold b.mu.
func (b *MemoryBroker) leased(lease Lease) (*memoryMessage, error) {
	b.promote(b.now())
	m, ok := b.messages[lease.TaskID]
	if !ok || m.state != messageLeased || m.token != lease.Token {
		return nil, fmt.Errorf("%w: task %s", ErrLeaseLost, lease.TaskID)
	}
	return m, nil
}

func (b *MemoryBroker) Ack(_ context.Context, lease Lease) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.leased(lease); err != nil {
		return err
	}
	delete(b.messages, lease.TaskID)
	return nil
}

func (b *MemoryBroker) Nack(_ context.Context, lease Lease, delay time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	m, err := b.leased(lease)
	if err != nil {
		return err
	}
	m.token = ""
	m.desc.Attempt++
	if delay > 0 {
		m.state = messageDelayed
		m.visibleAt = b.now().Add(delay)
	} else {
		m.state = messageReady
		b.ready.push(lease.TaskID)
	}
	b.broadcast()
	return nil
}

func (b *MemoryBroker) Extend(_ context.Context, lease Lease, d time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	m, err := b.leased(lease)
	if err != nil {
		return err
	}
	m.leaseUntil = b.now().Add(d)
	return nil
}

func (b *MemoryBroker) DeadLetter(_ context.Context, msg DeadLetterMessage) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.deadIdx[msg.TaskID]; ok {
		return nil
	}
	b.deadIdx[msg.TaskID] = struct{}{}
	b.dead = append(b.dead, msg)
	return nil
}

func (b *MemoryBroker) DeadLetters(_ context.Context, limit int) ([]DeadLetterMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(b.dead)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]DeadLetterMessage, n)
	copy(out, b.dead[:n])
	return out, nil
}

// Close stops deliveries. Messages still held are discarded.
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.closed {
		b.closed = true
		close(b.done)
		b.logger.Info("memory broker closed", "undelivered", len(b.messages))
	}
	return nil
}

// BrokerStats is a point-in-time count of messages by visibility
type BrokerStats struct {
	Ready   int `json:"ready"`
	Delayed int `json:"delayed"`
	Leased  int `json:"leased"`
	Dead    int `json:"dead"`
}

// Stats returns the current message counts
func (b *MemoryBroker) Stats() BrokerStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	var st BrokerStats
	for _, m := range b.messages {
		switch m.state {
		case messageReady:
			st.Ready++
		case messageDelayed:
			st.Delayed++
		case messageLeased:
			st.Leased++
		}
	}
	st.Dead = len(b.dead)
	return st
}
