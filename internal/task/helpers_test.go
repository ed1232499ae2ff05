package task

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// pipeline wires every component over in-memory backends
type pipeline struct {
	store    ResultStore
	broker   *MemoryBroker
	registry *Registry
	retries  *RetryManager
	limiter  *Limiter
	gateway  *Gateway
	pool     *WorkerPool
}

type pipelineOpts struct {
	store        ResultStore
	policy       RetryPolicy
	leaseTimeout time.Duration
	workers      int
	infraRetries int
	capacity     int
}

func newPipeline(t *testing.T, opts pipelineOpts) *pipeline {
	t.Helper()
	logger := testLogger()

	if opts.store == nil {
		opts.store = NewMemoryStore()
	}
	if opts.policy.MaxAttempts == 0 {
		opts.policy = RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
	}
	if opts.leaseTimeout == 0 {
		opts.leaseTimeout = time.Second
	}
	if opts.workers == 0 {
		opts.workers = 2
	}
	if opts.capacity == 0 {
		opts.capacity = 8
	}

	broker := NewMemoryBroker(MemoryBrokerConfig{LeaseTimeout: opts.leaseTimeout}, logger)
	registry := NewRegistry()
	retries := NewRetryManager(opts.policy, opts.store, broker, logger)

	gateway, err := NewGateway(opts.store, broker, registry, GatewayConfig{
		InfraRetries:   opts.infraRetries,
		InfraBaseDelay: time.Millisecond,
	}, logger)
	require.NoError(t, err)

	pool, err := NewWorkerPool(broker, opts.store, registry, retries, WorkerPoolConfig{
		WorkerCount:    opts.workers,
		HandlerTimeout: 5 * time.Second,
		LeaseTimeout:   opts.leaseTimeout,
		InfraRetries:   opts.infraRetries,
		InfraBaseDelay: time.Millisecond,
	}, logger)
	require.NoError(t, err)

	t.Cleanup(func() {
		pool.Stop()
		_ = broker.Close()
	})

	return &pipeline{
		store:    opts.store,
		broker:   broker,
		registry: registry,
		retries:  retries,
		limiter:  NewLimiter(LimiterConfig{MaxConcurrent: opts.capacity}, logger),
		gateway:  gateway,
		pool:     pool,
	}
}

func (p *pipeline) submit(t *testing.T, kind string, payload []byte) string {
	t.Helper()
	ticket, err := p.limiter.TryAdmit(context.Background())
	require.NoError(t, err)
	handle, err := p.gateway.Submit(context.Background(), ticket, kind, payload)
	require.NoError(t, err)
	require.NotEmpty(t, handle.TaskID)
	return handle.TaskID
}

func (p *pipeline) waitForState(t *testing.T, id string, want State) *Record {
	t.Helper()
	var rec *Record
	require.Eventually(t, func() bool {
		var err error
		rec, err = p.store.GetTask(context.Background(), id)
		return err == nil && rec.State == want
	}, 3*time.Second, 5*time.Millisecond, "task %s never reached %s", id, want)
	return rec
}

// countingHandler records how often it ran
type countingHandler struct {
	mu    sync.Mutex
	calls int
	fn    HandlerFunc
}

func (h *countingHandler) Handle(ctx context.Context, payload []byte) ([]byte, error) {
	h.mu.Lock()
	h.calls++
	h.mu.Unlock()
	return h.fn(ctx, payload)
}

func (h *countingHandler) Calls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

// enqueuerFunc adapts a function to Enqueuer
type enqueuerFunc func(ctx context.Context, d Descriptor) error

func (f enqueuerFunc) Enqueue(ctx context.Context, d Descriptor) error {
	return f(ctx, d)
}

// recordingSink collects archived dead letters
type recordingSink struct {
	mu   sync.Mutex
	msgs []DeadLetterMessage
	err  error
}

func (s *recordingSink) Archive(_ context.Context, msg DeadLetterMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
	return s.err
}

func (s *recordingSink) Messages() []DeadLetterMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]DeadLetterMessage(nil), s.msgs...)
}
