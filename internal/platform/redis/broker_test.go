package redis_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/taskgate/internal/platform/redis"
	"github.com/phrazzld/taskgate/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestBroker connects to REDIS_URL under a fresh prefix, skipping when unset
func newTestBroker(t *testing.T, config redis.BrokerConfig) *redis.Broker {
	t.Helper()

	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("Skipping integration test - REDIS_URL environment variable required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := redis.Connect(ctx, redis.ConnectConfig{URL: url, RetryAttempts: 1})
	require.NoError(t, err)

	config.Prefix = "taskgate-test:" + uuid.NewString()
	if config.PollInterval == 0 {
		config.PollInterval = 10 * time.Millisecond
	}
	t.Cleanup(func() {
		keys, _ := client.Keys(context.Background(), config.Prefix+":*").Result()
		if len(keys) > 0 {
			_ = client.Del(context.Background(), keys...).Err()
		}
		_ = client.Close()
	})

	b, err := redis.NewBroker(client, config, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func dequeueWithin(t *testing.T, b *redis.Broker, d time.Duration) *task.Delivery {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	delivery, err := b.Dequeue(ctx)
	require.NoError(t, err)
	return delivery
}

func TestBroker_EnqueueDequeueAck(t *testing.T) {
	t.Parallel()

	b := newTestBroker(t, redis.BrokerConfig{})
	ctx := context.Background()

	require.NoError(t, b.Enqueue(ctx, task.Descriptor{TaskID: "a", HandlerKind: "echo", Payload: []byte("1")}))
	require.NoError(t, b.Enqueue(ctx, task.Descriptor{TaskID: "b", HandlerKind: "echo", Payload: []byte("2")}))
	require.NoError(t, b.Enqueue(ctx, task.Descriptor{TaskID: "a", HandlerKind: "echo", Payload: []byte("dup")}))

	first := dequeueWithin(t, b, time.Second)
	assert.Equal(t, "a", first.Descriptor.TaskID)
	assert.Equal(t, []byte("1"), first.Descriptor.Payload)
	assert.Equal(t, 1, first.Descriptor.Attempt)
	require.NoError(t, b.Ack(ctx, first.Lease))
	assert.ErrorIs(t, b.Ack(ctx, first.Lease), task.ErrLeaseLost)

	second := dequeueWithin(t, b, time.Second)
	assert.Equal(t, "b", second.Descriptor.TaskID)
	require.NoError(t, b.Ack(ctx, second.Lease))

	emptyCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err := b.Dequeue(emptyCtx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBroker_ExpiredLeaseIsRedelivered(t *testing.T) {
	t.Parallel()

	b := newTestBroker(t, redis.BrokerConfig{LeaseTimeout: 100 * time.Millisecond})
	ctx := context.Background()

	require.NoError(t, b.Enqueue(ctx, task.Descriptor{TaskID: "crash", HandlerKind: "echo"}))
	first := dequeueWithin(t, b, time.Second)

	second := dequeueWithin(t, b, 2*time.Second)
	assert.Equal(t, "crash", second.Descriptor.TaskID)
	assert.Equal(t, 2, second.Descriptor.Attempt)
	assert.NotEqual(t, first.Lease.Token, second.Lease.Token)

	assert.ErrorIs(t, b.Ack(ctx, first.Lease), task.ErrLeaseLost)
	require.NoError(t, b.Ack(ctx, second.Lease))
}

func TestBroker_ExtendKeepsLease(t *testing.T) {
	t.Parallel()

	b := newTestBroker(t, redis.BrokerConfig{LeaseTimeout: 150 * time.Millisecond})
	ctx := context.Background()

	require.NoError(t, b.Enqueue(ctx, task.Descriptor{TaskID: "slow"}))
	d := dequeueWithin(t, b, time.Second)

	for i := 0; i < 4; i++ {
		time.Sleep(75 * time.Millisecond)
		require.NoError(t, b.Extend(ctx, d.Lease, 150*time.Millisecond))
	}
	require.NoError(t, b.Ack(ctx, d.Lease))
}

func TestBroker_NackWithDelay(t *testing.T) {
	t.Parallel()

	b := newTestBroker(t, redis.BrokerConfig{})
	ctx := context.Background()

	require.NoError(t, b.Enqueue(ctx, task.Descriptor{TaskID: "retry"}))
	d := dequeueWithin(t, b, time.Second)
	start := time.Now()
	require.NoError(t, b.Nack(ctx, d.Lease, 200*time.Millisecond))

	again := dequeueWithin(t, b, 2*time.Second)
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)
	assert.Equal(t, 2, again.Descriptor.Attempt)
	require.NoError(t, b.Ack(ctx, again.Lease))
}

func TestBroker_DeadLetterPublishedOnce(t *testing.T) {
	t.Parallel()

	b := newTestBroker(t, redis.BrokerConfig{})
	ctx := context.Background()

	msg := task.DeadLetterMessage{
		Descriptor:     task.Descriptor{TaskID: "doomed", HandlerKind: "echo", Attempt: 3},
		FinalAttempt:   3,
		LastError:      "boom",
		DeadLetteredAt: time.Now().UTC().Truncate(time.Millisecond),
	}
	require.NoError(t, b.DeadLetter(ctx, msg))
	require.NoError(t, b.DeadLetter(ctx, msg))

	got, err := b.DeadLetters(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "doomed", got[0].TaskID)
	assert.Equal(t, "boom", got[0].LastError)
	assert.True(t, msg.DeadLetteredAt.Equal(got[0].DeadLetteredAt))
}

func TestBroker_CloseUnblocksDequeue(t *testing.T) {
	t.Parallel()

	b := newTestBroker(t, redis.BrokerConfig{})

	errCh := make(chan error, 1)
	go func() {
		_, err := b.Dequeue(context.Background())
		errCh <- err
	}()
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, b.Close())

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, task.ErrBrokerClosed)
	case <-time.After(time.Second):
		t.Fatal("Dequeue did not return after Close")
	}
	assert.ErrorIs(t, b.Enqueue(context.Background(), task.Descriptor{TaskID: "late"}), task.ErrBrokerClosed)
}

func TestBroker_Capacity(t *testing.T) {
	t.Parallel()

	b := newTestBroker(t, redis.BrokerConfig{Capacity: 1})
	ctx := context.Background()

	require.NoError(t, b.Enqueue(ctx, task.Descriptor{TaskID: "one"}))
	assert.ErrorIs(t, b.Enqueue(ctx, task.Descriptor{TaskID: "two"}), redis.ErrQueueFull)
}

func TestNewBroker_NilClient(t *testing.T) {
	t.Parallel()

	_, err := redis.NewBroker(nil, redis.BrokerConfig{}, nil)
	assert.ErrorIs(t, err, task.ErrNilDependency)
}

func TestConnect_Errors(t *testing.T) {
	t.Parallel()

	_, err := redis.Connect(context.Background(), redis.ConnectConfig{})
	assert.ErrorIs(t, err, redis.ErrEmptyConnectionURL)

	_, err = redis.Connect(context.Background(), redis.ConnectConfig{URL: "not a url"})
	assert.ErrorIs(t, err, redis.ErrFailedToParseConnString)
}
