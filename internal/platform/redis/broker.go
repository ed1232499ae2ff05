package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/taskgate/internal/task"
	"github.com/redis/go-redis/v9"
)

// ErrQueueFull is returned by Enqueue when the configured capacity is reached
var ErrQueueFull = errors.New("redis broker: queue full")

// BrokerConfig tunes the Redis broker.
type BrokerConfig struct {
	// Prefix namespaces every key; defaults to "taskgate"
	Prefix string
	// LeaseTimeout is how long a delivery stays invisible without Extend
	LeaseTimeout time.Duration
	// PollInterval is the wait between empty claims
	PollInterval time.Duration
	// Capacity bounds held descriptors; zero is unbounded
	Capacity int
	// ReclaimBatch bounds how many delayed or expired ids one claim moves
	ReclaimBatch int
}

func (c BrokerConfig) withDefaults() BrokerConfig {
	if c.Prefix == "" {
		c.Prefix = "taskgate"
	}
	if c.LeaseTimeout <= 0 {
		c.LeaseTimeout = 30 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 250 * time.Millisecond
	}
	if c.ReclaimBatch <= 0 {
		c.ReclaimBatch = 100
	}
	return c
}

type keys struct {
	msg, attempt, ready, delayed, leases, token, dead, deadIdx string
}

func newKeys(prefix string) keys {
	return keys{
		msg:     prefix + ":msg",
		attempt: prefix + ":attempt",
		ready:   prefix + ":ready",
		delayed: prefix + ":delayed",
		leases:  prefix + ":leases",
		token:   prefix + ":token",
		dead:    prefix + ":dead",
		deadIdx: prefix + ":deadidx",
	}
}

// Broker implements task.Broker on a Redis client. The client is not
// closed by Close.
type Broker struct {
	client redis.Cmdable
	config BrokerConfig
	keys   keys
	logger *slog.Logger
	now    func() time.Time

	closeOnce sync.Once
	done      chan struct{}
}

var _ task.Broker = (*Broker)(nil)

// NewBroker creates a broker over client
func NewBroker(client redis.Cmdable, config BrokerConfig, logger *slog.Logger) (*Broker, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: redis client", task.ErrNilDependency)
	}
	if logger == nil {
		logger = slog.Default()
	}
	config = config.withDefaults()
	return &Broker{
		client: client,
		config: config,
		keys:   newKeys(config.Prefix),
		logger: logger.With(slog.String("component", "redis_broker")),
		now:    time.Now,
		done:   make(chan struct{}),
	}, nil
}

func (b *Broker) nowMillis() int64 {
	return b.now().UnixMilli()
}

func (b *Broker) closed() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}

func (b *Broker) Enqueue(ctx context.Context, d task.Descriptor) error {
	if b.closed() {
		return task.ErrBrokerClosed
	}
	if d.Attempt <= 0 {
		d.Attempt = 1
	}
	body, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to encode descriptor: %w", err)
	}

	res, err := enqueueScript.Run(ctx, b.client,
		[]string{b.keys.msg, b.keys.attempt, b.keys.ready},
		d.TaskID, body, d.Attempt, b.config.Capacity,
	).Int()
	if err != nil {
		return fmt.Errorf("redis enqueue: %w", err)
	}
	switch res {
	case 0:
		b.logger.DebugContext(ctx, "descriptor already queued, skipping", "task_id", d.TaskID)
	case -1:
		return fmt.Errorf("%w: capacity %d reached", ErrQueueFull, b.config.Capacity)
	default:
		b.logger.DebugContext(ctx, "descriptor enqueued",
			"task_id", d.TaskID,
			"handler_kind", d.HandlerKind,
			"attempt", d.Attempt)
	}
	return nil
}

// Dequeue polls for a visible descriptor until ctx is done or the broker closes
func (b *Broker) Dequeue(ctx context.Context) (*task.Delivery, error) {
	for {
		if b.closed() {
			return nil, task.ErrBrokerClosed
		}

		delivery, err := b.claim(ctx)
		if err != nil {
			return nil, err
		}
		if delivery != nil {
			return delivery, nil
		}

		t := time.NewTimer(b.config.PollInterval)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-b.done:
			t.Stop()
			return nil, task.ErrBrokerClosed
		case <-t.C:
		}
	}
}

func (b *Broker) claim(ctx context.Context) (*task.Delivery, error) {
	now := b.now()
	token := uuid.NewString()

	res, err := claimScript.Run(ctx, b.client,
		[]string{b.keys.msg, b.keys.attempt, b.keys.ready, b.keys.delayed, b.keys.leases, b.keys.token},
		now.UnixMilli(), b.config.LeaseTimeout.Milliseconds(), token, b.config.ReclaimBatch,
	).StringSlice()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("redis claim: %w", err)
	}
	if len(res) != 3 {
		return nil, fmt.Errorf("redis claim: unexpected reply of %d elements", len(res))
	}

	var d task.Descriptor
	if err := json.Unmarshal([]byte(res[1]), &d); err != nil {
		return nil, fmt.Errorf("failed to decode descriptor %s: %w", res[0], err)
	}
	attempt, err := strconv.Atoi(res[2])
	if err != nil {
		return nil, fmt.Errorf("redis claim: bad attempt for %s: %w", res[0], err)
	}
	d.Attempt = attempt

	return &task.Delivery{
		Descriptor: d,
		Lease: task.Lease{
			TaskID:    res[0],
			Token:     token,
			ExpiresAt: now.Add(b.config.LeaseTimeout),
		},
	}, nil
}

func (b *Broker) runLeaseScript(ctx context.Context, op string, script *redis.Script, keys []string, lease task.Lease, extra ...any) error {
	args := append([]any{lease.TaskID, lease.Token, b.nowMillis()}, extra...)
	held, err := script.Run(ctx, b.client, keys, args...).Int()
	if err != nil {
		return fmt.Errorf("redis %s: %w", op, err)
	}
	if held == 0 {
		return fmt.Errorf("%w: task %s", task.ErrLeaseLost, lease.TaskID)
	}
	return nil
}

func (b *Broker) Ack(ctx context.Context, lease task.Lease) error {
	return b.runLeaseScript(ctx, "ack", ackScript,
		[]string{b.keys.leases, b.keys.token, b.keys.msg, b.keys.attempt}, lease)
}

func (b *Broker) Nack(ctx context.Context, lease task.Lease, delay time.Duration) error {
	return b.runLeaseScript(ctx, "nack", nackScript,
		[]string{b.keys.leases, b.keys.token, b.keys.attempt, b.keys.ready, b.keys.delayed}, lease,
		delay.Milliseconds())
}

func (b *Broker) Extend(ctx context.Context, lease task.Lease, d time.Duration) error {
	return b.runLeaseScript(ctx, "extend", extendScript,
		[]string{b.keys.leases, b.keys.token}, lease, d.Milliseconds())
}

func (b *Broker) DeadLetter(ctx context.Context, msg task.DeadLetterMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode dead letter: %w", err)
	}
	added, err := deadLetterScript.Run(ctx, b.client,
		[]string{b.keys.deadIdx, b.keys.dead}, msg.TaskID, body).Int()
	if err != nil {
		return fmt.Errorf("redis dead letter: %w", err)
	}
	if added == 0 {
		b.logger.DebugContext(ctx, "dead letter already published", "task_id", msg.TaskID)
	}
	return nil
}

func (b *Broker) DeadLetters(ctx context.Context, limit int) ([]task.DeadLetterMessage, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	raw, err := b.client.LRange(ctx, b.keys.dead, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("redis dead letters: %w", err)
	}

	out := make([]task.DeadLetterMessage, 0, len(raw))
	for _, item := range raw {
		var msg task.DeadLetterMessage
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			b.logger.WarnContext(ctx, "skipping undecodable dead letter", "error", err)
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

// Close stops deliveries. Held descriptors stay in Redis for the next process.
func (b *Broker) Close() error {
	b.closeOnce.Do(func() { close(b.done) })
	return nil
}
