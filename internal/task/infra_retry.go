package task

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"
)

// infraRetrier retries Result Store and Broker calls locally so that
// transient infrastructure faults never count against a task's budget.
type infraRetrier struct {
	retries  uint64
	base     time.Duration
	maxDelay time.Duration
}

func newInfraRetrier(retries int, base time.Duration) infraRetrier {
	if retries < 0 {
		retries = 0
	}
	if base <= 0 {
		base = 50 * time.Millisecond
	}
	return infraRetrier{
		retries:  uint64(retries),
		base:     base,
		maxDelay: 2 * time.Second,
	}
}

// do runs fn until it succeeds, fails permanently, or the retries run out.
// Exhausted retries surface as an *InfrastructureError.
func (r infraRetrier) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	b := retry.NewExponential(r.base)
	b = retry.WithCappedDuration(r.maxDelay, b)
	b = retry.WithMaxRetries(r.retries, b)

	err := retry.Do(ctx, b, func(ctx context.Context) error {
		if err := fn(ctx); err != nil {
			if isPermanent(err) {
				return err
			}
			return retry.RetryableError(err)
		}
		return nil
	})
	if err == nil || isPermanent(err) {
		return err
	}
	return &InfrastructureError{Op: op, Err: err}
}

// isPermanent reports errors that describe the task rather than the infrastructure
func isPermanent(err error) bool {
	return errors.Is(err, ErrStateConflict) ||
		errors.Is(err, ErrTaskNotFound) ||
		errors.Is(err, ErrTaskExists) ||
		errors.Is(err, ErrLeaseLost) ||
		errors.Is(err, ErrBrokerClosed) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
