package task

import "context"

type checkpointKey struct{}

type checkpointFunc func(ctx context.Context) error

// Checkpoint lets a running handler observe cancellation requests.
// It returns ErrCancelled once the task's cancel-requested flag is set and
// nil otherwise, including when ctx was not created by a worker.
func Checkpoint(ctx context.Context) error {
	fn, ok := ctx.Value(checkpointKey{}).(checkpointFunc)
	if !ok {
		return nil
	}
	return fn(ctx)
}

func withCheckpoint(ctx context.Context, fn checkpointFunc) context.Context {
	return context.WithValue(ctx, checkpointKey{}, fn)
}
