package task

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	assert.Equal(t, []string{HandlerKindEcho}, r.Kinds())

	h, err := r.Lookup(HandlerKindEcho)
	require.NoError(t, err)
	out, err := h.Handle(context.Background(), []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), out)

	_, err = r.Lookup("missing")
	assert.ErrorIs(t, err, ErrHandlerNotFound)

	require.NoError(t, r.Register("upper", EchoHandler()))
	assert.ErrorIs(t, r.Register("upper", EchoHandler()), ErrHandlerExists)
	assert.ErrorIs(t, r.Register("", EchoHandler()), ErrInvalidHandlerKind)
	assert.ErrorIs(t, r.Register("nil", nil), ErrNilDependency)
	assert.Equal(t, []string{HandlerKindEcho, "upper"}, r.Kinds())
}

func TestCheckpoint_WithoutWorkerContext(t *testing.T) {
	t.Parallel()

	assert.NoError(t, Checkpoint(context.Background()))

	ctx := withCheckpoint(context.Background(), func(context.Context) error { return ErrCancelled })
	assert.ErrorIs(t, Checkpoint(ctx), ErrCancelled)
}

func TestErrorTaxonomy(t *testing.T) {
	t.Parallel()

	root := errors.New("timeout")

	herr := fmt.Errorf("wrapped: %w", &HandlerError{Kind: "echo", Err: root})
	assert.ErrorIs(t, herr, ErrHandlerFailure)
	assert.ErrorIs(t, herr, root)
	assert.NotErrorIs(t, herr, ErrInfrastructure)

	ierr := &InfrastructureError{Op: "ack", Err: root}
	assert.ErrorIs(t, ierr, ErrInfrastructure)
	assert.ErrorIs(t, ierr, root)
	assert.Equal(t, "ack: timeout", ierr.Error())

	tests := []struct {
		rec  Record
		want error
	}{
		{Record{State: StatePending}, nil},
		{Record{State: StateSucceeded}, nil},
		{Record{State: StateDeadLettered}, ErrDeadLettered},
		{Record{State: StateFailed, FailureReason: ReasonDispatchFailed}, ErrDispatchFailure},
		{Record{State: StateFailed, FailureReason: ReasonCancelled}, ErrCancelled},
		{Record{State: StateFailed, FailureReason: ReasonHandlerNotFound}, ErrHandlerNotFound},
		{Record{State: StateFailed}, ErrHandlerFailure},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.rec.Err(), "state %s reason %s", tt.rec.State, tt.rec.FailureReason)
	}
}
