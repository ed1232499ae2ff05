package task

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// HandlerKindEcho is the built-in handler that returns its payload unchanged
const HandlerKindEcho = "echo"

// Handler executes a task payload. Handlers must tolerate being run more
// than once for the same task.
type Handler interface {
	Handle(ctx context.Context, payload []byte) ([]byte, error)
}

// HandlerFunc adapts a function to the Handler interface
type HandlerFunc func(ctx context.Context, payload []byte) ([]byte, error)

// Handle calls f(ctx, payload)
func (f HandlerFunc) Handle(ctx context.Context, payload []byte) ([]byte, error) {
	return f(ctx, payload)
}

// EchoHandler returns a handler that echoes its payload
func EchoHandler() Handler {
	return HandlerFunc(func(_ context.Context, payload []byte) ([]byte, error) {
		out := make([]byte, len(payload))
		copy(out, payload)
		return out, nil
	})
}

// HandlerLookup resolves a handler kind to a Handler
type HandlerLookup interface {
	Lookup(kind string) (Handler, error)
}

// Registry maps handler kinds to handlers
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates a registry with the echo handler registered
func NewRegistry() *Registry {
	return &Registry{
		handlers: map[string]Handler{
			HandlerKindEcho: EchoHandler(),
		},
	}
}

// Register adds a handler for kind
func (r *Registry) Register(kind string, h Handler) error {
	if kind == "" {
		return ErrInvalidHandlerKind
	}
	if h == nil {
		return fmt.Errorf("handler for %q: %w", kind, ErrNilDependency)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[kind]; ok {
		return fmt.Errorf("%w: %q", ErrHandlerExists, kind)
	}
	r.handlers[kind] = h
	return nil
}

// Lookup returns the handler for kind or ErrHandlerNotFound
func (r *Registry) Lookup(kind string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrHandlerNotFound, kind)
	}
	return h, nil
}

// Kinds returns the registered handler kinds in sorted order
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.handlers))
	for k := range r.handlers {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
