package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/juanmitaboada/landscape-client/internal/domain/command"
)

// Handler executes one kind of command and returns its success payload.
// Typed failures are returned as errors; the executor converts them into
// failure results.
type Handler interface {
	// Kind names the command kind the handler serves.
	Kind() string
	// Execute runs the command. The context carries the shutdown grace
	// deadline during daemon termination.
	Execute(ctx context.Context, cmd *command.Command) (json.RawMessage, error)
}

// Registry maps command kinds to handlers. Registration happens once at
// startup; dispatch is safe under concurrent invocation.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
	}
}

// Register adds a handler for its kind. Registering the same kind twice is a
// programming error and panics at startup rather than silently replacing.
func (r *Registry) Register(handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kind := handler.Kind()
	if _, exists := r.handlers[kind]; exists {
		panic(fmt.Sprintf("handler for kind %q registered twice", kind))
	}

	r.handlers[kind] = handler
}

// Dispatch returns the handler for the kind or command.ErrUnknownKind.
func (r *Registry) Dispatch(kind string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handler, ok := r.handlers[kind]
	if !ok {
		return nil, fmt.Errorf("kind %q: %w", kind, command.ErrUnknownKind)
	}

	return handler, nil
}

// Kinds returns the registered kinds in sorted order.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]string, 0, len(r.handlers))
	for kind := range r.handlers {
		kinds = append(kinds, kind)
	}

	sort.Strings(kinds)

	return kinds
}
