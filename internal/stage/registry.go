package stage

import (
	"fmt"

	"isomine/internal/services"
	"isomine/internal/state"
)

// Registry maps stage names to their single active handler.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry indexes handlers by name. Registering two handlers for one
// stage or a handler for an unknown stage is a programming error.
func NewRegistry(handlers ...Handler) (*Registry, error) {
	r := &Registry{handlers: make(map[string]Handler, len(handlers))}
	for _, h := range handlers {
		name := h.Name()
		if !state.IsStage(name) {
			return nil, fmt.Errorf("register stage %q: unknown stage", name)
		}
		if _, dup := r.handlers[name]; dup {
			return nil, fmt.Errorf("register stage %q: duplicate handler", name)
		}
		r.handlers[name] = h
	}
	return r, nil
}

// Lookup returns the handler for name.
func (r *Registry) Lookup(name string) (Handler, error) {
	h, ok := r.handlers[name]
	if !ok {
		return nil, services.Wrap(services.ErrUsage, name, "lookup", "no handler registered for stage", nil)
	}
	return h, nil
}

// Handlers returns registered handlers in pipeline order.
func (r *Registry) Handlers() []Handler {
	out := make([]Handler, 0, len(r.handlers))
	for _, name := range state.Stages {
		if h, ok := r.handlers[name]; ok {
			out = append(out, h)
		}
	}
	return out
}
