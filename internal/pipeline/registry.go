package pipeline

import (
	"context"
	"fmt"
	"sort"
)

// Handler runs one step.
type Handler func(ctx context.Context, req Request) (*Result, error)

// Registry maps each step kind to its handler. It is filled once at
// startup and read-only afterwards.
type Registry struct {
	handlers map[StepKind]Handler
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[StepKind]Handler)}
}

// Register adds a handler.
// Panics if the kind is unknown or already registered.
func (r *Registry) Register(kind StepKind, h Handler) {
	if _, ok := stepNames[kind]; !ok {
		panic(fmt.Sprintf("unknown step kind: %d", int(kind)))
	}
	if _, exists := r.handlers[kind]; exists {
		panic(fmt.Sprintf("step already registered: %s", kind))
	}
	r.handlers[kind] = h
}

// Run dispatches req to the handler for kind.
func (r *Registry) Run(ctx context.Context, kind StepKind, req Request) (*Result, error) {
	h, ok := r.handlers[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s has no handler", ErrUnknownStep, kind)
	}
	res, err := h(ctx, req)
	if err != nil {
		return nil, err
	}
	if res != nil {
		res.Kind = kind
	}
	return res, nil
}

// Registered returns the kinds with a handler, in order.
func (r *Registry) Registered() []StepKind {
	out := make([]StepKind, 0, len(r.handlers))
	for k := range r.handlers {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
