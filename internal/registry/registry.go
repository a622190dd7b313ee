// Package registry resolves (kind, name) pairs to the Go function that
// performs the work — the process-local handler table every executor
// consults before running a WorkSpec.
package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/ryansmccoy/spine-core-sub000/internal/domain"
)

// Handler executes a WorkSpec's payload and returns a result or an error.
// Handlers are expected to respect ctx cancellation/deadline.
type Handler func(ctx context.Context, payload map[string]any) (map[string]any, error)

type key struct {
	kind domain.Kind
	name string
}

// Registry is a process-local map from (kind, name) to Handler.
type Registry struct {
	mu       sync.RWMutex
	handlers map[key]Handler
}

// New returns an empty, independent Registry. Use New when you want
// isolation (tests, multiple engines in one process); use Default for
// the shared process-wide table.
func New() *Registry {
	return &Registry{handlers: make(map[key]Handler)}
}

var (
	defaultOnce sync.Once
	defaultReg  *Registry
)

// Default returns the lazily-constructed process-wide Registry.
func Default() *Registry {
	defaultOnce.Do(func() { defaultReg = New() })
	return defaultReg
}

// Register installs h under (kind, name), replacing any prior handler.
func (r *Registry) Register(kind domain.Kind, name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[key{kind, name}] = h
}

// Lookup resolves a raw handler reference string into a Handler. The
// convention is "kind:name"; a bare "name" defaults to kind=task, mirroring
// how most WorkSpecs in practice are ad-hoc tasks rather than pipeline
// steps.
func (r *Registry) Lookup(ref string) (Handler, error) {
	kind, name := splitRef(ref)
	return r.Get(kind, name)
}

// Get resolves a handler by its explicit (kind, name) pair.
func (r *Registry) Get(kind domain.Kind, name string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[key{kind, name}]
	if !ok {
		return nil, fmt.Errorf("%w: %s:%s", domain.ErrUnknownHandler, kind, name)
	}
	return h, nil
}

func splitRef(ref string) (domain.Kind, string) {
	for i := 0; i < len(ref); i++ {
		if ref[i] == ':' {
			return domain.Kind(ref[:i]), ref[i+1:]
		}
	}
	return domain.KindTask, ref
}
