package executor

import (
	"context"

	"github.com/ryansmccoy/spine-core-sub000/internal/domain"
	"github.com/ryansmccoy/spine-core-sub000/internal/registry"
)

// Memory runs the handler synchronously on the calling goroutine — the
// simplest executor, used for tests and for single-process deployments
// where isolation between tasks doesn't matter.
type Memory struct{}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Submit(ctx context.Context, spec domain.WorkSpec, reg *registry.Registry) (*Result, bool, error) {
	return run(ctx, spec, reg), true, nil
}
