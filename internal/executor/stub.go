package executor

import (
	"context"
	"sync"

	"github.com/ryansmccoy/spine-core-sub000/internal/domain"
	"github.com/ryansmccoy/spine-core-sub000/internal/registry"
)

// Stub is a test double that never touches the registry: it records
// every WorkSpec it was handed and returns a pre-programmed Result (or
// DefaultResult if none was configured for that spec's name).
type Stub struct {
	mu          sync.Mutex
	Submitted   []domain.WorkSpec
	ByName      map[string]*Result
	DefaultResult *Result
}

func NewStub() *Stub {
	return &Stub{ByName: make(map[string]*Result), DefaultResult: &Result{Output: map[string]any{}}}
}

func (s *Stub) Submit(_ context.Context, spec domain.WorkSpec, _ *registry.Registry) (*Result, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Submitted = append(s.Submitted, spec)
	if res, ok := s.ByName[spec.Name]; ok {
		return res, true, nil
	}
	return s.DefaultResult, true, nil
}
