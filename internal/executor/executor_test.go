package executor

import (
	"context"
	"testing"
	"time"

	"github.com/ryansmccoy/spine-core-sub000/internal/domain"
	"github.com/ryansmccoy/spine-core-sub000/internal/registry"
)

func TestMemorySubmitRunsSynchronously(t *testing.T) {
	reg := registry.New()
	reg.Register(domain.KindTask, "echo", func(ctx context.Context, p map[string]any) (map[string]any, error) {
		return p, nil
	})

	m := NewMemory()
	spec := domain.WorkSpec{Kind: domain.KindTask, Name: "echo", Payload: map[string]any{"x": 1}}
	res, sync, err := m.Submit(context.Background(), spec, reg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !sync {
		t.Fatal("expected memory executor to be synchronous")
	}
	if res.Err != nil {
		t.Fatalf("handler returned error: %v", res.Err)
	}
	if res.Output["x"] != 1 {
		t.Fatalf("unexpected output: %v", res.Output)
	}
}

func TestThreadPoolSubmitIsAsync(t *testing.T) {
	reg := registry.New()
	done := make(chan struct{})
	reg.Register(domain.KindTask, "slow", func(ctx context.Context, p map[string]any) (map[string]any, error) {
		close(done)
		return nil, nil
	})

	var gotResult *Result
	tp := NewThreadPool(2, func(_ domain.WorkSpec, res *Result) { gotResult = res })
	_, sync, err := tp.Submit(context.Background(), domain.WorkSpec{Kind: domain.KindTask, Name: "slow"}, reg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sync {
		t.Fatal("expected thread pool executor to be asynchronous")
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler never ran")
	}
	tp.Wait()
	if gotResult == nil || gotResult.Err != nil {
		t.Fatalf("unexpected result: %+v", gotResult)
	}
}

func TestMemorySubmitUnknownHandler(t *testing.T) {
	reg := registry.New()
	m := NewMemory()
	res, _, err := m.Submit(context.Background(), domain.WorkSpec{Kind: domain.KindTask, Name: "nope"}, reg)
	if err != nil {
		t.Fatalf("unexpected top-level error: %v", err)
	}
	if res.Err == nil {
		t.Fatal("expected handler resolution error on result")
	}
}
