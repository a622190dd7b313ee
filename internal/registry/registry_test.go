package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/ryansmccoy/spine-core-sub000/internal/domain"
)

func TestRegisterAndGet(t *testing.T) {
	r := New()
	r.Register(domain.KindTask, "send_email", func(ctx context.Context, p map[string]any) (map[string]any, error) {
		return map[string]any{"sent": true}, nil
	})

	h, err := r.Get(domain.KindTask, "send_email")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out, err := h(context.Background(), nil)
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if out["sent"] != true {
		t.Fatalf("unexpected output: %v", out)
	}
}

func TestGetUnknown(t *testing.T) {
	r := New()
	_, err := r.Get(domain.KindTask, "nope")
	if !errors.Is(err, domain.ErrUnknownHandler) {
		t.Fatalf("expected ErrUnknownHandler, got %v", err)
	}
}

func TestLookupRefConventions(t *testing.T) {
	r := New()
	called := false
	r.Register(domain.KindStep, "resize_image", func(ctx context.Context, p map[string]any) (map[string]any, error) {
		called = true
		return nil, nil
	})

	h, err := r.Lookup("step:resize_image")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := h(context.Background(), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("handler was not invoked")
	}

	r.Register(domain.KindTask, "cleanup", func(ctx context.Context, p map[string]any) (map[string]any, error) {
		return nil, nil
	})
	if _, err := r.Lookup("cleanup"); err != nil {
		t.Fatalf("bare name should default to kind=task: %v", err)
	}
}

func TestDefaultIsShared(t *testing.T) {
	Default().Register(domain.KindTask, "shared_probe", func(ctx context.Context, p map[string]any) (map[string]any, error) {
		return nil, nil
	})
	if _, err := Default().Get(domain.KindTask, "shared_probe"); err != nil {
		t.Fatalf("expected handler registered on shared default registry: %v", err)
	}
}
