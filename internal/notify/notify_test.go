package notify

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestNewReturnsLogNotifierWhenAPIKeyEmpty(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	n := New("", "alerts@example.com", "oncall@example.com", logger)
	if _, ok := n.(*LogNotifier); !ok {
		t.Fatalf("expected *LogNotifier, got %T", n)
	}

	if err := n.Notify(context.Background(), "run dead-lettered", "run abc exhausted retries"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(buf.String(), "run dead-lettered") {
		t.Fatalf("expected log output to contain the alert subject, got %q", buf.String())
	}
}

func TestNewReturnsResendNotifierWhenAPIKeySet(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(nil, nil))
	n := New("re_test_key", "alerts@example.com", "oncall@example.com", logger)
	if _, ok := n.(*ResendNotifier); !ok {
		t.Fatalf("expected *ResendNotifier, got %T", n)
	}
}
