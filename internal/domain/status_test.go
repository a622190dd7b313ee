package domain

import "testing"

func TestValidateTransitionAllowsPendingToRunning(t *testing.T) {
	if err := ValidateTransition(StatusPending, StatusRunning); err != nil {
		t.Fatalf("expected PENDING -> RUNNING to be valid, got %v", err)
	}
}

func TestValidateTransitionRejectsTerminalToAnything(t *testing.T) {
	if err := ValidateTransition(StatusCompleted, StatusRunning); err == nil {
		t.Fatal("expected COMPLETED -> RUNNING to be rejected")
	}
}

func TestValidateTransitionRejectsSkippingQueued(t *testing.T) {
	if err := ValidateTransition(StatusPending, StatusCompleted); err == nil {
		t.Fatal("expected PENDING -> COMPLETED to be rejected")
	}
}
