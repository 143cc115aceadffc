package tasks_test

import (
	"context"
	"testing"

	"chatvault/pkg/tasks"
)

func TestCancellerSoftDoesNotCancelContext(t *testing.T) {
	c := tasks.NewCanceller(context.Background())
	c.SoftCancel()

	if !c.Cancelled(false) {
		t.Fatal("expected soft cancellation to be observable")
	}
	if c.Cancelled(true) {
		t.Fatal("soft cancellation must not register as hard")
	}
	if err := c.Context().Err(); err != nil {
		t.Fatalf("soft cancellation must not cancel the context, got %v", err)
	}
}

func TestCancellerHardImpliesSoft(t *testing.T) {
	c := tasks.NewCanceller(context.Background())
	c.HardCancel()

	if !c.Cancelled(false) || !c.Cancelled(true) {
		t.Fatal("hard cancellation must register as both soft and hard")
	}
	if c.Context().Err() == nil {
		t.Fatal("hard cancellation must cancel the context")
	}
	if c.State() != tasks.CancelHard {
		t.Fatalf("expected CancelHard state, got %v", c.State())
	}
}

func TestCancellerSoftThenHard(t *testing.T) {
	c := tasks.NewCanceller(context.Background())
	c.SoftCancel()
	c.HardCancel()

	if c.State() != tasks.CancelHard {
		t.Fatalf("expected CancelHard after escalation, got %v", c.State())
	}
}
