package tasks_test

import (
	"context"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"chatvault/pkg/tasks"
)

func TestRestartableCancelsPriorRun(t *testing.T) {
	results := make(chan string, 2)
	r := tasks.NewRestartable(log.Default(), func(v string) { results <- v })

	firstCancelled := make(chan struct{})
	started := make(chan struct{})

	r.Restart(func(ctx context.Context) (string, error) {
		close(started)
		<-ctx.Done()
		close(firstCancelled)
		return "first", nil
	})

	<-started
	r.Restart(func(context.Context) (string, error) {
		return "second", nil
	})

	select {
	case <-firstCancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("first run was not cancelled by Restart")
	}

	select {
	case v := <-results:
		if v != "second" {
			t.Fatalf("expected result of latest run, got %q", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("second run never delivered")
	}

	select {
	case v := <-results:
		t.Fatalf("cancelled run delivered %q", v)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRestartableCancelSuppressesDelivery(t *testing.T) {
	results := make(chan int, 1)
	r := tasks.NewRestartable(log.Default(), func(v int) { results <- v })

	started := make(chan struct{})
	r.Restart(func(ctx context.Context) (int, error) {
		close(started)
		<-ctx.Done()
		return 1, nil
	})

	<-started
	r.Cancel()

	select {
	case v := <-results:
		t.Fatalf("cancelled run delivered %d", v)
	case <-time.After(200 * time.Millisecond):
	}
}
