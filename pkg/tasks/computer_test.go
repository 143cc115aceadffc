package tasks_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"chatvault/pkg/tasks"
)

func TestValueComputerDeliversResult(t *testing.T) {
	results := make(chan int, 1)
	c := tasks.NewValueComputer(log.Default(), func(v int) { results <- v })

	c.Compute(func(context.Context) (int, error) {
		return 42, nil
	})

	select {
	case v := <-results:
		if v != 42 {
			t.Fatalf("expected 42, got %d", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for result")
	}
}

func TestValueComputerNeverRunsTwoAtOnce(t *testing.T) {
	var running, maxRunning atomic.Int32

	c := tasks.NewValueComputer(log.Default(), func(int) {})

	body := func(context.Context) (int, error) {
		n := running.Add(1)
		for {
			m := maxRunning.Load()
			if n <= m || maxRunning.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		running.Add(-1)
		return 0, nil
	}

	for i := 0; i < 20; i++ {
		c.Compute(body)
	}

	// Coalescing drops intermediate functions; post a final marker
	// and wait for it to run, which means the pipeline has drained.
	final := make(chan struct{})
	c.Compute(func(context.Context) (int, error) {
		close(final)
		return 0, nil
	})

	select {
	case <-final:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for computations to drain")
	}

	if maxRunning.Load() > 1 {
		t.Fatalf("observed %d concurrent computations", maxRunning.Load())
	}
}

func TestValueComputerBurstDeliversOnlyLatest(t *testing.T) {
	var delivered []int
	var mu sync.Mutex

	c := tasks.NewValueComputer(log.Default(), func(v int) {
		mu.Lock()
		delivered = append(delivered, v)
		mu.Unlock()
	})

	gate := make(chan struct{})

	// First computation blocks until the burst below is posted.
	c.Compute(func(context.Context) (int, error) {
		<-gate
		return 1, nil
	})

	for i := 2; i <= 5; i++ {
		v := i
		c.Compute(func(context.Context) (int, error) {
			return v, nil
		})
	}
	close(gate)

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		got := append([]int(nil), delivered...)
		mu.Unlock()
		if len(got) >= 1 && got[len(got)-1] == 5 {
			for _, v := range got {
				if v != 5 {
					t.Fatalf("stale result %d delivered, got %v", v, got)
				}
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out, delivered so far: %v", got)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestValueComputerCancelSuppressesResult(t *testing.T) {
	results := make(chan int, 1)
	c := tasks.NewValueComputer(log.Default(), func(v int) { results <- v })

	started := make(chan struct{})
	gate := make(chan struct{})

	c.Compute(func(context.Context) (int, error) {
		close(started)
		<-gate
		return 7, nil
	})

	<-started
	c.Cancel()
	close(gate)

	select {
	case v := <-results:
		t.Fatalf("cancelled computation delivered %d", v)
	case <-time.After(200 * time.Millisecond):
	}
}
