package tasks_test

import (
	"testing"
	"time"

	"chatvault/pkg/tasks"
)

func TestPublisherDeliversEveryValue(t *testing.T) {
	p := tasks.NewPublisher[int](10)
	defer p.Close()

	ch, cancel := p.Subscribe()
	defer cancel()

	// A burst published before the subscriber reads must come out
	// complete and in order, not collapsed onto the newest value.
	for i := 1; i <= 5; i++ {
		p.Publish(i)
	}

	for want := 1; want <= 5; want++ {
		select {
		case v := <-ch:
			if v != want {
				t.Fatalf("expected value %d, got %d", want, v)
			}
		case <-time.After(time.Second):
			t.Fatalf("value %d never arrived", want)
		}
	}
}

func TestPublisherReachesAllSubscribers(t *testing.T) {
	p := tasks.NewPublisher[int](1)
	defer p.Close()

	first, cancelFirst := p.Subscribe()
	defer cancelFirst()
	second, cancelSecond := p.Subscribe()
	defer cancelSecond()

	p.Publish(7)

	for _, ch := range []<-chan int{first, second} {
		select {
		case v := <-ch:
			if v != 7 {
				t.Fatalf("expected 7, got %d", v)
			}
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive the value")
		}
	}
}

func TestPublisherCancelUnblocksPublish(t *testing.T) {
	p := tasks.NewPublisher[int](1)
	defer p.Close()

	_, cancel := p.Subscribe()

	p.Publish(1)

	// The buffer is full and the subscriber never reads, so the next
	// publish blocks until the subscription is cancelled.
	published := make(chan struct{})
	go func() {
		p.Publish(2)
		close(published)
	}()

	select {
	case <-published:
		t.Fatal("publish to a full subscriber did not block")
	case <-time.After(50 * time.Millisecond):
	}

	cancel()

	select {
	case <-published:
	case <-time.After(time.Second):
		t.Fatal("cancel did not unblock the publisher")
	}
}

func TestPublisherCloseDetachesSubscribers(t *testing.T) {
	p := tasks.NewPublisher[int](1)
	ch, _ := p.Subscribe()

	p.Close()

	// Publish after Close is a no-op, not a panic, and delivers
	// nothing.
	p.Publish(1)

	select {
	case v := <-ch:
		t.Fatalf("received %d after close", v)
	case <-time.After(50 * time.Millisecond):
	}
}
