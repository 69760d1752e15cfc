package stream

import (
	"context"
	"testing"
	"time"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPublishReachesAllSubscribers(t *testing.T) {
	h := New[string](4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := h.Subscribe(ctx)
	b := h.Subscribe(ctx)
	if h.Subscribers() != 2 {
		t.Fatalf("expected 2 subscribers, got %d", h.Subscribers())
	}

	h.Publish("login")
	for i, ch := range []<-chan string{a, b} {
		select {
		case got := <-ch:
			if got != "login" {
				t.Fatalf("subscriber %d: unexpected event %q", i, got)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d: no event", i)
		}
	}
}

func TestSlowSubscriberDropsEvents(t *testing.T) {
	h := New[int](1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := h.Subscribe(ctx)
	h.Publish(1)
	h.Publish(2)

	if got := <-ch; got != 1 {
		t.Fatalf("expected first event, got %d", got)
	}
	select {
	case got := <-ch:
		t.Fatalf("expected second event to be dropped, got %d", got)
	default:
	}
}

func TestCancelClosesChannel(t *testing.T) {
	h := New[int](0)
	ctx, cancel := context.WithCancel(context.Background())
	ch := h.Subscribe(ctx)
	cancel()

	waitFor(t, func() bool { return h.Subscribers() == 0 })
	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel")
	}
	// publishing with no subscribers is a no-op
	h.Publish(3)
}
