package notify

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kirinyoku/dinetrack/internal/domain"
)

func newTestHub(buffer int) *Hub {
	return NewHub(buffer, nil)
}

func TestPublishPreservesOrder(t *testing.T) {
	hub := newTestHub(16)
	sub := hub.Subscribe("order_1", "obs-1")

	for i := 0; i < 10; i++ {
		hub.Publish("order_1", domain.Event{
			Type:   domain.EventOrderUpdate,
			Status: fmt.Sprintf("stage-%d", i),
		})
	}

	for i := 0; i < 10; i++ {
		select {
		case ev := <-sub.C():
			want := fmt.Sprintf("stage-%d", i)
			if ev.Status != want {
				t.Fatalf("event %d: got status %q, want %q", i, ev.Status, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
}

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	hub := newTestHub(4)
	a := hub.Subscribe("table_7", "obs-a")
	b := hub.Subscribe("table_7", "obs-b")

	hub.Publish("table_7", domain.Event{Type: domain.EventTableHeld, TableID: 7})

	for _, sub := range []*Subscription{a, b} {
		select {
		case ev := <-sub.C():
			if ev.Type != domain.EventTableHeld {
				t.Errorf("got event type %q, want %q", ev.Type, domain.EventTableHeld)
			}
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestChannelsAreIndependent(t *testing.T) {
	hub := newTestHub(4)
	sub := hub.Subscribe("table_1", "obs-1")

	hub.Publish("table_2", domain.Event{Type: domain.EventTableHeld, TableID: 2})

	select {
	case ev := <-sub.C():
		t.Fatalf("received event %+v from a channel not subscribed to", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	hub := newTestHub(4)
	sub := hub.Subscribe("order_1", "obs-1")

	hub.Unsubscribe(sub)
	hub.Unsubscribe(sub)
	hub.Unsubscribe(nil)

	if _, ok := <-sub.C(); ok {
		t.Error("expected subscription channel to be closed")
	}

	if n := hub.Subscribers("order_1"); n != 0 {
		t.Errorf("Subscribers() = %d, want 0", n)
	}
}

func TestDropObserverRemovesAllSubscriptions(t *testing.T) {
	hub := newTestHub(4)
	a := hub.Subscribe("order_1", "obs-1")
	b := hub.Subscribe("table_7", "obs-1")
	other := hub.Subscribe("table_7", "obs-2")

	hub.DropObserver("obs-1")

	if _, ok := <-a.C(); ok {
		t.Error("order subscription should be closed after DropObserver")
	}
	if _, ok := <-b.C(); ok {
		t.Error("table subscription should be closed after DropObserver")
	}

	if n := hub.Subscribers("order_1"); n != 0 {
		t.Errorf("order_1 subscribers = %d, want 0", n)
	}
	if n := hub.Subscribers("table_7"); n != 1 {
		t.Errorf("table_7 subscribers = %d, want 1", n)
	}

	hub.Publish("table_7", domain.Event{Type: domain.EventTableReleased, TableID: 7})
	select {
	case ev := <-other.C():
		if ev.Type != domain.EventTableReleased {
			t.Errorf("got event type %q, want %q", ev.Type, domain.EventTableReleased)
		}
	case <-time.After(time.Second):
		t.Fatal("remaining observer did not receive event")
	}
}

func TestSlowSubscriberDoesNotBlockPublisher(t *testing.T) {
	hub := newTestHub(2)
	sub := hub.Subscribe("order_1", "obs-slow")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 5; i++ {
			hub.Publish("order_1", domain.Event{
				Type:   domain.EventOrderUpdate,
				Status: fmt.Sprintf("stage-%d", i),
			})
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publisher blocked on a slow subscriber")
	}

	// The first two events fit the buffer and must arrive in order.
	for i := 0; i < 2; i++ {
		ev := <-sub.C()
		want := fmt.Sprintf("stage-%d", i)
		if ev.Status != want {
			t.Errorf("event %d: got status %q, want %q", i, ev.Status, want)
		}
	}
}

func TestPublishWithoutSubscribers(t *testing.T) {
	hub := newTestHub(4)
	// must not panic or block
	hub.Publish("table_99", domain.Event{Type: domain.EventTableHeld, TableID: 99})
}

func TestConcurrentSubscribePublish(t *testing.T) {
	hub := newTestHub(64)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			sub := hub.Subscribe("table_1", fmt.Sprintf("obs-%d", n))
			hub.Unsubscribe(sub)
		}(i)
		go func() {
			defer wg.Done()
			hub.Publish("table_1", domain.Event{Type: domain.EventTableHeld, TableID: 1})
		}()
	}

	wg.Wait()
}
