package syncbus_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/gatehouse-app/gatehouse/internal/syncbus"
	_ "github.com/gatehouse-app/gatehouse/testing"
)

type eventSink struct {
	mu     sync.Mutex
	events []syncbus.Event
}

func (s *eventSink) record(_ context.Context, ev syncbus.Event) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *eventSink) snapshot() []syncbus.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]syncbus.Event, len(s.events))
	copy(out, s.events)
	return out
}

func newBusPair(t *testing.T) (*syncbus.Bus, *syncbus.Bus) {
	t.Helper()
	mr := miniredis.RunT(t)
	clientA := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	clientB := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = clientA.Close()
		_ = clientB.Close()
	})
	return syncbus.New(clientA, nil), syncbus.New(clientB, nil)
}

func runBus(t *testing.T, bus *syncbus.Bus) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = bus.Run(ctx) }()
	// Give the subscription a moment to establish.
	time.Sleep(50 * time.Millisecond)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func TestPermissionsEventCrossesInstances(t *testing.T) {
	publisher, receiver := newBusPair(t)
	sink := &eventSink{}
	receiver.OnReceive(sink.record)
	runBus(t, receiver)

	if err := publisher.PermissionsChanged(context.Background(), 42); err != nil {
		t.Fatalf("publish: %v", err)
	}

	waitFor(t, func() bool { return len(sink.snapshot()) == 1 })

	ev := sink.snapshot()[0]
	if ev.Kind != syncbus.KindPermissions {
		t.Fatalf("expected permissions kind, got %s", ev.Kind)
	}
	if ev.SubjectID != 42 {
		t.Fatalf("expected subject 42, got %d", ev.SubjectID)
	}
	if ev.ID == "" || ev.Origin == "" {
		t.Fatalf("event missing id or origin: %+v", ev)
	}
}

func TestVisibilityEventCarriesNewValueHint(t *testing.T) {
	publisher, receiver := newBusPair(t)
	sink := &eventSink{}
	receiver.OnReceive(sink.record)
	runBus(t, receiver)

	if err := publisher.VisibilityChanged(context.Background(), 7, false); err != nil {
		t.Fatalf("publish: %v", err)
	}

	waitFor(t, func() bool { return len(sink.snapshot()) == 1 })

	ev := sink.snapshot()[0]
	if ev.Kind != syncbus.KindVisibility {
		t.Fatalf("expected visibility kind, got %s", ev.Kind)
	}
	if ev.NewValue == nil || *ev.NewValue {
		t.Fatalf("expected new_value hint false, got %v", ev.NewValue)
	}
}

func TestOwnEventsAreSkipped(t *testing.T) {
	bus, other := newBusPair(t)
	own := &eventSink{}
	foreign := &eventSink{}
	bus.OnReceive(own.record)
	other.OnReceive(foreign.record)
	runBus(t, bus)
	runBus(t, other)

	if err := bus.PermissionsChanged(context.Background(), 1); err != nil {
		t.Fatalf("publish: %v", err)
	}

	waitFor(t, func() bool { return len(foreign.snapshot()) == 1 })
	if len(own.snapshot()) != 0 {
		t.Fatalf("instance handled its own event")
	}
}

func TestMalformedPayloadIsDropped(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	bus := syncbus.New(client, nil)
	sink := &eventSink{}
	bus.OnReceive(sink.record)
	runBus(t, bus)

	if err := client.Publish(context.Background(), syncbus.Channel, "not json").Err(); err != nil {
		t.Fatalf("publish raw: %v", err)
	}
	if err := client.Publish(context.Background(), syncbus.Channel, `{"id":"x","origin":"y","kind":"surprise","subject_id":1}`).Err(); err != nil {
		t.Fatalf("publish unknown kind: %v", err)
	}

	// Follow with a valid event to prove the loop survived the bad ones.
	other := syncbus.New(client, nil)
	if err := other.PermissionsChanged(context.Background(), 5); err != nil {
		t.Fatalf("publish valid: %v", err)
	}

	waitFor(t, func() bool { return len(sink.snapshot()) == 1 })
	if got := sink.snapshot()[0]; got.SubjectID != 5 {
		t.Fatalf("expected the valid event only, got %+v", got)
	}
}
