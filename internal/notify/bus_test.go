package notify

import (
	"testing"

	"github.com/google/uuid"

	"atelier/internal/model"
)

func TestPublishDeliversToSubscribers(t *testing.T) {
	b := NewBus(nil)
	jobID := uuid.New()

	var got []model.Snapshot
	unsub := b.Subscribe(jobID, func(s model.Snapshot) {
		got = append(got, s)
	})
	defer unsub()

	b.Publish(jobID, model.Snapshot{ID: jobID, Completed: 1})
	b.Publish(jobID, model.Snapshot{ID: jobID, Completed: 2})

	if len(got) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(got))
	}
	if got[0].Completed != 1 || got[1].Completed != 2 {
		t.Fatalf("expected deliveries in publish order, got %+v", got)
	}
}

func TestPublishIsScopedToJob(t *testing.T) {
	b := NewBus(nil)
	a, c := uuid.New(), uuid.New()

	var got int
	unsub := b.Subscribe(a, func(model.Snapshot) { got++ })
	defer unsub()

	b.Publish(c, model.Snapshot{ID: c})
	if got != 0 {
		t.Fatalf("expected no delivery for other job, got %d", got)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := NewBus(nil)
	jobID := uuid.New()

	var got int
	unsub := b.Subscribe(jobID, func(model.Snapshot) { got++ })

	b.Publish(jobID, model.Snapshot{ID: jobID})
	unsub()
	// Unsubscribing twice must be harmless.
	unsub()
	b.Publish(jobID, model.Snapshot{ID: jobID})

	if got != 1 {
		t.Fatalf("expected exactly 1 delivery, got %d", got)
	}
	if n := b.Subscribers(jobID); n != 0 {
		t.Fatalf("expected 0 subscribers after unsubscribe, got %d", n)
	}
}

func TestPanickingListenerDoesNotAffectOthers(t *testing.T) {
	b := NewBus(nil)
	jobID := uuid.New()

	unsub1 := b.Subscribe(jobID, func(model.Snapshot) { panic("listener blew up") })
	defer unsub1()

	var got int
	unsub2 := b.Subscribe(jobID, func(model.Snapshot) { got++ })
	defer unsub2()

	b.Publish(jobID, model.Snapshot{ID: jobID})

	if got != 1 {
		t.Fatalf("expected surviving listener to receive snapshot, got %d deliveries", got)
	}
}
