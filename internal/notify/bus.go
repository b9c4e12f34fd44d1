package notify

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"atelier/internal/model"
)

// Listener receives job snapshots as they are published. Listeners are
// invoked synchronously in publish order; a listener that panics is
// logged and skipped without affecting other listeners or the
// publisher.
type Listener func(model.Snapshot)

// Bus fans job snapshots out to live subscribers, one topic per job.
// Subscriptions are ephemeral: they are not persisted and their
// lifetime is bounded by the owning connection calling unsubscribe.
type Bus struct {
	logger *slog.Logger

	mu     sync.Mutex
	topics map[uuid.UUID]map[int64]Listener
	nextID int64
}

func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		logger: logger,
		topics: make(map[uuid.UUID]map[int64]Listener),
	}
}

// Subscribe registers a listener for one job and returns an
// unsubscribe function. Unsubscribing twice is harmless. No delivery is
// guaranteed after unsubscribe returns.
func (b *Bus) Subscribe(jobID uuid.UUID, fn Listener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID

	subs, ok := b.topics[jobID]
	if !ok {
		subs = make(map[int64]Listener)
		b.topics[jobID] = subs
	}
	subs[id] = fn

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if subs, ok := b.topics[jobID]; ok {
			delete(subs, id)
			if len(subs) == 0 {
				delete(b.topics, jobID)
			}
		}
	}
}

// Publish delivers the snapshot to every current subscriber of the
// job. Callers are expected to serialize publishes for a single job
// (the registry does this under its per-job mutation lock), which keeps
// the snapshot sequence seen by each subscriber monotonic.
func (b *Bus) Publish(jobID uuid.UUID, snap model.Snapshot) {
	b.mu.Lock()
	listeners := make([]Listener, 0, len(b.topics[jobID]))
	for _, fn := range b.topics[jobID] {
		listeners = append(listeners, fn)
	}
	b.mu.Unlock()

	for _, fn := range listeners {
		b.deliver(jobID, fn, snap)
	}
}

// Drop removes every subscriber of a job. Used when the registry
// evicts the job itself.
func (b *Bus) Drop(jobID uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.topics, jobID)
}

// Subscribers returns the number of live listeners for a job.
func (b *Bus) Subscribers(jobID uuid.UUID) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topics[jobID])
}

func (b *Bus) deliver(jobID uuid.UUID, fn Listener, snap model.Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Warn("job listener panicked", "job_id", jobID.String(), "panic", r)
		}
	}()
	fn(snap)
}
