// Package store holds the session-local state: the bounded event buffer and
// the mirrored simulation status. Everything here is rebuilt from the
// transport and poll endpoints on session start; nothing is persisted.
package store

import (
	"github.com/icsight/icsight/internal/buffer"
	"github.com/icsight/icsight/internal/model"
)

// Events is the bounded, insertion-ordered store of the most recent
// classified events. Capacity eviction is FIFO-by-age.
type Events struct {
	ring *buffer.Ring[model.ClassifiedEvent]
}

// NewEvents creates an event store with the given capacity.
func NewEvents(capacity int) *Events {
	return &Events{ring: buffer.NewRing[model.ClassifiedEvent](capacity)}
}

// Push inserts one event as the newest entry.
func (s *Events) Push(ev model.ClassifiedEvent) {
	s.ring.Push(ev)
}

// PushBatch inserts a chronological batch, oldest first, so the newest event
// of the batch ends up newest in the buffer. Used when seeding from an
// initial_data payload or a polled recent-events snapshot, both of which
// arrive in chronological order.
func (s *Events) PushBatch(oldestFirst []model.ClassifiedEvent) {
	for _, ev := range oldestFirst {
		s.ring.Push(ev)
	}
}

// Len returns the number of buffered events.
func (s *Events) Len() int {
	return s.ring.Len()
}

// Snapshot returns all buffered events, newest first.
func (s *Events) Snapshot() []model.ClassifiedEvent {
	return s.ring.Snapshot()
}

// Recent returns up to n newest events, newest first.
func (s *Events) Recent(n int) []model.ClassifiedEvent {
	return s.ring.Recent(n)
}

// Filter returns a derived read-only view of events matching pred. Safe to
// call concurrently with Push.
func (s *Events) Filter(pred func(model.ClassifiedEvent) bool) []model.ClassifiedEvent {
	return s.ring.Filter(pred)
}

// Attacks returns the buffered attack-classified events, newest first.
func (s *Events) Attacks() []model.ClassifiedEvent {
	return s.ring.Filter(model.ClassifiedEvent.IsAttack)
}

// Clear drops all buffered events. Used on simulation reset.
func (s *Events) Clear() {
	s.ring.Clear()
}
