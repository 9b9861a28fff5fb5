package store

import (
	"sync"
	"time"

	"github.com/icsight/icsight/internal/model"
)

// Status mirrors the upstream simulation status. The local copy is advisory
// between snapshots; Replace swaps the whole object and never merges fields,
// so a stale local value can not leak into a fresh authoritative snapshot.
type Status struct {
	mu        sync.RWMutex
	current   model.SimulationStatus
	updatedAt time.Time
}

// NewStatus creates an empty status mirror.
func NewStatus() *Status {
	return &Status{}
}

// Replace installs an authoritative snapshot, discarding the local copy.
func (s *Status) Replace(st model.SimulationStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = st
	s.updatedAt = time.Now().UTC()
}

// Get returns a copy of the mirrored status and when it was last replaced.
func (s *Status) Get() (model.SimulationStatus, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.current
	if s.current.AttackCounts != nil {
		st.AttackCounts = make(map[string]int64, len(s.current.AttackCounts))
		for k, v := range s.current.AttackCounts {
			st.AttackCounts[k] = v
		}
	}
	return st, s.updatedAt
}
