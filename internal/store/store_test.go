package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/icsight/icsight/internal/model"
)

func TestEvents_PushBatchChronological(t *testing.T) {
	s := NewEvents(10)
	s.PushBatch([]model.ClassifiedEvent{{ID: 1}, {ID: 2}, {ID: 3}})

	snap := s.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, int64(3), snap[0].ID)
	assert.Equal(t, int64(1), snap[2].ID)
}

func TestEvents_Attacks(t *testing.T) {
	s := NewEvents(10)
	s.Push(model.ClassifiedEvent{ID: 1})
	s.Push(model.ClassifiedEvent{ID: 2, AttackType: "dos"})
	s.Push(model.ClassifiedEvent{ID: 3, AttackType: "probe"})

	attacks := s.Attacks()
	require.Len(t, attacks, 2)
	assert.Equal(t, int64(3), attacks[0].ID)
}

func TestEvents_CapacityEviction(t *testing.T) {
	s := NewEvents(2)
	s.Push(model.ClassifiedEvent{ID: 1})
	s.Push(model.ClassifiedEvent{ID: 2})
	s.Push(model.ClassifiedEvent{ID: 3})

	snap := s.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, int64(3), snap[0].ID)
	assert.Equal(t, int64(2), snap[1].ID)
}

func TestStatus_ReplaceNeverMerges(t *testing.T) {
	s := NewStatus()
	s.Replace(model.SimulationStatus{
		IsRunning:     true,
		PlaybackSpeed: 2.0,
		AttackCounts:  map[string]int64{"dos": 5},
	})
	s.Replace(model.SimulationStatus{IsRunning: false})

	got, _ := s.Get()
	assert.False(t, got.IsRunning)
	assert.Zero(t, got.PlaybackSpeed)
	assert.Empty(t, got.AttackCounts)
}

func TestStatus_GetCopiesAttackCounts(t *testing.T) {
	s := NewStatus()
	s.Replace(model.SimulationStatus{AttackCounts: map[string]int64{"dos": 1}})

	got, _ := s.Get()
	got.AttackCounts["dos"] = 99

	again, _ := s.Get()
	assert.Equal(t, int64(1), again.AttackCounts["dos"])
}
