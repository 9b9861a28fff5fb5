package aggregate

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/icsight/icsight/internal/model"
)

func eventAt(t time.Time, attackType string) model.ClassifiedEvent {
	sev := model.SeverityNormal
	if attackType != "" {
		sev = model.SeverityHigh
	}
	return model.ClassifiedEvent{
		Timestamp:           t,
		SourceEndpoint:      "10.0.0.1",
		DestinationEndpoint: "10.0.0.2",
		Protocol:            "Modbus",
		AttackType:          attackType,
		Severity:            sev,
	}
}

func TestBucketTimeline_GroupsByInterval(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	events := []model.ClassifiedEvent{
		eventAt(base, ""),
		eventAt(base.Add(1*time.Minute), "dos"),
		eventAt(base.Add(4*time.Minute), ""),
		eventAt(base.Add(6*time.Minute), "probe"),
	}

	buckets := BucketTimeline(events, 5*time.Minute, 50)

	assert.Len(t, buckets, 2)
	assert.Equal(t, int64(3), buckets[0].EventCount)
	assert.Equal(t, int64(1), buckets[0].AttackCount)
	assert.Equal(t, int64(1), buckets[1].EventCount)
	assert.Equal(t, int64(1), buckets[1].AttackCount)
	assert.True(t, buckets[0].BucketStart.Before(buckets[1].BucketStart))
}

func TestBucketTimeline_DeterministicOverPushOrder(t *testing.T) {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	var events []model.ClassifiedEvent
	for i := 0; i < 200; i++ {
		attack := ""
		if i%3 == 0 {
			attack = "dos"
		}
		events = append(events, eventAt(base.Add(time.Duration(i)*37*time.Second), attack))
	}

	first := BucketTimeline(events, 5*time.Minute, 50)

	// Bucketing the same multiset in any order must yield identical buckets.
	shuffled := make([]model.ClassifiedEvent, len(events))
	copy(shuffled, events)
	rng := rand.New(rand.NewSource(42))
	rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	second := BucketTimeline(shuffled, 5*time.Minute, 50)
	assert.Equal(t, first, second)
}

func TestBucketTimeline_RetainsNewestBuckets(t *testing.T) {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	var events []model.ClassifiedEvent
	for i := 0; i < 10; i++ {
		events = append(events, eventAt(base.Add(time.Duration(i)*5*time.Minute), ""))
	}

	buckets := BucketTimeline(events, 5*time.Minute, 3)

	assert.Len(t, buckets, 3)
	assert.Equal(t, base.Add(35*time.Minute), buckets[0].BucketStart)
	assert.Equal(t, base.Add(45*time.Minute), buckets[2].BucketStart)
}

func TestBucketTimeline_SubSecondWidth(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	events := []model.ClassifiedEvent{
		eventAt(base, ""),
		eventAt(base.Add(200*time.Millisecond), ""),
		eventAt(base.Add(700*time.Millisecond), "dos"),
	}

	buckets := BucketTimeline(events, 500*time.Millisecond, 10)

	assert.Len(t, buckets, 2)
	assert.Equal(t, base, buckets[0].BucketStart)
	assert.Equal(t, int64(2), buckets[0].EventCount)
	assert.Equal(t, base.Add(500*time.Millisecond), buckets[1].BucketStart)
	assert.Equal(t, int64(1), buckets[1].AttackCount)
}

func TestBucketTimeline_EmptyWindow(t *testing.T) {
	assert.Empty(t, BucketTimeline(nil, 5*time.Minute, 50))
}

func TestBucketTimeline_CountsAnomalies(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ev := eventAt(base, "")
	ev.AnomalyScore = 0.9
	buckets := BucketTimeline([]model.ClassifiedEvent{ev, eventAt(base, "")}, 5*time.Minute, 50)

	assert.Len(t, buckets, 1)
	assert.Equal(t, int64(1), buckets[0].AnomalyCount)
}
