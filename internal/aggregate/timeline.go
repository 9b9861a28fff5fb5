// Package aggregate contains the pure, re-computable views derived from the
// event window: timeline buckets, category distributions, top talkers and
// the endpoint graph. Every function here is deterministic over its input
// multiset regardless of event order, so recomputation on a timer is safe.
package aggregate

import (
	"sort"
	"time"

	"github.com/icsight/icsight/internal/model"
)

// anomalyThreshold marks low-confidence classifications as anomalous for
// timeline counting, mirroring the upstream anomaly_score convention.
const anomalyThreshold = 0.5

// BucketTimeline groups events into fixed-width buckets keyed by
// floor(timestamp / width). Counts are commutative, so the same event
// multiset yields identical buckets in any order. Only the newest max
// buckets are retained; the result is sorted by bucket start ascending.
func BucketTimeline(events []model.ClassifiedEvent, width time.Duration, max int) []model.TimelineBucket {
	if width <= 0 || max <= 0 {
		return nil
	}

	buckets := make(map[int64]*model.TimelineBucket)
	for _, ev := range events {
		// Nanosecond keying so sub-second widths never divide by zero.
		key := ev.Timestamp.UnixNano() / int64(width)
		b, ok := buckets[key]
		if !ok {
			b = &model.TimelineBucket{
				BucketStart: time.Unix(0, key*int64(width)).UTC(),
			}
			buckets[key] = b
		}
		b.EventCount++
		if ev.IsAttack() {
			b.AttackCount++
		}
		if ev.AnomalyScore > anomalyThreshold {
			b.AnomalyCount++
		}
	}

	out := make([]model.TimelineBucket, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].BucketStart.Before(out[j].BucketStart)
	})

	// Drop the oldest buckets beyond the retention cap.
	if len(out) > max {
		out = out[len(out)-max:]
	}
	return out
}
