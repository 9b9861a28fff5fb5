package aggregate

import (
	"sort"

	"github.com/icsight/icsight/internal/model"
)

// Distributions holds the per-category event counts recomputed from the
// current buffer window on each refresh. Source records whether the counts
// were computed locally or superseded by a server statistics snapshot.
type Distributions struct {
	Severity   map[string]int64 `json:"severity"`
	Protocol   map[string]int64 `json:"protocol"`
	AttackType map[string]int64 `json:"attack_type"`
	Source     string           `json:"source"`
}

// CategoryCount is one entry of a ranked distribution.
type CategoryCount struct {
	Category string `json:"category"`
	Count    int64  `json:"count"`
}

// CountBy computes the severity, protocol and attack-type distributions of
// the window. An empty window yields empty maps, never an error.
func CountBy(events []model.ClassifiedEvent) Distributions {
	d := Distributions{
		Severity:   make(map[string]int64),
		Protocol:   make(map[string]int64),
		AttackType: make(map[string]int64),
		Source:     "local",
	}
	for _, ev := range events {
		d.Severity[string(ev.Severity)]++
		if ev.Protocol != "" {
			d.Protocol[ev.Protocol]++
		}
		if ev.IsAttack() {
			d.AttackType[ev.AttackType]++
		}
	}
	return d
}

// TopN ranks categories descending by count, keeping at most n. Ties are
// broken by first-seen order over the window for determinism; firstSeen is
// derived from the events in window order by RankCategories callers.
func TopN(counts map[string]int64, firstSeen map[string]int, n int) []CategoryCount {
	out := make([]CategoryCount, 0, len(counts))
	for cat, c := range counts {
		out = append(out, CategoryCount{Category: cat, Count: c})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return firstSeen[out[i].Category] < firstSeen[out[j].Category]
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// FirstSeenIndex maps each category to the index of its first occurrence,
// walking the window oldest-first so replaying the same multiset in the
// same stream order reproduces identical tie-breaks.
func FirstSeenIndex(events []model.ClassifiedEvent, key func(model.ClassifiedEvent) string) map[string]int {
	seen := make(map[string]int)
	// events arrive newest-first from the buffer; walk from the tail.
	pos := 0
	for i := len(events) - 1; i >= 0; i-- {
		k := key(events[i])
		if k == "" {
			continue
		}
		if _, ok := seen[k]; !ok {
			seen[k] = pos
			pos++
		}
	}
	return seen
}
