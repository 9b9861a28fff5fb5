package aggregate

import (
	"sort"

	"github.com/icsight/icsight/internal/model"
)

// TalkerStat is the summed traffic weight of one unordered endpoint pair.
type TalkerStat struct {
	EndpointA string `json:"endpoint_a"`
	EndpointB string `json:"endpoint_b"`
	Weight    int64  `json:"weight"`
	Packets   int64  `json:"packets"`
}

// TopTalkers groups events by unordered (source, destination) pair, sums the
// byte size as the traffic weight (falling back to a count of 1 when size is
// absent), and returns the top k pairs descending by weight. Equal weights
// are broken by lexical order of the pair so the ranking is stable.
func TopTalkers(events []model.ClassifiedEvent, k int) []TalkerStat {
	if k <= 0 {
		return nil
	}

	type pairKey struct{ a, b string }
	stats := make(map[pairKey]*TalkerStat)

	for _, ev := range events {
		a, b := ev.SourceEndpoint, ev.DestinationEndpoint
		if a == "" || b == "" {
			continue
		}
		if b < a {
			a, b = b, a
		}
		key := pairKey{a, b}
		st, ok := stats[key]
		if !ok {
			st = &TalkerStat{EndpointA: a, EndpointB: b}
			stats[key] = st
		}
		weight := ev.SizeBytes
		if weight <= 0 {
			weight = 1
		}
		st.Weight += weight
		st.Packets++
	}

	out := make([]TalkerStat, 0, len(stats))
	for _, st := range stats {
		out = append(out, *st)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Weight != out[j].Weight {
			return out[i].Weight > out[j].Weight
		}
		if out[i].EndpointA != out[j].EndpointA {
			return out[i].EndpointA < out[j].EndpointA
		}
		return out[i].EndpointB < out[j].EndpointB
	})
	if len(out) > k {
		out = out[:k]
	}
	return out
}
