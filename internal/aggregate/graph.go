package aggregate

import (
	"sort"

	"github.com/icsight/icsight/internal/model"
)

// BuildGraph derives the endpoint/flow topology from the current window.
// The graph is a snapshot: nodes and edges not present in the window are
// dropped entirely on rebuild, so stale endpoints never accumulate. Node
// risk scores are clamped to [0,1]. Nodes and edges are sorted by id for a
// deterministic result over the same multiset.
func BuildGraph(events []model.ClassifiedEvent) model.NetworkGraph {
	nodes := make(map[string]*model.EndpointNode)
	type edgeKey struct{ src, dst string }
	edges := make(map[edgeKey]*model.FlowEdge)

	touch := func(id string) *model.EndpointNode {
		n, ok := nodes[id]
		if !ok {
			n = &model.EndpointNode{ID: id}
			nodes[id] = n
		}
		return n
	}

	for _, ev := range events {
		if ev.SourceEndpoint == "" || ev.DestinationEndpoint == "" {
			continue
		}
		src := touch(ev.SourceEndpoint)
		dst := touch(ev.DestinationEndpoint)
		for _, n := range []*model.EndpointNode{src, dst} {
			n.TotalTraffic++
			if ev.IsAttack() {
				n.AttackCount++
			} else {
				n.NormalCount++
			}
		}

		key := edgeKey{ev.SourceEndpoint, ev.DestinationEndpoint}
		e, ok := edges[key]
		if !ok {
			e = &model.FlowEdge{Source: ev.SourceEndpoint, Target: ev.DestinationEndpoint}
			edges[key] = e
		}
		e.PacketCount++
		// First attack type observed on the flow is retained.
		if ev.IsAttack() && e.AttackType == "" {
			e.AttackType = ev.AttackType
		}
	}

	g := model.NetworkGraph{
		Nodes: make([]model.EndpointNode, 0, len(nodes)),
		Edges: make([]model.FlowEdge, 0, len(edges)),
	}
	for _, n := range nodes {
		n.RiskScore = clamp01(float64(n.AttackCount) / float64(max64(1, n.TotalTraffic)))
		g.Nodes = append(g.Nodes, *n)
	}
	for _, e := range edges {
		g.Edges = append(g.Edges, *e)
	}
	sort.Slice(g.Nodes, func(i, j int) bool { return g.Nodes[i].ID < g.Nodes[j].ID })
	sort.Slice(g.Edges, func(i, j int) bool {
		if g.Edges[i].Source != g.Edges[j].Source {
			return g.Edges[i].Source < g.Edges[j].Source
		}
		return g.Edges[i].Target < g.Edges[j].Target
	})
	return g
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
