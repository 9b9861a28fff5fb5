package aggregate

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/icsight/icsight/internal/model"
)

func attackFlow(src, dst, attackType string) model.ClassifiedEvent {
	ev := flow(src, dst, 64)
	ev.AttackType = attackType
	if attackType != "" {
		ev.Severity = model.SeverityHigh
	}
	return ev
}

func TestBuildGraph_NodesAndEdges(t *testing.T) {
	events := []model.ClassifiedEvent{
		attackFlow("10.0.0.1", "10.0.0.2", ""),
		attackFlow("10.0.0.1", "10.0.0.2", "dos"),
		attackFlow("10.0.0.3", "10.0.0.2", ""),
	}

	g := BuildGraph(events)

	assert.Len(t, g.Nodes, 3)
	assert.Len(t, g.Edges, 2)

	var n1 model.EndpointNode
	for _, n := range g.Nodes {
		if n.ID == "10.0.0.1" {
			n1 = n
		}
	}
	assert.Equal(t, int64(2), n1.TotalTraffic)
	assert.Equal(t, int64(1), n1.AttackCount)
	assert.Equal(t, int64(1), n1.NormalCount)
	assert.InDelta(t, 0.5, n1.RiskScore, 1e-9)
}

func TestBuildGraph_RiskScoreClamped(t *testing.T) {
	events := []model.ClassifiedEvent{
		attackFlow("A", "B", "dos"),
		attackFlow("A", "B", "dos"),
	}

	g := BuildGraph(events)
	for _, n := range g.Nodes {
		assert.GreaterOrEqual(t, n.RiskScore, 0.0)
		assert.LessOrEqual(t, n.RiskScore, 1.0)
	}
}

func TestBuildGraph_SnapshotDropsAbsentNodes(t *testing.T) {
	first := BuildGraph([]model.ClassifiedEvent{attackFlow("A", "B", "")})
	assert.Len(t, first.Nodes, 2)

	// Rebuilding from a window that no longer contains A or B drops them.
	second := BuildGraph([]model.ClassifiedEvent{attackFlow("C", "D", "")})
	assert.Len(t, second.Nodes, 2)
	for _, n := range second.Nodes {
		assert.NotEqual(t, "A", n.ID)
		assert.NotEqual(t, "B", n.ID)
	}
}

func TestBuildGraph_EdgeGrouping(t *testing.T) {
	events := []model.ClassifiedEvent{
		attackFlow("A", "B", ""),
		attackFlow("A", "B", "probe"),
		attackFlow("B", "A", ""),
	}

	g := BuildGraph(events)

	// Directed edges: A->B grouped, B->A separate.
	assert.Len(t, g.Edges, 2)
	assert.Equal(t, int64(2), g.Edges[0].PacketCount)
	assert.Equal(t, "probe", g.Edges[0].AttackType)
	assert.Equal(t, int64(1), g.Edges[1].PacketCount)
}

func TestBuildGraph_EmptyWindow(t *testing.T) {
	g := BuildGraph(nil)
	assert.Empty(t, g.Nodes)
	assert.Empty(t, g.Edges)
}
