package web

import (
	"reflect"
	"testing"
)

func graphOf(nodes []GraphNode, edges ...GraphEdge) *GraphData {
	return &GraphData{Nodes: nodes, Edges: append([]GraphEdge{}, edges...)}
}

func TestComputeDiff(t *testing.T) {
	a := GraphNode{ID: "/p/a.ts", Label: "a.ts", Type: "module"}
	b := GraphNode{ID: "/p/b.ts", Label: "b.ts", Type: "script"}
	c := GraphNode{ID: "/p/c.ts", Label: "c.ts", Type: "module"}
	ab := GraphEdge{Source: a.ID, Target: b.ID}
	ac := GraphEdge{Source: a.ID, Target: c.ID}

	old := graphOf([]GraphNode{a, b}, ab)
	first := ComputeDiff(nil, old)
	if !first.FullGraph || len(first.AddedNodes) != 2 {
		t.Errorf("first diff = %+v", first)
	}

	bModule := b
	bModule.Type = "module"
	next := graphOf([]GraphNode{a, bModule, c}, ac)
	diff := ComputeDiff(CreateSnapshot(old), next)

	if diff.FullGraph || diff.Empty() {
		t.Fatalf("diff = %+v", diff)
	}
	if !reflect.DeepEqual(diff.AddedNodes, []GraphNode{c}) {
		t.Errorf("added nodes = %v", diff.AddedNodes)
	}
	if !reflect.DeepEqual(diff.ModifiedNodes, []GraphNode{bModule}) {
		t.Errorf("modified nodes = %v", diff.ModifiedNodes)
	}
	if !reflect.DeepEqual(diff.AddedEdges, []GraphEdge{ac}) {
		t.Errorf("added edges = %v", diff.AddedEdges)
	}
	if !reflect.DeepEqual(diff.RemovedEdges, []string{"/p/a.ts|/p/b.ts"}) {
		t.Errorf("removed edges = %v", diff.RemovedEdges)
	}
	if len(diff.RemovedNodes) != 0 {
		t.Errorf("removed nodes = %v", diff.RemovedNodes)
	}
}

func TestSnapshotHash(t *testing.T) {
	a := GraphNode{ID: "/p/a.ts", Label: "a.ts", Type: "module"}
	g1 := graphOf([]GraphNode{a})
	g2 := graphOf([]GraphNode{a})
	if CreateSnapshot(g1).Hash != CreateSnapshot(g2).Hash {
		t.Error("equal graphs hash differently")
	}
	if ComputeDiff(CreateSnapshot(g1), g2).Empty() != true {
		t.Error("diff of equal graphs is not empty")
	}
	g3 := graphOf([]GraphNode{a, {ID: "/p/b.ts"}})
	if CreateSnapshot(g1).Hash == CreateSnapshot(g3).Hash {
		t.Error("different graphs hash equally")
	}
}
