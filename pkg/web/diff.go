package web

import (
	"encoding/hex"
	"encoding/json"
	"sort"

	"lukechampine.com/blake3"
)

// GraphDiff represents the difference between two builds' graphs
type GraphDiff struct {
	AddedNodes    []GraphNode `json:"addedNodes"`
	RemovedNodes  []string    `json:"removedNodes"`  // Node IDs
	ModifiedNodes []GraphNode `json:"modifiedNodes"` // Nodes whose type changed, e.g. script to module
	AddedEdges    []GraphEdge `json:"addedEdges"`
	RemovedEdges  []string    `json:"removedEdges"` // Edge IDs (source|target)
	FullGraph     bool        `json:"fullGraph"`    // True if this is a full graph, not a diff
}

// Empty reports whether the graphs were identical.
func (d *GraphDiff) Empty() bool {
	return !d.FullGraph && len(d.AddedNodes)+len(d.RemovedNodes)+len(d.ModifiedNodes)+
		len(d.AddedEdges)+len(d.RemovedEdges) == 0
}

// GraphSnapshot represents a cached graph state for diffing
type GraphSnapshot struct {
	Hash  string
	Nodes map[string]GraphNode // nodeID -> node
	Edges map[string]GraphEdge // edgeKey -> edge
}

// CreateSnapshot creates a snapshot from graph data for diffing
func CreateSnapshot(graph *GraphData) *GraphSnapshot {
	snapshot := &GraphSnapshot{
		Nodes: make(map[string]GraphNode, len(graph.Nodes)),
		Edges: make(map[string]GraphEdge, len(graph.Edges)),
	}
	for _, node := range graph.Nodes {
		snapshot.Nodes[node.ID] = node
	}
	for _, edge := range graph.Edges {
		snapshot.Edges[edgeKey(edge)] = edge
	}

	// nodes and edges arrive in program order, so equal graphs hash equally
	jsonData, _ := json.Marshal(graph)
	sum := blake3.Sum256(jsonData)
	snapshot.Hash = hex.EncodeToString(sum[:])
	return snapshot
}

// ComputeDiff computes the difference between a snapshot and a new graph
func ComputeDiff(oldSnapshot *GraphSnapshot, newGraph *GraphData) *GraphDiff {
	if oldSnapshot == nil {
		return &GraphDiff{
			AddedNodes:    newGraph.Nodes,
			RemovedNodes:  []string{},
			ModifiedNodes: []GraphNode{},
			AddedEdges:    newGraph.Edges,
			RemovedEdges:  []string{},
			FullGraph:     true,
		}
	}

	diff := &GraphDiff{
		AddedNodes:    make([]GraphNode, 0),
		RemovedNodes:  make([]string, 0),
		ModifiedNodes: make([]GraphNode, 0),
		AddedEdges:    make([]GraphEdge, 0),
		RemovedEdges:  make([]string, 0),
	}

	newNodes := make(map[string]bool, len(newGraph.Nodes))
	for _, node := range newGraph.Nodes {
		newNodes[node.ID] = true
		if oldNode, exists := oldSnapshot.Nodes[node.ID]; !exists {
			diff.AddedNodes = append(diff.AddedNodes, node)
		} else if oldNode != node {
			diff.ModifiedNodes = append(diff.ModifiedNodes, node)
		}
	}
	for id := range oldSnapshot.Nodes {
		if !newNodes[id] {
			diff.RemovedNodes = append(diff.RemovedNodes, id)
		}
	}

	newEdges := make(map[string]bool, len(newGraph.Edges))
	for _, edge := range newGraph.Edges {
		key := edgeKey(edge)
		newEdges[key] = true
		if _, exists := oldSnapshot.Edges[key]; !exists {
			diff.AddedEdges = append(diff.AddedEdges, edge)
		}
	}
	for key := range oldSnapshot.Edges {
		if !newEdges[key] {
			diff.RemovedEdges = append(diff.RemovedEdges, key)
		}
	}

	sort.Strings(diff.RemovedNodes)
	sort.Strings(diff.RemovedEdges)
	return diff
}

// edgeKey creates a unique key for an edge
func edgeKey(e GraphEdge) string {
	return e.Source + "|" + e.Target
}
