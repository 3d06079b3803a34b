package graph

import (
	"sort"

	gonum "gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
)

// FileNode represents a source file in the dependency graph
type FileNode struct {
	Path     string // canonical key
	IsGlobal bool   // script file contributing to the global scope
}

// FileGraph is the file-level dependency graph of a program. An edge
// a -> b means a references b (import, triple-slash path or type
// reference).
type FileGraph struct {
	graph  *simple.DirectedGraph
	nodes  map[string]*FileNode // Map from file path to node
	ids    map[string]int64     // Map from file path to graph ID
	paths  map[int64]string     // Reverse of ids
	nextID int64
}

// NewFileGraph creates a new file dependency graph
func NewFileGraph() *FileGraph {
	return &FileGraph{
		graph: simple.NewDirectedGraph(),
		nodes: make(map[string]*FileNode),
		ids:   make(map[string]int64),
		paths: make(map[int64]string),
	}
}

// AddFile adds a file to the graph. Adding an existing file updates its
// global flag.
func (fg *FileGraph) AddFile(path string, global bool) {
	if node, exists := fg.nodes[path]; exists {
		node.IsGlobal = global
		return
	}

	fg.nodes[path] = &FileNode{Path: path, IsGlobal: global}
	fg.ids[path] = fg.nextID
	fg.paths[fg.nextID] = path

	// Add node to gonum graph
	fg.graph.AddNode(simple.Node(fg.nextID))

	fg.nextID++
}

// AddDependency adds a dependency edge from source to target, adding
// either file when missing. Self references are ignored.
func (fg *FileGraph) AddDependency(source, target string) {
	if source == target {
		return
	}
	if _, ok := fg.nodes[source]; !ok {
		fg.AddFile(source, false)
	}
	if _, ok := fg.nodes[target]; !ok {
		fg.AddFile(target, false)
	}

	sourceID := fg.ids[source]
	targetID := fg.ids[target]

	// Add edge if it doesn't already exist
	if !fg.graph.HasEdgeFromTo(sourceID, targetID) {
		edge := fg.graph.NewEdge(fg.graph.Node(sourceID), fg.graph.Node(targetID))
		fg.graph.SetEdge(edge)
	}
}

// Has reports whether path is a node.
func (fg *FileGraph) Has(path string) bool {
	_, ok := fg.nodes[path]
	return ok
}

// GetNode returns a file node by path
func (fg *FileGraph) GetNode(path string) (*FileNode, bool) {
	node, exists := fg.nodes[path]
	return node, exists
}

// GetNodeByID returns a file node by its graph ID
func (fg *FileGraph) GetNodeByID(id int64) *FileNode {
	if path, ok := fg.paths[id]; ok {
		return fg.nodes[path]
	}
	return nil
}

// Graph returns the underlying directed graph
func (fg *FileGraph) Graph() *simple.DirectedGraph {
	return fg.graph
}

// Files returns every file path, sorted.
func (fg *FileGraph) Files() []string {
	files := make([]string, 0, len(fg.nodes))
	for path := range fg.nodes {
		files = append(files, path)
	}
	sort.Strings(files)
	return files
}

// Len returns the number of files.
func (fg *FileGraph) Len() int {
	return len(fg.nodes)
}

// IsGlobal reports whether path is a global script.
func (fg *FileGraph) IsGlobal(path string) bool {
	node, ok := fg.nodes[path]
	return ok && node.IsGlobal
}

// Edges returns all dependency edges as [source, target] pairs, sorted
func (fg *FileGraph) Edges() [][2]string {
	var edges [][2]string

	iter := fg.graph.Edges()
	for iter.Next() {
		edge := iter.Edge()
		edges = append(edges, [2]string{fg.paths[edge.From().ID()], fg.paths[edge.To().ID()]})
	}

	sort.Slice(edges, func(i, j int) bool {
		if edges[i][0] != edges[j][0] {
			return edges[i][0] < edges[j][0]
		}
		return edges[i][1] < edges[j][1]
	})
	return edges
}

// EdgesOf returns the files path depends on, sorted
func (fg *FileGraph) EdgesOf(path string) []string {
	id, exists := fg.ids[path]
	if !exists {
		return nil
	}
	return fg.collect(fg.graph.From(id))
}

// DependentsOf returns the files that depend on path, sorted
func (fg *FileGraph) DependentsOf(path string) []string {
	id, exists := fg.ids[path]
	if !exists {
		return nil
	}
	return fg.collect(fg.graph.To(id))
}

func (fg *FileGraph) collect(iter gonum.Nodes) []string {
	var out []string
	for iter.Next() {
		out = append(out, fg.paths[iter.Node().ID()])
	}
	sort.Strings(out)
	return out
}
