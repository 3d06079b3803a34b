package cycles

import (
	"sort"
	"strings"

	"github.com/ritzau/tswatch/pkg/graph"
)

// FileCycle is a set of files that reference each other circularly
type FileCycle struct {
	Files []string // sorted
}

func (c FileCycle) String() string {
	return strings.Join(c.Files, " <-> ")
}

// FindFileCycles finds all circular references in the dependency graph.
// Cycles are legal in a program; the watcher only logs them.
func FindFileCycles(fg *graph.FileGraph) []FileCycle {
	sccs := NewTarjanSCC(fg.Graph()).FindSCCs()

	var cycles []FileCycle
	for _, scc := range sccs {
		files := make([]string, 0, len(scc))
		for _, nodeID := range scc {
			if node := fg.GetNodeByID(nodeID); node != nil {
				files = append(files, node.Path)
			}
		}
		sort.Strings(files)
		if len(files) > 1 {
			cycles = append(cycles, FileCycle{Files: files})
		}
	}

	sort.Slice(cycles, func(i, j int) bool { return cycles[i].Files[0] < cycles[j].Files[0] })
	return cycles
}
