package graph

// Walker performs breadth-first walks over the dependents relation. All
// walks made through one Walker share their bookkeeping, so a batch of
// changes expands each file at most once even across cycles.
type Walker struct {
	fg       *FileGraph
	visited  map[string]bool
	expanded map[string]bool
	order    []string
}

// NewWalker creates a walker over fg.
func (fg *FileGraph) NewWalker() *Walker {
	return &Walker{
		fg:       fg,
		visited:  make(map[string]bool),
		expanded: make(map[string]bool),
	}
}

// Mark adds path to the result without walking its dependents. It
// reports whether path was new.
func (w *Walker) Mark(path string) bool {
	if w.visited[path] {
		return false
	}
	w.visited[path] = true
	w.order = append(w.order, path)
	return true
}

// Walk adds start and every transitive dependent to the result. start is
// included even when it is not in the graph.
func (w *Walker) Walk(start string) {
	w.Mark(start)
	w.expand(start)
}

// WalkDependents adds the transitive dependents of start, but not start.
func (w *Walker) WalkDependents(start string) {
	w.expand(start)
}

func (w *Walker) expand(start string) {
	if w.expanded[start] {
		return
	}
	w.expanded[start] = true
	queue := []string{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, dep := range w.fg.DependentsOf(cur) {
			w.Mark(dep)
			if !w.expanded[dep] {
				w.expanded[dep] = true
				queue = append(queue, dep)
			}
		}
	}
}

// Visited returns the result in visiting order.
func (w *Walker) Visited() []string {
	return append([]string(nil), w.order...)
}

// Seen reports whether path is in the result.
func (w *Walker) Seen(path string) bool {
	return w.visited[path]
}

// Closure returns start files plus all of their transitive dependents.
func (fg *FileGraph) Closure(starts ...string) []string {
	w := fg.NewWalker()
	for _, s := range starts {
		w.Walk(s)
	}
	return w.Visited()
}
