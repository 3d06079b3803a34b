package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/ritzau/tswatch/pkg/cycles"
	"github.com/ritzau/tswatch/pkg/diag"
	"github.com/ritzau/tswatch/pkg/logging"
	"github.com/ritzau/tswatch/pkg/program"
	"github.com/ritzau/tswatch/pkg/pubsub"
	"github.com/ritzau/tswatch/pkg/tspath"
	"github.com/ritzau/tswatch/pkg/watcher"
)

var log = logging.New("web")

// GraphNode represents a file in the dependency graph
type GraphNode struct {
	ID     string `json:"id"`
	Label  string `json:"label"`
	Type   string `json:"type"`   // "module", "script", "declaration", "lib", "external"
	Parent string `json:"parent"` // Directory, for grouping
}

// GraphEdge represents an import or reference between two files
type GraphEdge struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// GraphData holds the dependency graph for visualization
type GraphData struct {
	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
}

// FileInfo describes one program file
type FileInfo struct {
	Path        string            `json:"path"`
	Type        string            `json:"type"`
	Version     int               `json:"version"`
	Affected    string            `json:"affected,omitempty"` // reason, when emitted by the last build
	Imports     []string          `json:"imports"`
	Dependents  []string          `json:"dependents"`
	Diagnostics []diag.Diagnostic `json:"diagnostics"`
}

// Server represents the web server
type Server struct {
	router        *mux.Router
	publisher     pubsub.Publisher
	cwd           string
	caseSensitive bool

	mu       sync.RWMutex
	graph    *GraphData
	snapshot *GraphSnapshot
	diff     *GraphDiff
	files    map[string]FileInfo
}

// NewServer creates a server reporting paths relative to cwd.
func NewServer(cwd string, caseSensitive bool) *Server {
	s := &Server{
		router:        mux.NewRouter(),
		publisher:     pubsub.NewHub(pubsub.DefaultHistory),
		cwd:           cwd,
		caseSensitive: caseSensitive,
		graph:         &GraphData{Nodes: []GraphNode{}, Edges: []GraphEdge{}},
		files:         make(map[string]FileInfo),
	}
	s.setupRoutes()
	return s
}

// PublishBuild records a finished build and notifies subscribers.
func (s *Server) PublishBuild(res watcher.BuildResult) error {
	status := pubsub.BuildStatus{
		ID:            res.ID,
		Started:       res.Started,
		DurationMs:    res.Duration.Milliseconds(),
		ExitStatus:    res.ExitStatus.String(),
		Errors:        diag.CountErrors(res.Diagnostics),
		Affected:      []string{},
		AllAffected:   res.Affected.All,
		Emitted:       []string{},
		Diagnostics:   res.Diagnostics,
		ConfigMissing: res.ConfigMissing,
	}
	if status.Diagnostics == nil {
		status.Diagnostics = []diag.Diagnostic{}
	}
	for _, key := range res.Affected.Files {
		status.Affected = append(status.Affected, s.relative(key))
	}
	for _, a := range res.Emit.Artifacts {
		status.Emitted = append(status.Emitted, s.relative(a.Path))
	}
	if p := res.Program; p != nil {
		status.Files = len(p.Files)
		for _, c := range cycles.FindFileCycles(p.Graph) {
			status.Cycles = append(status.Cycles, c.String())
		}
		s.setProgram(p, res)
	}

	return s.publisher.PublishBuild(status)
}

// PublishState notifies subscribers of a scheduler transition.
func (s *Server) PublishState(state watcher.State) error {
	return s.publisher.PublishState(pubsub.WatchState{State: state.String(), Since: time.Now()})
}

func (s *Server) relative(p string) string {
	return tspath.RelativeTo(s.cwd, p)
}

func fileType(p *program.Program, key string, global, declaration bool) string {
	switch {
	case p.IsLib(key):
		return "lib"
	case p.IsExternal(key):
		return "external"
	case declaration:
		return "declaration"
	case global:
		return "script"
	}
	return "module"
}

// setProgram snapshots the program graph; the program itself is only
// safe to read on the watch goroutine.
func (s *Server) setProgram(p *program.Program, res watcher.BuildResult) {
	graph := &GraphData{Nodes: []GraphNode{}, Edges: []GraphEdge{}}
	files := make(map[string]FileInfo, len(p.Files))

	byFile := make(map[string][]diag.Diagnostic)
	for _, d := range res.Diagnostics {
		if d.File != "" {
			k := tspath.Canonical(d.File, s.caseSensitive)
			byFile[k] = append(byFile[k], d)
		}
	}

	for _, sf := range p.Files {
		typ := fileType(p, sf.Path, sf.IsGlobal, sf.IsDeclaration)
		graph.Nodes = append(graph.Nodes, GraphNode{
			ID:     sf.Path,
			Label:  s.relative(sf.FileName),
			Type:   typ,
			Parent: s.relative(tspath.Dir(sf.FileName)),
		})
		info := FileInfo{
			Path:        sf.FileName,
			Type:        typ,
			Version:     sf.Version,
			Imports:     []string{},
			Dependents:  []string{},
			Diagnostics: byFile[sf.Path],
		}
		if r, ok := res.Affected.Reasons[sf.Path]; ok {
			info.Affected = r.String()
		}
		if info.Diagnostics == nil {
			info.Diagnostics = []diag.Diagnostic{}
		}
		if p.Graph != nil {
			info.Imports = append(info.Imports, p.Graph.EdgesOf(sf.Path)...)
			info.Dependents = append(info.Dependents, p.Graph.DependentsOf(sf.Path)...)
		}
		files[sf.Path] = info
	}
	if p.Graph != nil {
		for _, e := range p.Graph.Edges() {
			graph.Edges = append(graph.Edges, GraphEdge{Source: e[0], Target: e[1]})
		}
	}

	s.mu.Lock()
	s.diff = ComputeDiff(s.snapshot, graph)
	s.snapshot = CreateSnapshot(graph)
	s.graph = graph
	s.files = files
	diff := s.diff
	s.mu.Unlock()

	if !diff.Empty() && !diff.FullGraph {
		log.Info("Dependency graph changed", "build", res.ID,
			"addedFiles", len(diff.AddedNodes), "removedFiles", len(diff.RemovedNodes),
			"addedEdges", len(diff.AddedEdges), "removedEdges", len(diff.RemovedEdges))
	}
}

func (s *Server) setupRoutes() {
	// SSE subscription endpoints; without a topic every topic is streamed
	s.router.HandleFunc("/api/subscribe", s.handleSubscribe).Methods("GET")
	s.router.HandleFunc("/api/subscribe/{topic}", s.handleSubscribe).Methods("GET")

	s.router.HandleFunc("/api/status", s.handleStatus).Methods("GET")
	s.router.HandleFunc("/api/builds", s.handleBuilds).Methods("GET")
	s.router.HandleFunc("/api/graph", s.handleGraph).Methods("GET")
	s.router.HandleFunc("/api/graph/diff", s.handleGraphDiff).Methods("GET")
	s.router.HandleFunc("/api/files", s.handleFiles).Methods("GET")
	s.router.HandleFunc("/api/files/{file:.+}", s.handleFile).Methods("GET")
}

// Handler returns the router wrapped with request logging.
func (s *Server) Handler() http.Handler {
	return withRequestLog(s.router)
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var topics []string
	if topic := mux.Vars(r)["topic"]; topic != "" {
		topics = append(topics, topic)
	}
	sub, err := s.publisher.Subscribe(r.Context(), topics...)
	switch {
	case errors.Is(err, pubsub.ErrUnknownTopic):
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	defer sub.Close()

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*") // CORS support

	// Send initial comment to establish connection (Safari compatibility)
	fmt.Fprintf(w, ": connected\n\n")
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := pubsub.WriteSSE(w, event); err != nil {
				log.WarnContext(r.Context(), "error writing SSE event", "error", err)
				return
			}
			if flusher, ok := w.(http.Flusher); ok {
				flusher.Flush()
			}
		}
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, ok := s.publisher.LastBuild()
	if !ok {
		http.Error(w, "no build has completed yet", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, status)
}

// handleBuilds lists the retained builds, newest first.
func (s *Server) handleBuilds(w http.ResponseWriter, r *http.Request) {
	builds := s.publisher.Builds()
	slices.Reverse(builds)
	writeJSON(w, builds)
}

func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	graph, snapshot := s.graph, s.snapshot
	s.mu.RUnlock()
	if snapshot != nil {
		etag := `"` + snapshot.Hash + `"`
		if r.Header.Get("If-None-Match") == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", etag)
	}
	writeJSON(w, graph)
}

// handleGraphDiff returns how the last build changed the graph.
func (s *Server) handleGraphDiff(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	diff := s.diff
	s.mu.RUnlock()
	if diff == nil {
		http.Error(w, "no build has completed yet", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, diff)
}

func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	names := make([]string, 0, len(s.files))
	for _, f := range s.files {
		names = append(names, s.relative(f.Path))
	}
	s.mu.RUnlock()
	sort.Strings(names)
	writeJSON(w, names)
}

func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["file"]
	key := tspath.Canonical(tspath.Combine(s.cwd, name), s.caseSensitive)

	s.mu.RLock()
	info, ok := s.files[key]
	s.mu.RUnlock()
	if !ok {
		http.Error(w, fmt.Sprintf("file not in program: %s", name), http.StatusNotFound)
		return
	}
	writeJSON(w, info)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info("Starting web server", "url", fmt.Sprintf("http://localhost:%d", port))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("web server failed: %w", err)
	}
	return nil
}

// Close releases subscribers.
func (s *Server) Close() error {
	return s.publisher.Close()
}
