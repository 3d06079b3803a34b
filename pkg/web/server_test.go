package web

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ritzau/tswatch/pkg/host/memhost"
	"github.com/ritzau/tswatch/pkg/logging"
	"github.com/ritzau/tswatch/pkg/pubsub"
	"github.com/ritzau/tswatch/pkg/watcher"
)

func init() {
	logging.SetOutput(io.Discard)
}

var (
	moduleFile = memhost.File("/a/b/moduleFile.ts", "export function bar() { };")
	appFile    = memhost.File("/a/b/app.ts", `import {bar} from "./moduleFile"; bar();`)
	config     = memhost.File("/a/b/tsconfig.json", `{}`)
)

func watched(t *testing.T, entries ...memhost.Entry) (*Server, *memhost.Host, *watcher.Watch) {
	t.Helper()
	h := memhost.New(append(entries, memhost.LibFile), memhost.Options{CurrentDirectory: "/a/b"})
	s := NewServer(h.CurrentDirectory(), h.UseCaseSensitiveFileNames())
	t.Cleanup(func() { s.Close() })
	w, err := watcher.NewWithConfigFile(h, config.Path, watcher.Options{
		OnBuild: func(res watcher.BuildResult) {
			if err := s.PublishBuild(res); err != nil {
				t.Errorf("PublishBuild failed: %v", err)
			}
		},
		OnStateChange: func(st watcher.State) { s.PublishState(st) },
	})
	if err != nil {
		t.Fatalf("NewWithConfigFile failed: %v", err)
	}
	t.Cleanup(func() { w.Close() })
	return s, h, w
}

func runTimeouts(t *testing.T, h *memhost.Host, want int) {
	t.Helper()
	if err := h.RunQueuedTimeoutsExpecting(want); err != nil {
		t.Fatal(err)
	}
}

func get(t *testing.T, s *Server, path string, out any) int {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	if out != nil && rec.Code == http.StatusOK {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("GET %s: bad JSON %q: %v", path, rec.Body.String(), err)
		}
	}
	return rec.Code
}

func TestStatusBeforeFirstBuild(t *testing.T) {
	s := NewServer("/", true)
	defer s.Close()
	if code := get(t, s, "/api/status", nil); code != http.StatusServiceUnavailable {
		t.Errorf("status = %d", code)
	}
}

func TestStatusReportsLastBuild(t *testing.T) {
	s, h, _ := watched(t, moduleFile, appFile, config)

	var status pubsub.BuildStatus
	if code := get(t, s, "/api/status", &status); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if !status.AllAffected || status.Errors != 0 || len(status.Emitted) != 2 {
		t.Errorf("initial status = %+v", status)
	}

	edited := moduleFile
	edited.Content = "export function bar() { return 1; };"
	h.ReloadFS([]memhost.Entry{edited, appFile, config, memhost.LibFile})
	runTimeouts(t, h, 1)

	if code := get(t, s, "/api/status", &status); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if status.AllAffected || len(status.Affected) != 1 || status.Affected[0] != "moduleFile.ts" {
		t.Errorf("affected = %v (all=%v)", status.Affected, status.AllAffected)
	}
	if len(status.Emitted) != 1 || status.Emitted[0] != "moduleFile.js" {
		t.Errorf("emitted = %v", status.Emitted)
	}
}

func TestGraphAndFiles(t *testing.T) {
	s, _, _ := watched(t, moduleFile, appFile, config)

	var graph GraphData
	if code := get(t, s, "/api/graph", &graph); code != http.StatusOK {
		t.Fatalf("graph = %d", code)
	}
	if len(graph.Edges) != 1 || graph.Edges[0].Source != appFile.Path || graph.Edges[0].Target != moduleFile.Path {
		t.Errorf("edges = %+v", graph.Edges)
	}
	types := map[string]string{}
	for _, n := range graph.Nodes {
		types[n.Label] = n.Type
	}
	if types["app.ts"] != "module" || types["../lib/lib.d.ts"] != "lib" {
		t.Errorf("node types = %v", types)
	}

	var files []string
	get(t, s, "/api/files", &files)
	if strings.Join(files, ",") != "../lib/lib.d.ts,app.ts,moduleFile.ts" {
		t.Errorf("files = %v", files)
	}

	var info FileInfo
	if code := get(t, s, "/api/files/moduleFile.ts", &info); code != http.StatusOK {
		t.Fatalf("file = %d", code)
	}
	if len(info.Dependents) != 1 || info.Dependents[0] != appFile.Path || info.Affected != "initial" {
		t.Errorf("info = %+v", info)
	}
	if code := get(t, s, "/api/files/missing.ts", nil); code != http.StatusNotFound {
		t.Errorf("missing file = %d", code)
	}
}

func TestFileDiagnostics(t *testing.T) {
	broken := memhost.File("/a/b/app.ts", `import {bar} from "./nowhere";`)
	s, _, _ := watched(t, broken, config)

	var status pubsub.BuildStatus
	get(t, s, "/api/status", &status)
	if status.Errors != 1 || status.ExitStatus != "Success" {
		t.Errorf("status = %+v", status)
	}
	var info FileInfo
	get(t, s, "/api/files/app.ts", &info)
	if len(info.Diagnostics) != 1 || info.Diagnostics[0].Code != 2307 {
		t.Errorf("diagnostics = %+v", info.Diagnostics)
	}
}

func TestSubscribeReplaysLastBuild(t *testing.T) {
	s, _, _ := watched(t, moduleFile, appFile, config)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/subscribe/builds", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev pubsub.Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			t.Fatalf("bad event %q: %v", line, err)
		}
		if ev.Topic != pubsub.TopicBuilds || ev.Type != "complete" || ev.Seq == 0 {
			t.Errorf("event = %+v", ev)
		}
		return
	}
	t.Fatal("no event received")
}

func TestUnknownTopic(t *testing.T) {
	s := NewServer("/", true)
	defer s.Close()
	if code := get(t, s, "/api/subscribe/nope", nil); code != http.StatusNotFound {
		t.Errorf("code = %d", code)
	}
}

func TestGraphDiffAndETag(t *testing.T) {
	s, h, _ := watched(t, moduleFile, appFile, config)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/graph", nil))
	etag := rec.Header().Get("ETag")
	if etag == "" {
		t.Fatal("no ETag on graph")
	}
	req := httptest.NewRequest(http.MethodGet, "/api/graph", nil)
	req.Header.Set("If-None-Match", etag)
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotModified {
		t.Errorf("conditional GET = %d", rec.Code)
	}

	extra := memhost.File("/a/b/extra.ts", `import {bar} from "./moduleFile";`)
	h.ReloadFS([]memhost.Entry{moduleFile, appFile, extra, config, memhost.LibFile})
	runTimeouts(t, h, 1)

	var diff GraphDiff
	if code := get(t, s, "/api/graph/diff", &diff); code != http.StatusOK {
		t.Fatalf("diff = %d", code)
	}
	if diff.FullGraph || len(diff.AddedNodes) != 1 || diff.AddedNodes[0].ID != extra.Path {
		t.Errorf("added nodes = %+v", diff.AddedNodes)
	}
	if len(diff.AddedEdges) != 1 || diff.AddedEdges[0].Source != extra.Path {
		t.Errorf("added edges = %+v", diff.AddedEdges)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/graph", nil)
	req.Header.Set("If-None-Match", etag)
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Header().Get("ETag") == etag {
		t.Errorf("stale ETag still matches: %d", rec.Code)
	}
}

// readEvents collects n events from an SSE stream, checking that the id
// and event fields agree with the payload.
func readEvents(t *testing.T, url string, n int) []pubsub.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer resp.Body.Close()

	var events []pubsub.Event
	var id, name string
	scanner := bufio.NewScanner(resp.Body)
	for len(events) < n && scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "id: "):
			id = strings.TrimPrefix(line, "id: ")
		case strings.HasPrefix(line, "event: "):
			name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			var ev pubsub.Event
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
				t.Fatalf("bad event %q: %v", line, err)
			}
			if id != fmt.Sprint(ev.Seq) || name != ev.Topic {
				t.Errorf("id=%q event=%q for %+v", id, name, ev)
			}
			events = append(events, ev)
		}
	}
	if len(events) < n {
		t.Fatalf("got %d events, want %d", len(events), n)
	}
	return events
}

func TestSubscribeAllTopicsCatchesUp(t *testing.T) {
	s, _, _ := watched(t, moduleFile, appFile, config)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	events := readEvents(t, srv.URL+"/api/subscribe", 2)
	if events[0].Topic != pubsub.TopicBuilds || events[0].Type != "complete" {
		t.Errorf("first event = %+v", events[0])
	}
	var state pubsub.WatchState
	if err := json.Unmarshal(events[1].Data, &state); err != nil {
		t.Fatal(err)
	}
	if events[1].Topic != pubsub.TopicWatchState || state.State != "idle" || events[1].Seq <= events[0].Seq {
		t.Errorf("second event = %+v", events[1])
	}
}

func TestBuildHistoryNewestFirst(t *testing.T) {
	s, h, _ := watched(t, moduleFile, appFile, config)

	broken := appFile
	broken.Content = `import {bar} from "./nowhere";`
	h.ReloadFS([]memhost.Entry{moduleFile, broken, config, memhost.LibFile})
	runTimeouts(t, h, 1)

	var builds []pubsub.BuildStatus
	if code := get(t, s, "/api/builds", &builds); code != http.StatusOK {
		t.Fatalf("builds = %d", code)
	}
	if len(builds) != 2 || builds[0].Errors != 1 || !builds[1].AllAffected {
		t.Errorf("builds = %+v", builds)
	}
}

func TestRequestIDHeader(t *testing.T) {
	s := NewServer("/", true)
	defer s.Close()

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/files", nil))
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("no request id assigned")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/files", nil)
	req.Header.Set("X-Request-ID", "abc")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "abc" {
		t.Errorf("request id = %q, want the caller's", got)
	}
}
