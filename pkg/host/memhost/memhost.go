// Package memhost provides an in-memory host.System for tests. Timers are
// queued instead of scheduled so tests decide when a debounced rebuild
// runs, and ReloadFS replays filesystem changes as watch callbacks.
package memhost

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ritzau/tswatch/pkg/host"
	"github.com/ritzau/tswatch/pkg/tspath"
)

// Entry is a file (or, with Dir set, a folder) in the virtual filesystem.
type Entry struct {
	Path    string
	Content string
	Dir     bool
}

// File is a convenience constructor for a file entry.
func File(path, content string) Entry {
	return Entry{Path: path, Content: content}
}

// Folder is a convenience constructor for a directory entry.
func Folder(path string) Entry {
	return Entry{Path: path, Dir: true}
}

// LibFile is the default library placed next to DefaultExecutingFilePath.
var LibFile = File("/a/lib/lib.d.ts", `/// <reference no-default-lib="true"/>
interface Boolean {}
interface Function {}
interface IArguments {}
interface Number { toExponential: any; }
interface Object {}
interface RegExp {}
interface String { charAt: any; }
interface Array<T> {}`)

// DefaultExecutingFilePath puts the compiler in /a/lib.
const DefaultExecutingFilePath = "/a/lib/tsc.js"

// Options configures a Host.
type Options struct {
	CaseInsensitive   bool
	NewLine           string
	CurrentDirectory  string
	ExecutingFilePath string
}

type fileEntry struct {
	path    string
	data    []byte
	modTime time.Time
}

type fileWatch struct {
	path string
	cb   host.FileWatchCallback
	h    *Host
}

func (w *fileWatch) Close() error {
	w.h.removeFileWatch(w)
	return nil
}

type dirWatch struct {
	path      string
	cb        host.DirectoryWatchCallback
	recursive bool
	h         *Host
}

func (w *dirWatch) Close() error {
	w.h.removeDirWatch(w)
	return nil
}

type timer struct {
	id int
	cb func()
	h  *Host
}

func (t *timer) Stop() bool {
	return t.h.removeTimer(t)
}

// Host is an in-memory host.System. It is not safe for concurrent use;
// like the real event loop, everything happens on the calling goroutine.
type Host struct {
	opts        Options
	files       map[string]*fileEntry
	dirs        map[string]string
	fileWatches map[string][]*fileWatch
	dirWatches  map[string][]*dirWatch
	timers      []*timer
	nextTimerID int
	output      strings.Builder
	writes      map[string]int
	clock       time.Time
}

var _ host.System = (*Host)(nil)

// New creates a host populated with entries.
func New(entries []Entry, opts Options) *Host {
	if opts.NewLine == "" {
		opts.NewLine = "\n"
	}
	if opts.CurrentDirectory == "" {
		opts.CurrentDirectory = "/"
	}
	if opts.ExecutingFilePath == "" {
		opts.ExecutingFilePath = DefaultExecutingFilePath
	}
	h := &Host{
		opts:        opts,
		files:       make(map[string]*fileEntry),
		dirs:        make(map[string]string),
		fileWatches: make(map[string][]*fileWatch),
		dirWatches:  make(map[string][]*dirWatch),
		writes:      make(map[string]int),
		clock:       time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	h.ensureDir("/")
	h.ensureDir(opts.CurrentDirectory)
	for _, e := range entries {
		if e.Dir {
			h.ensureDir(e.Path)
			continue
		}
		h.putFile(e.Path, []byte(e.Content))
	}
	return h
}

func (h *Host) key(p string) string {
	return tspath.Canonical(p, !h.opts.CaseInsensitive)
}

func (h *Host) tick() time.Time {
	h.clock = h.clock.Add(time.Second)
	return h.clock
}

func (h *Host) ensureDir(p string) {
	p = tspath.Normalize(p)
	for _, d := range tspath.Ancestors(p) {
		k := h.key(d)
		if _, ok := h.dirs[k]; ok {
			return
		}
		h.dirs[k] = d
	}
}

func (h *Host) putFile(p string, data []byte) {
	p = tspath.Normalize(p)
	h.ensureDir(tspath.Dir(p))
	h.files[h.key(p)] = &fileEntry{path: p, data: append([]byte(nil), data...), modTime: h.tick()}
}

// ReloadFS replaces the filesystem contents with entries and fires watch
// callbacks for every file or folder that appeared, changed or vanished.
func (h *Host) ReloadFS(entries []Entry) {
	wantFiles := make(map[string]Entry)
	wantDirs := make(map[string]string)
	for _, e := range entries {
		p := tspath.Normalize(e.Path)
		if e.Dir {
			for _, d := range tspath.Ancestors(p) {
				wantDirs[h.key(d)] = d
			}
			continue
		}
		wantFiles[h.key(p)] = Entry{Path: p, Content: e.Content}
		for _, d := range tspath.Ancestors(tspath.Dir(p)) {
			wantDirs[h.key(d)] = d
		}
	}
	for _, d := range tspath.Ancestors(h.opts.CurrentDirectory) {
		wantDirs[h.key(d)] = d
	}

	type change struct {
		path string
		kind host.EventKind
	}
	var changes []change

	for _, k := range sortedKeys(h.files) {
		f := h.files[k]
		if _, ok := wantFiles[k]; !ok {
			delete(h.files, k)
			changes = append(changes, change{f.path, host.Deleted})
		}
	}
	for _, k := range sortedKeys(h.dirs) {
		if _, ok := wantDirs[k]; !ok {
			changes = append(changes, change{h.dirs[k], host.Deleted})
			delete(h.dirs, k)
		}
	}
	for _, k := range sortedKeys(wantDirs) {
		if _, ok := h.dirs[k]; !ok {
			h.dirs[k] = wantDirs[k]
			changes = append(changes, change{wantDirs[k], host.Created})
		}
	}
	for _, k := range sortedKeys(wantFiles) {
		e := wantFiles[k]
		existing, ok := h.files[k]
		switch {
		case !ok:
			h.files[k] = &fileEntry{path: e.Path, data: []byte(e.Content), modTime: h.tick()}
			changes = append(changes, change{e.Path, host.Created})
		case string(existing.data) != e.Content:
			existing.data = []byte(e.Content)
			existing.modTime = h.tick()
			changes = append(changes, change{e.Path, host.Changed})
		}
	}

	for _, c := range changes {
		h.notify(c.path, c.kind)
	}
}

func (h *Host) notify(p string, kind host.EventKind) {
	k := h.key(p)
	for _, w := range append([]*fileWatch(nil), h.fileWatches[k]...) {
		w.cb(p, kind)
	}
	parent := h.key(tspath.Dir(p))
	for dk, ws := range h.dirWatches {
		for _, w := range append([]*dirWatch(nil), ws...) {
			if dk == parent || (w.recursive && tspath.ContainsPath(dk, k, true) && dk != k) {
				w.cb(p)
			}
		}
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ReadFile implements host.FileSystem.
func (h *Host) ReadFile(p string) ([]byte, error) {
	f, ok := h.files[h.key(p)]
	if !ok {
		return nil, fmt.Errorf("read %s: %w", p, host.ErrNotExist)
	}
	return append([]byte(nil), f.data...), nil
}

// WriteFile implements host.FileSystem. Writes do not fire watch
// callbacks, mirroring an engine that never watches its own outputs.
func (h *Host) WriteFile(p string, data []byte) error {
	p = tspath.Normalize(p)
	h.putFile(p, data)
	h.writes[h.key(p)]++
	return nil
}

// FileExists implements host.FileSystem.
func (h *Host) FileExists(p string) bool {
	_, ok := h.files[h.key(p)]
	return ok
}

// DirectoryExists implements host.FileSystem.
func (h *Host) DirectoryExists(p string) bool {
	_, ok := h.dirs[h.key(p)]
	return ok
}

// ReadDirectory implements host.FileSystem.
func (h *Host) ReadDirectory(dir string) ([]string, []string, error) {
	dk := h.key(dir)
	if _, ok := h.dirs[dk]; !ok {
		return nil, nil, fmt.Errorf("read directory %s: %w", dir, host.ErrNotExist)
	}
	var files, dirs []string
	for k, f := range h.files {
		if h.key(tspath.Dir(k)) == dk {
			files = append(files, f.path)
		}
	}
	for k, d := range h.dirs {
		if k != dk && h.key(tspath.Dir(k)) == dk {
			dirs = append(dirs, d)
		}
	}
	sort.Strings(files)
	sort.Strings(dirs)
	return files, dirs, nil
}

// ModTime implements host.FileSystem.
func (h *Host) ModTime(p string) (time.Time, error) {
	f, ok := h.files[h.key(p)]
	if !ok {
		return time.Time{}, fmt.Errorf("stat %s: %w", p, host.ErrNotExist)
	}
	return f.modTime, nil
}

// UseCaseSensitiveFileNames implements host.System.
func (h *Host) UseCaseSensitiveFileNames() bool { return !h.opts.CaseInsensitive }

// NewLine implements host.System.
func (h *Host) NewLine() string { return h.opts.NewLine }

// CurrentDirectory implements host.System.
func (h *Host) CurrentDirectory() string { return h.opts.CurrentDirectory }

// ExecutingFilePath implements host.System.
func (h *Host) ExecutingFilePath() string { return h.opts.ExecutingFilePath }

// Write implements host.System.
func (h *Host) Write(s string) { h.output.WriteString(s) }

// Now implements host.System.
func (h *Host) Now() time.Time { return h.clock }

// WatchFile implements host.System.
func (h *Host) WatchFile(p string, cb host.FileWatchCallback) host.Watcher {
	w := &fileWatch{path: tspath.Normalize(p), cb: cb, h: h}
	k := h.key(p)
	h.fileWatches[k] = append(h.fileWatches[k], w)
	return w
}

// WatchDirectory implements host.System.
func (h *Host) WatchDirectory(p string, cb host.DirectoryWatchCallback, recursive bool) host.Watcher {
	w := &dirWatch{path: tspath.Normalize(p), cb: cb, recursive: recursive, h: h}
	k := h.key(p)
	h.dirWatches[k] = append(h.dirWatches[k], w)
	return w
}

func (h *Host) removeFileWatch(w *fileWatch) {
	k := h.key(w.path)
	ws := h.fileWatches[k]
	for i, x := range ws {
		if x == w {
			h.fileWatches[k] = append(ws[:i:i], ws[i+1:]...)
			break
		}
	}
	if len(h.fileWatches[k]) == 0 {
		delete(h.fileWatches, k)
	}
}

func (h *Host) removeDirWatch(w *dirWatch) {
	k := h.key(w.path)
	ws := h.dirWatches[k]
	for i, x := range ws {
		if x == w {
			h.dirWatches[k] = append(ws[:i:i], ws[i+1:]...)
			break
		}
	}
	if len(h.dirWatches[k]) == 0 {
		delete(h.dirWatches, k)
	}
}

// SetTimeout implements host.System by queueing cb.
func (h *Host) SetTimeout(cb func(), _ time.Duration) host.Timer {
	h.nextTimerID++
	t := &timer{id: h.nextTimerID, cb: cb, h: h}
	h.timers = append(h.timers, t)
	return t
}

// ClearTimeout implements host.System.
func (h *Host) ClearTimeout(t host.Timer) {
	if t != nil {
		t.Stop()
	}
}

func (h *Host) removeTimer(t *timer) bool {
	for i, x := range h.timers {
		if x == t {
			h.timers = append(h.timers[:i:i], h.timers[i+1:]...)
			return true
		}
	}
	return false
}

// TimeoutQueueLength returns the number of queued timers.
func (h *Host) TimeoutQueueLength() int { return len(h.timers) }

// RunQueuedTimeouts fires every timer queued at the time of the call.
func (h *Host) RunQueuedTimeouts() {
	queued := h.timers
	h.timers = nil
	for _, t := range queued {
		t.cb()
	}
}

// RunQueuedTimeoutsExpecting fires the queue if it holds exactly want
// timers and reports a mismatch otherwise, leaving the queue untouched.
func (h *Host) RunQueuedTimeoutsExpecting(want int) error {
	if got := h.TimeoutQueueLength(); got != want {
		return fmt.Errorf("timeout queue length = %d, want %d", got, want)
	}
	h.RunQueuedTimeouts()
	return nil
}

// Output returns everything written since the last ClearOutput.
func (h *Host) Output() string { return h.output.String() }

// ClearOutput discards captured output.
func (h *Host) ClearOutput() { h.output.Reset() }

// WriteCount returns how many times p was written through WriteFile.
func (h *Host) WriteCount(p string) int { return h.writes[h.key(p)] }

// WatchedFiles lists paths with at least one file watch.
func (h *Host) WatchedFiles() []string {
	var out []string
	for _, ws := range h.fileWatches {
		out = append(out, ws[0].path)
	}
	sort.Strings(out)
	return out
}

// WatchedDirectories lists directory watches with the given recursiveness.
func (h *Host) WatchedDirectories(recursive bool) []string {
	var out []string
	for _, ws := range h.dirWatches {
		for _, w := range ws {
			if w.recursive == recursive {
				out = append(out, w.path)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}
