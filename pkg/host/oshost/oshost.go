// Package oshost runs the watch engine against the real filesystem.
//
// fsnotify delivers raw events on its own goroutine; Host forwards them,
// together with expired timers, to a single loop (Run) so the engine only
// ever sees one callback at a time.
package oshost

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ritzau/tswatch/pkg/host"
	"github.com/ritzau/tswatch/pkg/logging"
	"github.com/ritzau/tswatch/pkg/tspath"
)

var log = logging.New("oshost")

// Options configures a Host. Zero values pick platform defaults.
type Options struct {
	Out              io.Writer
	NewLine          string
	CurrentDirectory string
	// CaseSensitive overrides the platform default when set.
	CaseSensitive *bool
	// LibDir is where the default library files live.
	LibDir string
}

type fileWatch struct {
	h      *Host
	path   string
	key    string
	cb     host.FileWatchCallback
	closed bool
}

func (w *fileWatch) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	list := w.h.files[w.key]
	for i, o := range list {
		if o == w {
			w.h.files[w.key] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(w.h.files[w.key]) == 0 {
		delete(w.h.files, w.key)
	}
	w.h.stale = true
	return nil
}

type dirWatch struct {
	h         *Host
	path      string
	recursive bool
	cb        host.DirectoryWatchCallback
	closed    bool
}

func (w *dirWatch) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	for i, o := range w.h.dirs {
		if o == w {
			w.h.dirs = append(w.h.dirs[:i], w.h.dirs[i+1:]...)
			break
		}
	}
	w.h.stale = true
	return nil
}

type timer struct {
	t       *time.Timer
	stopped atomic.Bool
}

func (t *timer) Stop() bool {
	if t.stopped.Swap(true) {
		return false
	}
	return t.t.Stop()
}

// Host implements host.System on top of the os package and fsnotify.
// Registrations and callbacks belong to the goroutine that calls Run;
// watches may also be created before Run starts. fsnotify is brought in
// line with the registrations once per loop turn, so a rebuild that
// registers many watches walks the tree once.
type Host struct {
	fsw           *fsnotify.Watcher
	out           io.Writer
	newLine       string
	cwd           string
	exe           string
	caseSensitive bool

	files map[string][]*fileWatch
	dirs  []*dirWatch
	// active holds the directories currently registered with fsnotify.
	active map[string]bool
	// stale is set when registrations changed since the last reconcile.
	stale      bool
	reconciles int

	calls     chan func()
	done      chan struct{}
	closeOnce sync.Once
}

var _ host.System = (*Host)(nil)

// New creates a host. Call Run to start delivering events.
func New(opts Options) (*Host, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	h := &Host{
		fsw:           fsw,
		out:           opts.Out,
		newLine:       opts.NewLine,
		caseSensitive: runtime.GOOS != "windows" && runtime.GOOS != "darwin",
		files:         make(map[string][]*fileWatch),
		active:        make(map[string]bool),
		calls:         make(chan func(), 64),
		done:          make(chan struct{}),
	}
	if h.out == nil {
		h.out = os.Stdout
	}
	if h.newLine == "" {
		h.newLine = "\n"
		if runtime.GOOS == "windows" {
			h.newLine = "\r\n"
		}
	}
	if opts.CaseSensitive != nil {
		h.caseSensitive = *opts.CaseSensitive
	}

	cwd := opts.CurrentDirectory
	if cwd == "" {
		if cwd, err = os.Getwd(); err != nil {
			fsw.Close()
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
	}
	abs, err := filepath.Abs(cwd)
	if err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to resolve %s: %w", cwd, err)
	}
	h.cwd = tspath.Normalize(filepath.ToSlash(abs))

	libDir := opts.LibDir
	if libDir == "" {
		if exe, err := os.Executable(); err == nil {
			libDir = filepath.Dir(exe)
		}
	}
	if libDir != "" {
		h.exe = tspath.Combine(h.cwd, filepath.ToSlash(libDir)) + "/tswatch"
	}
	return h, nil
}

func osPath(p string) string {
	return filepath.FromSlash(p)
}

func (h *Host) key(p string) string {
	return tspath.Canonical(p, h.caseSensitive)
}

func (h *Host) ReadFile(p string) ([]byte, error) {
	return os.ReadFile(osPath(p))
}

func (h *Host) WriteFile(p string, data []byte) error {
	if err := os.MkdirAll(osPath(path.Dir(p)), 0o755); err != nil {
		return err
	}
	return os.WriteFile(osPath(p), data, 0o644)
}

func (h *Host) FileExists(p string) bool {
	info, err := os.Stat(osPath(p))
	return err == nil && !info.IsDir()
}

func (h *Host) DirectoryExists(p string) bool {
	info, err := os.Stat(osPath(p))
	return err == nil && info.IsDir()
}

func (h *Host) ReadDirectory(dir string) ([]string, []string, error) {
	entries, err := os.ReadDir(osPath(dir))
	if err != nil {
		return nil, nil, err
	}
	var files, dirs []string
	for _, e := range entries {
		p := path.Join(dir, e.Name())
		isDir := e.IsDir()
		if e.Type()&fs.ModeSymlink != 0 {
			isDir = h.DirectoryExists(p)
		}
		if isDir {
			dirs = append(dirs, p)
		} else {
			files = append(files, p)
		}
	}
	return files, dirs, nil
}

func (h *Host) ModTime(p string) (time.Time, error) {
	info, err := os.Stat(osPath(p))
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

func (h *Host) UseCaseSensitiveFileNames() bool { return h.caseSensitive }
func (h *Host) NewLine() string                 { return h.newLine }
func (h *Host) CurrentDirectory() string        { return h.cwd }
func (h *Host) ExecutingFilePath() string       { return h.exe }
func (h *Host) Now() time.Time                  { return time.Now() }

func (h *Host) Write(s string) {
	io.WriteString(h.out, s)
}

func (h *Host) WatchFile(p string, cb host.FileWatchCallback) host.Watcher {
	w := &fileWatch{h: h, path: p, key: h.key(p), cb: cb}
	h.files[w.key] = append(h.files[w.key], w)
	h.stale = true
	return w
}

func (h *Host) WatchDirectory(p string, cb host.DirectoryWatchCallback, recursive bool) host.Watcher {
	w := &dirWatch{h: h, path: p, recursive: recursive, cb: cb}
	h.dirs = append(h.dirs, w)
	h.stale = true
	return w
}

func (h *Host) SetTimeout(cb func(), d time.Duration) host.Timer {
	t := &timer{}
	t.t = time.AfterFunc(d, func() {
		h.post(func() {
			if t.stopped.Swap(true) {
				return
			}
			cb()
		})
	})
	return t
}

func (h *Host) ClearTimeout(t host.Timer) {
	if t != nil {
		t.Stop()
	}
}

// post queues fn for the loop goroutine.
func (h *Host) post(fn func()) {
	select {
	case h.calls <- fn:
	case <-h.done:
	}
}

// Run delivers watch events and timers until ctx is cancelled or the
// host is closed.
func (h *Host) Run(ctx context.Context) error {
	for {
		h.flush()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-h.done:
			return nil
		case fn := <-h.calls:
			fn()
		case ev, ok := <-h.fsw.Events:
			if !ok {
				return nil
			}
			h.dispatch(ev)
		case err, ok := <-h.fsw.Errors:
			if !ok {
				return nil
			}
			log.Error("watcher error", "error", err)
		}
	}
}

// Close stops Run and releases the fsnotify watcher.
func (h *Host) Close() error {
	var err error
	h.closeOnce.Do(func() {
		close(h.done)
		err = h.fsw.Close()
	})
	return err
}

func (h *Host) dispatch(ev fsnotify.Event) {
	if ev.Op == fsnotify.Chmod {
		return
	}
	p := tspath.Normalize(filepath.ToSlash(ev.Name))
	var kind host.EventKind
	switch {
	case ev.Has(fsnotify.Create):
		kind = host.Created
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		kind = host.Deleted
	default:
		kind = host.Changed
	}
	log.Debug("fs event", "path", p, "kind", kind)

	// snapshot so callbacks may add or close registrations
	files := append([]*fileWatch(nil), h.files[h.key(p)]...)
	dirs := append([]*dirWatch(nil), h.dirs...)
	for _, w := range files {
		if !w.closed {
			w.cb(w.path, kind)
		}
	}
	parent := h.key(path.Dir(p))
	for _, w := range dirs {
		if w.closed {
			continue
		}
		if h.key(w.path) == parent || (w.recursive && tspath.ContainsPath(w.path, p, h.caseSensitive)) {
			w.cb(p)
		}
	}

	if (kind == host.Created && h.DirectoryExists(p)) || (kind == host.Deleted && h.active[osPath(p)]) {
		h.stale = true
	}
}

// wanted lists the directories fsnotify must observe for the current
// registrations. A directory that does not exist yet is represented by
// its nearest existing ancestor so its creation is noticed. Recursive
// walks do not descend into node_modules; packages there are watched
// through their own registrations.
func (h *Host) wanted() map[string]bool {
	want := make(map[string]bool)
	anchor := func(dir string) {
		for !h.DirectoryExists(dir) {
			parent := path.Dir(dir)
			if parent == dir {
				return
			}
			dir = parent
		}
		want[osPath(dir)] = true
	}
	for _, list := range h.files {
		for _, w := range list {
			anchor(path.Dir(w.path))
		}
	}
	for _, w := range h.dirs {
		anchor(w.path)
		if w.recursive && h.DirectoryExists(w.path) {
			root := osPath(w.path)
			filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
				if err != nil {
					return nil
				}
				if !d.IsDir() {
					return nil
				}
				if d.Name() == "node_modules" && p != root {
					return filepath.SkipDir
				}
				want[p] = true
				return nil
			})
		}
	}
	return want
}

// flush reconciles if registrations changed.
func (h *Host) flush() {
	if h.stale {
		h.stale = false
		h.reconcile()
	}
}

func (h *Host) reconcile() {
	h.reconciles++
	want := h.wanted()
	for dir := range want {
		if h.active[dir] {
			continue
		}
		if err := h.fsw.Add(dir); err != nil {
			log.Warn("failed to watch directory", "path", dir, "error", err)
			continue
		}
		h.active[dir] = true
	}
	for dir := range h.active {
		if want[dir] {
			continue
		}
		// the directory may already be gone; fsnotify drops those itself
		h.fsw.Remove(dir)
		delete(h.active, dir)
	}
}

// ActiveDirectories reports how many directories fsnotify observes,
// applying pending registrations first. Call it from the loop goroutine
// or before Run.
func (h *Host) ActiveDirectories() int {
	h.flush()
	return len(h.active)
}
