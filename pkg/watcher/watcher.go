// Package watcher is the watch scheduler. It owns the current program,
// coalesces filesystem notifications into debounced rebuilds and keeps
// the host watch registrations in step with the program's file set.
//
// Everything runs on the host's callback goroutine: watch events and the
// debounce timer are the only entry points, and a rebuild always runs to
// completion before the next event is handled.
package watcher

import (
	"context"
	"fmt"
	"time"

	"github.com/ritzau/tswatch/pkg/affected"
	"github.com/ritzau/tswatch/pkg/cycles"
	"github.com/ritzau/tswatch/pkg/diag"
	"github.com/ritzau/tswatch/pkg/emit"
	"github.com/ritzau/tswatch/pkg/frontend"
	"github.com/ritzau/tswatch/pkg/host"
	"github.com/ritzau/tswatch/pkg/logging"
	"github.com/ritzau/tswatch/pkg/output"
	"github.com/ritzau/tswatch/pkg/program"
	"github.com/ritzau/tswatch/pkg/registry"
	"github.com/ritzau/tswatch/pkg/tsconfig"
	"github.com/ritzau/tswatch/pkg/tspath"
)

var log = logging.New("watcher")

// State is the scheduler state.
type State int

const (
	Idle State = iota
	PendingRebuild
	Rebuilding
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case PendingRebuild:
		return "pending-rebuild"
	case Rebuilding:
		return "rebuilding"
	default:
		return "unknown"
	}
}

// Options configures a Watch.
type Options struct {
	// Debounce is the quiet period before a rebuild; DefaultDebounce if zero.
	Debounce time.Duration
	// Frontend parses sources; a TreeSitter frontend if nil.
	Frontend frontend.Frontend
	// Generator produces JavaScript; esbuild if nil.
	Generator emit.Generator
	// Extend holds compiler options applied on top of the config file.
	Extend map[string]any
	// Color enables coloured diagnostics on the host output.
	Color bool
	// OnBuild is called after every build, including the first.
	OnBuild func(BuildResult)
	// OnStateChange is called on every scheduler state transition.
	OnStateChange func(State)
}

// BuildResult describes one completed build.
type BuildResult struct {
	ID          string
	Program     *program.Program
	Affected    affected.Result
	Emit        emit.Result
	Diagnostics []diag.Diagnostic
	ExitStatus  diag.ExitStatus
	// ConfigMissing is set when the build was skipped for a missing config.
	ConfigMissing bool
	Started       time.Time
	Duration      time.Duration
}

type dirKey struct {
	path      string
	recursive bool
}

type dirRegistration struct {
	watcher host.Watcher
	typ     ChangeType
}

type dirWant struct {
	path string
	typ  ChangeType
}

// Watch is the state of one watch invocation.
type Watch struct {
	sys           host.System
	opts          Options
	caseSensitive bool
	reg           *registry.Registry
	emitter       *emit.Emitter
	reporter      *output.Reporter
	debouncer     *Debouncer

	configPath string
	configKey  string
	config     *tsconfig.ConfigFile
	rootNames  []string
	options    tsconfig.Options

	current *program.Program
	last    BuildResult
	state   State
	changes ChangeSet
	outputs map[string]bool
	cycles  string

	files  map[string]host.Watcher
	dirs   map[dirKey]dirRegistration
	closed bool
}

func newWatch(sys host.System, opts Options) (*Watch, error) {
	fe := opts.Frontend
	if fe == nil {
		ts, err := frontend.New(0)
		if err != nil {
			return nil, fmt.Errorf("creating frontend: %w", err)
		}
		fe = ts
	}
	caseSensitive := sys.UseCaseSensitiveFileNames()
	return &Watch{
		sys:           sys,
		opts:          opts,
		caseSensitive: caseSensitive,
		reg:           registry.New(fe, caseSensitive),
		emitter:       emit.New(sys, opts.Generator),
		reporter:      output.NewReporter(sys, sys.CurrentDirectory(), sys.NewLine(), opts.Color),
		debouncer:     NewDebouncer(sys, opts.Debounce),
		outputs:       make(map[string]bool),
		files:         make(map[string]host.Watcher),
		dirs:          make(map[dirKey]dirRegistration),
	}, nil
}

// NewWithConfigFile starts watching the project described by configPath
// and runs the first build before returning.
func NewWithConfigFile(sys host.System, configPath string, opts Options) (*Watch, error) {
	w, err := newWatch(sys, opts)
	if err != nil {
		return nil, err
	}
	w.configPath = tspath.Combine(sys.CurrentDirectory(), configPath)
	w.configKey = w.key(w.configPath)
	w.start()
	return w, nil
}

// NewWithRootFiles starts watching an explicit list of root files with
// fixed compiler options and runs the first build before returning.
func NewWithRootFiles(sys host.System, rootNames []string, options tsconfig.Options, opts Options) (*Watch, error) {
	w, err := newWatch(sys, opts)
	if err != nil {
		return nil, err
	}
	for _, r := range rootNames {
		w.rootNames = append(w.rootNames, tspath.Combine(sys.CurrentDirectory(), r))
	}
	w.options = options
	w.start()
	return w, nil
}

func (w *Watch) start() {
	w.reporter.Status(w.sys.Now(), diag.CodeStartingWatch, "Starting compilation in watch mode...")
	w.setState(Rebuilding)
	w.build(ChangeSet{}, true)
	w.settle()
}

// Program returns the current program. It is nil until a config file
// has been read successfully.
func (w *Watch) Program() *program.Program {
	return w.current
}

// LastResult returns the result of the most recent build.
func (w *Watch) LastResult() BuildResult {
	return w.last
}

// State returns the scheduler state.
func (w *Watch) State() State {
	return w.state
}

// Close cancels any pending rebuild and releases every registration.
func (w *Watch) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	w.debouncer.Cancel()
	for k, fw := range w.files {
		fw.Close()
		delete(w.files, k)
	}
	for k, d := range w.dirs {
		d.watcher.Close()
		delete(w.dirs, k)
	}
	w.setState(Idle)
	return nil
}

func (w *Watch) key(p string) string {
	return tspath.Canonical(p, w.caseSensitive)
}

func (w *Watch) onFileEvent(path string, kind host.EventKind) {
	typ := ChangeTypeSource
	if w.configPath != "" && w.key(path) == w.configKey {
		typ = ChangeTypeConfig
	}
	w.schedule(ChangeEvent{Type: typ, Path: path, Kind: kind})
}

func (w *Watch) dirCallback(typ ChangeType) host.DirectoryWatchCallback {
	return func(path string) {
		if !w.qualifies(typ, path) {
			log.Log(context.Background(), logging.LevelTrace, "Ignoring directory event", "path", path, "type", typ)
			return
		}
		w.schedule(ChangeEvent{Type: typ, Path: path, Kind: host.Changed})
	}
}

// qualifies filters directory events: our own outputs and files the
// program could never include do not trigger a rebuild.
func (w *Watch) qualifies(typ ChangeType, path string) bool {
	if w.outputs[w.key(path)] {
		return false
	}
	if w.configPath != "" && w.key(path) == w.configKey {
		return false
	}
	if tspath.Extension(path) == "" || w.sys.DirectoryExists(path) {
		return true
	}
	if frontend.IsSupportedSource(path, w.options.AllowJs) {
		return true
	}
	return typ == ChangeTypeLookup && tspath.Base(path) == "package.json"
}

func (w *Watch) schedule(ev ChangeEvent) {
	if w.closed {
		return
	}
	w.changes.Add(ev, w.key(ev.Path))
	log.Log(context.Background(), logging.LevelTrace, "Change queued",
		"path", ev.Path, "type", ev.Type, "kind", ev.Kind, "pending", w.changes.Events)
	w.debouncer.Arm(w.rebuild)
	if w.state != Rebuilding {
		w.setState(PendingRebuild)
	}
}

func (w *Watch) rebuild() {
	if w.closed {
		return
	}
	w.setState(Rebuilding)
	changes := w.changes.Take()
	w.reporter.Status(w.sys.Now(), diag.CodeFileChangeDetected, "File change detected. Starting incremental compilation...")
	w.build(changes, false)
	w.settle()
}

// settle leaves Rebuilding; events that arrived mid-build keep their timer.
func (w *Watch) settle() {
	if w.debouncer.Pending() {
		w.setState(PendingRebuild)
		return
	}
	w.setState(Idle)
}

func (w *Watch) setState(s State) {
	if w.state == s {
		return
	}
	w.state = s
	if w.opts.OnStateChange != nil {
		w.opts.OnStateChange(s)
	}
}

func (w *Watch) build(changes ChangeSet, initial bool) {
	id := logging.NewBuildID()
	ctx := logging.WithBuildID(context.Background(), id)
	wall := time.Now()
	res := BuildResult{ID: id, Started: w.sys.Now()}
	log.DebugContext(ctx, "Rebuilding", "changes", changes.Events, "dirty", len(changes.Dirty),
		"reloadConfig", changes.ReloadConfig, "rescan", changes.Rescan)

	baseDir := w.sys.CurrentDirectory()
	var configDiags []diag.Diagnostic
	if w.configPath != "" {
		switch {
		case w.config == nil || changes.ReloadConfig:
			w.config = tsconfig.Parse(w.sys, w.configPath, w.opts.Extend)
			log.InfoContext(ctx, "Loaded config", "path", w.configPath, "roots", len(w.config.RootNames))
		case changes.Rescan:
			w.config.Rescan(w.sys)
		}
		if w.config.Missing {
			w.skipMissingConfig(ctx, res, changes, wall)
			return
		}
		w.rootNames = w.config.RootNames
		w.options = w.config.Options
		configDiags = w.config.Diagnostics
		baseDir = w.config.Dir()
	}

	var dirty map[string]bool
	if !initial {
		dirty = changes.Dirty
		if dirty == nil {
			dirty = map[string]bool{}
		}
	}
	next := program.Build(program.BuildInput{
		System:            w.sys,
		RootNames:         w.rootNames,
		Options:           w.options,
		ConfigDiagnostics: configDiags,
		Registry:          w.reg,
		Dirty:             dirty,
		BaseDir:           baseDir,
	})
	aff := affected.Compute(w.current, next)
	er := w.emitter.Emit(next, aff)

	all := append(append([]diag.Diagnostic(nil), next.Diagnostics...), er.Diagnostics...)
	w.reporter.Notices(er.Notices(w.sys.NewLine()))
	w.reporter.Diagnostics(all)
	errors := diag.CountErrors(all)
	w.reporter.Summary(w.sys.Now(), errors)

	w.reportCycles(ctx, next)

	w.current = next
	for _, a := range er.Artifacts {
		w.outputs[w.key(a.Path)] = true
	}
	w.updateWatches()

	res.Program = next
	res.Affected = aff
	res.Emit = er
	res.Diagnostics = all
	res.ExitStatus = diag.Success
	if er.Skipped {
		res.ExitStatus = diag.DiagnosticsPresentOutputsSkipped
	}
	res.Duration = time.Since(wall)
	log.InfoContext(ctx, "Build complete",
		"files", len(next.Files), "affected", len(aff.Files), "all", aff.All,
		"emitted", len(er.Artifacts), "errors", errors, "status", res.ExitStatus, "duration", res.Duration)
	w.finish(res)
}

// skipMissingConfig reports a vanished config file. The previous program
// stays current and the config file stays watched so the next build can
// recover. Files that changed meanwhile are read again by that build.
func (w *Watch) skipMissingConfig(ctx context.Context, res BuildResult, changes ChangeSet, wall time.Time) {
	log.WarnContext(ctx, "Config file not found, skipping build", "path", w.configPath)
	w.changes.Carry(changes)
	ds := w.config.Diagnostics
	w.reporter.Diagnostics(ds)
	w.reporter.Summary(w.sys.Now(), diag.CountErrors(ds))
	w.updateWatches()

	res.Program = w.current
	res.Diagnostics = ds
	res.ConfigMissing = true
	res.ExitStatus = diag.DiagnosticsPresentOutputsSkipped
	res.Duration = time.Since(wall)
	w.finish(res)
}

func (w *Watch) finish(res BuildResult) {
	w.last = res
	if w.opts.OnBuild != nil {
		w.opts.OnBuild(res)
	}
}

func (w *Watch) reportCycles(ctx context.Context, p *program.Program) {
	found := cycles.FindFileCycles(p.Graph)
	sig := fmt.Sprint(found)
	if sig == w.cycles {
		return
	}
	w.cycles = sig
	for _, c := range found {
		log.WarnContext(ctx, "Circular reference", "files", c.String())
	}
}

// updateWatches makes the registrations match the current program and
// config. Registering an already watched path is a no-op; registrations
// that are no longer wanted are closed.
func (w *Watch) updateWatches() {
	wantFiles := make(map[string]string)
	if w.configPath != "" {
		wantFiles[w.configKey] = w.configPath
	}
	wantDirs := make(map[dirKey]dirWant)
	if w.config != nil && !w.config.Missing {
		for dir, recursive := range w.config.WildcardDirectories {
			wantDirs[dirKey{w.key(dir), recursive}] = dirWant{dir, ChangeTypeWildcard}
		}
	}
	if p := w.current; p != nil {
		for _, f := range p.Files {
			wantFiles[f.Path] = f.FileName
		}
		for _, m := range p.MissingFiles {
			wantFiles[w.key(m)] = m
		}
		addLookup := func(dir string, recursive bool) {
			k := dirKey{w.key(dir), recursive}
			if _, ok := wantDirs[k]; !ok {
				wantDirs[k] = dirWant{dir, ChangeTypeLookup}
			}
		}
		for _, d := range p.FailedLookupDirs {
			addLookup(d, false)
		}
		for _, d := range p.TypeRootDirs {
			addLookup(d, true)
		}
	}

	for k, fw := range w.files {
		if _, ok := wantFiles[k]; !ok {
			fw.Close()
			delete(w.files, k)
		}
	}
	for k, p := range wantFiles {
		if _, ok := w.files[k]; !ok {
			w.files[k] = w.sys.WatchFile(p, w.onFileEvent)
		}
	}

	for k, d := range w.dirs {
		if want, ok := wantDirs[k]; !ok || want.typ != d.typ {
			d.watcher.Close()
			delete(w.dirs, k)
		}
	}
	for k, want := range wantDirs {
		if _, ok := w.dirs[k]; !ok {
			w.dirs[k] = dirRegistration{
				watcher: w.sys.WatchDirectory(want.path, w.dirCallback(want.typ), k.recursive),
				typ:     want.typ,
			}
		}
	}
	log.Debug("Watches updated", "files", len(w.files), "directories", len(w.dirs))
}
