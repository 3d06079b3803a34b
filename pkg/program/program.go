// Package program builds the immutable per-build compilation unit: the
// resolved file set, its dependency graph and its diagnostics.
package program

import (
	"sort"
	"strings"

	"github.com/ritzau/tswatch/pkg/diag"
	"github.com/ritzau/tswatch/pkg/frontend"
	"github.com/ritzau/tswatch/pkg/graph"
	"github.com/ritzau/tswatch/pkg/host"
	"github.com/ritzau/tswatch/pkg/registry"
	"github.com/ritzau/tswatch/pkg/tsconfig"
	"github.com/ritzau/tswatch/pkg/tspath"
)

// BuildInput is everything a build needs.
type BuildInput struct {
	System            host.System
	RootNames         []string
	Options           tsconfig.Options
	ConfigDiagnostics []diag.Diagnostic
	Registry          *registry.Registry
	// Dirty holds the canonical paths that must be read from the host.
	// Other files already in the registry are reused as they are. A nil
	// map reads everything.
	Dirty map[string]bool
	// BaseDir anchors automatic type roots and failed lookup watches: the
	// config directory, or the current directory without a config.
	BaseDir string
}

// Program is one build's view of the world. It is never mutated after
// Build returns.
type Program struct {
	RootNames []string
	// Files are the resolved files: libraries first, then every other
	// file after the files it references.
	Files             []*registry.SourceFile
	Options           tsconfig.Options
	Graph             *graph.FileGraph
	Diagnostics       []diag.Diagnostic
	ConfigDiagnostics []diag.Diagnostic
	// MissingFiles are roots and referenced files that do not exist.
	MissingFiles []string
	// FailedLookupDirs are directories where resolution looked in vain.
	FailedLookupDirs []string
	TypeRootDirs     []string

	byKey    map[string]*registry.SourceFile
	libs     map[string]bool
	external map[string]bool
}

// Snapshot returns the program's files keyed by canonical path.
func (p *Program) Snapshot() registry.Snapshot {
	s := make(registry.Snapshot, len(p.byKey))
	for k, v := range p.byKey {
		s[k] = v
	}
	return s
}

// File returns the file with canonical key key.
func (p *Program) File(key string) (*registry.SourceFile, bool) {
	sf, ok := p.byKey[key]
	return sf, ok
}

// FileNames lists Files by name, in program order.
func (p *Program) FileNames() []string {
	names := make([]string, len(p.Files))
	for i, f := range p.Files {
		names[i] = f.FileName
	}
	return names
}

// IsLib reports whether key is a default library file.
func (p *Program) IsLib(key string) bool {
	return p.libs[key]
}

// IsExternal reports whether key was found in a node_modules directory.
func (p *Program) IsExternal(key string) bool {
	return p.external[key]
}

// HasErrors reports whether any diagnostic is an error.
func (p *Program) HasErrors() bool {
	return diag.CountErrors(p.Diagnostics) > 0
}

type builder struct {
	in            BuildInput
	sys           host.System
	reg           *registry.Registry
	res           *resolver
	caseSensitive bool

	seen       map[string]bool
	files      map[string]*registry.SourceFile
	libOrder   []*registry.SourceFile
	order      []*registry.SourceFile
	edges      map[string][]string
	libs       map[string]bool
	external   map[string]bool
	missing    map[string]string
	global     []diag.Diagnostic
	fileDiags  []diag.Diagnostic
	skipDefLib bool
}

// Build resolves the program for in. It never fails: unreadable or
// unresolvable files become diagnostics.
func Build(in BuildInput) *Program {
	sys := in.System
	if in.BaseDir == "" {
		in.BaseDir = sys.CurrentDirectory()
	}
	b := &builder{
		in:            in,
		sys:           sys,
		reg:           in.Registry,
		caseSensitive: sys.UseCaseSensitiveFileNames(),
		seen:          make(map[string]bool),
		files:         make(map[string]*registry.SourceFile),
		edges:         make(map[string][]string),
		libs:          make(map[string]bool),
		external:      make(map[string]bool),
		missing:       make(map[string]string),
	}
	b.res = newResolver(sys, in.Options, in.BaseDir, b.exists)

	roots := make([]string, 0, len(in.RootNames))
	for _, name := range in.RootNames {
		roots = append(roots, tspath.Combine(sys.CurrentDirectory(), name))
	}
	for _, root := range roots {
		b.processRoot(root)
	}
	b.processAutomaticTypes()
	b.processLibs()

	p := &Program{
		RootNames:         roots,
		Files:             append(b.libOrder, b.order...),
		Options:           in.Options,
		Graph:             b.graph(),
		ConfigDiagnostics: in.ConfigDiagnostics,
		FailedLookupDirs:  b.res.failedLookupDirs(),
		TypeRootDirs:      b.res.typeRoots(),
		byKey:             b.files,
		libs:              b.libs,
		external:          b.external,
	}
	for _, name := range b.missing {
		p.MissingFiles = append(p.MissingFiles, name)
	}
	sort.Strings(p.MissingFiles)

	rest := append(b.global, b.fileDiags...)
	diag.Sort(rest)
	p.Diagnostics = append(append([]diag.Diagnostic(nil), in.ConfigDiagnostics...), rest...)

	b.prune()
	log.Debug("Built program", "roots", len(roots), "files", len(p.Files), "diagnostics", len(p.Diagnostics))
	return p
}

func (b *builder) dirty(key string) bool {
	return b.in.Dirty == nil || b.in.Dirty[key]
}

// exists answers from the registry for clean files and asks the host
// otherwise.
func (b *builder) exists(name string) bool {
	key := b.reg.Key(name)
	if _, ok := b.files[key]; ok {
		return true
	}
	if !b.dirty(key) {
		if _, ok := b.reg.Get(name); ok {
			return true
		}
	}
	return b.sys.FileExists(name)
}

func (b *builder) load(name string) *registry.SourceFile {
	key := b.reg.Key(name)
	if !b.dirty(key) {
		if sf, ok := b.reg.Get(name); ok {
			return sf
		}
	}
	data, err := b.sys.ReadFile(name)
	if err != nil {
		if !host.IsNotExist(err) {
			b.global = append(b.global, diag.New(diag.CodeCannotReadFile, "Cannot read file '%s': %v.", name, err))
		}
		return nil
	}
	sf, err := b.reg.Upsert(name, data)
	if err != nil {
		b.global = append(b.global, diag.New(diag.CodeCannotReadFile, "Cannot read file '%s': %v.", name, err))
		return nil
	}
	return sf
}

func (b *builder) supported(name string) bool {
	return b.in.Options.AllowNonTs || frontend.IsSupportedSource(name, b.in.Options.AllowJs)
}

func (b *builder) processRoot(name string) {
	if !b.supported(name) {
		b.global = append(b.global, diag.New(diag.CodeUnsupportedExt,
			"File '%s' has unsupported extension. The only supported extensions are %s.", name, supportedList(b.in.Options.AllowJs)))
		return
	}
	if _, ok := b.processFile(name, false, false); !ok {
		b.global = append(b.global, diag.FileNotFound(name))
		b.missing[b.reg.Key(name)] = name
	}
}

func supportedList(allowJs bool) string {
	exts := append([]string(nil), tspath.TSExtensions...)
	if allowJs {
		exts = append(exts, tspath.JSExtensions...)
	}
	for i, e := range exts {
		exts[i] = "'" + e + "'"
	}
	return strings.Join(exts, ", ")
}

// processFile loads name and everything it references. It returns the
// canonical key and whether the file exists. Each file is processed once
// per build; cycles stop at the first revisit.
func (b *builder) processFile(name string, isLib, external bool) (string, bool) {
	key := b.reg.Key(name)
	if b.seen[key] {
		_, ok := b.files[key]
		return key, ok
	}
	b.seen[key] = true

	sf := b.load(name)
	if sf == nil {
		return key, false
	}
	b.files[key] = sf
	if isLib {
		b.libs[key] = true
	}
	if external {
		b.external[key] = true
	}
	if sf.NoDefaultLib && !isLib {
		b.skipDefLib = true
	}
	b.fileDiags = append(b.fileDiags, sf.Diagnostics...)

	dir := tspath.Dir(sf.FileName)
	for _, ref := range sf.References {
		target, ok := b.referenceTarget(tspath.Combine(dir, ref.Path))
		if !ok {
			b.fileDiags = append(b.fileDiags, diag.At(sf.FileName, ref.Line, ref.Column, diag.CodeFileNotFound, "File '%s' not found.", target))
			b.missing[b.reg.Key(target)] = target
			continue
		}
		tkey, found := b.processFile(target, isLib, external)
		if !found {
			b.fileDiags = append(b.fileDiags, diag.At(sf.FileName, ref.Line, ref.Column, diag.CodeFileNotFound, "File '%s' not found.", target))
			b.missing[tkey] = target
			continue
		}
		b.edges[key] = append(b.edges[key], tkey)
	}

	for _, ref := range sf.TypeReferences {
		target := b.res.resolveTypeReference(ref.Path, dir)
		if target == "" {
			b.fileDiags = append(b.fileDiags, diag.At(sf.FileName, ref.Line, ref.Column, diag.CodeCannotFindTypeDef, "Cannot find type definition file for '%s'.", ref.Path))
			continue
		}
		if tkey, found := b.processFile(target, isLib, true); found {
			b.edges[key] = append(b.edges[key], tkey)
		}
	}

	for _, imp := range sf.Imports {
		res, ok := b.res.resolveModule(imp.Specifier, sf.FileName)
		if !ok {
			b.fileDiags = append(b.fileDiags, diag.At(sf.FileName, imp.Line, imp.Column, diag.CodeCannotFindModule, "Cannot find module '%s'.", imp.Specifier))
			continue
		}
		if tkey, found := b.processFile(res.fileName, false, external || res.external); found {
			b.edges[key] = append(b.edges[key], tkey)
		}
	}

	if isLib {
		b.libOrder = append(b.libOrder, sf)
	} else {
		b.order = append(b.order, sf)
	}
	return key, true
}

// referenceTarget finds the file a triple-slash path names. A name with
// no extension also matches name.ts, name.tsx and name.d.ts. When nothing
// matches, the returned name is the one to report as missing.
func (b *builder) referenceTarget(name string) (string, bool) {
	if tspath.Extension(name) != "" {
		return name, b.supported(name) && b.exists(name)
	}
	if b.in.Options.AllowNonTs && b.exists(name) {
		return name, true
	}
	for _, ext := range tspath.TSExtensions {
		if b.exists(name + ext) {
			return name + ext, true
		}
	}
	return name + ".ts", false
}

func (b *builder) processAutomaticTypes() {
	for _, name := range b.res.automaticTypes() {
		target := b.res.resolveTypeReference(name, b.in.BaseDir)
		if target == "" {
			b.global = append(b.global, diag.New(diag.CodeCannotFindTypeDef, "Cannot find type definition file for '%s'.", name))
			continue
		}
		b.processFile(target, false, true)
	}
}

// processLibs adds lib.d.ts from next to the executing compiler, or one
// lib.<name>.d.ts per "lib" entry. A missing default library is not an
// error; a missing named one is.
func (b *builder) processLibs() {
	if b.in.Options.NoLib || b.skipDefLib {
		return
	}
	libDir := tspath.Dir(b.sys.ExecutingFilePath())
	if len(b.in.Options.Lib) == 0 {
		p := tspath.Combine(libDir, "lib.d.ts")
		if b.exists(p) {
			b.processFile(p, true, false)
		}
		return
	}
	for _, name := range b.in.Options.Lib {
		p := tspath.Combine(libDir, "lib."+name+".d.ts")
		if _, ok := b.processFile(p, true, false); !ok {
			b.global = append(b.global, diag.FileNotFound(p))
			b.missing[b.reg.Key(p)] = p
		}
	}
}

func (b *builder) graph() *graph.FileGraph {
	g := graph.NewFileGraph()
	for key, sf := range b.files {
		g.AddFile(key, sf.IsGlobal)
	}
	for src, targets := range b.edges {
		for _, t := range targets {
			g.AddDependency(src, t)
		}
	}
	return g
}

// prune drops registry entries that are no longer part of the program.
func (b *builder) prune() {
	for key, sf := range b.reg.Snapshot() {
		if _, ok := b.files[key]; !ok {
			b.reg.Remove(sf.FileName)
		}
	}
}
