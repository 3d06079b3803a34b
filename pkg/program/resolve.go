package program

import (
	"sort"

	"github.com/go-json-experiment/json"

	"github.com/ritzau/tswatch/pkg/host"
	"github.com/ritzau/tswatch/pkg/logging"
	"github.com/ritzau/tswatch/pkg/tsconfig"
	"github.com/ritzau/tswatch/pkg/tspath"
)

var log = logging.New("program")

// packageJSON holds the package.json fields resolution looks at.
type packageJSON struct {
	Types   string `json:"types"`
	Typings string `json:"typings"`
	Main    string `json:"main"`
}

type resolution struct {
	fileName string
	external bool // found through node_modules
}

// resolver resolves module specifiers, triple-slash paths and type
// reference directives for one build. Results are cached per build only,
// so an option change re-resolves everything.
type resolver struct {
	sys      host.System
	opts     tsconfig.Options
	exists   func(string) bool
	baseDir  string
	modules  map[string]resolution
	packages map[string]*packageJSON
	failed   map[string]bool
}

func newResolver(sys host.System, opts tsconfig.Options, baseDir string, exists func(string) bool) *resolver {
	return &resolver{
		sys:      sys,
		opts:     opts,
		exists:   exists,
		baseDir:  baseDir,
		modules:  make(map[string]resolution),
		packages: make(map[string]*packageJSON),
		failed:   make(map[string]bool),
	}
}

func (r *resolver) extensions() []string {
	exts := []string{".ts", ".tsx", ".d.ts"}
	if r.opts.AllowJs {
		exts = append(exts, ".js", ".jsx")
	}
	return exts
}

// fail records the directory of a failed candidate so a later change in
// it triggers a rebuild. Missing directories fall back to their nearest
// existing ancestor; ancestors of baseDir are never recorded.
func (r *resolver) fail(candidate string) {
	caseSensitive := r.sys.UseCaseSensitiveFileNames()
	for _, d := range tspath.Ancestors(tspath.Dir(candidate)) {
		if tspath.ContainsPath(d, r.baseDir, caseSensitive) && tspath.Canonical(d, caseSensitive) != tspath.Canonical(r.baseDir, caseSensitive) {
			return
		}
		if r.sys.DirectoryExists(d) {
			r.failed[d] = true
			return
		}
	}
}

func (r *resolver) tryFile(p string) bool {
	if r.exists(p) {
		return true
	}
	r.fail(p)
	return false
}

// loadAsFile tries candidate with every supported extension. A ".js"
// specifier also tries the TypeScript source next to it.
func (r *resolver) loadAsFile(candidate string, exts []string) string {
	if ext := tspath.Extension(candidate); ext != "" {
		for _, e := range exts {
			if e == ext && r.tryFile(candidate) {
				return candidate
			}
		}
		if tspath.HasJSExtension(candidate) {
			candidate = tspath.RemoveExtension(candidate)
		}
	}
	for _, e := range exts {
		if p := candidate + e; r.tryFile(p) {
			return p
		}
	}
	return ""
}

func (r *resolver) readPackage(dir string) *packageJSON {
	p := tspath.Combine(dir, "package.json")
	if pkg, ok := r.packages[p]; ok {
		return pkg
	}
	var pkg *packageJSON
	if r.tryFile(p) {
		data, err := r.sys.ReadFile(p)
		if err == nil {
			pkg = &packageJSON{}
			if err := json.Unmarshal(data, pkg); err != nil {
				log.Debug("Ignoring malformed package.json", "path", p, "error", err)
				pkg = nil
			}
		}
	}
	r.packages[p] = pkg
	return pkg
}

// loadAsDirectory resolves dir through package.json and then index files.
func (r *resolver) loadAsDirectory(dir string, exts []string) string {
	if pkg := r.readPackage(dir); pkg != nil {
		for _, entry := range []string{pkg.Types, pkg.Typings} {
			if entry == "" {
				continue
			}
			p := tspath.Combine(dir, entry)
			if r.tryFile(p) {
				return p
			}
			if f := r.loadAsFile(tspath.RemoveExtension(p), exts); f != "" {
				return f
			}
		}
		if pkg.Main != "" {
			if f := r.loadAsFile(tspath.RemoveExtension(tspath.Combine(dir, pkg.Main)), exts); f != "" {
				return f
			}
		}
	}
	return r.loadAsFile(tspath.Combine(dir, "index"), exts)
}

// resolveModule resolves an import specifier written in containingFile.
func (r *resolver) resolveModule(spec, containingFile string) (resolution, bool) {
	dir := tspath.Dir(containingFile)
	key := dir + "\x00" + spec
	if res, ok := r.modules[key]; ok {
		return res, res.fileName != ""
	}

	var res resolution
	if r.opts.ResolvedModuleResolution() == "classic" {
		res = r.resolveClassic(spec, dir)
	} else {
		res = r.resolveNode(spec, dir)
	}
	r.modules[key] = res
	log.Debug("Resolved module", "specifier", spec, "from", containingFile, "result", res.fileName)
	return res, res.fileName != ""
}

func (r *resolver) resolveNode(spec, dir string) resolution {
	exts := r.extensions()
	if tspath.IsRelativeSpecifier(spec) {
		candidate := tspath.Combine(dir, spec)
		if f := r.loadAsFile(candidate, exts); f != "" {
			return resolution{fileName: f}
		}
		return resolution{fileName: r.loadAsDirectory(candidate, exts)}
	}

	dts := []string{".d.ts"}
	for _, a := range tspath.Ancestors(dir) {
		nm := tspath.Combine(a, "node_modules")
		if !r.sys.DirectoryExists(nm) {
			r.fail(tspath.Combine(nm, spec))
			continue
		}
		candidate := tspath.Combine(nm, spec)
		if f := r.loadAsFile(candidate, exts); f != "" {
			return resolution{fileName: f, external: true}
		}
		if f := r.loadAsDirectory(candidate, exts); f != "" {
			return resolution{fileName: f, external: true}
		}
		typesDir := tspath.Combine(nm, "@types/"+spec)
		if f := r.loadAsFile(typesDir, dts); f != "" {
			return resolution{fileName: f, external: true}
		}
		if f := r.loadAsDirectory(typesDir, dts); f != "" {
			return resolution{fileName: f, external: true}
		}
	}
	return resolution{}
}

func (r *resolver) resolveClassic(spec, dir string) resolution {
	exts := r.extensions()
	if tspath.IsRelativeSpecifier(spec) {
		return resolution{fileName: r.loadAsFile(tspath.Combine(dir, spec), exts)}
	}
	for _, a := range tspath.Ancestors(dir) {
		if f := r.loadAsFile(tspath.Combine(a, spec), exts); f != "" {
			return resolution{fileName: f}
		}
	}
	return resolution{}
}

// typeRoots returns the directories searched first for type references.
func (r *resolver) typeRoots() []string {
	if r.opts.TypeRoots != nil {
		return r.opts.TypeRoots
	}
	var roots []string
	for _, a := range tspath.Ancestors(r.baseDir) {
		if d := tspath.Combine(a, "node_modules/@types"); r.sys.DirectoryExists(d) {
			roots = append(roots, d)
		}
	}
	return roots
}

// automaticTypes lists the type directives included without a reference:
// the explicit "types" option, or every package in every type root.
func (r *resolver) automaticTypes() []string {
	if r.opts.TypesSet {
		return r.opts.Types
	}
	seen := make(map[string]bool)
	var names []string
	for _, root := range r.typeRoots() {
		_, dirs, err := r.sys.ReadDirectory(root)
		if err != nil {
			continue
		}
		for _, d := range dirs {
			name := tspath.Base(d)
			if name == "" || name[0] == '.' || seen[name] {
				continue
			}
			seen[name] = true
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// resolveTypeReference looks name up in the type roots, then in the
// node_modules directories above containingDir.
func (r *resolver) resolveTypeReference(name, containingDir string) string {
	dts := []string{".d.ts"}
	for _, root := range r.typeRoots() {
		if f := r.loadAsDirectory(tspath.Combine(root, name), dts); f != "" {
			return f
		}
	}
	for _, a := range tspath.Ancestors(containingDir) {
		nm := tspath.Combine(a, "node_modules")
		if !r.sys.DirectoryExists(nm) {
			continue
		}
		if f := r.loadAsFile(tspath.Combine(nm, name), dts); f != "" {
			return f
		}
		if f := r.loadAsDirectory(tspath.Combine(nm, name), dts); f != "" {
			return f
		}
		if f := r.loadAsDirectory(tspath.Combine(nm, "@types/"+name), dts); f != "" {
			return f
		}
	}
	return ""
}

func (r *resolver) failedLookupDirs() []string {
	out := make([]string, 0, len(r.failed))
	for d := range r.failed {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}
