// Package tsconfig reads project configuration files: compiler options,
// the root file list and the directories to watch for new roots.
package tsconfig

import (
	"errors"

	"github.com/ritzau/tswatch/pkg/diag"
	"github.com/ritzau/tswatch/pkg/host"
	"github.com/ritzau/tswatch/pkg/tspath"
)

// ConfigFile is the parsed state of a config file. It is rebuilt from
// disk on every reload and never patched.
type ConfigFile struct {
	Path    string
	Raw     map[string]any
	Files   []string // "files" entries, resolved but not checked for existence
	Include []string
	Exclude []string
	// RootNames are files plus include matches, in that order.
	RootNames   []string
	Options     Options
	Diagnostics []diag.Diagnostic
	// WildcardDirectories maps directories to watch to whether the watch
	// must be recursive.
	WildcardDirectories map[string]bool
	// Missing is set when the config file itself could not be read.
	Missing bool
}

// Dir is the directory relative paths in the config resolve against.
func (c *ConfigFile) Dir() string {
	return tspath.Dir(c.Path)
}

// Parse reads and parses configPath. extend holds options (for example
// from the command line) applied on top of compilerOptions. Parse never
// fails: problems are reported as diagnostics on the result.
func Parse(sys host.System, configPath string, extend map[string]any) *ConfigFile {
	configPath = tspath.Combine(sys.CurrentDirectory(), configPath)
	cfg := &ConfigFile{Path: configPath, WildcardDirectories: map[string]bool{}}

	text, err := sys.ReadFile(configPath)
	if err != nil {
		cfg.Missing = true
		cfg.Diagnostics = append(cfg.Diagnostics, diag.FileNotFound(configPath))
		return cfg
	}

	root, sanitized, parseErr := parseJSONC(text)
	if parseErr != nil {
		var se *syntaxError
		if errors.As(parseErr, &se) {
			line, col := diag.Position(sanitized, se.offset)
			cfg.Diagnostics = append(cfg.Diagnostics,
				diag.At(configPath, line, col, diag.CodeExpected, "%s", se.msg))
		}
	}
	cfg.Raw = root.plain()

	report := func(offset int, code int, format string, args ...any) {
		if offset < 0 {
			cfg.Diagnostics = append(cfg.Diagnostics, diag.New(code, format, args...))
			return
		}
		line, col := diag.Position(sanitized, offset)
		cfg.Diagnostics = append(cfg.Diagnostics, diag.At(configPath, line, col, code, format, args...))
	}

	base := cfg.Dir()
	var entries []optionEntry
	if co, ok := root.values["compilerOptions"].(*object); ok {
		for _, k := range co.keys {
			entries = append(entries, optionEntry{
				name:      k,
				value:     plainValue(co.values[k]),
				keyOffset: co.keyOffsets[k],
				valOffset: co.valOffsets[k],
			})
		}
	}
	for _, k := range sortedKeys(extend) {
		entries = append(entries, optionEntry{name: k, value: normalizeValue(extend[k]), keyOffset: -1, valOffset: -1})
	}
	applyOptions(&cfg.Options, entries, base, report)

	files, hasFiles := stringList(root, "files", report)
	include, hasInclude := stringList(root, "include", report)
	exclude, hasExclude := stringList(root, "exclude", report)

	for _, f := range files {
		cfg.Files = append(cfg.Files, resolvePath(base, f))
	}
	if !hasFiles && !hasInclude {
		include = []string{"**/*"}
	}
	if !hasExclude {
		exclude = []string{"node_modules", "bower_components", "jspm_packages"}
		if cfg.Options.OutDir != "" {
			exclude = append(exclude, cfg.Options.OutDir)
		}
	}
	cfg.Include = include
	cfg.Exclude = exclude

	cfg.WildcardDirectories = wildcardDirectories(base, include, sys.UseCaseSensitiveFileNames())
	cfg.RootNames = cfg.matchRoots(sys)
	return cfg
}

// Rescan recomputes RootNames from the current directory contents without
// re-reading the config file.
func (c *ConfigFile) Rescan(sys host.System) {
	if c.Missing {
		return
	}
	c.RootNames = c.matchRoots(sys)
}

func (c *ConfigFile) matchRoots(sys host.System) []string {
	caseSensitive := sys.UseCaseSensitiveFileNames()
	roots := append([]string(nil), c.Files...)
	seen := make(map[string]bool, len(roots))
	for _, f := range roots {
		seen[tspath.Canonical(f, caseSensitive)] = true
	}
	m := newMatcher(c.Dir(), c.Include, c.Exclude, c.Options.AllowJs, caseSensitive)
	for _, f := range m.match(sys) {
		key := tspath.Canonical(f, caseSensitive)
		if !seen[key] {
			seen[key] = true
			roots = append(roots, f)
		}
	}
	return roots
}

func stringList(root *object, key string, report reporter) ([]string, bool) {
	v, ok := root.values[key]
	if !ok {
		return nil, false
	}
	arr, isArr := v.([]any)
	if !isArr {
		report(root.valOffsets[key], diag.CodeOptionWrongType, "Compiler option '%s' requires a value of type Array.", key)
		return nil, false
	}
	var out []string
	for _, e := range arr {
		if s, isStr := e.(string); isStr {
			out = append(out, s)
		}
	}
	return out, true
}

func resolvePath(base, p string) string {
	return tspath.Combine(base, p)
}
