package tsconfig

import (
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/ritzau/tswatch/pkg/host"
	"github.com/ritzau/tswatch/pkg/tspath"
)

type matcher struct {
	includes      []string
	excludes      []string
	literals      []string
	dirs          map[string]bool
	allowJS       bool
	caseSensitive bool
}

func newMatcher(base string, include, exclude []string, allowJS, caseSensitive bool) *matcher {
	m := &matcher{
		allowJS:       allowJS,
		caseSensitive: caseSensitive,
		dirs:          wildcardDirectories(base, include, caseSensitive),
	}
	for _, spec := range include {
		abs := tspath.Combine(base, spec)
		switch {
		case hasWildcard(abs):
			m.includes = append(m.includes, m.fold(abs))
		case tspath.Extension(abs) != "":
			m.literals = append(m.literals, abs)
		default:
			m.includes = append(m.includes, m.fold(abs)+"/**/*")
		}
	}
	for _, spec := range exclude {
		m.excludes = append(m.excludes, m.fold(tspath.Combine(base, spec)))
	}
	return m
}

func (m *matcher) fold(p string) string {
	if m.caseSensitive {
		return p
	}
	return strings.ToLower(p)
}

func hasWildcard(p string) bool {
	return strings.ContainsAny(p, "*?")
}

func (m *matcher) supported(p string) bool {
	if tspath.HasTSExtension(p) {
		return true
	}
	return m.allowJS && tspath.HasJSExtension(p)
}

func (m *matcher) excluded(p string) bool {
	p = m.fold(p)
	for _, ex := range m.excludes {
		if ok, _ := doublestar.Match(ex, p); ok {
			return true
		}
		if ok, _ := doublestar.Match(ex+"/**", p); ok {
			return true
		}
	}
	return false
}

func (m *matcher) included(p string) bool {
	p = m.fold(p)
	for _, in := range m.includes {
		if ok, _ := doublestar.Match(in, p); ok {
			return true
		}
	}
	return false
}

// match lists the files selected by include/exclude. Missing directories
// and zero matches are not errors.
func (m *matcher) match(sys host.System) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(f string) {
		k := tspath.Canonical(f, m.caseSensitive)
		if !seen[k] {
			seen[k] = true
			out = append(out, f)
		}
	}

	for _, lit := range m.literals {
		if sys.FileExists(lit) && !m.excluded(lit) {
			add(lit)
		}
	}

	for _, dir := range sortedKeys(m.dirs) {
		m.walk(sys, dir, m.dirs[dir], add)
	}
	return preferByExtension(out)
}

func (m *matcher) walk(sys host.System, dir string, recursive bool, add func(string)) {
	files, dirs, err := sys.ReadDirectory(dir)
	if err != nil {
		return
	}
	for _, f := range files {
		if m.supported(f) && m.included(f) && !m.excluded(f) {
			add(f)
		}
	}
	if !recursive {
		return
	}
	for _, d := range dirs {
		if !m.excluded(d) {
			m.walk(sys, d, true, add)
		}
	}
}

func extensionRank(p string) int {
	switch tspath.Extension(p) {
	case ".ts", ".tsx":
		return 0
	case ".d.ts":
		return 1
	default:
		return 2
	}
}

// preferByExtension drops a.d.ts when a.ts exists and a.js when either
// exists, keeping the first-seen order of the survivors.
func preferByExtension(files []string) []string {
	best := make(map[string]int)
	for _, f := range files {
		stem := strings.ToLower(tspath.RemoveExtension(f))
		r := extensionRank(f)
		if cur, ok := best[stem]; !ok || r < cur {
			best[stem] = r
		}
	}
	out := files[:0]
	for _, f := range files {
		if extensionRank(f) == best[strings.ToLower(tspath.RemoveExtension(f))] {
			out = append(out, f)
		}
	}
	return out
}

// wildcardDirectories returns the directories whose contents can change
// the root set, and whether each must be watched recursively.
func wildcardDirectories(base string, include []string, caseSensitive bool) map[string]bool {
	dirs := make(map[string]bool)
	for _, spec := range include {
		abs := tspath.Combine(base, spec)
		parts := strings.Split(strings.TrimPrefix(abs, "/"), "/")

		idx := -1
		for i, part := range parts {
			if hasWildcard(part) {
				idx = i
				break
			}
		}

		var dir string
		var recursive bool
		switch {
		case idx >= 0:
			dir = "/" + strings.Join(parts[:idx], "/")
			recursive = strings.Contains(spec, "**") || idx < len(parts)-1
		case tspath.Extension(abs) != "":
			dir = tspath.Dir(abs)
		default:
			dir = abs
			recursive = true
		}
		dir = tspath.Normalize(dir)
		dirs[dir] = dirs[dir] || recursive
	}

	// drop directories already covered by a recursive ancestor
	for d := range dirs {
		for other, rec := range dirs {
			if rec && other != d && tspath.ContainsPath(other, d, caseSensitive) {
				delete(dirs, d)
				break
			}
		}
	}
	return dirs
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
