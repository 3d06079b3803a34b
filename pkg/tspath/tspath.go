// Package tspath provides slash-separated path helpers used as keys
// throughout the engine. All paths are absolute, '/'-separated and never
// carry a trailing slash (except the root "/").
package tspath

import (
	"path"
	"strings"
)

// Supported source extensions, longest first so ".d.ts" wins over ".ts".
var (
	TSExtensions = []string{".d.ts", ".ts", ".tsx"}
	JSExtensions = []string{".js", ".jsx"}
)

// Normalize converts backslashes, collapses "." and ".." segments and
// strips trailing slashes.
func Normalize(p string) string {
	if p == "" {
		return ""
	}
	p = strings.ReplaceAll(p, "\\", "/")
	// Keep drive letters such as "c:/" intact.
	return path.Clean(p)
}

// Canonical returns the key used for registry and graph lookups.
func Canonical(p string, caseSensitive bool) string {
	p = Normalize(p)
	if caseSensitive {
		return p
	}
	return strings.ToLower(p)
}

// Combine joins rel onto base unless rel is already rooted.
func Combine(base, rel string) string {
	rel = strings.ReplaceAll(rel, "\\", "/")
	if IsRooted(rel) {
		return Normalize(rel)
	}
	return Normalize(path.Join(base, rel))
}

// IsRooted reports whether p is absolute ("/x" or "c:/x").
func IsRooted(p string) bool {
	if strings.HasPrefix(p, "/") {
		return true
	}
	return len(p) >= 3 && p[1] == ':' && (p[2] == '/' || p[2] == '\\')
}

// Dir returns the containing directory of p.
func Dir(p string) string {
	return path.Dir(Normalize(p))
}

// Base returns the last element of p.
func Base(p string) string {
	return path.Base(p)
}

// RelativeTo renders p relative to dir, the way diagnostics display file
// names. Paths outside dir are walked up with "..".
func RelativeTo(dir, p string) string {
	dir = Normalize(dir)
	p = Normalize(p)
	if dir == "" {
		return p
	}
	dirParts := splitPath(dir)
	pParts := splitPath(p)
	i := 0
	for i < len(dirParts) && i < len(pParts) && dirParts[i] == pParts[i] {
		i++
	}
	var out []string
	for range dirParts[i:] {
		out = append(out, "..")
	}
	out = append(out, pParts[i:]...)
	if len(out) == 0 {
		return "."
	}
	return strings.Join(out, "/")
}

func splitPath(p string) []string {
	var parts []string
	for _, s := range strings.Split(p, "/") {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return parts
}

// ContainsPath reports whether child is dir itself or lives under it.
func ContainsPath(dir, child string, caseSensitive bool) bool {
	dir = Canonical(dir, caseSensitive)
	child = Canonical(child, caseSensitive)
	if dir == child {
		return true
	}
	if dir == "/" {
		return strings.HasPrefix(child, "/")
	}
	return strings.HasPrefix(child, dir+"/")
}

// IsDeclaration reports whether p is a ".d.ts" file.
func IsDeclaration(p string) bool {
	return strings.HasSuffix(strings.ToLower(p), ".d.ts")
}

// Extension returns the supported extension of p, or "" when p has none.
func Extension(p string) string {
	lower := strings.ToLower(p)
	for _, ext := range TSExtensions {
		if strings.HasSuffix(lower, ext) {
			return ext
		}
	}
	for _, ext := range JSExtensions {
		if strings.HasSuffix(lower, ext) {
			return ext
		}
	}
	return ""
}

// HasTSExtension reports whether p ends in .ts, .tsx or .d.ts.
func HasTSExtension(p string) bool {
	e := Extension(p)
	return e == ".ts" || e == ".tsx" || e == ".d.ts"
}

// HasJSExtension reports whether p ends in .js or .jsx.
func HasJSExtension(p string) bool {
	e := Extension(p)
	return e == ".js" || e == ".jsx"
}

// RemoveExtension strips the supported extension from p, if any.
func RemoveExtension(p string) string {
	if ext := Extension(p); ext != "" {
		return p[:len(p)-len(ext)]
	}
	return p
}

// ChangeExtension replaces the supported extension of p with ext. Files
// without a known extension get ext appended.
func ChangeExtension(p, ext string) string {
	return RemoveExtension(p) + ext
}

// IsRelativeSpecifier reports whether a module specifier is resolved
// relative to the importing file.
func IsRelativeSpecifier(spec string) bool {
	return spec == "." || spec == ".." ||
		strings.HasPrefix(spec, "./") || strings.HasPrefix(spec, "../") ||
		IsRooted(spec)
}

// Ancestors returns dir and each of its parents up to the root.
func Ancestors(dir string) []string {
	dir = Normalize(dir)
	var out []string
	for {
		out = append(out, dir)
		parent := path.Dir(dir)
		if parent == dir {
			return out
		}
		dir = parent
	}
}

// CommonDir returns the deepest directory containing every path.
func CommonDir(paths []string, caseSensitive bool) string {
	if len(paths) == 0 {
		return ""
	}
	common := splitPath(Dir(paths[0]))
	for _, p := range paths[1:] {
		parts := splitPath(Dir(p))
		n := 0
		for n < len(common) && n < len(parts) && equalPart(common[n], parts[n], caseSensitive) {
			n++
		}
		common = common[:n]
	}
	return "/" + strings.Join(common, "/")
}

func equalPart(a, b string, caseSensitive bool) bool {
	if caseSensitive {
		return a == b
	}
	return strings.EqualFold(a, b)
}
