// Package registry tracks the parsed state of every source file the
// engine has seen. Entries are immutable: an update replaces the entry so
// snapshots taken earlier keep describing the old world.
package registry

import (
	"fmt"
	"sort"

	"github.com/ritzau/tswatch/pkg/diag"
	"github.com/ritzau/tswatch/pkg/frontend"
	"github.com/ritzau/tswatch/pkg/tspath"
)

// SourceFile is one parsed file.
type SourceFile struct {
	FileName       string
	Path           string // canonical key
	Content        []byte
	Version        int
	ContentHash    string
	Shape          string
	Imports        []frontend.Import
	References     []frontend.Reference
	TypeReferences []frontend.Reference
	IsGlobal       bool
	IsDeclaration  bool
	NoDefaultLib   bool
	Diagnostics    []diag.Diagnostic
}

// Snapshot is a point-in-time view keyed by canonical path.
type Snapshot map[string]*SourceFile

// Registry owns the current SourceFile for each path.
type Registry struct {
	fe            frontend.Frontend
	caseSensitive bool
	files         map[string]*SourceFile
	versions      map[string]int
}

// New creates an empty registry parsing through fe.
func New(fe frontend.Frontend, caseSensitive bool) *Registry {
	return &Registry{
		fe:            fe,
		caseSensitive: caseSensitive,
		files:         make(map[string]*SourceFile),
		versions:      make(map[string]int),
	}
}

// Key returns the canonical key for fileName.
func (r *Registry) Key(fileName string) string {
	return tspath.Canonical(fileName, r.caseSensitive)
}

// Upsert records content for fileName. Identical content is a no-op and
// returns the existing entry; otherwise a new entry with a bumped version
// replaces it.
func (r *Registry) Upsert(fileName string, content []byte) (*SourceFile, error) {
	key := r.Key(fileName)
	hash := frontend.ContentHash(content)
	if existing, ok := r.files[key]; ok && existing.ContentHash == hash {
		return existing, nil
	}

	info, err := r.fe.Parse(fileName, content)
	if err != nil {
		return nil, fmt.Errorf("upsert %s: %w", fileName, err)
	}

	r.versions[key]++
	sf := &SourceFile{
		FileName:       tspath.Normalize(fileName),
		Path:           key,
		Content:        content,
		Version:        r.versions[key],
		ContentHash:    info.ContentHash,
		Shape:          info.Shape,
		Imports:        info.Imports,
		References:     info.References,
		TypeReferences: info.TypeReferences,
		IsGlobal:       info.IsGlobal,
		IsDeclaration:  tspath.IsDeclaration(fileName),
		NoDefaultLib:   info.NoDefaultLib,
		Diagnostics:    info.Diagnostics,
	}
	r.files[key] = sf
	return sf, nil
}

// Remove forgets fileName. It reports whether an entry existed.
func (r *Registry) Remove(fileName string) bool {
	key := r.Key(fileName)
	if _, ok := r.files[key]; !ok {
		return false
	}
	delete(r.files, key)
	return true
}

// Get returns the entry for fileName.
func (r *Registry) Get(fileName string) (*SourceFile, bool) {
	sf, ok := r.files[r.Key(fileName)]
	return sf, ok
}

// Len returns the number of tracked files.
func (r *Registry) Len() int {
	return len(r.files)
}

// Snapshot returns a copy of the current entries.
func (r *Registry) Snapshot() Snapshot {
	s := make(Snapshot, len(r.files))
	for k, v := range r.files {
		s[k] = v
	}
	return s
}

// Change pairs the old and new entry of a modified file.
type Change struct {
	Old *SourceFile
	New *SourceFile
}

// ShapeChanged reports whether the externally visible surface changed.
func (c Change) ShapeChanged() bool {
	return c.Old.Shape != c.New.Shape || c.Old.IsGlobal != c.New.IsGlobal
}

// Diff lists the keys that differ between two snapshots, each sorted.
type Diff struct {
	Added   []string
	Removed []string
	Changed []Change
}

// Empty reports whether nothing changed.
func (d Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// DiffSnapshots compares two snapshots. An entry counts as changed when
// its content differs.
func DiffSnapshots(oldSnap, newSnap Snapshot) Diff {
	var d Diff
	for k, nf := range newSnap {
		of, ok := oldSnap[k]
		switch {
		case !ok:
			d.Added = append(d.Added, k)
		case of != nf && of.ContentHash != nf.ContentHash:
			d.Changed = append(d.Changed, Change{Old: of, New: nf})
		}
	}
	for k := range oldSnap {
		if _, ok := newSnap[k]; !ok {
			d.Removed = append(d.Removed, k)
		}
	}
	sort.Strings(d.Added)
	sort.Strings(d.Removed)
	sort.Slice(d.Changed, func(i, j int) bool { return d.Changed[i].New.Path < d.Changed[j].New.Path })
	return d
}
