// Package affected decides which files of a new program must be
// re-emitted and re-diagnosed after a change batch.
package affected

import (
	"github.com/ritzau/tswatch/pkg/logging"
	"github.com/ritzau/tswatch/pkg/program"
	"github.com/ritzau/tswatch/pkg/registry"
)

var log = logging.New("affected")

// Reason records why a file was affected.
type Reason int

const (
	Initial Reason = iota
	Changed
	Added
	Dependent
	GlobalChange
	OptionsChanged
	LostDependency
)

func (r Reason) String() string {
	switch r {
	case Initial:
		return "initial"
	case Changed:
		return "changed"
	case Added:
		return "added"
	case Dependent:
		return "dependent"
	case GlobalChange:
		return "global"
	case OptionsChanged:
		return "options"
	case LostDependency:
		return "lost-dependency"
	default:
		return "unknown"
	}
}

// Result is the affected set of one rebuild.
type Result struct {
	// Files are canonical keys of affected files, in program order.
	Files []string
	// All is set when every file is affected.
	All bool
	// Bundle is set when output is consolidated into one artifact; any
	// affected file then means the bundle must be rewritten.
	Bundle bool
	// BundleDirty is set when the bundle must be rewritten although no
	// remaining file is affected, as after removing a file.
	BundleDirty bool
	Reasons     map[string]Reason
	Diff        registry.Diff
}

// Empty reports whether nothing needs to be re-emitted.
func (r Result) Empty() bool {
	return len(r.Files) == 0 && !r.BundleDirty
}

// Contains reports whether key is affected.
func (r Result) Contains(key string) bool {
	_, ok := r.Reasons[key]
	return ok
}

// Compute returns the files of next affected by the changes since prev.
// A nil prev means a first build: everything is affected.
func Compute(prev, next *program.Program) Result {
	res := Result{
		Bundle:  next.Options.Bundle() != "",
		Reasons: make(map[string]Reason),
	}
	if prev == nil {
		return everything(next, res, Initial)
	}

	res.Diff = registry.DiffSnapshots(prev.Snapshot(), next.Snapshot())
	if prev.Options.EmitSignature() != next.Options.EmitSignature() ||
		prev.Options.ResolutionSignature() != next.Options.ResolutionSignature() {
		log.Debug("Options changed, all files affected")
		return everything(next, res, OptionsChanged)
	}

	// One walker for the whole batch: each file is expanded once even
	// when several changes reach it.
	isolated := next.Options.IsolatedModules
	w := next.Graph.NewWalker()
	seen := make(map[string]Reason)
	mark := func(key string, reason Reason) {
		w.Mark(key)
		seen[key] = reason
	}
	walk := func(key string, reason Reason) {
		mark(key, reason)
		if !isolated {
			w.WalkDependents(key)
		}
	}

	for _, c := range res.Diff.Changed {
		key := c.New.Path
		// A body-only edit to a global file stays local; only a shape
		// change of a global file affects everything.
		switch {
		case !c.ShapeChanged() || isolated:
			mark(key, Changed)
		case c.New.IsGlobal || c.Old.IsGlobal:
			log.Info("Global file changed shape, all files affected", "file", c.New.FileName)
			return everything(next, res, GlobalChange)
		default:
			walk(key, Changed)
		}
	}

	for _, key := range res.Diff.Added {
		sf, _ := next.File(key)
		if !isolated && sf != nil && sf.IsGlobal {
			log.Info("Global file added, all files affected", "file", sf.FileName)
			return everything(next, res, GlobalChange)
		}
		walk(key, Added)
	}

	for _, key := range res.Diff.Removed {
		if old, ok := prev.File(key); ok && old.IsGlobal && !isolated {
			log.Info("Global file removed, all files affected", "file", old.FileName)
			return everything(next, res, GlobalChange)
		}
		for _, dep := range prev.Graph.DependentsOf(key) {
			if _, ok := next.File(dep); !ok {
				continue
			}
			walk(dep, LostDependency)
		}
	}

	// the bundle still carries removed files' code
	res.BundleDirty = res.Bundle && len(res.Diff.Removed) > 0

	for _, k := range w.Visited() {
		if _, ok := seen[k]; !ok {
			seen[k] = Dependent
		}
	}
	res.Files = inProgramOrder(next, seen)
	for _, k := range res.Files {
		res.Reasons[k] = seen[k]
	}
	return res
}

func everything(next *program.Program, res Result, reason Reason) Result {
	res.All = true
	res.Files = make([]string, 0, len(next.Files))
	for _, f := range next.Files {
		res.Files = append(res.Files, f.Path)
		res.Reasons[f.Path] = reason
	}
	return res
}

func inProgramOrder(next *program.Program, keys map[string]Reason) []string {
	var out []string
	for _, f := range next.Files {
		if _, ok := keys[f.Path]; ok {
			out = append(out, f.Path)
		}
	}
	return out
}
