package watcher

import (
	"sort"

	"github.com/ritzau/tswatch/pkg/host"
)

// ChangeType tells which registration observed a change.
type ChangeType int

const (
	// ChangeTypeSource is a watched program file or missing file.
	ChangeTypeSource ChangeType = iota
	// ChangeTypeConfig is the config file itself.
	ChangeTypeConfig
	// ChangeTypeWildcard is an entry inside an include directory.
	ChangeTypeWildcard
	// ChangeTypeLookup is an entry in a failed lookup or type root directory.
	ChangeTypeLookup
)

func (t ChangeType) String() string {
	switch t {
	case ChangeTypeSource:
		return "source"
	case ChangeTypeConfig:
		return "config"
	case ChangeTypeWildcard:
		return "wildcard"
	case ChangeTypeLookup:
		return "lookup"
	default:
		return "unknown"
	}
}

// ChangeEvent is one qualifying filesystem notification.
type ChangeEvent struct {
	Type ChangeType
	Path string
	Kind host.EventKind
}

// ChangeSet accumulates events until a rebuild consumes them.
type ChangeSet struct {
	// Dirty holds canonical paths whose contents must be read again.
	Dirty map[string]bool
	// ReloadConfig is set when the config file changed or vanished.
	ReloadConfig bool
	// Rescan is set when include directories gained or lost entries.
	Rescan bool
	Events int
}

// Add records ev. key is the canonical form of ev.Path.
func (c *ChangeSet) Add(ev ChangeEvent, key string) {
	if c.Dirty == nil {
		c.Dirty = make(map[string]bool)
	}
	c.Events++
	switch ev.Type {
	case ChangeTypeConfig:
		c.ReloadConfig = true
	case ChangeTypeWildcard:
		c.Rescan = true
		c.Dirty[key] = true
	case ChangeTypeSource:
		// a created or deleted root changes what include patterns match
		if ev.Kind != host.Changed {
			c.Rescan = true
		}
		c.Dirty[key] = true
	default:
		c.Dirty[key] = true
	}
}

// Empty reports whether nothing was recorded.
func (c *ChangeSet) Empty() bool {
	return c.Events == 0
}

// Paths lists the dirty paths, sorted.
func (c *ChangeSet) Paths() []string {
	out := make([]string, 0, len(c.Dirty))
	for p := range c.Dirty {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Carry keeps the dirty paths of an unconsumed set for the next rebuild
// without counting them as new events.
func (c *ChangeSet) Carry(old ChangeSet) {
	if len(old.Dirty) == 0 {
		return
	}
	if c.Dirty == nil {
		c.Dirty = make(map[string]bool)
	}
	for k := range old.Dirty {
		c.Dirty[k] = true
	}
}

// Take returns the accumulated changes and resets c.
func (c *ChangeSet) Take() ChangeSet {
	taken := *c
	*c = ChangeSet{}
	return taken
}
