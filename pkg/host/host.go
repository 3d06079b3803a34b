// Package host defines the system abstraction the watch engine runs on:
// filesystem access, watch registration, timers and output.
package host

import (
	"errors"
	"io/fs"
	"time"
)

// ErrNotExist is returned when a file or directory does not exist.
var ErrNotExist = fs.ErrNotExist

// EventKind describes what happened to a watched path
type EventKind int

const (
	Created EventKind = iota
	Changed
	Deleted
)

func (k EventKind) String() string {
	switch k {
	case Created:
		return "created"
	case Changed:
		return "changed"
	case Deleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// FileWatchCallback is invoked when a watched file changes.
type FileWatchCallback func(path string, kind EventKind)

// DirectoryWatchCallback is invoked with the path of the entry that was
// added, changed or removed inside a watched directory.
type DirectoryWatchCallback func(path string)

// Watcher is an active watch registration.
type Watcher interface {
	Close() error
}

// Timer is a handle returned by SetTimeout.
type Timer interface {
	Stop() bool
}

// FileSystem is the subset of filesystem operations the engine needs.
// Paths are absolute and '/'-separated.
type FileSystem interface {
	ReadFile(path string) ([]byte, error)
	WriteFile(path string, data []byte) error
	FileExists(path string) bool
	DirectoryExists(path string) bool
	// ReadDirectory lists the immediate entries of dir as absolute paths.
	ReadDirectory(dir string) (files []string, dirs []string, err error)
	ModTime(path string) (time.Time, error)
}

// System is the complete host the engine is driven by. Implementations
// must deliver every callback (watch events and timers) on a single
// goroutine so the engine never observes concurrent mutation.
type System interface {
	FileSystem

	UseCaseSensitiveFileNames() bool
	NewLine() string
	CurrentDirectory() string
	// ExecutingFilePath locates the compiler; default libraries live next to it.
	ExecutingFilePath() string

	// Write appends s to the output stream.
	Write(s string)

	WatchFile(path string, cb FileWatchCallback) Watcher
	WatchDirectory(path string, cb DirectoryWatchCallback, recursive bool) Watcher

	SetTimeout(cb func(), d time.Duration) Timer
	ClearTimeout(t Timer)
	Now() time.Time
}

// IsNotExist reports whether err signals a missing path.
func IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
