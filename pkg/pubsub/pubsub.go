// Package pubsub fans build results and watch state out to status
// clients.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/ritzau/tswatch/pkg/diag"
)

// Topics
const (
	// TopicBuilds carries one BuildStatus per completed rebuild.
	TopicBuilds = "builds"
	// TopicWatchState carries WatchState transitions.
	TopicWatchState = "watch_state"
)

// Topics lists every topic a client can subscribe to.
var Topics = []string{TopicWatchState, TopicBuilds}

var (
	ErrUnknownTopic = errors.New("unknown topic")
	ErrClosed       = errors.New("publisher is closed")
)

// Event represents a pub/sub event
type Event struct {
	Topic string          `json:"topic"`
	Type  string          `json:"type"` // "complete", "errors", "config_missing" or a state name
	Data  json.RawMessage `json:"data"`
	// Seq orders events across all topics of one publisher.
	Seq uint64 `json:"seq"`
}

// Subscription represents a client subscription
type Subscription interface {
	// Events returns a channel for receiving events; it is closed when
	// the publisher shuts down.
	Events() <-chan Event

	// Close closes the subscription
	Close() error
}

// Publisher manages subscriptions and event publishing
type Publisher interface {
	// PublishBuild announces a finished rebuild.
	PublishBuild(status BuildStatus) error

	// PublishState announces a scheduler transition.
	PublishState(state WatchState) error

	// Subscribe streams the given topics (all when none are named),
	// starting with the latest event of each. Context cancellation
	// closes the subscription.
	Subscribe(ctx context.Context, topics ...string) (Subscription, error)

	// LastBuild returns the most recent build.
	LastBuild() (BuildStatus, bool)

	// Builds returns the retained builds, oldest first.
	Builds() []BuildStatus

	// Close shuts down the publisher and all subscriptions
	Close() error
}

// BuildStatus summarises one rebuild
type BuildStatus struct {
	ID          string            `json:"id"`
	Started     time.Time         `json:"started"`
	DurationMs  int64             `json:"duration_ms"`
	ExitStatus  string            `json:"exit_status"`
	Errors      int               `json:"errors"`
	Files       int               `json:"files"`
	Affected    []string          `json:"affected"`
	AllAffected bool              `json:"all_affected"`
	Emitted     []string          `json:"emitted"`
	Diagnostics []diag.Diagnostic `json:"diagnostics"`
	Cycles      []string          `json:"cycles,omitempty"`
	// ConfigMissing is set when the build was skipped for a missing config
	ConfigMissing bool `json:"config_missing,omitempty"`
}

// EventType classifies the build for clients that only watch for failures.
func (s BuildStatus) EventType() string {
	switch {
	case s.ConfigMissing:
		return "config_missing"
	case s.Errors > 0:
		return "errors"
	}
	return "complete"
}

// WatchState reports the scheduler state
type WatchState struct {
	State string    `json:"state"` // idle, pending-rebuild, rebuilding
	Since time.Time `json:"since"`
}
