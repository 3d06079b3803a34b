package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"sort"
	"sync"

	"github.com/ritzau/tswatch/pkg/logging"
)

var log = logging.New("pubsub")

// DefaultHistory is how many builds a Hub retains.
const DefaultHistory = 20

// queued events per subscriber before the oldest are dropped
const subscriberBuffer = 32

// Hub is the Publisher behind the status server. It keeps the latest event
// of every topic, so a client that connects between builds first sees the
// current watch state and the last build, then live events.
type Hub struct {
	mu      sync.RWMutex
	subs    map[*subscriber]struct{}
	seq     uint64
	last    map[string]Event
	builds  []BuildStatus
	history int
	closed  bool
}

var _ Publisher = (*Hub)(nil)

// NewHub creates a hub retaining up to history builds.
func NewHub(history int) *Hub {
	if history < 1 {
		history = 1
	}
	return &Hub{
		subs:    make(map[*subscriber]struct{}),
		last:    make(map[string]Event),
		history: history,
	}
}

func (h *Hub) PublishBuild(status BuildStatus) error {
	return h.publish(TopicBuilds, status.EventType(), status, func() {
		h.builds = append(h.builds, status)
		if len(h.builds) > h.history {
			h.builds = slices.Delete(h.builds, 0, len(h.builds)-h.history)
		}
	})
}

func (h *Hub) PublishState(state WatchState) error {
	return h.publish(TopicWatchState, state.State, state, nil)
}

// publish records and delivers one event; keep runs under the lock.
func (h *Hub) publish(topic, typ string, data any, keep func()) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", topic, err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	h.seq++
	ev := Event{Topic: topic, Type: typ, Data: payload, Seq: h.seq}
	h.last[topic] = ev
	if keep != nil {
		keep()
	}
	for sub := range h.subs {
		if sub.topics[topic] {
			sub.deliver(ev)
		}
	}
	log.Debug("Published event", "topic", topic, "type", typ, "seq", ev.Seq, "subscribers", len(h.subs))
	return nil
}

func (h *Hub) Subscribe(ctx context.Context, topics ...string) (Subscription, error) {
	if len(topics) == 0 {
		topics = Topics
	}
	set := make(map[string]bool, len(topics))
	for _, t := range topics {
		if !slices.Contains(Topics, t) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownTopic, t)
		}
		set[t] = true
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}
	sub := &subscriber{hub: h, topics: set, events: make(chan Event, subscriberBuffer)}

	// Catching up under the lock keeps replayed and live events in
	// sequence without duplicates.
	var replay []Event
	for t := range set {
		if ev, ok := h.last[t]; ok {
			replay = append(replay, ev)
		}
	}
	sort.Slice(replay, func(i, j int) bool { return replay[i].Seq < replay[j].Seq })
	for _, ev := range replay {
		sub.events <- ev
	}

	h.subs[sub] = struct{}{}
	sub.stop = context.AfterFunc(ctx, func() { sub.Close() })
	log.Debug("Client subscribed", "topics", topics, "replayed", len(replay))
	return sub, nil
}

func (h *Hub) LastBuild() (BuildStatus, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.builds) == 0 {
		return BuildStatus{}, false
	}
	return h.builds[len(h.builds)-1], true
}

func (h *Hub) Builds() []BuildStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return slices.Clone(h.builds)
}

func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	for sub := range h.subs {
		close(sub.events)
	}
	clear(h.subs)
	return nil
}

type subscriber struct {
	hub    *Hub
	topics map[string]bool
	events chan Event
	stop   func() bool
	once   sync.Once
}

func (s *subscriber) Events() <-chan Event {
	return s.events
}

func (s *subscriber) Close() error {
	s.once.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.subs, s)
		stop := s.stop
		s.hub.mu.Unlock()
		if stop != nil {
			stop()
		}
	})
	return nil
}

// deliver never blocks the publisher: a client that falls behind loses
// its oldest queued events, never the newest.
func (s *subscriber) deliver(ev Event) {
	for {
		select {
		case s.events <- ev:
			return
		default:
		}
		select {
		case dropped := <-s.events:
			log.Warn("Status client is behind, dropping event", "topic", dropped.Topic, "seq", dropped.Seq)
		default:
		}
	}
}

// WriteSSE writes ev as one server-sent event. The sequence number is
// the event id and the topic is the event name.
func WriteSSE(w io.Writer, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.Seq, ev.Topic, data)
	return err
}
