package pubsub

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/ritzau/tswatch/pkg/logging"
)

func init() {
	logging.SetOutput(io.Discard)
}

func publishBuilds(t *testing.T, hub *Hub, n int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		if err := hub.PublishBuild(BuildStatus{ID: string(rune('a' + i - 1)), Errors: i - 1}); err != nil {
			t.Fatalf("Failed to publish build %d: %v", i, err)
		}
	}
}

func next(t *testing.T, sub Subscription) Event {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		if !ok {
			t.Fatal("subscription closed")
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
	return Event{}
}

func expectNothing(t *testing.T, sub Subscription) {
	t.Helper()
	select {
	case ev := <-sub.Events():
		t.Errorf("unexpected event %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBuildEventTypes(t *testing.T) {
	tests := []struct {
		status BuildStatus
		want   string
	}{
		{BuildStatus{}, "complete"},
		{BuildStatus{Errors: 2}, "errors"},
		{BuildStatus{Errors: 1, ConfigMissing: true}, "config_missing"},
	}
	for _, tt := range tests {
		if got := tt.status.EventType(); got != tt.want {
			t.Errorf("EventType(%+v) = %q, want %q", tt.status, got, tt.want)
		}
	}
}

func TestSubscriberCatchesUpWithStateAndLastBuild(t *testing.T) {
	hub := NewHub(DefaultHistory)
	defer hub.Close()

	hub.PublishState(WatchState{State: "rebuilding"})
	publishBuilds(t, hub, 3)
	hub.PublishState(WatchState{State: "idle"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub, err := hub.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}

	build := next(t, sub)
	var status BuildStatus
	if err := json.Unmarshal(build.Data, &status); err != nil {
		t.Fatal(err)
	}
	if build.Topic != TopicBuilds || build.Type != "errors" || status.ID != "c" || build.Seq != 4 {
		t.Errorf("replayed build = %+v (%+v)", build, status)
	}
	if state := next(t, sub); state.Topic != TopicWatchState || state.Type != "idle" || state.Seq != 5 {
		t.Errorf("replayed state = %+v", state)
	}
	expectNothing(t, sub)

	hub.PublishState(WatchState{State: "pending-rebuild"})
	if ev := next(t, sub); ev.Type != "pending-rebuild" || ev.Seq != 6 {
		t.Errorf("live event = %+v", ev)
	}
}

func TestSubscribeToOneTopic(t *testing.T) {
	hub := NewHub(DefaultHistory)
	defer hub.Close()
	publishBuilds(t, hub, 1)

	sub, err := hub.Subscribe(context.Background(), TopicWatchState)
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()
	expectNothing(t, sub)

	publishBuilds(t, hub, 1)
	hub.PublishState(WatchState{State: "idle"})
	if ev := next(t, sub); ev.Topic != TopicWatchState {
		t.Errorf("event = %+v", ev)
	}

	if _, err := hub.Subscribe(context.Background(), "nope"); !errors.Is(err, ErrUnknownTopic) {
		t.Errorf("unknown topic error = %v", err)
	}
}

func TestBuildHistory(t *testing.T) {
	hub := NewHub(2)
	defer hub.Close()

	if _, ok := hub.LastBuild(); ok {
		t.Fatal("empty hub reported a build")
	}
	publishBuilds(t, hub, 3)
	last, ok := hub.LastBuild()
	if !ok || last.ID != "c" {
		t.Errorf("LastBuild = %+v, %v", last, ok)
	}
	builds := hub.Builds()
	if len(builds) != 2 || builds[0].ID != "b" || builds[1].ID != "c" {
		t.Errorf("Builds = %+v", builds)
	}
}

func TestSlowSubscriberKeepsNewest(t *testing.T) {
	hub := NewHub(DefaultHistory)
	defer hub.Close()
	sub, err := hub.Subscribe(context.Background(), TopicBuilds)
	if err != nil {
		t.Fatal(err)
	}
	publishBuilds(t, hub, subscriberBuffer+5)

	var last Event
	for i := 0; i < subscriberBuffer; i++ {
		last = next(t, sub)
	}
	if last.Seq != subscriberBuffer+5 {
		t.Errorf("newest event seq = %d, want %d", last.Seq, subscriberBuffer+5)
	}
	expectNothing(t, sub)
}

func TestCancelledContextUnsubscribes(t *testing.T) {
	hub := NewHub(DefaultHistory)
	defer hub.Close()
	ctx, cancel := context.WithCancel(context.Background())
	if _, err := hub.Subscribe(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()

	deadline := time.Now().Add(time.Second)
	for {
		hub.mu.RLock()
		n := len(hub.subs)
		hub.mu.RUnlock()
		if n == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("subscription not released after cancel")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestClosedHub(t *testing.T) {
	hub := NewHub(DefaultHistory)
	sub, err := hub.Subscribe(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	hub.Close()
	if _, ok := <-sub.Events(); ok {
		t.Error("subscription channel still open")
	}
	sub.Close()
	if err := hub.PublishBuild(BuildStatus{}); !errors.Is(err, ErrClosed) {
		t.Errorf("publish on a closed hub = %v", err)
	}
	if _, err := hub.Subscribe(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("subscribe on a closed hub = %v", err)
	}
}

func TestWriteSSE(t *testing.T) {
	var b bytes.Buffer
	ev := Event{Topic: TopicBuilds, Type: "complete", Data: json.RawMessage(`{"errors":0}`), Seq: 7}
	if err := WriteSSE(&b, ev); err != nil {
		t.Fatal(err)
	}
	want := "id: 7\nevent: builds\n" +
		`data: {"topic":"builds","type":"complete","data":{"errors":0},"seq":7}` + "\n\n"
	if b.String() != want {
		t.Errorf("got %q, want %q", b.String(), want)
	}
}
