package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"LiveFM/model"

	"github.com/gorilla/websocket"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func receive(t *testing.T, sub Subscription) Event {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		if !ok {
			t.Fatal("subscription closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}
	return Event{}
}

func expectSilence(t *testing.T, sub Subscription) {
	t.Helper()
	select {
	case ev := <-sub.Events():
		t.Fatalf("unexpected event %s on %s", ev.Name, ev.Topic)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestMemoryBus(t *testing.T) {
	ctx := context.Background()

	t.Run("delivers to others but not to sender", func(t *testing.T) {
		bus := NewMemoryBus()
		host, listener := bus.Client(), bus.Client()

		hostSub, _ := host.Subscribe(ctx, "room:1")
		listenerSub, _ := listener.Subscribe(ctx, "room:1")
		defer hostSub.Close()
		defer listenerSub.Close()

		if err := host.Send(ctx, "room:1", "message", map[string]string{"text": "hi"}); err != nil {
			t.Fatalf("send: %v", err)
		}

		ev := receive(t, listenerSub)
		if ev.Name != "message" || ev.Topic != "room:1" {
			t.Errorf("got %s on %s", ev.Name, ev.Topic)
		}
		var body map[string]string
		if err := ev.Decode(&body); err != nil || body["text"] != "hi" {
			t.Errorf("payload = %v, err %v", body, err)
		}
		expectSilence(t, hostSub)
	})

	t.Run("topics are isolated", func(t *testing.T) {
		bus := NewMemoryBus()
		a, b := bus.Client(), bus.Client()
		sub, _ := b.Subscribe(ctx, "room:2")
		defer sub.Close()

		_ = a.Send(ctx, "room:1", "message", nil)
		expectSilence(t, sub)
	})

	t.Run("keeps order for a single sender", func(t *testing.T) {
		bus := NewMemoryBus()
		a, b := bus.Client(), bus.Client()
		sub, _ := b.Subscribe(ctx, "room:1")
		defer sub.Close()

		for i := 0; i < 10; i++ {
			_ = a.Send(ctx, "room:1", "tick", i)
		}
		for i := 0; i < 10; i++ {
			var n int
			if err := receive(t, sub).Decode(&n); err != nil || n != i {
				t.Fatalf("event %d decoded as %d (err %v)", i, n, err)
			}
		}
	})

	t.Run("close removes subscription", func(t *testing.T) {
		bus := NewMemoryBus()
		c := bus.Client()
		sub, _ := c.Subscribe(ctx, "room:1")
		if bus.SubscriberCount("room:1") != 1 {
			t.Fatal("expected one subscriber")
		}
		_ = sub.Close()
		_ = sub.Close()
		if bus.SubscriberCount("room:1") != 0 {
			t.Error("subscription still registered")
		}
		if _, ok := <-sub.Events(); ok {
			t.Error("events channel should be closed")
		}
	})

	t.Run("drop filter loses events", func(t *testing.T) {
		bus := NewMemoryBus()
		bus.SetDropFilter(func(topic, event string) bool { return event == "room_sync" })
		a, b := bus.Client(), bus.Client()
		sub, _ := b.Subscribe(ctx, "room:1")
		defer sub.Close()

		_ = a.Send(ctx, "room:1", "room_sync", nil)
		_ = a.Send(ctx, "room:1", "message", nil)
		if ev := receive(t, sub); ev.Name != "message" {
			t.Errorf("got %s, want message", ev.Name)
		}
	})
}

func startRelay(t *testing.T) (*Hub, string) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub()
	go hub.Run(ctx)

	upgrader := websocket.Upgrader{}
	var nextUser int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		id := atomic.AddInt64(&nextUser, 1)
		hub.Serve(ctx, hub.NewClient(conn, model.Viewer{ID: id}))
	}))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestHubRelay(t *testing.T) {
	ctx := context.Background()
	hub, url := startRelay(t)

	a, err := DialWS(ctx, url, "")
	if err != nil {
		t.Fatalf("dial a: %v", err)
	}
	defer a.Close()
	b, err := DialWS(ctx, url, "")
	if err != nil {
		t.Fatalf("dial b: %v", err)
	}
	defer b.Close()

	subA, err := a.Subscribe(ctx, "room:42")
	if err != nil {
		t.Fatalf("subscribe a: %v", err)
	}
	subB, err := b.Subscribe(ctx, "room:42")
	if err != nil {
		t.Fatalf("subscribe b: %v", err)
	}
	waitFor(t, func() bool { return hub.SubscriberCount("room:42") == 2 })

	t.Run("relays to other subscribers only", func(t *testing.T) {
		if err := a.Send(ctx, "room:42", "message", map[string]string{"text": "hello"}); err != nil {
			t.Fatalf("send: %v", err)
		}
		ev := receive(t, subB)
		if ev.Name != "message" || ev.Topic != "room:42" {
			t.Errorf("got %s on %s", ev.Name, ev.Topic)
		}
		expectSilence(t, subA)
	})

	t.Run("server publish reaches everyone", func(t *testing.T) {
		if err := hub.Publish(ctx, "room:42", "room_sync", map[string]bool{"isPlaying": true}); err != nil {
			t.Fatalf("publish: %v", err)
		}
		receive(t, subA)
		receive(t, subB)
	})

	t.Run("unsubscribe stops delivery", func(t *testing.T) {
		_ = subB.Close()
		waitFor(t, func() bool { return hub.SubscriberCount("room:42") == 1 })

		_ = b.Send(ctx, "room:42", "message", nil)
		receive(t, subA)
	})

	t.Run("disconnect unregisters client", func(t *testing.T) {
		_ = b.Close()
		waitFor(t, func() bool { return hub.ClientCount() == 1 })
	})
}
