package room

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"LiveFM/core/realtime"
	"LiveFM/model"
)

type recorded struct {
	mu       sync.Mutex
	messages []model.RoomMessage
	syncs    []model.SyncUpdate
	chunks   []string
}

func (r *recorded) handlers() RouterHandlers {
	return RouterHandlers{
		OnMessage: func(roomID string, msg model.RoomMessage) {
			r.mu.Lock()
			r.messages = append(r.messages, msg)
			r.mu.Unlock()
		},
		OnSync: func(roomID string, u model.SyncUpdate) {
			r.mu.Lock()
			r.syncs = append(r.syncs, u)
			r.mu.Unlock()
		},
		OnVoiceChunk: func(roomID string, chunk string) {
			r.mu.Lock()
			r.chunks = append(r.chunks, chunk)
			r.mu.Unlock()
		},
	}
}

func (r *recorded) counts() (int, int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages), len(r.syncs), len(r.chunks)
}

func TestRouter(t *testing.T) {
	ctx := context.Background()
	bus := realtime.NewMemoryBus()
	sender := NewRouter(bus.Client(), RouterHandlers{})
	rec := &recorded{}
	receiver := NewRouter(bus.Client(), rec.handlers())

	if err := sender.Bind(ctx, "100001"); err != nil {
		t.Fatalf("bind sender: %v", err)
	}
	defer sender.Unbind()
	if err := receiver.Bind(ctx, "100001"); err != nil {
		t.Fatalf("bind receiver: %v", err)
	}
	defer receiver.Unbind()

	t.Run("dispatches each event kind", func(t *testing.T) {
		sender.BroadcastMessage(ctx, "100001", model.NewTextMessage(model.Viewer{ID: 1, Name: "a"}, "hi"))
		sender.BroadcastSync(ctx, "100001", model.SyncUpdate{}.WithPlaying(true))
		sender.BroadcastVoiceChunk(ctx, "100001", "cGNt")

		eventually(t, "all events", func() bool {
			m, s, c := rec.counts()
			return m == 1 && s == 1 && c == 1
		})
		rec.mu.Lock()
		defer rec.mu.Unlock()
		if rec.messages[0].Text != "hi" {
			t.Errorf("message = %+v", rec.messages[0])
		}
		u := rec.syncs[0]
		if u.IsPlaying == nil || !*u.IsPlaying || u.SentAt == 0 {
			t.Errorf("sync = %+v", u)
		}
		if u.CurrentProgress != nil || u.TrackSet {
			t.Error("absent fields must stay absent")
		}
		if rec.chunks[0] != "cGNt" {
			t.Errorf("chunk = %q", rec.chunks[0])
		}
	})

	t.Run("invalid payload is dropped", func(t *testing.T) {
		raw := bus.Client()
		_ = raw.Send(ctx, model.RoomTopic("100001"), model.EventRoomSync, json.RawMessage(`"oops"`))
		_ = raw.Send(ctx, model.RoomTopic("100001"), "unknown", nil)
		_ = raw.Send(ctx, model.RoomTopic("100001"), model.EventMessage, model.NewTextMessage(model.Viewer{ID: 9}, "after"))

		eventually(t, "next valid event", func() bool {
			m, _, _ := rec.counts()
			return m == 2
		})
		if _, s, _ := rec.counts(); s != 1 {
			t.Errorf("invalid sync dispatched, %d syncs", s)
		}
	})

	t.Run("send to unbound room is skipped", func(t *testing.T) {
		other := bus.Client()
		sub, _ := other.Subscribe(ctx, model.RoomTopic("200002"))
		defer sub.Close()

		sender.BroadcastMessage(ctx, "200002", model.NewTextMessage(model.Viewer{ID: 1}, "wrong room"))
		select {
		case ev := <-sub.Events():
			t.Errorf("unexpected %s event", ev.Name)
		case <-time.After(50 * time.Millisecond):
		}
	})

	t.Run("rebinding drops the old room", func(t *testing.T) {
		if err := receiver.Bind(ctx, "200002"); err != nil {
			t.Fatalf("rebind: %v", err)
		}
		if receiver.BoundRoom() != "200002" {
			t.Fatalf("bound = %s", receiver.BoundRoom())
		}
		before, _, _ := rec.counts()
		sender.BroadcastMessage(ctx, "100001", model.NewTextMessage(model.Viewer{ID: 1}, "stale"))
		time.Sleep(50 * time.Millisecond)
		if after, _, _ := rec.counts(); after != before {
			t.Error("event from unbound room dispatched")
		}
		if n := bus.SubscriberCount(model.RoomTopic("100001")); n != 1 {
			t.Errorf("old topic subscribers = %d, want 1", n)
		}
	})
}
