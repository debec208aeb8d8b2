package voice

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
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

func TestChunkCodec(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []byte
		wantErr bool
	}{
		{name: "valid", input: EncodeChunk([]byte("abc")), want: []byte("abc")},
		{name: "empty", input: "", wantErr: true},
		{name: "not base64", input: "%%%", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeChunk(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("DecodeChunk() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("DecodeChunk() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestQueuePlaysInOrderOneAtATime(t *testing.T) {
	player := &RecordingPlayer{ClipDuration: 5 * time.Millisecond}
	q := NewQueue(player, 0)
	defer q.Close()

	for _, s := range []string{"a", "b", "c", "d"} {
		if err := q.PushEncoded(EncodeChunk([]byte(s))); err != nil {
			t.Fatalf("push %s: %v", s, err)
		}
	}
	waitFor(t, q.Idle)

	got := player.Played()
	want := []string{"a", "b", "c", "d"}
	if len(got) != len(want) {
		t.Fatalf("played %d clips, want %d", len(got), len(want))
	}
	for i := range want {
		if string(got[i]) != want[i] {
			t.Errorf("clip %d = %q, want %q", i, got[i], want[i])
		}
	}
	if player.Overlapped() {
		t.Error("two clips played at the same time")
	}
}

func TestQueueSkipsBadChunks(t *testing.T) {
	player := &RecordingPlayer{
		Reject: func(b []byte) bool { return strings.HasPrefix(string(b), "bad") },
	}
	q := NewQueue(player, 0)
	defer q.Close()

	q.Push([]byte("one"))
	q.Push([]byte("bad-two"))
	if err := q.PushEncoded("not base64!"); err == nil {
		t.Error("expected transport decode error")
	}
	q.Push([]byte("three"))
	waitFor(t, q.Idle)

	got := player.Played()
	if len(got) != 2 || string(got[0]) != "one" || string(got[1]) != "three" {
		t.Errorf("played %q, want [one three]", got)
	}
	stats := q.Stats()
	if stats.Played != 2 || stats.Failed != 2 {
		t.Errorf("stats = %+v", stats)
	}
}

type blockingPlayer struct {
	RecordingPlayer
	release chan struct{}
	once    sync.Once
	started chan struct{}
}

func (p *blockingPlayer) Play(ctx context.Context, clip Clip) error {
	p.once.Do(func() { close(p.started) })
	select {
	case <-p.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	return p.RecordingPlayer.Play(ctx, clip)
}

func TestQueueLimitDropsOldest(t *testing.T) {
	player := &blockingPlayer{release: make(chan struct{}), started: make(chan struct{})}
	q := NewQueue(player, 2)
	defer q.Close()

	q.Push([]byte("playing"))
	<-player.started

	q.Push([]byte("old"))
	q.Push([]byte("mid"))
	q.Push([]byte("new"))
	if q.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", q.Len())
	}
	close(player.release)
	waitFor(t, q.Idle)

	got := player.Played()
	want := []string{"playing", "mid", "new"}
	if len(got) != len(want) {
		t.Fatalf("played %q, want %v", got, want)
	}
	for i := range want {
		if string(got[i]) != want[i] {
			t.Errorf("clip %d = %q, want %q", i, got[i], want[i])
		}
	}
	if q.Stats().Dropped != 1 {
		t.Errorf("dropped = %d, want 1", q.Stats().Dropped)
	}
}

func TestQueueCloseInterruptsPlayback(t *testing.T) {
	player := &blockingPlayer{release: make(chan struct{}), started: make(chan struct{})}
	q := NewQueue(player, 0)

	q.Push([]byte("x"))
	q.Push([]byte("y"))
	<-player.started

	done := make(chan struct{})
	go func() {
		q.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close did not return")
	}

	q.Push([]byte("z"))
	if q.Len() != 0 {
		t.Error("push after close should be ignored")
	}
}

func TestEncoder(t *testing.T) {
	t.Run("emits encoded chunks until stopped", func(t *testing.T) {
		dev := &SyntheticCapture{}
		var mu sync.Mutex
		var chunks []string
		enc := NewEncoder(dev, 5*time.Millisecond, func(c string) {
			mu.Lock()
			chunks = append(chunks, c)
			mu.Unlock()
		})

		if err := enc.Start(context.Background()); err != nil {
			t.Fatalf("start: %v", err)
		}
		if err := enc.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
			t.Errorf("second start err = %v", err)
		}
		waitFor(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(chunks) >= 3
		})
		if err := enc.Stop(); err != nil {
			t.Fatalf("stop: %v", err)
		}
		if dev.Active() {
			t.Error("device still held after stop")
		}

		mu.Lock()
		first := chunks[0]
		mu.Unlock()
		data, err := DecodeChunk(first)
		if err != nil || string(data) != "pcm-000000" {
			t.Errorf("first chunk = %q, err %v", data, err)
		}
	})

	t.Run("permission denied", func(t *testing.T) {
		denied := errors.New("permission denied")
		enc := NewEncoder(&SyntheticCapture{Deny: denied}, time.Second, func(string) {})
		if err := enc.Start(context.Background()); !errors.Is(err, denied) {
			t.Fatalf("err = %v, want %v", err, denied)
		}
		if enc.Running() {
			t.Error("encoder should not be running")
		}
	})

	t.Run("context cancel stops capture", func(t *testing.T) {
		dev := &SyntheticCapture{}
		enc := NewEncoder(dev, time.Millisecond, func(string) {})
		ctx, cancel := context.WithCancel(context.Background())
		if err := enc.Start(ctx); err != nil {
			t.Fatalf("start: %v", err)
		}
		cancel()
		waitFor(t, func() bool { return !dev.Active() })
	})
}
