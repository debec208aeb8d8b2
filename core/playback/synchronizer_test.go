package playback

import (
	"context"
	"sync"
	"testing"
	"time"

	"LiveFM/config"
	"LiveFM/model"
)

var song = &model.Track{ID: "t1", Title: "Song", Src: "https://cdn.example/t1.mp3", Duration: 240}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// newLoaded 返回已加载 song 并停在 pos 的元素与同步器
func newLoaded(t *testing.T, pos float64) (*VirtualElement, *Synchronizer) {
	t.Helper()
	now := time.Unix(1_700_000_000, 0)
	el := NewVirtualElement()
	el.SetClock(fixedClock(now))
	if err := el.Load(context.Background(), song.Src); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := el.Seek(pos); err != nil {
		t.Fatalf("seek: %v", err)
	}
	s := New(el, config.NewTuningStore(config.DefaultSyncTuning()))
	s.SetClock(fixedClock(now))
	return el, s
}

func TestDriftThresholds(t *testing.T) {
	tests := []struct {
		name       string
		local      float64
		mode       Mode
		wantSeek   bool
		wantSeekTo float64
	}{
		{name: "ambient within threshold", local: 117, mode: Ambient, wantSeek: false},
		{name: "ambient beyond threshold", local: 115, mode: Ambient, wantSeek: true, wantSeekTo: 120},
		{name: "ambient exactly threshold", local: 116, mode: Ambient, wantSeek: false},
		{name: "ambient ahead of host", local: 125, mode: Ambient, wantSeek: true, wantSeekTo: 120},
		{name: "manual tighter threshold", local: 117, mode: Manual, wantSeek: true, wantSeekTo: 120},
		{name: "manual exactly threshold", local: 118, mode: Manual, wantSeek: false},
		{name: "manual within threshold", local: 119, mode: Manual, wantSeek: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, s := newLoaded(t, tt.local)
			room := model.Room{CurrentTrack: song, CurrentProgress: 120}

			res, err := s.Reconcile(context.Background(), room, 0, tt.mode)
			if err != nil {
				t.Fatalf("Reconcile() error = %v", err)
			}
			if res.Seeked != tt.wantSeek {
				t.Fatalf("Seeked = %v, want %v (drift %.2f)", res.Seeked, tt.wantSeek, res.Drift)
			}
			if tt.wantSeek && res.SeekTo != tt.wantSeekTo {
				t.Errorf("SeekTo = %v, want %v", res.SeekTo, tt.wantSeekTo)
			}
		})
	}
}

func TestTrackChangeLoadsAndSeeks(t *testing.T) {
	el, s := newLoaded(t, 10)
	next := &model.Track{ID: "t2", Src: "https://cdn.example/t2.mp3", Duration: 200}
	room := model.Room{CurrentTrack: next, CurrentProgress: 30, IsPlaying: true}

	res, err := s.Reconcile(context.Background(), room, 0, Ambient)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if !res.Loaded || el.Source() != next.Src {
		t.Fatalf("expected load of %s, source is %s", next.Src, el.Source())
	}
	if !res.Seeked || el.Position() != 30 {
		t.Errorf("position = %v, want 30", el.Position())
	}
	if !res.Played || el.Paused() {
		t.Error("element should be playing")
	}
}

func TestPlayPauseFollowsHost(t *testing.T) {
	el, s := newLoaded(t, 50)
	ctx := context.Background()

	if _, err := s.Reconcile(ctx, model.Room{CurrentTrack: song, CurrentProgress: 50, IsPlaying: true}, 0, Ambient); err != nil {
		t.Fatal(err)
	}
	if el.Paused() {
		t.Fatal("expected playing")
	}

	res, err := s.Reconcile(ctx, model.Room{CurrentTrack: song, CurrentProgress: 50}, 0, Ambient)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Paused || !el.Paused() {
		t.Error("expected paused")
	}
}

func TestPlayFailureIsSwallowed(t *testing.T) {
	el, s := newLoaded(t, 0)
	el.RequireUnlock = true

	res, err := s.Reconcile(context.Background(), model.Room{CurrentTrack: song, IsPlaying: true}, 0, Ambient)
	if err != nil {
		t.Fatalf("play rejection should not surface, got %v", err)
	}
	if res.Played {
		t.Error("Played should be false when autoplay is blocked")
	}
}

func TestNoTrackPauses(t *testing.T) {
	el, s := newLoaded(t, 0)
	_ = el.Play(context.Background())

	res, _ := s.Reconcile(context.Background(), model.Room{}, 0, Ambient)
	if !res.Paused || !el.Paused() {
		t.Error("expected element paused when room has no track")
	}
}

func TestLatencyCompensation(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	room := model.Room{CurrentTrack: song, CurrentProgress: 100, IsPlaying: true}

	tests := []struct {
		name   string
		room   model.Room
		sentAt int64
		want   float64
	}{
		{name: "no timestamp", room: room, sentAt: 0, want: 100},
		{name: "three seconds ago", room: room, sentAt: now.Add(-3 * time.Second).UnixMilli(), want: 103},
		{name: "clamped to max", room: room, sentAt: now.Add(-time.Minute).UnixMilli(), want: 110},
		{name: "future timestamp", room: room, sentAt: now.Add(time.Second).UnixMilli(), want: 100},
		{name: "paused ignores elapsed", room: model.Room{CurrentTrack: song, CurrentProgress: 100}, sentAt: now.Add(-3 * time.Second).UnixMilli(), want: 100},
		{name: "clamped to duration", room: model.Room{CurrentTrack: song, CurrentProgress: 239, IsPlaying: true}, sentAt: now.Add(-5 * time.Second).UnixMilli(), want: 240},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TargetPosition(tt.room, tt.sentAt, now, 10*time.Second)
			if got != tt.want {
				t.Errorf("TargetPosition() = %v, want %v", got, tt.want)
			}
		})
	}
}

// gatedElement 第一次加载会阻塞直到放行
type gatedElement struct {
	*VirtualElement
	once    sync.Once
	started chan struct{}
	release chan struct{}
}

func (g *gatedElement) Load(ctx context.Context, src string) error {
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.started)
		<-g.release
	}
	return g.VirtualElement.Load(ctx, src)
}

func TestStaleLoadIsDiscarded(t *testing.T) {
	el := &gatedElement{
		VirtualElement: NewVirtualElement(),
		started:        make(chan struct{}),
		release:        make(chan struct{}),
	}
	s := New(el, nil)
	ctx := context.Background()

	first := &model.Track{Src: "a.mp3", Duration: 100}
	second := &model.Track{Src: "b.mp3", Duration: 100}

	firstDone := make(chan Result, 1)
	go func() {
		res, _ := s.Reconcile(ctx, model.Room{CurrentTrack: first, CurrentProgress: 40, IsPlaying: true}, 0, Ambient)
		firstDone <- res
	}()
	<-el.started

	secondDone := make(chan Result, 1)
	go func() {
		res, _ := s.Reconcile(ctx, model.Room{CurrentTrack: second, CurrentProgress: 5}, 0, Ambient)
		secondDone <- res
	}()
	// 等第二次调用拿到新的代数
	deadline := time.Now().Add(time.Second)
	for s.gen.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	close(el.release)

	res1 := <-firstDone
	if !res1.Stale {
		t.Error("first reconcile should be stale")
	}
	if res1.Played || res1.Seeked {
		t.Error("stale reconcile must not apply position or play state")
	}

	res2 := <-secondDone
	if res2.Stale {
		t.Error("latest reconcile should apply")
	}
	if el.Source() != second.Src {
		t.Errorf("source = %s, want %s", el.Source(), second.Src)
	}
	if !el.Paused() {
		t.Error("latest state is paused")
	}
}

func TestReconcileAtUsesTicketOrder(t *testing.T) {
	el := NewVirtualElement()
	s := New(el, nil)
	ctx := context.Background()

	first := &model.Track{Src: "a.mp3", Duration: 100}
	second := &model.Track{Src: "b.mp3", Duration: 100}

	// 先收到 first 再收到 second，但 second 的协程先运行
	older := s.Begin()
	newer := s.Begin()

	res, err := s.ReconcileAt(ctx, newer, model.Room{CurrentTrack: second, IsPlaying: true}, 0, Ambient)
	if err != nil || res.Stale {
		t.Fatalf("newer reconcile: res = %+v, err = %v", res, err)
	}
	res, err = s.ReconcileAt(ctx, older, model.Room{CurrentTrack: first, CurrentProgress: 40}, 0, Ambient)
	if err != nil {
		t.Fatalf("older reconcile: %v", err)
	}
	if !res.Stale || res.Loaded {
		t.Errorf("older reconcile should be discarded, got %+v", res)
	}
	if el.Source() != second.Src || el.Paused() {
		t.Errorf("element = %s paused=%v, want %s playing", el.Source(), el.Paused(), second.Src)
	}
}

func TestResyncSetsSyncingFlag(t *testing.T) {
	el := &gatedElement{
		VirtualElement: NewVirtualElement(),
		started:        make(chan struct{}),
		release:        make(chan struct{}),
	}
	s := New(el, nil)

	done := make(chan struct{})
	go func() {
		_, _ = s.Resync(context.Background(), model.Room{CurrentTrack: song}, 0)
		close(done)
	}()
	<-el.started
	if !s.Syncing() {
		t.Error("Syncing() should be true while resync is in flight")
	}
	close(el.release)
	<-done
	if s.Syncing() {
		t.Error("Syncing() should be false after resync")
	}
}
