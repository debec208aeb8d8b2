package room

import (
	"context"
	"errors"
	"strings"
	"testing"

	"LiveFM/model"
	"LiveFM/repository"
	"LiveFM/storage"
)

type fakePresence struct {
	users   map[string][]int64
	cleared []string
}

func (p *fakePresence) ActiveUsers(ctx context.Context, roomID string) ([]int64, error) {
	return p.users[roomID], nil
}

func (p *fakePresence) Clear(ctx context.Context, roomID string) error {
	p.cleared = append(p.cleared, roomID)
	delete(p.users, roomID)
	return nil
}

func TestDirectory(t *testing.T) {
	ctx := context.Background()
	blobs := storage.NewMemoryStore("http://blobs.local")
	presence := &fakePresence{users: map[string][]int64{}}
	dir := NewDirectory(repository.NewMemoryRoomRepository(), blobs, presence)
	host := model.Viewer{ID: 7, Name: "dj", Avatar: "http://a.local/7.png"}

	room, err := dir.Create(ctx, host, CreateParams{
		Title:     "封面测试",
		Cover:     strings.NewReader("jpeg-bytes"),
		CoverSize: 10,
		CoverName: "Cover.PNG",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	t.Run("create fills host and cover", func(t *testing.T) {
		if len(room.ID) != 6 {
			t.Errorf("room id = %q", room.ID)
		}
		if room.HostID != 7 || room.HostName != "dj" || room.HostAvatar == "" {
			t.Errorf("host fields = %+v", room)
		}
		want := "http://blobs.local/" + storage.CoverPath(7, room.ID, "Cover.PNG")
		if room.CoverURL != want {
			t.Errorf("cover = %q, want %q", room.CoverURL, want)
		}
	})

	t.Run("listener count excludes host", func(t *testing.T) {
		presence.users[room.ID] = []int64{7, 8, 9}
		got, err := dir.Get(ctx, room.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Listeners != 2 {
			t.Errorf("listeners = %d, want 2", got.Listeners)
		}
		rooms, _ := dir.List(ctx, 10)
		if len(rooms) != 1 || rooms[0].Listeners != 2 {
			t.Errorf("list = %+v", rooms)
		}
	})

	t.Run("only host can end", func(t *testing.T) {
		if err := dir.End(ctx, room.ID, 8); !errors.Is(err, ErrNotHost) {
			t.Errorf("err = %v, want ErrNotHost", err)
		}
		if err := dir.End(ctx, room.ID, 7); err != nil {
			t.Fatalf("end: %v", err)
		}
		if _, err := dir.Get(ctx, room.ID); !errors.Is(err, ErrRoomNotFound) {
			t.Errorf("get after end = %v", err)
		}
		if _, ok := blobs.Get(storage.CoverPath(7, room.ID, "Cover.PNG")); ok {
			t.Error("cover not deleted")
		}
		if len(presence.cleared) != 1 || presence.cleared[0] != room.ID {
			t.Errorf("presence cleared = %v", presence.cleared)
		}
		if err := dir.End(ctx, room.ID, 7); !errors.Is(err, ErrRoomNotFound) {
			t.Errorf("second end = %v", err)
		}
	})
}
