package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"LiveFM/model"
)

// memoryRoomRepository 进程内实现，用于模拟命令和测试
type memoryRoomRepository struct {
	mu    sync.RWMutex
	rooms map[string]*model.Room
}

// NewMemoryRoomRepository 创建内存房间仓库
func NewMemoryRoomRepository() RoomRepository {
	return &memoryRoomRepository{rooms: make(map[string]*model.Room)}
}

func (r *memoryRoomRepository) Create(ctx context.Context, room *model.Room) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rooms[room.ID]; ok {
		return fmt.Errorf("room %s already exists", room.ID)
	}
	now := time.Now()
	if room.CreatedAt.IsZero() {
		room.CreatedAt = now
	}
	room.UpdatedAt = now
	r.rooms[room.ID] = room.Clone()
	return nil
}

func (r *memoryRoomRepository) GetByID(ctx context.Context, id string) (*model.Room, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room, ok := r.rooms[id]
	if !ok {
		return nil, nil
	}
	return room.Clone(), nil
}

func (r *memoryRoomRepository) ListOpen(ctx context.Context, limit int) ([]*model.Room, error) {
	r.mu.RLock()
	rooms := make([]*model.Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		rooms = append(rooms, room.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(rooms, func(i, j int) bool {
		return rooms[i].CreatedAt.After(rooms[j].CreatedAt)
	})
	if limit > 0 && len(rooms) > limit {
		rooms = rooms[:limit]
	}
	return rooms, nil
}

func (r *memoryRoomRepository) UpdateState(ctx context.Context, room *model.Room) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.rooms[room.ID]
	if !ok {
		return nil
	}
	src := room.Clone()
	stored.CurrentTrack = src.CurrentTrack
	stored.CurrentProgress = src.CurrentProgress
	stored.IsPlaying = src.IsPlaying
	stored.IsMicActive = src.IsMicActive
	stored.Listeners = src.Listeners
	stored.UpdatedAt = time.Now()
	return nil
}

func (r *memoryRoomRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rooms, id)
	return nil
}

func (r *memoryRoomRepository) ExistsByID(ctx context.Context, id string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[id]
	return ok, nil
}
