package room

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"strings"
	"time"

	"LiveFM/logger"
	"LiveFM/model"
	"LiveFM/repository"
	"LiveFM/storage"
)

var (
	// ErrNotHost 只有房主可以执行
	ErrNotHost = errors.New("room: not the host")
	// ErrInvalidState 当前状态不允许该操作
	ErrInvalidState = errors.New("room: invalid state")
	// ErrRoomNotFound 房间不存在或已结束
	ErrRoomNotFound = errors.New("room: not found")
	// ErrEmptyTitle 房间标题为空
	ErrEmptyTitle = errors.New("room: title is required")
)

// Presence 房间在线用户
type Presence interface {
	ActiveUsers(ctx context.Context, roomID string) ([]int64, error)
	Clear(ctx context.Context, roomID string) error
}

// CreateParams 创建房间参数
type CreateParams struct {
	Title string

	// Cover 为 nil 表示不上传封面
	Cover     io.Reader
	CoverSize int64
	CoverName string
	CoverType string
	CoverURL  string // 已有的封面地址，Cover 为 nil 时使用
}

// Directory 房间目录：行存储 + 封面存储 + 在线状态
type Directory struct {
	repo     repository.RoomRepository
	blobs    storage.BlobStore
	presence Presence
}

// NewDirectory blobs 与 presence 可以为 nil
func NewDirectory(repo repository.RoomRepository, blobs storage.BlobStore, presence Presence) *Directory {
	return &Directory{
		repo:     repo,
		blobs:    blobs,
		presence: presence,
	}
}

// Create 持久化一个新房间，host 即房主
func (d *Directory) Create(ctx context.Context, host model.Viewer, p CreateParams) (*model.Room, error) {
	title := strings.TrimSpace(p.Title)
	if title == "" {
		return nil, ErrEmptyTitle
	}

	roomID, err := d.generateUniqueRoomID(ctx)
	if err != nil {
		return nil, fmt.Errorf("生成房间ID失败: %w", err)
	}

	coverURL := p.CoverURL
	if p.Cover != nil && d.blobs != nil {
		contentType := p.CoverType
		if contentType == "" {
			contentType = "image/jpeg"
		}
		coverURL, err = d.blobs.Put(ctx, storage.CoverPath(host.ID, roomID, p.CoverName), p.Cover, p.CoverSize, contentType)
		if err != nil {
			return nil, fmt.Errorf("上传封面失败: %w", err)
		}
	}

	now := time.Now()
	room := &model.Room{
		ID:         roomID,
		Title:      title,
		CoverURL:   coverURL,
		HostID:     host.ID,
		HostName:   host.Name,
		HostAvatar: host.Avatar,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := d.repo.Create(ctx, room); err != nil {
		return nil, fmt.Errorf("创建房间失败: %w", err)
	}

	logger.Info("room created",
		logger.String("room", roomID),
		logger.Int64("host", host.ID),
		logger.String("title", title))
	return room, nil
}

// Get 按ID读取最新快照
func (d *Directory) Get(ctx context.Context, id string) (*model.Room, error) {
	room, err := d.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("获取房间失败: %w", err)
	}
	if room == nil {
		return nil, ErrRoomNotFound
	}
	room.Listeners = d.ListenerCount(ctx, room)
	return room, nil
}

// List 列出当前开播的房间
func (d *Directory) List(ctx context.Context, limit int) ([]*model.Room, error) {
	rooms, err := d.repo.ListOpen(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("获取房间列表失败: %w", err)
	}
	for _, room := range rooms {
		room.Listeners = d.ListenerCount(ctx, room)
	}
	return rooms, nil
}

// End 房主结束直播，删除记录与封面
func (d *Directory) End(ctx context.Context, id string, hostID int64) error {
	room, err := d.repo.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("获取房间失败: %w", err)
	}
	if room == nil {
		return ErrRoomNotFound
	}
	if !room.IsHost(hostID) {
		return ErrNotHost
	}

	if err := d.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("删除房间失败: %w", err)
	}

	if d.blobs != nil && room.CoverURL != "" {
		if err := d.blobs.DeletePrefix(ctx, storage.CoverPrefix(room.HostID, room.ID)); err != nil {
			logger.Warn("failed to delete room cover", logger.String("room", id), logger.ErrorField(err))
		}
	}
	if d.presence != nil {
		if err := d.presence.Clear(ctx, id); err != nil {
			logger.Warn("failed to clear room presence", logger.String("room", id), logger.ErrorField(err))
		}
	}

	logger.Info("room ended", logger.String("room", id), logger.Int64("host", hostID))
	return nil
}

// SaveState 持久化播放状态，失败只记录日志
func (d *Directory) SaveState(ctx context.Context, room *model.Room) {
	if err := d.repo.UpdateState(ctx, room); err != nil {
		logger.Warn("failed to save room state",
			logger.String("room", room.ID),
			logger.ErrorField(err))
	}
}

// ListenerCount 在线听众数，不含房主；没有在线状态时返回记录中的值
func (d *Directory) ListenerCount(ctx context.Context, room *model.Room) int {
	if d.presence == nil {
		return room.Listeners
	}
	users, err := d.presence.ActiveUsers(ctx, room.ID)
	if err != nil {
		logger.Warn("failed to read room presence",
			logger.String("room", room.ID),
			logger.ErrorField(err))
		return room.Listeners
	}
	n := 0
	for _, id := range users {
		if id != room.HostID {
			n++
		}
	}
	return n
}

// generateUniqueRoomID 生成唯一的6位数字房间ID
func (d *Directory) generateUniqueRoomID(ctx context.Context) (string, error) {
	for i := 0; i < 100; i++ { // 最多尝试100次
		id := fmt.Sprintf("%06d", rand.Intn(900000)+100000)

		exists, err := d.repo.ExistsByID(ctx, id)
		if err != nil {
			return "", err
		}
		if !exists {
			return id, nil
		}
	}
	return "", fmt.Errorf("无法生成唯一房间ID")
}
