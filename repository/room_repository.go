package repository

import (
	"context"
	"errors"

	"LiveFM/model"

	"gorm.io/gorm"
)

// RoomRepository 房间行存储接口
type RoomRepository interface {
	Create(ctx context.Context, room *model.Room) error
	// GetByID 不存在时返回 nil, nil
	GetByID(ctx context.Context, id string) (*model.Room, error)
	// ListOpen 按创建时间倒序列出所有仍存在的房间，limit <= 0 表示不限制
	ListOpen(ctx context.Context, limit int) ([]*model.Room, error)
	// UpdateState 只写播放相关字段
	UpdateState(ctx context.Context, room *model.Room) error
	Delete(ctx context.Context, id string) error
	ExistsByID(ctx context.Context, id string) (bool, error)
}

// gormRoomRepository GORM 实现
type gormRoomRepository struct {
	db *gorm.DB
}

// NewGormRoomRepository 创建 GORM 房间仓库
func NewGormRoomRepository(db *gorm.DB) RoomRepository {
	return &gormRoomRepository{db: db}
}

// Create 创建房间
func (r *gormRoomRepository) Create(ctx context.Context, room *model.Room) error {
	return r.db.WithContext(ctx).Create(room).Error
}

// GetByID 根据ID获取房间
func (r *gormRoomRepository) GetByID(ctx context.Context, id string) (*model.Room, error) {
	var room model.Room
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&room).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &room, nil
}

// ListOpen 列出房间
func (r *gormRoomRepository) ListOpen(ctx context.Context, limit int) ([]*model.Room, error) {
	var rooms []*model.Room
	q := r.db.WithContext(ctx).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rooms).Error; err != nil {
		return nil, err
	}
	return rooms, nil
}

// UpdateState 更新播放状态
func (r *gormRoomRepository) UpdateState(ctx context.Context, room *model.Room) error {
	return r.db.WithContext(ctx).Model(&model.Room{ID: room.ID}).
		Select("current_track", "current_progress", "is_playing", "is_mic_active", "listeners").
		Updates(room).Error
}

// Delete 删除房间记录
func (r *gormRoomRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Room{}).Error
}

// ExistsByID 检查房间ID是否存在
func (r *gormRoomRepository) ExistsByID(ctx context.Context, id string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Room{}).
		Where("id = ?", id).
		Count(&count).Error
	return count > 0, err
}
