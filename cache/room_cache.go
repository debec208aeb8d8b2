package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	presenceKey    = "livefm:room:%s:presence:%d" // String: 用户心跳，带过期时间
	presenceSetKey = "livefm:room:%s:online"      // Set: 房间在线用户集合
	presenceSetTTL = 24 * time.Hour
	presenceTTL    = 90 * time.Second // 略大于两个 WebSocket ping 周期
)

// RoomCache 房间在线状态
// 每个用户一个带 TTL 的心跳 key，集合只用于枚举，读取时顺带清理过期成员
type RoomCache struct {
	client *redis.Client
}

// NewRoomCache client 为 nil 时使用全局连接
func NewRoomCache(client *redis.Client) *RoomCache {
	if client == nil {
		client = RedisClient
	}
	return &RoomCache{client: client}
}

// Touch 刷新用户心跳
func (c *RoomCache) Touch(ctx context.Context, roomID string, userID int64) error {
	if c.client == nil {
		return fmt.Errorf("Redis client not initialized")
	}

	setKey := fmt.Sprintf(presenceSetKey, roomID)
	pipe := c.client.Pipeline()
	pipe.Set(ctx, fmt.Sprintf(presenceKey, roomID, userID), time.Now().UnixMilli(), presenceTTL)
	pipe.SAdd(ctx, setKey, userID)
	pipe.Expire(ctx, setKey, presenceSetTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Remove 用户离开房间
func (c *RoomCache) Remove(ctx context.Context, roomID string, userID int64) error {
	if c.client == nil {
		return fmt.Errorf("Redis client not initialized")
	}

	pipe := c.client.Pipeline()
	pipe.Del(ctx, fmt.Sprintf(presenceKey, roomID, userID))
	pipe.SRem(ctx, fmt.Sprintf(presenceSetKey, roomID), userID)
	_, err := pipe.Exec(ctx)
	return err
}

// ActiveUsers 心跳仍有效的用户
func (c *RoomCache) ActiveUsers(ctx context.Context, roomID string) ([]int64, error) {
	if c.client == nil {
		return nil, fmt.Errorf("Redis client not initialized")
	}

	setKey := fmt.Sprintf(presenceSetKey, roomID)
	members, err := c.client.SMembers(ctx, setKey).Result()
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return []int64{}, nil
	}

	ids := make([]int64, 0, len(members))
	keys := make([]string, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
		keys = append(keys, fmt.Sprintf(presenceKey, roomID, id))
	}

	// 一次 pipeline 检查所有心跳
	pipe := c.client.Pipeline()
	checks := make([]*redis.IntCmd, len(keys))
	for i, k := range keys {
		checks[i] = pipe.Exists(ctx, k)
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	active := make([]int64, 0, len(ids))
	expired := make([]interface{}, 0)
	for i, cmd := range checks {
		if cmd.Val() > 0 {
			active = append(active, ids[i])
		} else {
			expired = append(expired, ids[i])
		}
	}
	if len(expired) > 0 {
		c.client.SRem(ctx, setKey, expired...)
	}
	return active, nil
}

// Clear 房间结束时清理在线集合
func (c *RoomCache) Clear(ctx context.Context, roomID string) error {
	if c.client == nil {
		return fmt.Errorf("Redis client not initialized")
	}

	setKey := fmt.Sprintf(presenceSetKey, roomID)
	members, err := c.client.SMembers(ctx, setKey).Result()
	if err != nil {
		return err
	}
	keys := []string{setKey}
	for _, m := range members {
		if id, err := strconv.ParseInt(m, 10, 64); err == nil {
			keys = append(keys, fmt.Sprintf(presenceKey, roomID, id))
		}
	}
	return c.client.Del(ctx, keys...).Err()
}
