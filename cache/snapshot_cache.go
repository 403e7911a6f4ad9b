package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	snapshotKey = "hangout:directory:snapshot"

	// 快照只是降级用的展示数据，放短一点避免陈旧目录一直活着
	defaultTTL = 6 * time.Hour
)

// RoomEntry 缓存里的一条房间（最小展示字段）
type RoomEntry struct {
	PlanID     uint64 `json:"plan_id"`
	ThreadID   uint64 `json:"thread_id"`
	Title      string `json:"title"`
	CoverImage string `json:"cover_image,omitempty"`
	IsOwner    bool   `json:"is_owner,omitempty"`
}

// SnapshotCache 房间目录快照的 redis 缓存。
// 配置了 RDB 时作为降级链路里排在本地 sqlite 之前的快速路径。
type SnapshotCache struct {
	RDB *redis.Client
	TTL time.Duration
}

func NewSnapshotCache(rdb *redis.Client) *SnapshotCache {
	return &SnapshotCache{RDB: rdb, TTL: defaultTTL}
}

// SaveRooms 整体覆盖写入
func (c *SnapshotCache) SaveRooms(ctx context.Context, rooms []RoomEntry) error {
	if c == nil || c.RDB == nil {
		return errors.New("redis is not configured")
	}
	b, err := json.Marshal(rooms)
	if err != nil {
		return err
	}
	ttl := c.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return c.RDB.Set(ctx, snapshotKey, b, ttl).Err()
}

// LoadRooms 读取快照。缓存未命中返回 (nil, nil)，调用方继续走下一级降级。
func (c *SnapshotCache) LoadRooms(ctx context.Context) ([]RoomEntry, error) {
	if c == nil || c.RDB == nil {
		return nil, errors.New("redis is not configured")
	}
	b, err := c.RDB.Get(ctx, snapshotKey).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rooms []RoomEntry
	if err := json.Unmarshal(b, &rooms); err != nil {
		return nil, err
	}
	return rooms, nil
}
