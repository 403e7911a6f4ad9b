package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	prefix = "hangout_"
)

// RoomSnapshot 房间目录的设备本地快照（目录接口拉取失败时的降级数据源）。
// 只存标题/封面等最小展示字段，不存消息；永远不是权威数据。
type RoomSnapshot struct {
	ID         uint64 `gorm:"primarykey"`
	SnapshotID string `gorm:"size:36;uniqueIndex;not null"` // 本地生成的快照 ID
	PlanID     uint64 `gorm:"uniqueIndex;not null"`         // 计划 ID
	ThreadID   uint64 `gorm:"index"`                        // 聊天线程 ID
	Title      string `gorm:"size:200"`                     // 计划标题
	CoverImage string `gorm:"size:500"`                     // 封面图
	IsOwner    bool   `gorm:"default:false"`                // 是否计划发起人
	Extra      datatypes.JSON                               // 预留展示扩展字段
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (RoomSnapshot) TableName() string {
	return prefix + "room_snapshot"
}

// BeforeCreate 自动生成 SnapshotID (UUID)
func (s *RoomSnapshot) BeforeCreate(tx *gorm.DB) error {
	if s.SnapshotID == "" {
		s.SnapshotID = uuid.New().String()
	}
	return nil
}
