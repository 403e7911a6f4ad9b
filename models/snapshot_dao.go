package models

import (
	"errors"

	"gorm.io/gorm"
)

// 快照条数上限。目录快照只服务降级展示，没必要留太多。
const maxSnapshotRooms = 100

// SnapshotDAO 房间快照读写
type SnapshotDAO struct {
	DB *gorm.DB
}

func NewSnapshotDAO(db *gorm.DB) *SnapshotDAO {
	return &SnapshotDAO{DB: db}
}

// SaveRooms 整体替换快照（快照语义：以最近一次成功拉取为准）
func (d *SnapshotDAO) SaveRooms(rooms []RoomSnapshot) error {
	if d == nil || d.DB == nil {
		return errors.New("snapshot db is not configured")
	}
	if len(rooms) > maxSnapshotRooms {
		rooms = rooms[:maxSnapshotRooms]
	}
	return d.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&RoomSnapshot{}).Error; err != nil {
			return err
		}
		if len(rooms) == 0 {
			return nil
		}
		return tx.Create(&rooms).Error
	})
}

// LoadRooms 读取快照，按 plan_id 稳定排序
func (d *SnapshotDAO) LoadRooms() ([]RoomSnapshot, error) {
	if d == nil || d.DB == nil {
		return nil, errors.New("snapshot db is not configured")
	}
	var rooms []RoomSnapshot
	if err := d.DB.Order("plan_id asc").Limit(maxSnapshotRooms).Find(&rooms).Error; err != nil {
		return nil, err
	}
	return rooms, nil
}
