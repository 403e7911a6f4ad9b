package hangout_sdk

import (
	"errors"

	"github.com/SKlv1ain/KU-Hangout-sub000/models"
)

// AutoMigrate 初始化本地快照库的表结构。
// 只在配置了 SnapshotDB 时需要调用，一般在应用启动时跑一次。
func (c *ChatEngine) AutoMigrate() error {
	if c.config.SnapshotDB == nil {
		return errors.New("snapshot db is not configured")
	}
	return c.config.SnapshotDB.AutoMigrate(&models.RoomSnapshot{})
}
