package models

import (
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newTestSnapshotDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&RoomSnapshot{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// TestSnapshotDAOSaveLoad 保存、读取、整体替换
func TestSnapshotDAOSaveLoad(t *testing.T) {
	dao := NewSnapshotDAO(newTestSnapshotDB(t))

	err := dao.SaveRooms([]RoomSnapshot{
		{PlanID: 2, ThreadID: 20, Title: "Picnic", CoverImage: "covers/picnic.png"},
		{PlanID: 1, ThreadID: 10, Title: "Boardgames", IsOwner: true},
	})
	if err != nil {
		t.Fatalf("SaveRooms: %v", err)
	}

	rooms, err := dao.LoadRooms()
	if err != nil {
		t.Fatalf("LoadRooms: %v", err)
	}
	if len(rooms) != 2 || rooms[0].PlanID != 1 || rooms[1].PlanID != 2 {
		t.Fatalf("rooms = %+v, want plan 1 then 2", rooms)
	}
	if rooms[0].SnapshotID == "" {
		t.Fatalf("SnapshotID not generated on create")
	}

	// 快照语义：整体替换
	if err := dao.SaveRooms([]RoomSnapshot{{PlanID: 3, Title: "Movie night"}}); err != nil {
		t.Fatalf("SaveRooms replace: %v", err)
	}
	rooms, err = dao.LoadRooms()
	if err != nil {
		t.Fatalf("LoadRooms after replace: %v", err)
	}
	if len(rooms) != 1 || rooms[0].PlanID != 3 {
		t.Fatalf("rooms = %+v, want only plan 3", rooms)
	}
}

// TestSnapshotDAOUnconfigured 未配置本地库时报错而不是 panic
func TestSnapshotDAOUnconfigured(t *testing.T) {
	var dao *SnapshotDAO
	if err := dao.SaveRooms(nil); err == nil {
		t.Fatalf("expected error on nil dao")
	}
	if _, err := dao.LoadRooms(); err == nil {
		t.Fatalf("expected error on nil dao")
	}
}
