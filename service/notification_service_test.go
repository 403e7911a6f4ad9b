package service

import (
	"context"
	"fmt"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/SKlv1ain/KU-Hangout-sub000/cons"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func notifAt(id int64, topic string, read bool, at time.Time) NotificationDTO {
	return NotificationDTO{
		ID: id, Title: fmt.Sprintf("n%d", id), Message: "hello",
		Topic: topic, NotificationType: cons.NotifyChatMessage,
		IsRead: read, CreatedAt: at,
	}
}

// newNotifBackend 起一个假的通知后端。
// withCounts=false 时所有变更接口回空对象，逼出本地 delta 兜底路径。
func newNotifBackend(t *testing.T, list listResponse, withCounts bool, counts countsPayload, markReadHits *atomic.Int32) *httptest.Server {
	t.Helper()
	r := gin.New()
	r.GET("/notifications/", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"notifications": list.Notifications,
			"unread_count":  list.UnreadCount,
			"topic_unread":  list.TopicUnread,
		})
	})
	mutation := func(c *gin.Context) {
		if markReadHits != nil {
			markReadHits.Add(1)
		}
		if withCounts {
			c.JSON(200, gin.H{"unread_count": counts.UnreadCount, "topic_unread": counts.TopicUnread})
			return
		}
		c.JSON(200, gin.H{})
	}
	r.PATCH("/notifications/:id/read/", mutation)
	r.POST("/notifications/mark-all-read/", mutation)
	r.DELETE("/notifications/:id/", mutation)
	r.POST("/notifications/clear/", mutation)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func intp(n int) *int { return &n }

// TestRefreshAdoptsServerCounts 刷新整体替换列表并采纳服务端计数
func TestRefreshAdoptsServerCounts(t *testing.T) {
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	list := listResponse{
		Notifications: []NotificationDTO{
			notifAt(1, cons.TopicChat, false, base),
			notifAt(2, cons.TopicPlan, false, base.Add(time.Hour)),
		},
		countsPayload: countsPayload{
			UnreadCount: intp(5),
			TopicUnread: map[string]int{cons.TopicChat: 3, cons.TopicPlan: 2},
		},
	}
	srv := newNotifBackend(t, list, false, countsPayload{}, nil)
	svc := NewNotificationService(&Service{BaseURL: srv.URL, Token: "tok"})

	if err := svc.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	items := svc.Items()
	if len(items) != 2 || items[0].ID != 2 {
		t.Fatalf("items = %+v, want created_at desc", items)
	}
	if svc.TotalUnread() != 5 || svc.TopicUnread(cons.TopicChat) != 3 {
		t.Fatalf("counts: total=%d chat=%d", svc.TotalUnread(), svc.TopicUnread(cons.TopicChat))
	}
	// systemUnread = max(total - chat, 0)，推导值
	if svc.SystemUnread() != 2 {
		t.Fatalf("SystemUnread = %d, want 2", svc.SystemUnread())
	}
}

// TestRefreshFailsLoud 刷新失败上抛，不吞
func TestRefreshFailsLoud(t *testing.T) {
	r := gin.New()
	r.GET("/notifications/", func(c *gin.Context) { c.JSON(500, gin.H{"detail": "boom"}) })
	srv := httptest.NewServer(r)
	defer srv.Close()

	svc := NewNotificationService(&Service{BaseURL: srv.URL})
	if err := svc.Refresh(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
}

// TestMarkAsReadLocalFallback 服务端没回计数：本地按条目 topic 精确 -1
func TestMarkAsReadLocalFallback(t *testing.T) {
	base := time.Now()
	list := listResponse{
		Notifications: []NotificationDTO{notifAt(1, cons.TopicChat, false, base)},
		countsPayload: countsPayload{UnreadCount: intp(3), TopicUnread: map[string]int{cons.TopicChat: 2, cons.TopicPlan: 1}},
	}
	srv := newNotifBackend(t, list, false, countsPayload{}, nil)
	svc := NewNotificationService(&Service{BaseURL: srv.URL})
	if err := svc.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	if err := svc.MarkAsRead(context.Background(), 1); err != nil {
		t.Fatalf("MarkAsRead: %v", err)
	}
	if svc.TotalUnread() != 2 || svc.TopicUnread(cons.TopicChat) != 1 {
		t.Fatalf("counts after fallback: total=%d chat=%d", svc.TotalUnread(), svc.TopicUnread(cons.TopicChat))
	}
	it := svc.Items()[0]
	if !it.IsRead || it.ReadAt == nil {
		t.Fatalf("item not flipped: %+v", it)
	}
}

// TestMarkAsReadServerCounts 服务端回了计数就整体采纳为基准
func TestMarkAsReadServerCounts(t *testing.T) {
	base := time.Now()
	list := listResponse{
		Notifications: []NotificationDTO{notifAt(1, cons.TopicChat, false, base)},
		countsPayload: countsPayload{UnreadCount: intp(3), TopicUnread: map[string]int{cons.TopicChat: 2}},
	}
	// 服务端视角有别的面也在操作，回传的计数和本地 delta 不同
	srv := newNotifBackend(t, list, true, countsPayload{
		UnreadCount: intp(7), TopicUnread: map[string]int{cons.TopicChat: 4},
	}, nil)
	svc := NewNotificationService(&Service{BaseURL: srv.URL})
	if err := svc.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	if err := svc.MarkAsRead(context.Background(), 1); err != nil {
		t.Fatalf("MarkAsRead: %v", err)
	}
	if svc.TotalUnread() != 7 || svc.TopicUnread(cons.TopicChat) != 4 {
		t.Fatalf("server counts must win: total=%d chat=%d", svc.TotalUnread(), svc.TopicUnread(cons.TopicChat))
	}
}

// TestMarkAsReadIdempotent 已读条目再标记：本地闸直接 no-op，不打网络
func TestMarkAsReadIdempotent(t *testing.T) {
	var hits atomic.Int32
	base := time.Now()
	list := listResponse{
		Notifications: []NotificationDTO{notifAt(1, cons.TopicChat, false, base)},
		countsPayload: countsPayload{UnreadCount: intp(1), TopicUnread: map[string]int{cons.TopicChat: 1}},
	}
	srv := newNotifBackend(t, list, false, countsPayload{}, &hits)
	svc := NewNotificationService(&Service{BaseURL: srv.URL})
	if err := svc.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	if err := svc.MarkAsRead(context.Background(), 1); err != nil {
		t.Fatalf("first MarkAsRead: %v", err)
	}
	after := svc.TotalUnread()
	if err := svc.MarkAsRead(context.Background(), 1); err != nil {
		t.Fatalf("second MarkAsRead: %v", err)
	}
	if svc.TotalUnread() != after {
		t.Fatalf("unread changed on repeat: %d -> %d", after, svc.TotalUnread())
	}
	if hits.Load() != 1 {
		t.Fatalf("network calls = %d, want 1", hits.Load())
	}
}

// TestMarkAllAsReadTopicScoped Scenario C: 5 未读 CHAT + 3 未读 PLAN，
// markAll(CHAT) 后 CHAT=0、PLAN=3、total=3（服务端不回计数，走兜底）
func TestMarkAllAsReadTopicScoped(t *testing.T) {
	base := time.Now()
	var items []NotificationDTO
	for i := int64(1); i <= 5; i++ {
		items = append(items, notifAt(i, cons.TopicChat, false, base.Add(time.Duration(i)*time.Minute)))
	}
	for i := int64(6); i <= 8; i++ {
		items = append(items, notifAt(i, cons.TopicPlan, false, base.Add(time.Duration(i)*time.Minute)))
	}
	list := listResponse{
		Notifications: items,
		countsPayload: countsPayload{UnreadCount: intp(8), TopicUnread: map[string]int{cons.TopicChat: 5, cons.TopicPlan: 3}},
	}
	srv := newNotifBackend(t, list, false, countsPayload{}, nil)
	svc := NewNotificationService(&Service{BaseURL: srv.URL})
	if err := svc.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	if err := svc.MarkAllAsRead(context.Background(), cons.TopicChat); err != nil {
		t.Fatalf("MarkAllAsRead: %v", err)
	}
	if svc.TopicUnread(cons.TopicChat) != 0 {
		t.Fatalf("chat unread = %d, want 0", svc.TopicUnread(cons.TopicChat))
	}
	if svc.TopicUnread(cons.TopicPlan) != 3 {
		t.Fatalf("plan unread = %d, want 3", svc.TopicUnread(cons.TopicPlan))
	}
	if svc.TotalUnread() != 3 {
		t.Fatalf("total = %d, want 3", svc.TotalUnread())
	}
	for _, it := range svc.Items() {
		if it.Topic == cons.TopicChat && !it.IsRead {
			t.Fatalf("chat item %d still unread", it.ID)
		}
		if it.Topic == cons.TopicPlan && it.IsRead {
			t.Fatalf("plan item %d must stay unread", it.ID)
		}
	}
}

// TestMutationFailureRollsBack 变更失败：上抛错误且本地状态回滚，未读不丢
func TestMutationFailureRollsBack(t *testing.T) {
	base := time.Now()
	r := gin.New()
	r.GET("/notifications/", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"notifications": []NotificationDTO{notifAt(1, cons.TopicChat, false, base)},
			"unread_count":  1,
			"topic_unread":  map[string]int{cons.TopicChat: 1},
		})
	})
	r.PATCH("/notifications/:id/read/", func(c *gin.Context) { c.JSON(500, gin.H{"detail": "boom"}) })
	srv := httptest.NewServer(r)
	defer srv.Close()

	svc := NewNotificationService(&Service{BaseURL: srv.URL})
	if err := svc.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if err := svc.MarkAsRead(context.Background(), 1); err == nil {
		t.Fatalf("expected error")
	}
	if svc.Items()[0].IsRead {
		t.Fatalf("flip must be rolled back")
	}
	if svc.TotalUnread() != 1 || svc.TopicUnread(cons.TopicChat) != 1 {
		t.Fatalf("counts must be rolled back: total=%d chat=%d", svc.TotalUnread(), svc.TopicUnread(cons.TopicChat))
	}
}

// TestDeleteAndClear 删除单条与按 topic 清空（兜底计数路径）
func TestDeleteAndClear(t *testing.T) {
	base := time.Now()
	list := listResponse{
		Notifications: []NotificationDTO{
			notifAt(1, cons.TopicChat, false, base),
			notifAt(2, cons.TopicChat, true, base.Add(time.Minute)),
			notifAt(3, cons.TopicPlan, false, base.Add(2*time.Minute)),
		},
		countsPayload: countsPayload{UnreadCount: intp(2), TopicUnread: map[string]int{cons.TopicChat: 1, cons.TopicPlan: 1}},
	}
	srv := newNotifBackend(t, list, false, countsPayload{}, nil)
	svc := NewNotificationService(&Service{BaseURL: srv.URL})
	if err := svc.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	if err := svc.DeleteNotification(context.Background(), 1); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(svc.Items()) != 2 || svc.TotalUnread() != 1 || svc.TopicUnread(cons.TopicChat) != 0 {
		t.Fatalf("after delete: items=%d total=%d chat=%d", len(svc.Items()), svc.TotalUnread(), svc.TopicUnread(cons.TopicChat))
	}

	if err := svc.ClearNotifications(context.Background(), cons.TopicChat); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	items := svc.Items()
	if len(items) != 1 || items[0].Topic != cons.TopicPlan {
		t.Fatalf("after clear CHAT: %+v", items)
	}

	if err := svc.ClearNotifications(context.Background(), ""); err != nil {
		t.Fatalf("Clear all: %v", err)
	}
	if len(svc.Items()) != 0 || svc.TotalUnread() != 0 {
		t.Fatalf("after clear all: items=%d total=%d", len(svc.Items()), svc.TotalUnread())
	}
}

// TestHandleRealtimeUpsert 同 id 只存一份；读态迁移计数；窗口截断
func TestHandleRealtimeUpsert(t *testing.T) {
	svc := NewNotificationService(&Service{})
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	// 新未读条目：prepend + 计数 +1
	svc.HandleRealtime(notifAt(1, cons.TopicChat, false, base))
	if svc.TotalUnread() != 1 || len(svc.Items()) != 1 {
		t.Fatalf("after insert: total=%d items=%d", svc.TotalUnread(), len(svc.Items()))
	}

	// 同 id 再来：替换，不追加；未读->未读 不重复计数
	svc.HandleRealtime(notifAt(1, cons.TopicChat, false, base))
	if svc.TotalUnread() != 1 || len(svc.Items()) != 1 {
		t.Fatalf("unread->unread must not double count: total=%d items=%d", svc.TotalUnread(), len(svc.Items()))
	}

	// 未读 -> 已读：计数 -1
	svc.HandleRealtime(notifAt(1, cons.TopicChat, true, base))
	if svc.TotalUnread() != 0 {
		t.Fatalf("unread->read: total=%d, want 0", svc.TotalUnread())
	}

	// 已读 -> 未读：计数 +1
	svc.HandleRealtime(notifAt(1, cons.TopicChat, false, base))
	if svc.TotalUnread() != 1 {
		t.Fatalf("read->unread: total=%d, want 1", svc.TotalUnread())
	}

	// 窗口截断到 25，最新的留下
	for i := int64(2); i <= 40; i++ {
		svc.HandleRealtime(notifAt(i, cons.TopicPlan, true, base.Add(time.Duration(i)*time.Minute)))
	}
	items := svc.Items()
	if len(items) != 25 {
		t.Fatalf("window = %d, want 25", len(items))
	}
	if items[0].ID != 40 {
		t.Fatalf("head = %d, want newest id 40", items[0].ID)
	}
}

// TestHandleRealtimeTopicChange 替换时条目换了 topic：
// 未读要从旧 topic 搬到新 topic，不能留幽灵计数
func TestHandleRealtimeTopicChange(t *testing.T) {
	svc := NewNotificationService(&Service{})
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	svc.HandleRealtime(notifAt(1, cons.TopicChat, false, base))
	svc.HandleRealtime(notifAt(1, cons.TopicPlan, false, base))

	if svc.TopicUnread(cons.TopicChat) != 0 {
		t.Fatalf("chat unread = %d, want 0 after topic change", svc.TopicUnread(cons.TopicChat))
	}
	if svc.TopicUnread(cons.TopicPlan) != 1 {
		t.Fatalf("plan unread = %d, want 1", svc.TopicUnread(cons.TopicPlan))
	}
	if svc.TotalUnread() != 1 {
		t.Fatalf("total = %d, want 1", svc.TotalUnread())
	}

	// 换 topic 的同时翻已读：两边都归零
	svc.HandleRealtime(notifAt(1, cons.TopicChat, true, base))
	if svc.TotalUnread() != 0 || svc.TopicUnread(cons.TopicPlan) != 0 {
		t.Fatalf("after read+topic change: total=%d plan=%d", svc.TotalUnread(), svc.TopicUnread(cons.TopicPlan))
	}
}

// TestRefreshKeepsLocalCountsWhenServerOmits 服务端两个计数字段都缺席：
// total 和分 topic 计数都保留本地值，不能一半采纳一半清空
func TestRefreshKeepsLocalCountsWhenServerOmits(t *testing.T) {
	base := time.Now()
	r := gin.New()
	r.GET("/notifications/", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"notifications": []NotificationDTO{notifAt(1, cons.TopicChat, false, base)},
		})
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	svc := NewNotificationService(&Service{BaseURL: srv.URL})
	svc.HandleRealtime(notifAt(2, cons.TopicChat, false, base))
	svc.HandleRealtime(notifAt(3, cons.TopicPlan, false, base))

	if err := svc.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if svc.TotalUnread() != 2 {
		t.Fatalf("total = %d, want local 2 kept", svc.TotalUnread())
	}
	if svc.TopicUnread(cons.TopicChat) != 1 || svc.TopicUnread(cons.TopicPlan) != 1 {
		t.Fatalf("topic counts must be kept: chat=%d plan=%d",
			svc.TopicUnread(cons.TopicChat), svc.TopicUnread(cons.TopicPlan))
	}
}
