package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	hangout_sdk "github.com/SKlv1ain/KU-Hangout-sub000"
	"github.com/SKlv1ain/KU-Hangout-sub000/config"
	"github.com/SKlv1ain/KU-Hangout-sub000/message"
)

const addr = "127.0.0.1:8089"

var wallClock = time.FixedZone("UTC+7", 7*60*60)

// 示例：起一个最小的假 KU-Hangout 后端（gin + gorilla），
// 然后用 SDK 连上去走一遍目录 -> 选房间 -> 历史 -> 发消息 -> 通知的完整链路。
func main() {
	// 1. 假后端
	go runMockBackend()
	time.Sleep(300 * time.Millisecond)

	// 2. 本地快照库（目录离线降级用）
	cfg := config.Load()
	db, err := config.OpenSnapshotDB(cfg.SnapshotPath)
	if err != nil {
		log.Fatal("打开快照库失败:", err)
	}

	// 3. 初始化引擎（单例模式，全局只需调用一次）
	engine := hangout_sdk.NewEngine(
		hangout_sdk.WithBaseURL("http://"+addr),
		hangout_sdk.WithWsBaseURL("ws://"+addr+"/ws"),
		hangout_sdk.WithToken("demo-token"),
		hangout_sdk.WithSession(message.Session{UserID: 7, Username: "me", DisplayName: "Me"}),
		hangout_sdk.WithSnapshotDB(db),
		hangout_sdk.WithServiceDebug(true),
	)
	if err := engine.AutoMigrate(); err != nil {
		log.Fatal("快照库迁移失败:", err)
	}
	defer engine.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// 4. 通知：REST 快照 + 实时推送
	engine.ConnectNotifications()
	if err := engine.NotificationService.Refresh(ctx); err != nil {
		log.Fatal("拉取通知失败:", err)
	}
	fmt.Printf("未读总数 %d（聊天 %d / 其他 %d）\n",
		engine.NotificationService.TotalUnread(),
		engine.NotificationService.TopicUnread("CHAT"),
		engine.NotificationService.SystemUnread())

	// 5. 目录与房间
	if err := engine.DirectoryService.LoadThreads(ctx); err != nil {
		log.Fatal("拉取目录失败:", err)
	}
	for _, r := range engine.DirectoryService.Rooms() {
		fmt.Printf("房间 #%d %s 未读 %d 最后一条: %s\n", r.PlanID, r.Title, r.UnreadCount, r.LastMessage)
	}

	if err := engine.DirectoryService.SelectRoom(1); err != nil {
		log.Fatal("进入房间失败:", err)
	}
	time.Sleep(500 * time.Millisecond) // 等历史快照帧

	for _, g := range engine.DirectoryService.GroupedMessages() {
		label := ""
		if g.ShowSenderLabel {
			label = g.SenderUsername + ": "
		}
		fmt.Printf("  %s%s\n", label, g.Text)
	}

	if ok := engine.DirectoryService.SendMessage("hello from the sdk"); !ok {
		fmt.Println("未连接，发送失败")
	}
	time.Sleep(500 * time.Millisecond) // 等回显
	fmt.Printf("当前房间消息数: %d\n", len(engine.DirectoryService.Messages()))

	if err := engine.DirectoryService.AckRead(ctx); err != nil {
		log.Println("已读上报失败:", err)
	}
}

func runMockBackend() {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	r.GET("/chat/threads/", func(c *gin.Context) {
		c.JSON(200, gin.H{"threads": []gin.H{
			{"plan_id": 1, "thread_id": 10, "title": "Friday boardgames",
				"last_message": "bring your decks", "last_message_sender": "bob",
				"last_message_time": time.Now().In(wallClock).Format("2006-01-02 15:04:05"),
				"unread_count": 1, "is_owner": true},
			{"plan_id": 2, "thread_id": 20, "title": "Sunday picnic"},
		}})
	})

	r.GET("/notifications/", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"notifications": []gin.H{
				{"id": 1, "title": "New message", "message": "bob: bring your decks",
					"topic": "CHAT", "notification_type": "chat.message",
					"is_read": false, "created_at": time.Now().UTC(),
					"metadata": gin.H{"plan_id": 1, "thread_id": 10, "sender": "bob", "preview": "bring your decks"}},
			},
			"unread_count": 2,
			"topic_unread": gin.H{"CHAT": 1, "PLAN": 1},
		})
	})
	r.POST("/chat/threads/:id/read/", func(c *gin.Context) { c.JSON(200, gin.H{}) })

	r.GET("/ws/chat/:plan/", func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		history := gin.H{"type": "chat_history", "messages": []gin.H{
			{"message_id": 1, "user": "bob", "user_id": 2, "message": "anyone up for boardgames?",
				"timestamp": time.Now().In(wallClock).Add(-time.Hour).Format("2006-01-02 15:04:05")},
			{"message_id": 2, "user": "bob", "user_id": 2, "message": "bring your decks",
				"timestamp": time.Now().In(wallClock).Add(-time.Hour).Format("2006-01-02 15:04:05")},
		}}
		if err := conn.WriteJSON(history); err != nil {
			return
		}

		// 收到什么就按 new_message 回显
		for i := 3; ; i++ {
			var req message.SendReq
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			_ = conn.WriteJSON(gin.H{
				"type": "new_message", "message_id": i,
				"user": "me", "user_id": 7, "message": req.Message,
				"timestamp": time.Now().In(wallClock).Format("2006-01-02 15:04:05"),
			})
		}
	})

	r.GET("/ws/notifications/", func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_ = conn.WriteJSON(gin.H{
			"type": "notification", "id": 2,
			"title": "New message", "message": "eve: see you at the park",
			"topic": "CHAT", "notification_type": "chat.message",
			"is_read": false, "created_at": time.Now().UTC(),
			"metadata": gin.H{"plan_id": 2, "thread_id": 20, "sender": "eve", "preview": "see you at the park"},
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	if err := r.Run(addr); err != nil {
		log.Fatal("mock backend:", err)
	}
}
