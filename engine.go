package hangout_sdk

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"

	"github.com/SKlv1ain/KU-Hangout-sub000/cons"
	"github.com/SKlv1ain/KU-Hangout-sub000/message"
	"github.com/SKlv1ain/KU-Hangout-sub000/service"
)

// ChatEngine 消息/通知核心的入口：持有目录与通知聚合器，
// 并负责把 socket 事件流接到对应 service 上。
// 每个会话一个实例；各 UI 面（铃铛、dock、消息页）只读订阅 service 状态，
// 变更一律通过 service 的方法走，计数只有 service 自己写。
type ChatEngine struct {
	config *Config

	NotificationService *service.NotificationService
	DirectoryService    *service.DirectoryService

	mu           sync.Mutex
	notifySocket *RoomSocket
}

var (
	Instance *ChatEngine
	once     sync.Once
)

// NewEngine 创建实例
// 使用选项模式传入配置，Option回调
func NewEngine(opts ...Option) *ChatEngine {
	once.Do(func() {
		c := &Config{}
		for _, opt := range opts {
			opt(c)
		}

		Instance = &ChatEngine{config: c}

		base := &service.Service{
			HTTP:       c.HTTP,
			BaseURL:    c.BaseURL,
			Token:      c.Token,
			Debug:      c.Service.Debug,
			Session:    c.Session,
			RDB:        c.RDB,
			SnapshotDB: c.SnapshotDB,
		}
		// 房间 socket 工厂注入，避免 service 层反向依赖包根
		base.DialRoom = Instance.dialRoom

		Instance.NotificationService = service.NewNotificationService(base)
		Instance.DirectoryService = service.NewDirectoryService(base)
	})
	return Instance
}

// Session 当前登录用户
func (c *ChatEngine) Session() message.Session {
	return c.config.Session
}

// dialRoom 建立某个房间的 socket，并把事件流转给目录。
// 转发协程随 socket Close 自然退出（订阅通道被关闭）。
func (c *ChatEngine) dialRoom(planID uint64) service.RoomConn {
	s := NewRoomSocket(c.wsURL(fmt.Sprintf("/chat/%d/", planID)), c.authHeader())
	ch, _ := s.Subscribe()
	go func() {
		for ev := range ch {
			if ev.Kind == EventMessage {
				c.DirectoryService.HandleFrame(planID, ev.Raw)
			}
		}
	}()
	s.Connect()
	return s
}

// ConnectNotifications 建立全局通知推送连接（与房间聊天连接相互独立）。
// 幂等：已有连接时复用。
func (c *ChatEngine) ConnectNotifications() *RoomSocket {
	c.mu.Lock()
	if c.notifySocket != nil {
		s := c.notifySocket
		c.mu.Unlock()
		return s
	}
	s := NewRoomSocket(c.wsURL("/notifications/"), c.authHeader())
	c.notifySocket = s
	c.mu.Unlock()

	ch, _ := s.Subscribe()
	go c.runNotifyLoop(ch)
	s.Connect()
	return s
}

// runNotifyLoop 通知推送帧 -> 聚合器 upsert；
// CHAT topic 的推送同时用来维护未选中房间的预览/未读
// （选中房间有自己的聊天连接，不在这里重复投递）。
func (c *ChatEngine) runNotifyLoop(ch <-chan Event) {
	for ev := range ch {
		if ev.Kind != EventMessage {
			continue
		}
		var probe struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(ev.Raw, &probe); err != nil || probe.Type != cons.FrameNotification {
			continue
		}
		var item service.NotificationDTO
		if err := json.Unmarshal(ev.Raw, &item); err != nil {
			log.Printf("notify: bad push payload: %v", err)
			continue
		}
		c.NotificationService.HandleRealtime(item)

		if item.Topic == cons.TopicChat && item.Chat != nil &&
			item.Chat.PlanID != c.DirectoryService.ActivePlan() {
			c.DirectoryService.ApplyIncoming(item.Chat.PlanID, message.ChatMessage{
				SenderUsername: item.Chat.Sender,
				Text:           item.Chat.Preview,
				Timestamp:      item.CreatedAt,
			})
		}
	}
}

func (c *ChatEngine) wsURL(path string) string {
	return strings.TrimRight(c.config.WsBaseURL, "/") + path
}

func (c *ChatEngine) authHeader() http.Header {
	if c.config.Token == "" {
		return nil
	}
	h := http.Header{}
	h.Set("Authorization", "Bearer "+c.config.Token)
	return h
}

// Close 确定性释放：通知连接、当前房间连接
func (c *ChatEngine) Close() {
	c.mu.Lock()
	s := c.notifySocket
	c.notifySocket = nil
	c.mu.Unlock()
	if s != nil {
		s.Close()
	}
	c.DirectoryService.Close()
}
