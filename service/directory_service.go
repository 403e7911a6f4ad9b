package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/SKlv1ain/KU-Hangout-sub000/cache"
	"github.com/SKlv1ain/KU-Hangout-sub000/cons"
	"github.com/SKlv1ain/KU-Hangout-sub000/message"
	"github.com/SKlv1ain/KU-Hangout-sub000/models"
)

// ChatRoom 目录里的一个房间（计划维度的聊天线程）
type ChatRoom struct {
	PlanID            uint64
	ThreadID          uint64
	Title             string
	CoverImage        string
	LastMessage       string
	LastMessageSender string
	LastMessageTime   time.Time
	UnreadCount       int
	IsOwner           bool
}

// threadDTO GET /chat/threads/ 的条目
type threadDTO struct {
	PlanID            uint64 `json:"plan_id"`
	ThreadID          uint64 `json:"thread_id"`
	Title             string `json:"title"`
	CoverImage        string `json:"cover_image,omitempty"`
	LastMessage       string `json:"last_message,omitempty"`
	LastMessageSender string `json:"last_message_sender,omitempty"`
	LastMessageTime   string `json:"last_message_time,omitempty"` // 墙钟格式同聊天帧
	UnreadCount       int    `json:"unread_count"`
	IsOwner           bool   `json:"is_owner"`
}

type threadsResponse struct {
	Threads []threadDTO `json:"threads"`
}

// DirectoryService 房间目录：维护参与的房间集合、最后一条消息预览、
// 按活跃时间排序；同时持有当前选中房间的 socket 与规范化消息列表。
// socket 建立后预览只靠本地观察到的实时事件维护，不再轮询。
type DirectoryService struct {
	*Service

	mu         sync.Mutex
	rooms      map[uint64]*ChatRoom
	activePlan uint64
	conn       RoomConn
	msgs       []message.ChatMessage
	ackBusy    bool

	changed *subscribers
}

func NewDirectoryService(s *Service) *DirectoryService {
	return &DirectoryService{
		Service: s,
		rooms:   make(map[uint64]*ChatRoom),
		changed: newSubscribers(),
	}
}

// Subscribe 订阅目录/消息状态变更脉冲
func (s *DirectoryService) Subscribe() (<-chan struct{}, func()) {
	return s.changed.subscribe()
}

// LoadThreads 拉取房间目录。成功后尽力写快照（redis + 本地库，失败只打日志）；
// 失败时回填最近一次快照（只有标题/封面），并把错误上抛给 UI——
// 目录降级展示而不是消失，但失败本身不能被吞。
func (s *DirectoryService) LoadThreads(ctx context.Context) error {
	var resp threadsResponse
	err := s.doJSON(ctx, http.MethodGet, "/chat/threads/", nil, &resp)
	if err != nil {
		s.restoreFromSnapshot(ctx)
		return err
	}

	s.mu.Lock()
	fresh := make(map[uint64]*ChatRoom, len(resp.Threads))
	for _, t := range resp.Threads {
		r := &ChatRoom{
			PlanID:            t.PlanID,
			ThreadID:          t.ThreadID,
			Title:             t.Title,
			CoverImage:        t.CoverImage,
			LastMessage:       t.LastMessage,
			LastMessageSender: t.LastMessageSender,
			UnreadCount:       t.UnreadCount,
			IsOwner:           t.IsOwner,
		}
		if t.LastMessageTime != "" {
			r.LastMessageTime = message.ParseWireTime(t.LastMessageTime)
		}
		fresh[t.PlanID] = r
	}
	s.rooms = fresh
	s.mu.Unlock()
	s.changed.notify()

	s.persistSnapshot(ctx, resp.Threads)
	return nil
}

// persistSnapshot 快照写入是 best-effort：任何失败只打日志
func (s *DirectoryService) persistSnapshot(ctx context.Context, threads []threadDTO) {
	entries := make([]cache.RoomEntry, 0, len(threads))
	rows := make([]models.RoomSnapshot, 0, len(threads))
	for _, t := range threads {
		entries = append(entries, cache.RoomEntry{
			PlanID: t.PlanID, ThreadID: t.ThreadID,
			Title: t.Title, CoverImage: t.CoverImage, IsOwner: t.IsOwner,
		})
		rows = append(rows, models.RoomSnapshot{
			PlanID: t.PlanID, ThreadID: t.ThreadID,
			Title: t.Title, CoverImage: t.CoverImage, IsOwner: t.IsOwner,
		})
	}
	if s.RDB != nil {
		if err := cache.NewSnapshotCache(s.RDB).SaveRooms(ctx, entries); err != nil {
			log.Printf("directory: redis snapshot save failed: %v", err)
		}
	}
	if s.SnapshotDB != nil {
		if err := models.NewSnapshotDAO(s.SnapshotDB).SaveRooms(rows); err != nil {
			log.Printf("directory: local snapshot save failed: %v", err)
		}
	}
}

// restoreFromSnapshot 降级链路：redis -> 本地库 -> 空目录
func (s *DirectoryService) restoreFromSnapshot(ctx context.Context) {
	if s.RDB != nil {
		if entries, err := cache.NewSnapshotCache(s.RDB).LoadRooms(ctx); err == nil && len(entries) > 0 {
			s.mu.Lock()
			s.rooms = make(map[uint64]*ChatRoom, len(entries))
			for _, e := range entries {
				s.rooms[e.PlanID] = &ChatRoom{
					PlanID: e.PlanID, ThreadID: e.ThreadID,
					Title: e.Title, CoverImage: e.CoverImage, IsOwner: e.IsOwner,
				}
			}
			s.mu.Unlock()
			s.changed.notify()
			return
		}
	}
	if s.SnapshotDB != nil {
		if rows, err := models.NewSnapshotDAO(s.SnapshotDB).LoadRooms(); err == nil && len(rows) > 0 {
			s.mu.Lock()
			s.rooms = make(map[uint64]*ChatRoom, len(rows))
			for _, r := range rows {
				s.rooms[r.PlanID] = &ChatRoom{
					PlanID: r.PlanID, ThreadID: r.ThreadID,
					Title: r.Title, CoverImage: r.CoverImage, IsOwner: r.IsOwner,
				}
			}
			s.mu.Unlock()
			s.changed.notify()
		}
	}
}

// SelectRoom 切换选中房间：先关旧连接再开新连接，任一时刻至多一条活跃连接。
// 选中即视为已读，未读清零。
func (s *DirectoryService) SelectRoom(planID uint64) error {
	if s.DialRoom == nil {
		return fmt.Errorf("directory: no socket factory configured")
	}

	s.mu.Lock()
	prev := s.conn
	s.conn = nil
	s.activePlan = planID
	s.msgs = nil
	s.ackBusy = false
	if r, ok := s.rooms[planID]; ok {
		r.UnreadCount = 0
	}
	s.mu.Unlock()

	if prev != nil {
		prev.Close()
	}

	conn := s.DialRoom(planID)
	s.mu.Lock()
	// 等待拨号期间用户又切了房间：新连接立刻作废
	if s.activePlan != planID {
		s.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return nil
	}
	s.conn = conn
	s.mu.Unlock()
	s.changed.notify()
	return nil
}

// ActivePlan 当前选中的房间
func (s *DirectoryService) ActivePlan() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activePlan
}

// IsConnected 当前房间 socket 是否可发送
func (s *DirectoryService) IsConnected() bool {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	return conn != nil && conn.IsConnected()
}

// SendMessage 发消息。未连接同步返回 false，列表不动、不发网络请求。
func (s *DirectoryService) SendMessage(text string) bool {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return false
	}
	return conn.Send(text)
}

// HandleFrame 处理当前房间 socket 的一帧。planID 不等于选中房间时整帧丢弃
// （切换后旧连接的残留事件不允许再改状态）。
func (s *DirectoryService) HandleFrame(planID uint64, raw []byte) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		log.Printf("directory: bad frame: %v", err)
		return
	}

	switch probe.Type {
	case cons.FrameChatHistory:
		var frame message.HistoryFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			log.Printf("directory: bad history frame: %v", err)
			return
		}
		s.mu.Lock()
		if s.activePlan != planID {
			s.mu.Unlock()
			return
		}
		s.msgs = message.NormalizeHistory(frame.Messages, s.Session)
		s.mu.Unlock()
		s.changed.notify()

	case cons.FrameNewMessage:
		var frame message.NewMessageFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			log.Printf("directory: bad message frame: %v", err)
			return
		}
		s.ApplyIncoming(planID, message.NormalizeIncoming(frame, s.Session))
	}
}

// ApplyIncoming 一条新消息落到某房间：
// 选中房间追加到消息列表（未读不动）；未选中房间未读 +1；
// 两种情况都更新预览并按活跃时间重排。
func (s *DirectoryService) ApplyIncoming(planID uint64, msg message.ChatMessage) {
	s.mu.Lock()
	if planID == s.activePlan && s.activePlan != 0 {
		s.msgs = append(s.msgs, msg)
	} else if r, ok := s.rooms[planID]; ok && !msg.IsOwn {
		r.UnreadCount++
	}
	if r, ok := s.rooms[planID]; ok {
		r.LastMessage = msg.Text
		r.LastMessageSender = msg.SenderUsername
		r.LastMessageTime = msg.Timestamp
	}
	s.mu.Unlock()
	s.changed.notify()
}

// Rooms 目录副本，按最后活跃时间倒序
func (s *DirectoryService) Rooms() []ChatRoom {
	s.mu.Lock()
	out := make([]ChatRoom, 0, len(s.rooms))
	for _, r := range s.rooms {
		out = append(out, *r)
	}
	s.mu.Unlock()
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].LastMessageTime.Equal(out[j].LastMessageTime) {
			return out[i].LastMessageTime.After(out[j].LastMessageTime)
		}
		return out[i].PlanID < out[j].PlanID
	})
	return out
}

// Messages 当前房间规范化消息列表的副本
func (s *DirectoryService) Messages() []message.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]message.ChatMessage, len(s.msgs))
	copy(out, s.msgs)
	return out
}

// GroupedMessages 当前房间的展示投影（分组 + 回执标记），每次整体重算
func (s *DirectoryService) GroupedMessages() []message.GroupedMessage {
	return message.Group(s.Messages(), s.Session)
}

// MergeReceipt 并入一条回执（回执在会话内只增不减）
func (s *DirectoryService) MergeReceipt(messageID string, r message.ReadReceipt) {
	s.mu.Lock()
	changed := message.MergeReceipt(s.msgs, messageID, r)
	s.mu.Unlock()
	if changed {
		s.changed.notify()
	}
}

// AckRead 把当前可见的未读消息批量上报已读。
// 同一可见集合至多上报一次：成功后本地并入自己的回执，后续自然为空集合。
// 服务端对重复 id 按 no-op 处理，这里不做强去重。
func (s *DirectoryService) AckRead(ctx context.Context) error {
	s.mu.Lock()
	if s.ackBusy || s.activePlan == 0 {
		s.mu.Unlock()
		return nil
	}
	ids := message.UnreadMessageIDs(s.msgs, s.Session)
	if len(ids) == 0 {
		s.mu.Unlock()
		return nil
	}
	room := s.rooms[s.activePlan]
	if room == nil {
		s.mu.Unlock()
		return nil
	}
	threadID := room.ThreadID
	s.ackBusy = true
	s.mu.Unlock()

	err := s.doJSON(ctx, http.MethodPost,
		fmt.Sprintf("/chat/threads/%d/read/", threadID),
		map[string]any{"message_ids": ids}, nil)

	s.mu.Lock()
	s.ackBusy = false
	if err == nil {
		self := message.ReadReceipt{
			Username:    s.Session.Username,
			DisplayName: s.Session.DisplayName,
		}
		for _, id := range ids {
			message.MergeReceipt(s.msgs, id, self)
		}
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.changed.notify()
	return nil
}

// Close 释放当前房间连接
func (s *DirectoryService) Close() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.activePlan = 0
	s.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}
