package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/SKlv1ain/KU-Hangout-sub000/cons"
)

// notificationWindow 本地通知列表的窗口大小。
// 刷新和 upsert 后都按 created_at 倒序截断到这个数。
const notificationWindow = 25

// Actor 触发通知的用户
type Actor struct {
	ID          uint64 `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name,omitempty"`
	Avatar      string `json:"avatar,omitempty"`
}

// ChatPayload CHAT topic 的结构化负载
type ChatPayload struct {
	PlanID   uint64 `json:"plan_id"`
	ThreadID uint64 `json:"thread_id"`
	Sender   string `json:"sender"`
	Preview  string `json:"preview"`
}

// PlanPayload PLAN topic 的结构化负载
type PlanPayload struct {
	PlanID uint64 `json:"plan_id"`
	Action string `json:"action"` // joined/left/updated/cancelled
}

// NotificationDTO 一条通知。Metadata 为原始负载；
// 按 topic 解出的结构化视图放在 Chat/Plan（tagged union，未识别的 topic 只留 Metadata）。
type NotificationDTO struct {
	ID               int64          `json:"id"`
	Title            string         `json:"title"`
	Message          string         `json:"message"`
	Topic            string         `json:"topic"`
	NotificationType string         `json:"notification_type"`
	Actor            *Actor         `json:"actor,omitempty"`
	PlanID           uint64         `json:"plan_id,omitempty"`
	IsRead           bool           `json:"is_read"`
	ReadAt           *time.Time     `json:"read_at,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	Metadata         map[string]any `json:"metadata,omitempty"`

	Chat *ChatPayload `json:"-"`
	Plan *PlanPayload `json:"-"`
}

type notificationAlias NotificationDTO

func (n *NotificationDTO) UnmarshalJSON(b []byte) error {
	var a notificationAlias
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	*n = NotificationDTO(a)
	if len(n.Metadata) == 0 {
		return nil
	}
	raw, err := json.Marshal(n.Metadata)
	if err != nil {
		return nil
	}
	switch n.Topic {
	case cons.TopicChat:
		var p ChatPayload
		if json.Unmarshal(raw, &p) == nil {
			n.Chat = &p
		}
	case cons.TopicPlan:
		var p PlanPayload
		if json.Unmarshal(raw, &p) == nil {
			n.Plan = &p
		}
	}
	return nil
}

// countsPayload 服务端回传的未读计数。两个字段都可能缺席：
// 缺席时走本地 delta 兜底（刻意保留的双路径，见 adoptCounts 调用方）。
type countsPayload struct {
	UnreadCount *int           `json:"unread_count"`
	TopicUnread map[string]int `json:"topic_unread"`
}

type listResponse struct {
	Notifications []NotificationDTO `json:"notifications"`
	countsPayload
}

// NotificationService 通知流聚合器：REST 快照 + 实时推送合并，
// 维护全局/分 topic 未读数。整个会话只有一个实例在写，UI 面只读订阅。
type NotificationService struct {
	*Service

	mu          sync.Mutex
	items       []NotificationDTO
	totalUnread int
	topicUnread map[string]int

	changed *subscribers
}

func NewNotificationService(s *Service) *NotificationService {
	return &NotificationService{
		Service:     s,
		topicUnread: make(map[string]int),
		changed:     newSubscribers(),
	}
}

// Subscribe 订阅状态变更脉冲
func (s *NotificationService) Subscribe() (<-chan struct{}, func()) {
	return s.changed.subscribe()
}

// Refresh 拉取一页通知，整体替换本地列表，并采纳服务端计数为基准。
// 网络失败直接上抛，不吞。
func (s *NotificationService) Refresh(ctx context.Context) error {
	var resp listResponse
	if err := s.doJSON(ctx, http.MethodGet, "/notifications/", nil, &resp); err != nil {
		return err
	}

	s.mu.Lock()
	s.items = resp.Notifications
	s.sortAndTruncateLocked()
	// 计数按字段采纳：服务端缺了哪个就保留哪个的本地值，
	// 避免一次刷新里两族计数采到不同代
	if resp.UnreadCount != nil {
		s.totalUnread = *resp.UnreadCount
	}
	if resp.TopicUnread != nil {
		s.topicUnread = make(map[string]int, len(resp.TopicUnread))
		for k, v := range resp.TopicUnread {
			s.topicUnread[k] = v
		}
	}
	s.mu.Unlock()

	s.changed.notify()
	return nil
}

// MarkAsRead 单条已读。本地已读则直接 no-op（幂等闸，在任何网络调用之前）。
// 先乐观翻转，再用服务端计数校正；服务端没回计数就保留本地 -1。
// 失败回滚并上抛。
func (s *NotificationService) MarkAsRead(ctx context.Context, id int64) error {
	s.mu.Lock()
	idx := s.indexOfLocked(id)
	if idx < 0 || s.items[idx].IsRead {
		s.mu.Unlock()
		return nil
	}
	topic := s.items[idx].Topic
	now := time.Now()
	s.items[idx].IsRead = true
	s.items[idx].ReadAt = &now
	s.applyDeltaLocked(topic, -1)
	s.mu.Unlock()
	s.changed.notify()

	var resp countsPayload
	err := s.doJSON(ctx, http.MethodPatch, fmt.Sprintf("/notifications/%d/read/", id), nil, &resp)
	if err != nil {
		s.mu.Lock()
		if i := s.indexOfLocked(id); i >= 0 {
			s.items[i].IsRead = false
			s.items[i].ReadAt = nil
		}
		s.applyDeltaLocked(topic, +1)
		s.mu.Unlock()
		s.changed.notify()
		return err
	}

	s.adoptCounts(resp)
	return nil
}

// MarkAllAsRead 全部已读。topic 为空时不限 topic。
func (s *NotificationService) MarkAllAsRead(ctx context.Context, topic string) error {
	s.mu.Lock()
	now := time.Now()
	flipped := make([]int64, 0)
	for i := range s.items {
		if s.items[i].IsRead {
			continue
		}
		if topic != "" && s.items[i].Topic != topic {
			continue
		}
		s.items[i].IsRead = true
		s.items[i].ReadAt = &now
		flipped = append(flipped, s.items[i].ID)
	}
	// 本地兜底计数：窗口外的未读条目本地看不到，只能按 topic 计数归零
	prevTotal := s.totalUnread
	prevTopics := s.topicUnread
	if topic == "" {
		s.totalUnread = 0
		s.topicUnread = make(map[string]int)
	} else {
		s.totalUnread -= prevTopics[topic]
		if s.totalUnread < 0 {
			s.totalUnread = 0
		}
		s.topicUnread = make(map[string]int, len(prevTopics))
		for k, v := range prevTopics {
			if k != topic {
				s.topicUnread[k] = v
			}
		}
	}
	s.mu.Unlock()
	s.changed.notify()

	body := map[string]any{}
	if topic != "" {
		body["topic"] = topic
	}
	var resp countsPayload
	err := s.doJSON(ctx, http.MethodPost, "/notifications/mark-all-read/", body, &resp)
	if err != nil {
		s.mu.Lock()
		for _, id := range flipped {
			if i := s.indexOfLocked(id); i >= 0 {
				s.items[i].IsRead = false
				s.items[i].ReadAt = nil
			}
		}
		s.totalUnread = prevTotal
		s.topicUnread = prevTopics
		s.mu.Unlock()
		s.changed.notify()
		return err
	}

	s.adoptCounts(resp)
	return nil
}

// DeleteNotification 删除单条
func (s *NotificationService) DeleteNotification(ctx context.Context, id int64) error {
	s.mu.Lock()
	idx := s.indexOfLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return nil
	}
	removed := s.items[idx]
	s.items = append(s.items[:idx:idx], s.items[idx+1:]...)
	if !removed.IsRead {
		s.applyDeltaLocked(removed.Topic, -1)
	}
	s.mu.Unlock()
	s.changed.notify()

	var resp countsPayload
	err := s.doJSON(ctx, http.MethodDelete, fmt.Sprintf("/notifications/%d/", id), nil, &resp)
	if err != nil {
		s.mu.Lock()
		s.items = append(s.items, removed)
		s.sortAndTruncateLocked()
		if !removed.IsRead {
			s.applyDeltaLocked(removed.Topic, +1)
		}
		s.mu.Unlock()
		s.changed.notify()
		return err
	}

	s.adoptCounts(resp)
	return nil
}

// ClearNotifications 清空。topic 为空时全部清掉，否则只清该 topic。
func (s *NotificationService) ClearNotifications(ctx context.Context, topic string) error {
	s.mu.Lock()
	prevItems := s.items
	prevTotal := s.totalUnread
	prevTopics := s.topicUnread
	kept := make([]NotificationDTO, 0, len(prevItems))
	removedUnread := 0
	for _, it := range prevItems {
		if topic != "" && it.Topic != topic {
			kept = append(kept, it)
			continue
		}
		if !it.IsRead {
			removedUnread++
		}
	}
	s.items = kept
	if topic == "" {
		s.totalUnread = 0
		s.topicUnread = make(map[string]int)
	} else {
		s.totalUnread -= removedUnread
		if s.totalUnread < 0 {
			s.totalUnread = 0
		}
		s.topicUnread = make(map[string]int, len(prevTopics))
		for k, v := range prevTopics {
			if k != topic {
				s.topicUnread[k] = v
			}
		}
	}
	s.mu.Unlock()
	s.changed.notify()

	body := map[string]any{}
	if topic != "" {
		body["topic"] = topic
	}
	var resp countsPayload
	err := s.doJSON(ctx, http.MethodPost, "/notifications/clear/", body, &resp)
	if err != nil {
		s.mu.Lock()
		s.items = prevItems
		s.totalUnread = prevTotal
		s.topicUnread = prevTopics
		s.mu.Unlock()
		s.changed.notify()
		return err
	}

	s.adoptCounts(resp)
	return nil
}

// HandleRealtime 实时推送：按 id upsert（同 id 替换，不追加），
// 重排、截断窗口。替换时先按旧条目退计数再按新条目进计数，
// 读态不变且 topic 不变时净变化为零；topic 变了未读会跟着搬家。
func (s *NotificationService) HandleRealtime(item NotificationDTO) {
	s.mu.Lock()
	idx := s.indexOfLocked(item.ID)
	if idx >= 0 {
		prev := s.items[idx]
		s.items[idx] = item
		if !prev.IsRead {
			s.applyDeltaLocked(prev.Topic, -1)
		}
		if !item.IsRead {
			s.applyDeltaLocked(item.Topic, +1)
		}
	} else {
		s.items = append([]NotificationDTO{item}, s.items...)
		if !item.IsRead {
			s.applyDeltaLocked(item.Topic, +1)
		}
	}
	s.sortAndTruncateLocked()
	s.mu.Unlock()
	s.changed.notify()
}

// Items 当前列表的副本（created_at 倒序）
func (s *NotificationService) Items() []NotificationDTO {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]NotificationDTO, len(s.items))
	copy(out, s.items)
	return out
}

// TotalUnread 全局未读数
func (s *NotificationService) TotalUnread() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalUnread
}

// TopicUnread 某 topic 的未读数
func (s *NotificationService) TopicUnread(topic string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.topicUnread[topic]
}

// SystemUnread 非聊天未读数 = max(total - chat, 0)。
// 注意这是推导值而非独立计数：多面并发操作下 total 与分 topic 计数
// 可能暂时失配，到下一次 Refresh 被服务端计数拉平。
func (s *NotificationService) SystemUnread() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.totalUnread - s.topicUnread[cons.TopicChat]
	if n < 0 {
		return 0
	}
	return n
}

// adoptCounts 服务端回了计数就整体采纳，没回就保留本地 delta
func (s *NotificationService) adoptCounts(p countsPayload) {
	s.mu.Lock()
	if p.UnreadCount != nil {
		s.totalUnread = *p.UnreadCount
	}
	if p.TopicUnread != nil {
		s.topicUnread = make(map[string]int, len(p.TopicUnread))
		for k, v := range p.TopicUnread {
			s.topicUnread[k] = v
		}
	}
	s.mu.Unlock()
	s.changed.notify()
}

func (s *NotificationService) indexOfLocked(id int64) int {
	for i := range s.items {
		if s.items[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *NotificationService) applyDeltaLocked(topic string, d int) {
	s.totalUnread += d
	if s.totalUnread < 0 {
		s.totalUnread = 0
	}
	if topic == "" {
		return
	}
	n := s.topicUnread[topic] + d
	if n <= 0 {
		delete(s.topicUnread, topic)
		return
	}
	s.topicUnread[topic] = n
}

// sortAndTruncateLocked 通知可能乱序到达（REST 快照 vs 推送通道），
// 每次变更都按 created_at 倒序重排再截断
func (s *NotificationService) sortAndTruncateLocked() {
	sort.SliceStable(s.items, func(i, j int) bool {
		return s.items[i].CreatedAt.After(s.items[j].CreatedAt)
	})
	if len(s.items) > notificationWindow {
		s.items = s.items[:notificationWindow]
	}
}
