package message

import (
	"sort"
	"sync/atomic"
	"time"
)

// 后端时间戳是不带时区的本地墙钟字符串，固定为 UTC+7。
// 解析必须带上固定偏移，不能依赖运行环境的本地时区。
const wireTimeLayout = "2006-01-02 15:04:05"

var wireZone = time.FixedZone("UTC+7", 7*60*60)

// parseFallbacks 时间戳解析失败退回 now 的累计次数。
// 退回策略是刻意的（渲染可用性优先于严格正确），计数用于观察后端格式漂移。
var parseFallbacks atomic.Uint64

// ParseWireTime 解析后端墙钟时间戳。解析失败不报错，退回当前时间并计数。
func ParseWireTime(s string) time.Time {
	t, err := time.ParseInLocation(wireTimeLayout, s, wireZone)
	if err != nil {
		parseFallbacks.Add(1)
		return time.Now()
	}
	return t
}

// ParseFallbacks 返回累计退回次数
func ParseFallbacks() uint64 {
	return parseFallbacks.Load()
}

// Session 当前登录用户。显式注入，不读全局状态。
type Session struct {
	UserID      uint64
	Username    string
	DisplayName string
}

// ChatMessage 规范化后的消息。创建后不再改动，只允许追加已读回执。
type ChatMessage struct {
	ID                string
	SenderID          uint64
	SenderUsername    string
	SenderDisplayName string
	Text              string
	Timestamp         time.Time
	IsOwn             bool
	ReadBy            []ReadReceipt
}

// NormalizeHistory 历史快照 -> 规范化消息列表。
// 只在这里按时间排序一次；后续实时推送按服务端下发顺序追加，不再重排。
func NormalizeHistory(raw []WireMessage, sess Session) []ChatMessage {
	out := make([]ChatMessage, 0, len(raw))
	for _, w := range raw {
		m := ChatMessage{
			ID:                string(w.MessageID),
			SenderID:          w.UserID,
			SenderUsername:    w.User,
			SenderDisplayName: w.Nickname,
			Text:              w.Message,
			Timestamp:         ParseWireTime(w.Timestamp),
			IsOwn:             isOwn(w.UserID, w.User, sess),
		}
		for _, r := range w.ReadBy {
			// 发送者自己不算已读人
			if r.Username == "" || r.Username == w.User {
				continue
			}
			m.ReadBy = append(m.ReadBy, ReadReceipt{
				Username:    r.Username,
				DisplayName: r.DisplayName,
				Avatar:      r.Avatar,
			})
		}
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// NormalizeIncoming 新消息推送 -> 规范化消息
func NormalizeIncoming(ev NewMessageFrame, sess Session) ChatMessage {
	return ChatMessage{
		ID:                string(ev.MessageID),
		SenderID:          ev.UserID,
		SenderUsername:    ev.User,
		SenderDisplayName: ev.Nickname,
		Text:              ev.Message,
		Timestamp:         ParseWireTime(ev.Timestamp),
		IsOwn:             isOwn(ev.UserID, ev.User, sess),
	}
}

// isOwn 归属判断：优先比 user_id，下发缺 id 时退比 username
func isOwn(senderID uint64, senderName string, sess Session) bool {
	if senderID != 0 && sess.UserID != 0 {
		return senderID == sess.UserID
	}
	return senderName != "" && senderName == sess.Username
}
