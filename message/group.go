package message

import (
	"strconv"
	"time"
)

// GroupWindow 同一发送者的相邻消息间隔超过该值则另起一组
const GroupWindow = 5 * time.Minute

// GroupedMessage 展示用投影：ChatMessage + 分组标记。
// 每次消息列表或回执集合变化都整体重算，不单独修改。
type GroupedMessage struct {
	ChatMessage

	ShowSenderLabel bool // 仅组内第一条，且不是自己的消息
	ShowAvatar      bool // 仅组内最后一条
	IsLastInGroup   bool // 每组恰好一条为 true，回执头像挂在这里
}

// Group 纯函数：按发送者连续段 + 时间窗口分组。
// 对同一输入重复调用结果一致（确定性），调用方可随意重算。
func Group(msgs []ChatMessage, sess Session) []GroupedMessage {
	out := make([]GroupedMessage, 0, len(msgs))
	for i, m := range msgs {
		startsGroup := i == 0 ||
			senderKey(msgs[i-1]) != senderKey(m) ||
			m.Timestamp.Sub(msgs[i-1].Timestamp) > GroupWindow

		endsGroup := i == len(msgs)-1 ||
			senderKey(msgs[i+1]) != senderKey(m) ||
			msgs[i+1].Timestamp.Sub(m.Timestamp) > GroupWindow

		out = append(out, GroupedMessage{
			ChatMessage:     m,
			ShowSenderLabel: startsGroup && !m.IsOwn,
			ShowAvatar:      endsGroup,
			IsLastInGroup:   endsGroup,
		})
	}
	return out
}

// senderKey 发送者标识：有 user_id 用 user_id，否则退用 username
func senderKey(m ChatMessage) string {
	if m.SenderID != 0 {
		return "u:" + strconv.FormatUint(m.SenderID, 10)
	}
	return "n:" + m.SenderUsername
}
