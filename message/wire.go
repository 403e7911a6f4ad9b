package message

import (
	"bytes"
	"strconv"
)

// WS 上行消息类型
const (
	WsTypeMessage = "message" // 默认：发送文本消息
)

// WireID 服务端的 message_id 可能是数字也可能是字符串（历史接口和推送不一致），
// 统一解码成字符串，客户端内部只用字符串比较。
type WireID string

func (id *WireID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) >= 2 && b[0] == '"' && b[len(b)-1] == '"' {
		s, err := strconv.Unquote(string(b))
		if err != nil {
			return err
		}
		*id = WireID(s)
		return nil
	}
	if string(b) == "null" {
		*id = ""
		return nil
	}
	*id = WireID(b)
	return nil
}

// SendReq 上行：发送文本消息
type SendReq struct {
	Type     string `json:"type"`      // message
	Message  string `json:"message"`   // 文本内容
	PacketID string `json:"packet_id"` // 客户端生成，用于匹配回包
}

// WireReader 一条消息的已读人（read_by 数组元素）
type WireReader struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name,omitempty"`
	Avatar      string `json:"avatar,omitempty"`
}

// WireMessage chat_history 快照里的一条消息
type WireMessage struct {
	MessageID WireID       `json:"message_id"`
	User      string       `json:"user"`    // sender username
	UserID    uint64       `json:"user_id"` // sender id，匿名/系统消息为 0
	Nickname  string       `json:"display_name,omitempty"`
	Message   string       `json:"message"`
	Timestamp string       `json:"timestamp"` // "YYYY-MM-DD HH:MM:SS"，UTC+7 墙钟
	ReadBy    []WireReader `json:"read_by,omitempty"`
}

// HistoryFrame 下行：建连后服务端首发的历史快照
type HistoryFrame struct {
	Type     string        `json:"type"` // chat_history
	Messages []WireMessage `json:"messages"`
}

// NewMessageFrame 下行：新消息推送
type NewMessageFrame struct {
	Type      string `json:"type"` // new_message
	MessageID WireID `json:"message_id"`
	User      string `json:"user"`
	UserID    uint64 `json:"user_id"`
	Nickname  string `json:"display_name,omitempty"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}
