package message

// ReadReceipt 已读回执：某个读者已读到某条消息
type ReadReceipt struct {
	Username    string
	DisplayName string
	Avatar      string
}

// MergeReceipt 把 reader 的回执并入 id 对应的消息。
// 回执在会话内单调累积：同一 reader 在同一消息上只保留一份，已有则只刷新展示字段。
// 返回是否有变化（供调用方决定是否重算投影）。
func MergeReceipt(msgs []ChatMessage, id string, r ReadReceipt) bool {
	if id == "" || r.Username == "" {
		return false
	}
	for i := range msgs {
		if msgs[i].ID != id {
			continue
		}
		// 发送者自己不算已读人
		if msgs[i].SenderUsername == r.Username {
			return false
		}
		for j := range msgs[i].ReadBy {
			if msgs[i].ReadBy[j].Username == r.Username {
				msgs[i].ReadBy[j] = r
				return false
			}
		}
		msgs[i].ReadBy = append(msgs[i].ReadBy, r)
		return true
	}
	return false
}

// ReceiptBoundary 计算回执头像的挂载点：除 viewer 外至少有一人已读的最新一条消息。
// readers 按 username 去重（同名保留靠后的回执），用于渲染单个尾随头像簇。
func ReceiptBoundary(grouped []GroupedMessage, viewer string) (lastReadMessageID string, readers []ReadReceipt) {
	for i := len(grouped) - 1; i >= 0; i-- {
		rs := othersReceipts(grouped[i].ReadBy, viewer)
		if len(rs) == 0 {
			continue
		}
		return grouped[i].ID, rs
	}
	return "", nil
}

func othersReceipts(rs []ReadReceipt, viewer string) []ReadReceipt {
	if len(rs) == 0 {
		return nil
	}
	idx := make(map[string]int, len(rs))
	out := make([]ReadReceipt, 0, len(rs))
	for _, r := range rs {
		if r.Username == "" || r.Username == viewer {
			continue
		}
		if j, ok := idx[r.Username]; ok {
			out[j] = r // 同名保留最近一份
			continue
		}
		idx[r.Username] = len(out)
		out = append(out, r)
	}
	return out
}

// UnreadMessageIDs 需要上报已读回执的消息：不是自己发的、且自己还没有回执的。
// 产出集合用于触发一次性的已读上报；重复上报由服务端按 no-op 兼容。
func UnreadMessageIDs(msgs []ChatMessage, sess Session) []string {
	var out []string
	for _, m := range msgs {
		if m.IsOwn {
			continue
		}
		read := false
		for _, r := range m.ReadBy {
			if r.Username == sess.Username {
				read = true
				break
			}
		}
		if !read {
			out = append(out, m.ID)
		}
	}
	return out
}
