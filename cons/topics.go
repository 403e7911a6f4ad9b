package cons

// 通知 topic（后端按 topic 维护独立未读数）
const (
	TopicChat   = "CHAT"   // 计划聊天室消息
	TopicPlan   = "PLAN"   // 计划变更（成员加入/退出、时间地点变更等）
	TopicSystem = "SYSTEM" // 系统公告
)

// WS 下行帧类型（聊天室连接）
const (
	FrameChatHistory = "chat_history" // 历史快照（建连后服务端首发）
	FrameNewMessage  = "new_message"  // 新消息推送
)

// WS 下行帧类型（全局通知连接）
const (
	FrameNotification = "notification" // 单条 NotificationItem 推送
)
