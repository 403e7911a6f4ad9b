package cons

// 通知 notification_type（按 topic 细分的事件类型）
const (
	NotifyChatMessage     = "chat.message"       // 聊天新消息
	NotifyPlanJoined      = "plan.member.joined" // 有人加入计划
	NotifyPlanLeft        = "plan.member.left"   // 有人退出计划
	NotifyPlanUpdated     = "plan.info.updated"  // 计划信息变更
	NotifyPlanCancelled   = "plan.cancelled"     // 计划取消
	NotifySystemBroadcast = "system.broadcast"   // 系统广播
)
