package services

// 实时事件名（服务端 -> 客户端）
const (
	EventNewMessage       = "new_message"
	EventUserTyping       = "user_typing"
	EventMessagesRead     = "messages_read"
	EventRoomAccepted     = "room_accepted"
	EventRoomClosed       = "room_closed"
	EventTransferComplete = "transfer_complete"
)

// EventPublisher 把事件推送给订阅了该房间的所有会话。
// 由 WebSocket 会话中心实现，service 层只依赖接口。
type EventPublisher interface {
	PublishEvent(roomID string, event string, payload map[string]interface{})
}

// NopPublisher 无订阅场景（测试、离线任务）下的空实现
type NopPublisher struct{}

func (NopPublisher) PublishEvent(string, string, map[string]interface{}) {}
