package models

import "time"

// 消息发送方类型
const (
	SenderUser   = "user"
	SenderAgent  = "agent"
	SenderAI     = "ai"
	SenderSystem = "system"
)

// 消息内容类型
const (
	MessageTypeText  = "text"
	MessageTypeImage = "image"
)

type Message struct {
	ID         string    `json:"id" gorm:"primaryKey;size:36"`
	RoomID     string    `json:"room_id" gorm:"size:36;index:idx_messages_room_seq,priority:1"`
	Seq        uint64    `json:"seq" gorm:"index:idx_messages_room_seq,priority:2"` // 房间内单调递增
	SenderKind string    `json:"sender_kind" gorm:"size:16"`
	SenderID   *uint     `json:"sender_id,omitempty"` // ai/system 消息为空
	Type       string    `json:"type" gorm:"size:16;default:'text'"`
	Body       string    `json:"body" gorm:"type:text"`
	FileURL    string    `json:"file_url,omitempty"`
	Thumbnail  string    `json:"thumbnail,omitempty"`
	FileName   string    `json:"file_name,omitempty"`
	Read       bool      `json:"read" gorm:"default:false"` // 只允许 false -> true
	IsTransferRequest bool `json:"is_transfer_request" gorm:"default:false"`
	CreatedAt  time.Time `json:"created_at"`

	// 响应附加字段，不落库
	SenderName string `json:"sender_name,omitempty" gorm:"-"`
	Stale      bool   `json:"stale" gorm:"-"`
}
