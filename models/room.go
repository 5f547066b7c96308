package models

import "time"

// 房间类型
const (
	RoomKindAI    = "ai"
	RoomKindHuman = "human"
)

// 房间状态
const (
	RoomStatusAIActive = "ai_active" // AI 会话进行中
	RoomStatusWaiting  = "waiting"   // 等待客服接入
	RoomStatusActive   = "active"    // 客服已接入
	RoomStatusClosed   = "closed"    // 终态
)

// 房间来源
const (
	RoomSourceDirect     = "direct"
	RoomSourceAITransfer = "ai_transfer"
)

// 优先级
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

type Room struct {
	ID          string     `json:"id" gorm:"primaryKey;size:36"`
	Kind        string     `json:"kind" gorm:"size:16;index:idx_rooms_owner_kind"`
	Status      string     `json:"status" gorm:"size:16;index"`
	OwnerUserID uint       `json:"owner_user_id" gorm:"index:idx_rooms_owner_kind"`
	AgentID     *uint      `json:"agent_id,omitempty"`
	Subject     string     `json:"subject"`
	Priority    string     `json:"priority" gorm:"size:16;default:'medium'"`
	Source      string     `json:"source" gorm:"size:16"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ClosedAt    *time.Time `json:"closed_at,omitempty"`
}

// Closed 房间是否已进入终态
func (r *Room) Closed() bool {
	return r.Status == RoomStatusClosed
}

type RoomWithUser struct {
	Room
	OwnerName string `json:"owner_name" gorm:"column:username"`
}
