package models

import "time"

// 转人工触发方式
const (
	TransferTriggerKeyword      = "keyword"
	TransferTriggerAISuggestion = "ai_suggestion"
)

// TransferEvent 记录一次 AI 会话转人工
type TransferEvent struct {
	ID               string    `json:"id" gorm:"primaryKey;size:36"`
	SourceRoomID     string    `json:"source_room_id" gorm:"size:36;index"`
	TargetRoomID     string    `json:"target_room_id" gorm:"size:36;uniqueIndex"`
	TriggeredBy      string    `json:"triggered_by" gorm:"size:16"`
	WindowStart      time.Time `json:"window_start"`
	WindowEnd        time.Time `json:"window_end"`
	CopiedMessageIDs []string  `json:"copied_message_ids" gorm:"serializer:json;type:text"`
	CreatedAt        time.Time `json:"created_at"`
}
