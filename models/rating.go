package models

import "time"

// Rating 关闭后的满意度评价，每个人工房间最多一条，提交后不可修改
type Rating struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	RoomID      string    `json:"room_id" gorm:"size:36;uniqueIndex"`
	Score       int       `json:"score"`                        // 1-5
	Comment     string    `json:"comment" gorm:"size:500"`      // 可选
	SubmittedAt time.Time `json:"submitted_at"`
}
