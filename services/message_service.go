package services

import (
	"TripDesk/folding"
	"TripDesk/models"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var ErrRoomClosed = errors.New("room is closed")

// MessageService 消息路由的持久化半边：先落库，再交给会话中心扇出。
// 订阅会话中途加入也能通过历史接口补到刚发布的消息。
type MessageService struct {
	db        *gorm.DB
	locks     *RoomLocks
	publisher EventPublisher
}

func NewMessageService(db *gorm.DB, locks *RoomLocks) *MessageService {
	return &MessageService{
		db:        db,
		locks:     locks,
		publisher: NopPublisher{},
	}
}

func (s *MessageService) SetPublisher(p EventPublisher) {
	if p != nil {
		s.publisher = p
	}
}

// Publish 把消息写入房间并广播给所有订阅者。
// 序号在房间锁内分配，保证同一房间内单调；落库成功才算发布成功。
func (s *MessageService) Publish(room *models.Room, msg *models.Message) (*models.Message, error) {
	if room.Closed() {
		return nil, ErrRoomClosed
	}

	mu := s.locks.Get(room.ID)
	mu.Lock()

	// 调用方手里的 room 可能是模型调用期间拿到的旧快照，
	// 锁内重新读状态，防止消息写进刚被关闭的房间
	var current models.Room
	if err := s.db.Select("status", "closed_at").First(&current, "id = ?", room.ID).Error; err != nil {
		mu.Unlock()
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	if current.Closed() {
		mu.Unlock()
		return nil, ErrRoomClosed
	}

	msg.ID = uuid.New().String()
	msg.RoomID = room.ID
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	var maxSeq uint64
	row := s.db.Model(&models.Message{}).
		Where("room_id = ?", room.ID).
		Select("COALESCE(MAX(seq), 0)").
		Row()
	if err := row.Scan(&maxSeq); err != nil {
		mu.Unlock()
		return nil, err
	}
	msg.Seq = maxSeq + 1

	if err := s.db.Create(msg).Error; err != nil {
		mu.Unlock()
		return nil, err
	}
	mu.Unlock()

	s.publisher.PublishEvent(room.ID, EventNewMessage, messagePayload(msg))
	return msg, nil
}

// History 按序返回房间历史消息，并带上折叠标记
func (s *MessageService) History(roomID string, limit, offset int, now time.Time) ([]models.Message, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var messages []models.Message
	err := s.db.Where("room_id = ?", roomID).
		Order("seq ASC").
		Limit(limit).
		Offset(offset).
		Find(&messages).Error
	if err != nil {
		return nil, err
	}
	for i := range messages {
		messages[i].Stale = folding.IsStale(messages[i].CreatedAt, now)
	}
	return messages, nil
}

// Recent 返回窗口内的消息，转人工复制上下文时使用
func (s *MessageService) Recent(roomID string, windowStart, windowEnd time.Time) ([]models.Message, error) {
	var messages []models.Message
	err := s.db.Where("room_id = ? AND created_at >= ? AND created_at <= ?",
		roomID, windowStart, windowEnd).
		Order("seq ASC").
		Find(&messages).Error
	return messages, err
}

// MarkRead 把消息置为已读。只允许 false -> true，已读的忽略，
// 实际翻转的 id 广播 messages_read。
func (s *MessageService) MarkRead(roomID string, messageIDs []string) ([]string, error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}

	var unread []string
	err := s.db.Model(&models.Message{}).
		Where("room_id = ? AND id IN ? AND read = ?", roomID, messageIDs, false).
		Pluck("id", &unread).Error
	if err != nil {
		return nil, err
	}
	if len(unread) == 0 {
		return nil, nil
	}

	err = s.db.Model(&models.Message{}).
		Where("id IN ?", unread).
		Update("read", true).Error
	if err != nil {
		return nil, err
	}

	s.publisher.PublishEvent(roomID, EventMessagesRead, map[string]interface{}{
		"message_ids": unread,
	})
	return unread, nil
}

// 广播用的消息载荷
func messagePayload(msg *models.Message) map[string]interface{} {
	payload := map[string]interface{}{
		"id":          msg.ID,
		"room_id":     msg.RoomID,
		"seq":         msg.Seq,
		"sender_kind": msg.SenderKind,
		"type":        msg.Type,
		"body":        msg.Body,
		"read":        msg.Read,
		"created_at":  msg.CreatedAt,
	}
	if msg.SenderID != nil {
		payload["sender_id"] = *msg.SenderID
	}
	if msg.SenderName != "" {
		payload["sender_name"] = msg.SenderName
	}
	if msg.FileURL != "" {
		payload["file_url"] = msg.FileURL
		payload["thumbnail"] = msg.Thumbnail
		payload["file_name"] = msg.FileName
	}
	if msg.IsTransferRequest {
		payload["is_transfer_request"] = true
	}
	return payload
}
