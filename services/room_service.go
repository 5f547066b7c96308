package services

import (
	"TripDesk/kafka"
	"TripDesk/models"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrRoomNotFound      = errors.New("room not found")
	ErrInvalidTransition = errors.New("invalid room status transition")
	ErrAccessDenied      = errors.New("access denied")
)

// RoomService 负责房间生命周期，所有状态变更都在这里发生。
// 同一房间的变更通过 RoomLocks 串行化，避免多个客服并发接入/关闭时的竞态。
type RoomService struct {
	db        *gorm.DB
	locks     *RoomLocks
	publisher EventPublisher
	audit     *kafka.Producer // 可为 nil，未配置 Kafka 时不产审计事件
}

func NewRoomService(db *gorm.DB, locks *RoomLocks) *RoomService {
	return &RoomService{
		db:        db,
		locks:     locks,
		publisher: NopPublisher{},
	}
}

// SetPublisher 注入会话广播实现（会话中心在 service 之后构造）
func (s *RoomService) SetPublisher(p EventPublisher) {
	if p != nil {
		s.publisher = p
	}
}

// SetAuditProducer 注入 Kafka 审计生产者
func (s *RoomService) SetAuditProducer(p *kafka.Producer) {
	s.audit = p
}

// CreateAiRoom 为用户创建 AI 会话房间。幂等：已有未关闭的 AI 房间时直接返回，
// second 返回值表示本次是否新建。
func (s *RoomService) CreateAiRoom(userID uint) (*models.Room, bool, error) {
	// 用户粒度锁，防止并发首条消息建出两个 AI 房间
	mu := s.locks.Get(fmt.Sprintf("user:%d:ai", userID))
	mu.Lock()
	defer mu.Unlock()

	var room models.Room
	err := s.db.Where("owner_user_id = ? AND kind = ? AND status <> ?",
		userID, models.RoomKindAI, models.RoomStatusClosed).First(&room).Error
	if err == nil {
		return &room, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}

	room = models.Room{
		ID:          uuid.New().String(),
		Kind:        models.RoomKindAI,
		Status:      models.RoomStatusAIActive,
		OwnerUserID: userID,
		Subject:     "智慧客服",
		Priority:    models.PriorityMedium,
		Source:      models.RoomSourceDirect,
	}
	if err := s.db.Create(&room).Error; err != nil {
		return nil, false, err
	}
	return &room, true, nil
}

// CreateHumanRoom 创建人工客服房间，进入等待队列。
// 用户已有未关闭的人工房间时返回现有房间，保证每人同时最多一个。
func (s *RoomService) CreateHumanRoom(userID uint, subject, priority, source string) (*models.Room, error) {
	mu := s.locks.Get(fmt.Sprintf("user:%d:human", userID))
	mu.Lock()
	defer mu.Unlock()

	var room models.Room
	err := s.db.Where("owner_user_id = ? AND kind = ? AND status <> ?",
		userID, models.RoomKindHuman, models.RoomStatusClosed).First(&room).Error
	if err == nil {
		return &room, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	if priority == "" {
		priority = models.PriorityMedium
	}
	room = models.Room{
		ID:          uuid.New().String(),
		Kind:        models.RoomKindHuman,
		Status:      models.RoomStatusWaiting,
		OwnerUserID: userID,
		Subject:     subject,
		Priority:    priority,
		Source:      source,
	}
	if err := s.db.Create(&room).Error; err != nil {
		return nil, err
	}
	return &room, nil
}

// AcceptRoom 客服接入等待中的房间。只有 waiting 状态可接入，
// 第二个客服的并发接入会拿到 ErrInvalidTransition。
func (s *RoomService) AcceptRoom(roomID string, agent *models.User) (*models.Room, error) {
	mu := s.locks.Get(roomID)
	mu.Lock()

	var room models.Room
	if err := s.db.First(&room, "id = ?", roomID).Error; err != nil {
		mu.Unlock()
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	if room.Status != models.RoomStatusWaiting {
		mu.Unlock()
		return nil, ErrInvalidTransition
	}

	room.Status = models.RoomStatusActive
	agentID := agent.ID
	room.AgentID = &agentID
	if err := s.db.Save(&room).Error; err != nil {
		mu.Unlock()
		return nil, err
	}
	mu.Unlock()

	s.publisher.PublishEvent(room.ID, EventRoomAccepted, map[string]interface{}{
		"room_id":    room.ID,
		"agent_id":   agent.ID,
		"agent_name": agent.Username,
	})
	s.emitAudit(kafka.RoomEvent{
		Event:   EventRoomAccepted,
		RoomID:  room.ID,
		UserID:  room.OwnerUserID,
		AgentID: agent.ID,
	})
	return &room, nil
}

// CloseRoom 关闭房间。waiting / active 可关闭，重复关闭报 ErrInvalidTransition。
// 关闭后广播 room_closed，人工房间由此解锁评价入口。
func (s *RoomService) CloseRoom(roomID string, closedBy *models.User) (*models.Room, error) {
	mu := s.locks.Get(roomID)
	mu.Lock()

	var room models.Room
	if err := s.db.First(&room, "id = ?", roomID).Error; err != nil {
		mu.Unlock()
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	if room.Status != models.RoomStatusWaiting && room.Status != models.RoomStatusActive {
		mu.Unlock()
		return nil, ErrInvalidTransition
	}

	now := time.Now()
	room.Status = models.RoomStatusClosed
	room.ClosedAt = &now
	if err := s.db.Save(&room).Error; err != nil {
		mu.Unlock()
		return nil, err
	}
	mu.Unlock()

	agentName := ""
	var agentID uint
	if closedBy != nil {
		agentName = closedBy.Username
		agentID = closedBy.ID
	}
	s.publisher.PublishEvent(room.ID, EventRoomClosed, map[string]interface{}{
		"room_id":    room.ID,
		"closed_at":  now,
		"message":    "本次服務已結束，感謝您的耐心等候",
		"agent_name": agentName,
	})
	s.emitAudit(kafka.RoomEvent{
		Event:   EventRoomClosed,
		RoomID:  room.ID,
		UserID:  room.OwnerUserID,
		AgentID: agentID,
	})
	return &room, nil
}

// RetireAiRoom 转人工后让 AI 房间退场：不再接受消息，但历史仍可查询。
// 只对 ai_active 状态生效，是转接协调器的内部步骤，不走 room_closed 广播。
func (s *RoomService) RetireAiRoom(roomID string) error {
	mu := s.locks.Get(roomID)
	mu.Lock()
	defer mu.Unlock()

	var room models.Room
	if err := s.db.First(&room, "id = ?", roomID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrRoomNotFound
		}
		return err
	}
	if room.Kind != models.RoomKindAI || room.Status != models.RoomStatusAIActive {
		return ErrInvalidTransition
	}

	now := time.Now()
	room.Status = models.RoomStatusClosed
	room.ClosedAt = &now
	return s.db.Save(&room).Error
}

func (s *RoomService) GetRoomByID(id string) (*models.Room, error) {
	var room models.Room
	if err := s.db.First(&room, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	return &room, nil
}

// ListRooms 客服侧房间列表，按状态过滤，高优先级靠前，同级先到先服务
func (s *RoomService) ListRooms(status string) ([]models.RoomWithUser, error) {
	var results []models.RoomWithUser
	query := s.db.Table("rooms").
		Select("rooms.*, users.username").
		Joins("LEFT JOIN users ON users.id = rooms.owner_user_id").
		Where("rooms.kind = ?", models.RoomKindHuman)
	if status != "" {
		query = query.Where("rooms.status = ?", status)
	}
	err := query.
		Order("CASE rooms.priority WHEN 'high' THEN 0 WHEN 'medium' THEN 1 ELSE 2 END").
		Order("rooms.created_at ASC").
		Scan(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

// CanAccess 房主、已指派客服和客服角色可以进入房间
func (s *RoomService) CanAccess(room *models.Room, user *models.User) bool {
	if room.OwnerUserID == user.ID {
		return true
	}
	if room.AgentID != nil && *room.AgentID == user.ID {
		return true
	}
	return user.Agent()
}

func (s *RoomService) emitAudit(event kafka.RoomEvent) {
	if s.audit == nil {
		return
	}
	event.Timestamp = time.Now()
	if err := s.audit.SendRoomEvent(event); err != nil {
		log.Printf("Failed to emit audit event %s: %v", event.Event, err)
	}
}
