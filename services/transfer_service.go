package services

import (
	"TripDesk/folding"
	"TripDesk/kafka"
	"TripDesk/models"
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var ErrTransferFailed = errors.New("transfer to human agent failed")

// 转人工触发关键词，命中任意一个立即转接，不看 AI 的判断
var transferKeywords = []string{"轉人工", "人工", "真人客服"}

// transferState 一次进行中的转接
type transferState struct {
	done         chan struct{}
	targetRoomID string
	err          error
}

// TransferService 执行 AI 会话到人工会话的转接：
// 建人工房间、按时间窗口复制上下文、最后让 AI 房间退场。
// 顺序是有意的：中途崩溃留下的是一个可用的人工房间，而不是孤儿 AI 会话。
type TransferService struct {
	db       *gorm.DB
	rooms    *RoomService
	messages *MessageService
	audit    *kafka.Producer

	mu       sync.Mutex
	inFlight map[string]*transferState // source room id -> state
}

func NewTransferService(db *gorm.DB, rooms *RoomService, messages *MessageService) *TransferService {
	return &TransferService{
		db:       db,
		rooms:    rooms,
		messages: messages,
		inFlight: make(map[string]*transferState),
	}
}

func (s *TransferService) SetAuditProducer(p *kafka.Producer) {
	s.audit = p
}

// ShouldTransfer 判定是否转接，先关键词后 AI 建议，首个命中生效
func ShouldTransfer(userMessage string, ai AIResult) (string, bool) {
	lowered := strings.ToLower(userMessage)
	for _, kw := range transferKeywords {
		if strings.Contains(lowered, strings.ToLower(kw)) {
			return models.TransferTriggerKeyword, true
		}
	}
	if ai.SuggestsTransfer {
		return models.TransferTriggerAISuggestion, true
	}
	return "", false
}

// MaybeTransfer 按策略决定是否转接。不转接时返回 (nil, nil, nil)。
// 创建失败重试一次，仍失败时返回 ErrTransferFailed，绝不悄悄吞掉用户请求。
func (s *TransferService) MaybeTransfer(sourceRoom *models.Room, owner *models.User, userMessage string, ai AIResult) (*models.TransferEvent, *models.Room, error) {
	trigger, ok := ShouldTransfer(userMessage, ai)
	if !ok {
		return nil, nil, nil
	}

	state := &transferState{done: make(chan struct{})}
	s.mu.Lock()
	if _, exists := s.inFlight[sourceRoom.ID]; exists {
		// 已有转接在进行，调用方应当走 AwaitInFlight 排队
		s.mu.Unlock()
		return nil, nil, ErrTransferFailed
	}
	s.inFlight[sourceRoom.ID] = state
	s.mu.Unlock()

	event, target, err := s.doTransfer(sourceRoom, owner, trigger)
	if err != nil {
		log.Printf("Transfer attempt failed for room %s, retrying once: %v", sourceRoom.ID, err)
		event, target, err = s.doTransfer(sourceRoom, owner, trigger)
	}

	s.mu.Lock()
	if target != nil {
		state.targetRoomID = target.ID
	}
	state.err = err
	delete(s.inFlight, sourceRoom.ID)
	s.mu.Unlock()
	close(state.done)

	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	return event, target, nil
}

// AwaitInFlight 等待房间上进行中的转接完成。
// 返回目标人工房间 id；没有进行中的转接时 ok 为 false。
// 转接窗口期内到达的用户消息由调用方排队到这里，转接完成后投进人工房间。
func (s *TransferService) AwaitInFlight(ctx context.Context, sourceRoomID string) (string, bool) {
	s.mu.Lock()
	state, exists := s.inFlight[sourceRoomID]
	s.mu.Unlock()
	if !exists {
		return "", false
	}

	select {
	case <-state.done:
	case <-ctx.Done():
		return "", false
	}
	if state.err != nil || state.targetRoomID == "" {
		return "", false
	}
	return state.targetRoomID, true
}

func (s *TransferService) doTransfer(sourceRoom *models.Room, owner *models.User, trigger string) (*models.TransferEvent, *models.Room, error) {
	now := time.Now()
	windowStart := folding.WindowStart(now)

	subject := fmt.Sprintf("轉接自智慧客服 - %s", owner.Username)
	target, err := s.rooms.CreateHumanRoom(owner.ID, subject, models.PriorityMedium, models.RoomSourceAITransfer)
	if err != nil {
		return nil, nil, err
	}

	// 重试路径：上一次尝试可能已经种入过上下文，不重复复制
	var seeded int64
	if err := s.db.Model(&models.Message{}).Where("room_id = ?", target.ID).Count(&seeded).Error; err != nil {
		return nil, nil, err
	}

	// 复制窗口内的上下文，保持原顺序和原始时间
	var recent []models.Message
	if seeded == 0 {
		recent, err = s.messages.Recent(sourceRoom.ID, windowStart, now)
		if err != nil {
			return nil, nil, err
		}
	}
	copiedIDs := make([]string, 0, len(recent))
	for i := range recent {
		seed := models.Message{
			SenderKind: recent[i].SenderKind,
			SenderID:   recent[i].SenderID,
			Type:       recent[i].Type,
			Body:       recent[i].Body,
			FileURL:    recent[i].FileURL,
			Thumbnail:  recent[i].Thumbnail,
			FileName:   recent[i].FileName,
			CreatedAt:  recent[i].CreatedAt,
		}
		published, err := s.messages.Publish(target, &seed)
		if err != nil {
			return nil, nil, err
		}
		copiedIDs = append(copiedIDs, published.ID)
	}

	event := &models.TransferEvent{}
	err = s.db.Where("target_room_id = ?", target.ID).First(event).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		event = &models.TransferEvent{
			ID:               uuid.New().String(),
			SourceRoomID:     sourceRoom.ID,
			TargetRoomID:     target.ID,
			TriggeredBy:      trigger,
			WindowStart:      windowStart,
			WindowEnd:        now,
			CopiedMessageIDs: copiedIDs,
		}
		if err := s.db.Create(event).Error; err != nil {
			return nil, nil, err
		}
	} else if err != nil {
		return nil, nil, err
	}

	// 最后一步才让 AI 房间退场；已退场（重试路径）不算错误
	if err := s.rooms.RetireAiRoom(sourceRoom.ID); err != nil && !errors.Is(err, ErrInvalidTransition) {
		return nil, nil, err
	}

	s.rooms.publisher.PublishEvent(sourceRoom.ID, EventTransferComplete, map[string]interface{}{
		"room_id":               sourceRoom.ID,
		"customer_service_room": target,
		"triggered_by":          trigger,
	})
	if s.audit != nil {
		auditEvent := kafka.RoomEvent{
			Event:     EventTransferComplete,
			RoomID:    target.ID,
			UserID:    owner.ID,
			Timestamp: time.Now(),
		}
		if err := s.audit.SendRoomEvent(auditEvent); err != nil {
			log.Printf("Failed to emit audit event %s: %v", auditEvent.Event, err)
		}
	}
	return event, target, nil
}
