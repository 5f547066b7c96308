package kafka

import (
	"TripDesk/redis"
	"context"
	"encoding/json"
	"log"

	"github.com/IBM/sarama"
)

// RoomEventHandler 消费房间审计事件，按事件类型累加计数供客服面板展示
type RoomEventHandler struct {
	rdb *redis.RedisClient
}

func NewRoomEventHandler(rdb *redis.RedisClient) *RoomEventHandler {
	return &RoomEventHandler{rdb: rdb}
}

func (h *RoomEventHandler) Handle(ctx context.Context, message *sarama.ConsumerMessage) error {
	var event RoomEvent

	if err := json.Unmarshal(message.Value, &event); err != nil {
		log.Printf("Failed to unmarshal room event: %v", err)
		return err
	}

	if err := h.rdb.IncrEventCount(ctx, event.Event); err != nil {
		log.Printf("Failed to count room event %s: %v", event.Event, err)
		return err
	}

	return nil
}
