package kafka

import (
	"encoding/json"
	"log"
	"time"

	"github.com/IBM/sarama"
)

// RoomEvent 房间生命周期审计事件
type RoomEvent struct {
	Event     string    `json:"event"` // room_accepted, room_closed, transfer_complete
	RoomID    string    `json:"room_id"`
	UserID    uint      `json:"user_id,omitempty"`
	AgentID   uint      `json:"agent_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type Producer struct {
	producer sarama.SyncProducer
	topic    string
}

func NewProducer(brokers []string, topic string, config *sarama.Config) (*Producer, error) {
	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, err
	}

	return &Producer{producer: producer, topic: topic}, nil
}

// SendRoomEvent 以房间ID为 key 发送事件，保证同一房间事件有序
func (p *Producer) SendRoomEvent(event RoomEvent) error {
	jsonValue, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(event.RoomID),
		Value: sarama.ByteEncoder(jsonValue),
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		log.Printf("Failed to send room event: %v", err)
		return err
	}

	log.Printf("Room event %s sent to partition %d at offset %d", event.Event, partition, offset)
	return nil
}

func (p *Producer) Close() error {
	return p.producer.Close()
}
