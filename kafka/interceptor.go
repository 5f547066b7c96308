package kafka

import (
	"github.com/IBM/sarama"
)

type EventInterceptor struct {
}

func (i *EventInterceptor) OnSend(msg *sarama.ProducerMessage) {
	msg.Headers = append(msg.Headers, sarama.RecordHeader{
		Key:   []byte("produced-by"),
		Value: []byte("tripdesk-support"),
	})
}

func NewEventInterceptor() *EventInterceptor {
	return &EventInterceptor{}
}
