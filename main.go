package main

import (
	"TripDesk/kafka"
	"TripDesk/server"
	"context"
	"log"
)

func main() {
	s := server.NewServer()

	// Kafka 审计消费端：累加事件计数供客服面板读取
	if len(s.Config.Kafka.Brokers) > 0 {
		saramaCfg, err := kafka.NewSaramaConfig(&s.Config.Kafka)
		if err != nil {
			log.Fatalf("Failed to build kafka consumer config: %v", err)
		}
		handler := kafka.NewRoomEventHandler(s.Redis)
		consumer, err := kafka.NewConsumer(s.Config.Kafka.Brokers, s.Config.Kafka.GroupID,
			[]string{s.Config.Kafka.Topic}, saramaCfg, handler)
		if err != nil {
			log.Fatalf("Failed to create kafka consumer: %v", err)
		}
		go func() {
			if err := consumer.Start(context.Background()); err != nil {
				log.Printf("Kafka consumer stopped: %v", err)
			}
		}()
	}

	s.Start()
}
