package kafka

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"

	"ms-promocodes/internal/models"
)

type Producer struct {
	Writer        *kafka.Writer
	CreatedTopic  string
	RedeemedTopic string
}

func NewProducer(brokers []string, createdTopic, redeemedTopic string) *Producer {
	writer := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Balancer: &kafka.LeastBytes{},
	}
	return &Producer{
		Writer:        writer,
		CreatedTopic:  createdTopic,
		RedeemedTopic: redeemedTopic,
	}
}

// Publish writes one message to the given topic
func (p *Producer) Publish(topic string, key string, value []byte) error {
	return p.Writer.WriteMessages(context.Background(),
		kafka.Message{
			Topic: topic,
			Key:   []byte(key),
			Value: value,
		},
	)
}

// PublishPromoCreated streams a new promo code definition to Kafka
func (p *Producer) PublishPromoCreated(code models.PromoCode) error {
	msgBytes, err := json.Marshal(code)
	if err != nil {
		return err
	}
	return p.Publish(p.CreatedTopic, code.ID, msgBytes)
}

// PublishPromoRedeemed streams a committed usage record to Kafka
func (p *Producer) PublishPromoRedeemed(record models.UsageRecord) error {
	msgBytes, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return p.Publish(p.RedeemedTopic, record.PromoCodeID, msgBytes)
}

func (p *Producer) Close() error {
	return p.Writer.Close()
}
