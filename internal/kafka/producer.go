package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"ms-ticket-market/internal/logger"
	"ms-ticket-market/internal/models"

	"github.com/segmentio/kafka-go"
)

// MessageWriter is the part of *kafka.Writer the producer needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Producer struct {
	Writer MessageWriter
}

func NewProducer(brokers []string) *Producer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		BatchTimeout:           10 * time.Millisecond,
	}
	return &Producer{Writer: writer}
}

func (p *Producer) Publish(ctx context.Context, topic, key string, value []byte) error {
	return p.Writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
	})
}

func (p *Producer) Close() error {
	return p.Writer.Close()
}

// TicketEventPublisher streams marketplace events keyed by ticket id, so
// events for one ticket stay ordered within a partition.
type TicketEventPublisher struct {
	Producer *Producer
	Topic    string
	Logger   *logger.Logger
}

func (p *TicketEventPublisher) PublishTicketEvent(ctx context.Context, event models.TicketEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event.Type, err)
	}

	key := strconv.FormatInt(event.TicketID, 10)
	if err := p.Producer.Publish(ctx, p.Topic, key, value); err != nil {
		return fmt.Errorf("publish %s event: %w", event.Type, err)
	}

	if p.Logger != nil {
		p.Logger.LogKafka("PUBLISH", p.Topic, fmt.Sprintf("%s ticket #%d", event.Type, event.TicketID))
	}
	return nil
}
