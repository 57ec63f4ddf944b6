package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/langchou/tesmileage/internal/models"
)

const source = "tesmileage"

// MessageWriter kafka.Writer 的最小接口
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher 把审计事件发送到 Kafka
type Publisher struct {
	writer MessageWriter
	topic  string
	logger *zap.Logger
}

// NewPublisher 创建指向 brokers 的 Publisher
func NewPublisher(brokers []string, topic string, logger *zap.Logger) *Publisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	return NewPublisherWithWriter(w, topic, logger)
}

// NewPublisherWithWriter 使用自定义 writer 创建 Publisher
func NewPublisherWithWriter(w MessageWriter, topic string, logger *zap.Logger) *Publisher {
	return &Publisher{writer: w, topic: topic, logger: logger}
}

// Publish 发送一条审计事件，同一用户的事件进入同一分区
func (p *Publisher) Publish(ctx context.Context, e *models.AuditEvent) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(e.UserID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(e.Action)},
			{Key: "source", Value: []byte(source)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish audit event to %s: %w", p.topic, err)
	}

	p.logger.Debug("Audit event published",
		zap.String("topic", p.topic),
		zap.String("action", e.Action),
		zap.String("user_id", e.UserID),
	)
	return nil
}

// Close 刷新并关闭 writer
func (p *Publisher) Close() error {
	return p.writer.Close()
}
