package kafka

import (
	"context"
	"fmt"
	"maps"
	"time"

	"github.com/segmentio/kafka-go"

	"example.com/membership-system/pkg/logger"
)

// Заголовки, которые добавляет SendToDLQ.
const (
	HeaderDLQError         = "dlq_error"
	HeaderDLQOriginalTopic = "dlq_original_topic"
	HeaderDLQTimestamp     = "dlq_timestamp"
)

// writer — часть kafka.Writer, нужная Producer.
type writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer публикует сообщения синхронно: SendMessage возвращает управление
// после подтверждения лидера партиции. Реализует outbox.Publisher и DeadLetterWriter.
type Producer struct {
	writer writer
	now    func() time.Time
}

// NewProducer создаёт Producer. Сообщения с одним ключом (transaction_id)
// попадают в одну партицию и читаются по порядку.
func NewProducer(cfg Config) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("не указаны брокеры Kafka")
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		WriteTimeout: 10 * time.Second,
	}

	logger.Info().Strs("brokers", cfg.Brokers).Msg("Создан Kafka Producer")
	return newProducer(w), nil
}

func newProducer(w writer) *Producer {
	return &Producer{writer: w, now: time.Now}
}

// SendMessage публикует msg. Недостающие trace_id, correlation_id и timestamp
// берутся из ctx и текущего времени; msg.Headers дополняется на месте.
func (p *Producer) SendMessage(ctx context.Context, msg *Message) error {
	msg.Headers = p.withStandardHeaders(ctx, msg.Headers)

	if err := p.writer.WriteMessages(ctx, msg.toKafkaMessage()); err != nil {
		return fmt.Errorf("ошибка отправки в Kafka (%s): %w", msg.Topic, err)
	}

	logger.Ctx(ctx).Debug().
		Str("topic", msg.Topic).
		Str("key", string(msg.Key)).
		Str("event_type", msg.Headers[HeaderEventType]).
		Msg("Сообщение отправлено в Kafka")
	return nil
}

// SendToDLQ публикует копию сообщения в TopicDLQ с описанием ошибки в headers.
func (p *Producer) SendToDLQ(ctx context.Context, original *Message, processingErr error) error {
	return p.SendMessage(ctx, &Message{
		Topic:   TopicDLQ,
		Key:     original.Key,
		Value:   original.Value,
		Headers: dlqHeaders(original, processingErr, p.now()),
	})
}

func (p *Producer) withStandardHeaders(ctx context.Context, headers map[string]string) map[string]string {
	if headers == nil {
		headers = make(map[string]string, 3)
	}
	if _, ok := headers[HeaderTraceID]; !ok {
		if id := logger.TraceIDFromContext(ctx); id != "" {
			headers[HeaderTraceID] = id
		}
	}
	if _, ok := headers[HeaderCorrelationID]; !ok {
		if id := logger.CorrelationIDFromContext(ctx); id != "" {
			headers[HeaderCorrelationID] = id
		}
	}
	if _, ok := headers[HeaderTimestamp]; !ok {
		headers[HeaderTimestamp] = p.now().UTC().Format(time.RFC3339Nano)
	}
	return headers
}

func dlqHeaders(original *Message, processingErr error, now time.Time) map[string]string {
	headers := maps.Clone(original.Headers)
	if headers == nil {
		headers = make(map[string]string, 3)
	}
	headers[HeaderDLQError] = processingErr.Error()
	headers[HeaderDLQOriginalTopic] = original.Topic
	headers[HeaderDLQTimestamp] = now.UTC().Format(time.RFC3339Nano)
	return headers
}

// Close дожидается отправки буфера и закрывает соединения.
func (p *Producer) Close() error {
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("ошибка закрытия producer: %w", err)
	}
	logger.Info().Msg("Kafka Producer закрыт")
	return nil
}
