// Package kafka предоставляет обёртки над kafka-go для доставки событий членства.
// Outbox Worker публикует события в TopicNotifications, Consumer уведомлений
// читает их, рендерит письма и отправляет; необработанные уходят в TopicDLQ.
package kafka

import (
	"maps"
	"slices"
	"time"

	"github.com/segmentio/kafka-go"
)

// Топики сервиса членства.
const (
	// TopicNotifications - события жизненного цикла платежей и членств для отправки писем.
	TopicNotifications = "membership.notifications"

	// TopicDLQ - Dead Letter Queue для необработанных сообщений.
	TopicDLQ = "dlq.membership"
)

// DefaultTopics возвращает топики, которые сервис создаёт при старте.
func DefaultTopics() []string {
	return []string{TopicNotifications, TopicDLQ}
}

// Headers событий. trace_id и correlation_id совпадают с полями логов,
// event_type — с notification.Kind и outbox.EventType.
const (
	HeaderTraceID       = "trace_id"
	HeaderCorrelationID = "correlation_id"
	HeaderTimestamp     = "timestamp"
	HeaderEventType     = "event_type"
)

// Config — подключение к кластеру.
type Config struct {
	Brokers       []string
	ConsumerGroup string
	Partitions    int // для EnsureTopics; 0 — одна партиция
}

// Message — сообщение без привязки к kafka-go: с ним работают outbox.Publisher,
// обработчики уведомлений и DLQ. Key — transaction_id события.
type Message struct {
	Topic     string
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Partition int   // заполняется только при чтении
	Offset    int64 // заполняется только при чтении
	Time      time.Time
}

func fromKafkaMessage(m kafka.Message) *Message {
	headers := make(map[string]string, len(m.Headers))
	for _, h := range m.Headers {
		headers[h.Key] = string(h.Value)
	}
	return &Message{
		Topic:     m.Topic,
		Key:       m.Key,
		Value:     m.Value,
		Headers:   headers,
		Partition: m.Partition,
		Offset:    m.Offset,
		Time:      m.Time,
	}
}

// toKafkaMessage сортирует headers по ключу, чтобы одинаковые сообщения
// давали одинаковые записи.
func (m *Message) toKafkaMessage() kafka.Message {
	keys := slices.Sorted(maps.Keys(m.Headers))
	headers := make([]kafka.Header, 0, len(keys))
	for _, k := range keys {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(m.Headers[k])})
	}
	return kafka.Message{
		Topic:   m.Topic,
		Key:     m.Key,
		Value:   m.Value,
		Headers: headers,
		Time:    m.Time,
	}
}
