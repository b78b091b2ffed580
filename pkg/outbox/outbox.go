// Package outbox реализует Outbox Pattern для событий членства.
// Переход состояния (транзакция завершена, членство истекло и т.д.) и запись
// о событии пишутся в одной транзакции БД. Worker читает таблицу и публикует
// события, поэтому повторный callback не порождает второе письмо.
//
// Неудачная публикация откладывается с экспоненциальной задержкой
// (next_attempt_at). После MaxAttempts попыток запись получает dead_at и
// больше не выбирается.
package outbox

import (
	"encoding/json"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"example.com/membership-system/pkg/kafka"
)

// Record — событие, ожидающее публикации.
type Record struct {
	ID            string
	AggregateType string // transaction / membership / donation
	AggregateID   string // transaction_id или member_id, он же ключ сообщения
	EventType     string
	Topic         string
	Payload       []byte
	Headers       map[string]string

	CreatedAt     time.Time
	Attempts      int
	NextAttemptAt time.Time
	LastError     string
	PublishedAt   *time.Time
	DeadAt        *time.Time
}

// NewRecord сериализует payload в JSON и создаёт запись, готовую к немедленной публикации.
// Тип события дублируется в заголовок event_type.
func NewRecord(aggregateType, aggregateID, eventType, topic string, payload any, headers map[string]string) (*Record, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации события %s: %w", eventType, err)
	}

	h := maps.Clone(headers)
	if h == nil {
		h = make(map[string]string, 1)
	}
	h[kafka.HeaderEventType] = eventType

	now := time.Now().UTC()
	return &Record{
		ID:            uuid.NewString(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Topic:         topic,
		Payload:       data,
		Headers:       h,
		CreatedAt:     now,
		NextAttemptAt: now,
	}, nil
}

// Message собирает сообщение для Publisher. Ключ — ID агрегата, чтобы события
// одной транзакции попадали в одну партицию.
func (r *Record) Message() *kafka.Message {
	return &kafka.Message{
		Topic:   r.Topic,
		Key:     []byte(r.AggregateID),
		Value:   r.Payload,
		Headers: maps.Clone(r.Headers),
	}
}

// Row — строка таблицы outbox.
// Индекс idx_outbox_due покрывает выборку воркера.
type Row struct {
	ID            string            `gorm:"column:id;type:varchar(36);primaryKey"`
	AggregateType string            `gorm:"column:aggregate_type;type:varchar(32);not null"`
	AggregateID   string            `gorm:"column:aggregate_id;type:varchar(64);not null;index"`
	EventType     string            `gorm:"column:event_type;type:varchar(64);not null"`
	Topic         string            `gorm:"column:topic;type:varchar(100);not null"`
	Payload       datatypes.JSON    `gorm:"column:payload;not null"`
	Headers       datatypes.JSONMap `gorm:"column:headers"`
	CreatedAt     time.Time         `gorm:"column:created_at;not null"`
	Attempts      int               `gorm:"column:attempts;not null;default:0"`
	NextAttemptAt time.Time         `gorm:"column:next_attempt_at;not null;index:idx_outbox_due,priority:3"`
	LastError     string            `gorm:"column:last_error;type:text"`
	PublishedAt   *time.Time        `gorm:"column:published_at;index:idx_outbox_due,priority:1"`
	DeadAt        *time.Time        `gorm:"column:dead_at;index:idx_outbox_due,priority:2"`
}

// TableName возвращает имя таблицы в БД.
func (Row) TableName() string { return "outbox" }

func rowFromRecord(r *Record) *Row {
	headers := make(datatypes.JSONMap, len(r.Headers))
	for k, v := range r.Headers {
		headers[k] = v
	}
	return &Row{
		ID:            r.ID,
		AggregateType: r.AggregateType,
		AggregateID:   r.AggregateID,
		EventType:     r.EventType,
		Topic:         r.Topic,
		Payload:       datatypes.JSON(r.Payload),
		Headers:       headers,
		CreatedAt:     r.CreatedAt.UTC(),
		Attempts:      r.Attempts,
		NextAttemptAt: r.NextAttemptAt.UTC(),
		LastError:     r.LastError,
		PublishedAt:   r.PublishedAt,
		DeadAt:        r.DeadAt,
	}
}

func (row *Row) record() *Record {
	headers := make(map[string]string, len(row.Headers))
	for k, v := range row.Headers {
		if s, ok := v.(string); ok {
			headers[k] = s
		}
	}
	return &Record{
		ID:            row.ID,
		AggregateType: row.AggregateType,
		AggregateID:   row.AggregateID,
		EventType:     row.EventType,
		Topic:         row.Topic,
		Payload:       []byte(row.Payload),
		Headers:       headers,
		CreatedAt:     row.CreatedAt,
		Attempts:      row.Attempts,
		NextAttemptAt: row.NextAttemptAt,
		LastError:     row.LastError,
		PublishedAt:   row.PublishedAt,
		DeadAt:        row.DeadAt,
	}
}
