package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"example.com/membership-system/pkg/logger"
)

// ErrPermanent помечает ошибку, которую бессмысленно повторять
// (неразборчивый payload, неизвестный тип события). Сообщение сразу уходит в DLQ.
var ErrPermanent = errors.New("неустранимая ошибка обработки")

// Permanent оборачивает err в ErrPermanent.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// MessageHandler обрабатывает одно сообщение. В ctx уже лежат trace_id
// и correlation_id из headers сообщения.
type MessageHandler func(ctx context.Context, msg *Message) error

// DeadLetterWriter принимает сообщения, обработка которых не удалась.
// Реализуется *Producer.
type DeadLetterWriter interface {
	SendToDLQ(ctx context.Context, msg *Message, processingErr error) error
}

// RetryPolicy — повторы обработки одного сообщения.
type RetryPolicy struct {
	MaxRetries int           // 0 — без повторов
	BaseDelay  time.Duration // задержка удваивается с каждой попыткой
}

// DefaultRetryPolicy: три повтора с задержками 200ms, 400ms, 800ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, BaseDelay: 200 * time.Millisecond}
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	return p.BaseDelay * time.Duration(1<<(attempt-1))
}

// fetcher — часть kafka.Reader, нужная Consumer.
type fetcher interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer читает топик в составе consumer group и передаёт сообщения обработчику.
// Offset коммитится после успешной обработки или после передачи в DLQ.
type Consumer struct {
	reader fetcher
	dlq    DeadLetterWriter
	retry  RetryPolicy
	topic  string
}

// NewConsumer создаёт Consumer для топика. Экземпляры с одним groupID
// делят партиции между собой.
func NewConsumer(cfg Config, topic string, groupID string) (*Consumer, error) {
	switch {
	case len(cfg.Brokers) == 0:
		return nil, fmt.Errorf("не указаны брокеры Kafka")
	case topic == "":
		return nil, fmt.Errorf("не указан топик")
	case groupID == "":
		return nil, fmt.Errorf("не указан group ID")
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       topic,
		GroupID:     groupID,
		MinBytes:    1,
		MaxBytes:    1e6, // события уведомлений — маленькие JSON
		MaxWait:     500 * time.Millisecond,
		StartOffset: kafka.FirstOffset,
	})

	logger.Info().
		Strs("brokers", cfg.Brokers).
		Str("topic", topic).
		Str("group_id", groupID).
		Msg("Создан Kafka Consumer")

	return newConsumer(reader, topic, DefaultRetryPolicy()), nil
}

func newConsumer(r fetcher, topic string, retry RetryPolicy) *Consumer {
	return &Consumer{reader: r, topic: topic, retry: retry}
}

// WithDeadLetter задаёт получателя необработанных сообщений.
// Без него такие сообщения только логируются.
func (c *Consumer) WithDeadLetter(w DeadLetterWriter) *Consumer {
	c.dlq = w
	return c
}

// WithRetryPolicy переопределяет политику повторов.
func (c *Consumer) WithRetryPolicy(p RetryPolicy) *Consumer {
	c.retry = p
	return c
}

// Run читает сообщения до отмены ctx. Возвращает ctx.Err() при остановке.
func (c *Consumer) Run(ctx context.Context, handler MessageHandler) error {
	log := logger.With().Str("topic", c.topic).Logger()
	log.Info().Int("max_retries", c.retry.MaxRetries).Msg("Запуск чтения сообщений из Kafka")

	for {
		raw, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Info().Msg("Получен сигнал завершения, остановка Consumer")
				return ctx.Err()
			}
			log.Error().Err(err).Msg("Ошибка чтения сообщения из Kafka")
			continue
		}

		msg := fromKafkaMessage(raw)
		if err := c.deliver(ctx, msg, handler); err != nil {
			// Ни обработчик, ни DLQ не приняли сообщение, offset не коммитится.
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Error().Err(err).Int64("offset", msg.Offset).Msg("Сообщение не обработано и не отправлено в DLQ")
			continue
		}

		if err := c.reader.CommitMessages(ctx, raw); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Int64("offset", msg.Offset).Msg("Ошибка коммита offset")
		}
	}
}

// deliver обрабатывает сообщение с повторами; после неудачи передаёт его в DLQ.
// nil означает, что offset можно коммитить.
func (c *Consumer) deliver(ctx context.Context, msg *Message, handler MessageHandler) error {
	msgCtx := contextFromMessage(ctx, msg)
	log := logger.FromContext(msgCtx).With().
		Str("key", string(msg.Key)).
		Int("partition", msg.Partition).
		Int64("offset", msg.Offset).
		Logger()

	err := c.handleWithRetry(msgCtx, msg, handler)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	log.Error().Err(err).Msg("Ошибка обработки сообщения")
	if c.dlq == nil {
		return nil
	}
	if dlqErr := c.dlq.SendToDLQ(ctx, msg, err); dlqErr != nil {
		return fmt.Errorf("ошибка отправки в DLQ: %w", dlqErr)
	}
	log.Warn().Msg("Сообщение отправлено в DLQ")
	return nil
}

func (c *Consumer) handleWithRetry(ctx context.Context, msg *Message, handler MessageHandler) error {
	var lastErr error
	for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.retry.delay(attempt)):
			}
		}

		lastErr = handler(ctx, msg)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, ErrPermanent) {
			return lastErr
		}
		logger.Ctx(ctx).Warn().Err(lastErr).Int("attempt", attempt+1).Msg("Попытка обработки сообщения не удалась")
	}
	return fmt.Errorf("исчерпаны попытки обработки (%d): %w", c.retry.MaxRetries+1, lastErr)
}

// contextFromMessage переносит trace_id и correlation_id из headers в контекст.
func contextFromMessage(ctx context.Context, msg *Message) context.Context {
	return logger.NewContextWithIDs(ctx, msg.Headers[HeaderTraceID], msg.Headers[HeaderCorrelationID])
}

// Close закрывает reader.
func (c *Consumer) Close() error {
	if err := c.reader.Close(); err != nil {
		return fmt.Errorf("ошибка закрытия consumer %s: %w", c.topic, err)
	}
	logger.Info().Str("topic", c.topic).Msg("Kafka Consumer закрыт")
	return nil
}
