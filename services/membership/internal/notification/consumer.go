package notification

import (
	"context"
	"errors"

	"example.com/membership-system/pkg/kafka"
	"example.com/membership-system/pkg/logger"
)

// ConsumerConfig — параметры чтения событий из Kafka.
type ConsumerConfig struct {
	Kafka kafka.Config
	Retry kafka.RetryPolicy
}

// Consumer читает события из TopicNotifications и отправляет письма.
// Исчерпавшие повторы и неразборчивые сообщения уходят в DLQ.
type Consumer struct {
	consumer *kafka.Consumer
	handler  *Handler
}

// NewConsumer подключается к Kafka. dlq может быть nil.
func NewConsumer(cfg ConsumerConfig, handler *Handler, dlq kafka.DeadLetterWriter) (*Consumer, error) {
	c, err := kafka.NewConsumer(cfg.Kafka, kafka.TopicNotifications, cfg.Kafka.ConsumerGroup)
	if err != nil {
		return nil, err
	}
	if cfg.Retry.MaxRetries > 0 {
		c.WithRetryPolicy(cfg.Retry)
	}
	if dlq != nil {
		c.WithDeadLetter(dlq)
	}
	return &Consumer{consumer: c, handler: handler}, nil
}

// Run блокирует выполнение до отмены ctx.
func (c *Consumer) Run(ctx context.Context) error {
	logger.Info().Str("topic", kafka.TopicNotifications).Msg("Запуск Consumer уведомлений")

	err := c.consumer.Run(ctx, c.handler.Handle)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close закрывает Consumer.
func (c *Consumer) Close() error {
	return c.consumer.Close()
}
