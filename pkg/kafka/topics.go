package kafka

import (
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/segmentio/kafka-go"

	"example.com/membership-system/pkg/logger"
)

// EnsureTopics создаёт недостающие топики через контроллер кластера.
// Уже существующие топики не считаются ошибкой.
func EnsureTopics(brokers []string, topics []string, partitions int) error {
	if len(brokers) == 0 {
		return fmt.Errorf("не указаны брокеры Kafka")
	}
	if partitions <= 0 {
		partitions = 1
	}

	conn, err := kafka.Dial("tcp", brokers[0])
	if err != nil {
		return fmt.Errorf("ошибка подключения к Kafka: %w", err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("ошибка получения контроллера Kafka: %w", err)
	}

	ctrlConn, err := kafka.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return fmt.Errorf("ошибка подключения к контроллеру Kafka: %w", err)
	}
	defer ctrlConn.Close()

	configs := make([]kafka.TopicConfig, 0, len(topics))
	for _, t := range topics {
		configs = append(configs, kafka.TopicConfig{
			Topic:             t,
			NumPartitions:     partitions,
			ReplicationFactor: 1,
		})
	}

	if err := ctrlConn.CreateTopics(configs...); err != nil && !errors.Is(err, kafka.TopicAlreadyExists) {
		return fmt.Errorf("ошибка создания топиков: %w", err)
	}

	logger.Info().Strs("topics", topics).Msg("Топики Kafka готовы")
	return nil
}
