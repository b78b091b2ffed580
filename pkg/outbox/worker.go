package outbox

import (
	"context"
	"errors"
	"time"

	"example.com/membership-system/pkg/kafka"
	"example.com/membership-system/pkg/logger"
	"example.com/membership-system/pkg/metrics"
)

// Publisher отправляет подготовленное сообщение дальше по конвейеру.
// Реализации: *kafka.Producer и notification.DirectPublisher (без Kafka).
type Publisher interface {
	SendMessage(ctx context.Context, msg *kafka.Message) error
}

// Config — настройки Worker.
type Config struct {
	PollInterval time.Duration
	BatchSize    int

	// MaxAttempts — число попыток публикации, после которого запись становится dead letter.
	MaxAttempts int

	// Задержка перед повтором: BaseBackoff * 2^(attempts-1), но не больше MaxBackoff.
	BaseBackoff time.Duration
	MaxBackoff  time.Duration

	CleanupInterval time.Duration
	Retention       time.Duration // сколько хранить опубликованные записи
}

// DefaultConfig возвращает конфигурацию по умолчанию.
func DefaultConfig() Config {
	return Config{
		PollInterval:    time.Second,
		BatchSize:       100,
		MaxAttempts:     8,
		BaseBackoff:     2 * time.Second,
		MaxBackoff:      10 * time.Minute,
		CleanupInterval: time.Hour,
		Retention:       7 * 24 * time.Hour,
	}
}

// Worker публикует записи outbox. Гарантия "at-least-once": сообщение может
// уйти повторно, если пометка published_at не записалась.
type Worker struct {
	repo Repository
	pub  Publisher
	cfg  Config
	now  func() time.Time
}

// NewWorker создаёт Worker.
func NewWorker(repo Repository, pub Publisher, cfg Config) *Worker {
	return &Worker{repo: repo, pub: pub, cfg: cfg, now: func() time.Time { return time.Now().UTC() }}
}

// Run опрашивает outbox до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	log := logger.FromContext(ctx)
	log.Info().
		Dur("poll_interval", w.cfg.PollInterval).
		Int("max_attempts", w.cfg.MaxAttempts).
		Msg("Запуск Outbox Worker")

	poll := time.NewTicker(w.cfg.PollInterval)
	defer poll.Stop()
	cleanup := time.NewTicker(w.cfg.CleanupInterval)
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Остановка Outbox Worker")
			return
		case <-poll.C:
			w.Flush(ctx)
		case <-cleanup.C:
			w.purge(ctx)
		}
	}
}

// Flush публикует одну пачку готовых записей и возвращает число опубликованных.
// Вызывается из Run, при остановке сервиса и в тестах.
func (w *Worker) Flush(ctx context.Context) int {
	records, err := w.repo.Due(ctx, w.now(), w.cfg.BatchSize)
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Msg("Ошибка чтения outbox")
		return 0
	}

	published := 0
	for _, rec := range records {
		if ctx.Err() != nil {
			break
		}
		if w.publish(ctx, rec) {
			published++
		}
	}
	return published
}

func (w *Worker) publish(ctx context.Context, rec *Record) bool {
	log := logger.FromContext(ctx).With().
		Str("outbox_id", rec.ID).
		Str("event_type", rec.EventType).
		Str("aggregate_id", rec.AggregateID).
		Logger()

	sendErr := w.pub.SendMessage(ctx, rec.Message())
	if sendErr == nil {
		if err := w.repo.MarkPublished(ctx, rec.ID, w.now()); err != nil {
			log.Error().Err(err).Msg("Событие отправлено, но не помечено как опубликованное")
		}
		metrics.OutboxEventsTotal.WithLabelValues(rec.EventType, "published").Inc()
		return true
	}

	// Permanent ошибку вернёт DirectPublisher, если событие не разбирается: повтор бесполезен.
	attempt := rec.Attempts + 1
	if attempt >= w.cfg.MaxAttempts || errors.Is(sendErr, kafka.ErrPermanent) {
		log.Warn().Err(sendErr).Int("attempts", attempt).Msg("Dead letter: событие снято с публикации")
		if err := w.repo.MarkDead(ctx, rec.ID, sendErr, w.now()); err != nil {
			log.Error().Err(err).Msg("Ошибка пометки dead letter")
		}
		metrics.OutboxEventsTotal.WithLabelValues(rec.EventType, "dead").Inc()
		return false
	}

	next := w.now().Add(w.backoff(attempt))
	log.Error().Err(sendErr).Int("attempts", attempt).Time("next_attempt_at", next).Msg("Ошибка публикации события outbox")
	if err := w.repo.Reschedule(ctx, rec.ID, sendErr, next); err != nil {
		log.Error().Err(err).Msg("Ошибка переноса попытки outbox")
	}
	metrics.OutboxEventsTotal.WithLabelValues(rec.EventType, "retry").Inc()
	return false
}

func (w *Worker) backoff(attempt int) time.Duration {
	d := w.cfg.BaseBackoff
	for i := 1; i < attempt && d < w.cfg.MaxBackoff; i++ {
		d *= 2
	}
	return min(d, w.cfg.MaxBackoff)
}

func (w *Worker) purge(ctx context.Context) {
	deleted, err := w.repo.PurgePublished(ctx, w.now().Add(-w.cfg.Retention))
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Msg("Ошибка очистки outbox")
		return
	}
	if deleted > 0 {
		logger.Ctx(ctx).Info().Int64("deleted", deleted).Msg("Очистка опубликованных записей outbox")
	}
}
