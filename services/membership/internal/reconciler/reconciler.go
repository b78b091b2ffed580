package reconciler

import (
	"context"
	"errors"
	"time"

	"example.com/membership-system/pkg/logger"
	"example.com/membership-system/services/membership/internal/domain"
	"example.com/membership-system/services/membership/internal/service"
)

// =============================================================================
// Reconciler — повторный опрос шлюза по зависшим платежам
// =============================================================================

// Config — настройки Reconciler.
type Config struct {
	// Interval — интервал между сканированиями журнала транзакций.
	Interval time.Duration

	// PendingAfter — транзакции в pending дольше этого времени считаются зависшими:
	// плательщик не вернулся со страницы шлюза или callback потерян.
	PendingAfter time.Duration

	// BatchSize — максимум транзакций за один цикл.
	BatchSize int
}

// DefaultConfig возвращает конфигурацию по умолчанию.
func DefaultConfig() Config {
	return Config{
		Interval:     5 * time.Minute,
		PendingAfter: 15 * time.Minute,
		BatchSize:    50,
	}
}

// PendingLister — выборка зависших pending транзакций.
type PendingLister interface {
	ListStalePending(ctx context.Context, olderThan time.Time, afterID string, limit int) ([]*domain.Transaction, error)
}

// CallbackHandler — обработка callback, та же, что при возврате плательщика.
type CallbackHandler interface {
	HandlePaymentCallback(ctx context.Context, transactionID string) (*service.CallbackOutcome, error)
}

// Reconciler периодически находит транзакции, застрявшие в pending, и запрашивает
// их статус у шлюза. Транзакции, по которым шлюз недоступен, остаются pending
// до следующего цикла.
//
// Каждый цикл берёт следующую страницу после курсора; короткая страница
// возвращает курсор в начало. Так вечно pending сессии, брошенные плательщиком,
// не вытесняют более новые транзакции.
type Reconciler struct {
	lister  PendingLister
	handler CallbackHandler
	cfg     Config
	now     func() time.Time
	cursor  string
}

// New создаёт Reconciler.
func New(lister PendingLister, handler CallbackHandler, cfg Config) *Reconciler {
	return &Reconciler{
		lister:  lister,
		handler: handler,
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Run запускает Reconciler. Блокирует выполнение до отмены контекста.
func (r *Reconciler) Run(ctx context.Context) {
	log := logger.FromContext(ctx)
	log.Info().
		Dur("interval", r.cfg.Interval).
		Dur("pending_after", r.cfg.PendingAfter).
		Int("batch_size", r.cfg.BatchSize).
		Msg("Запуск сверки зависших платежей")

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Остановка сверки зависших платежей")
			return
		case <-ticker.C:
			r.ReconcileOnce(ctx)
		}
	}
}

// ReconcileOnce выполняет один цикл и возвращает количество транзакций,
// получивших итоговый статус. Не для параллельного вызова.
func (r *Reconciler) ReconcileOnce(ctx context.Context) int {
	log := logger.FromContext(ctx)

	stale, err := r.lister.ListStalePending(ctx, r.now().Add(-r.cfg.PendingAfter), r.cursor, r.cfg.BatchSize)
	if err != nil {
		log.Error().Err(err).Msg("Ошибка поиска зависших транзакций")
		return 0
	}
	if len(stale) < r.cfg.BatchSize {
		r.cursor = ""
	} else {
		r.cursor = stale[len(stale)-1].TransactionID
	}
	if len(stale) == 0 {
		return 0
	}

	log.Warn().Int("count", len(stale)).Msg("Обнаружены зависшие транзакции, запрашиваем статус у шлюза")

	resolved := 0
	for _, tx := range stale {
		select {
		case <-ctx.Done():
			return resolved
		default:
		}

		out, err := r.handler.HandlePaymentCallback(ctx, tx.TransactionID)
		if err != nil {
			if errors.Is(err, domain.ErrGatewayTransport) {
				log.Info().Str("transaction_id", tx.TransactionID).Msg("Шлюз недоступен, транзакция остаётся pending")
				continue
			}
			log.Error().Err(err).Str("transaction_id", tx.TransactionID).Msg("Ошибка сверки транзакции")
			continue
		}
		if out.Status.IsTerminal() && !out.Duplicate {
			resolved++
		}
	}
	return resolved
}
