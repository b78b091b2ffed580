// Package sweeper переводит в expired членства с истёкшим сроком.
//
// Запускается по расписанию cron (по умолчанию раз в сутки). Пропуск запуска,
// пока процесс был остановлен, допустим: следующий запуск подберёт все
// просроченные записи. Каждая запись обрабатывается независимо, ошибка на
// одной не прерывает обработку остальных.
package sweeper

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"example.com/membership-system/pkg/logger"
	"example.com/membership-system/pkg/metrics"
	"example.com/membership-system/services/membership/internal/domain"
	"example.com/membership-system/services/membership/internal/service"
)

// ErrAlreadyRunning возвращается, если проверка уже идёт в этом или другом экземпляре.
var ErrAlreadyRunning = errors.New("проверка истёкших членств уже выполняется")

// Policy определяет, что делать с истёкшим членством.
type Policy int

const (
	// ExpireOnly только переводит членство в expired.
	ExpireOnly Policy = iota
	// AutoRenewOnExpiry после перевода в expired инициирует продление
	// с прежним взносом и сроком, участник получает письмо со ссылкой на оплату.
	AutoRenewOnExpiry
)

func (p Policy) String() string {
	if p == AutoRenewOnExpiry {
		return "auto_renew_on_expiry"
	}
	return "expire_only"
}

// Config — настройки проверки.
type Config struct {
	Schedule    string
	Policy      Policy
	BatchSize   int
	Concurrency int
}

// DefaultConfig возвращает конфигурацию по умолчанию.
func DefaultConfig() Config {
	return Config{
		Schedule:    "0 2 * * *",
		Policy:      ExpireOnly,
		BatchSize:   100,
		Concurrency: 4,
	}
}

// Report — итог одного запуска.
type Report struct {
	Scanned int
	Expired int
	Renewed int
	Failed  int
}

// Lister — выборка активных членств с истёкшим сроком (keyset по member_id).
type Lister interface {
	ListExpiring(ctx context.Context, now time.Time, afterMemberID string, limit int) ([]*domain.Membership, error)
}

// Lifecycle — операции сервиса членства, нужные проверке.
type Lifecycle interface {
	ExpireMembership(ctx context.Context, m *domain.Membership) (bool, error)
	Renew(ctx context.Context, req service.RenewRequest) (*service.RenewalResult, error)
}

// Sweeper — ежедневная проверка истёкших членств.
type Sweeper struct {
	lister  Lister
	svc     Lifecycle
	locker  Locker
	cfg     Config
	now     func() time.Time
	running atomic.Bool
}

// Option настраивает Sweeper.
type Option func(*Sweeper)

// WithLocker включает аренду между экземплярами сервиса.
func WithLocker(l Locker) Option {
	return func(s *Sweeper) { s.locker = l }
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) { s.now = now }
}

// New создаёт Sweeper.
func New(lister Lister, svc Lifecycle, cfg Config, opts ...Option) *Sweeper {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	s := &Sweeper{
		lister: lister,
		svc:    svc,
		cfg:    cfg,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run запускает проверку по расписанию. Блокирует выполнение до отмены контекста
// и дожидается завершения текущего запуска.
func (s *Sweeper) Run(ctx context.Context) error {
	log := logger.FromContext(ctx)

	c := cron.New(cron.WithLocation(time.UTC))
	_, err := c.AddFunc(s.cfg.Schedule, func() {
		if _, err := s.Sweep(ctx); err != nil && !errors.Is(err, ErrAlreadyRunning) {
			log.Error().Err(err).Msg("Ошибка проверки истёкших членств")
		}
	})
	if err != nil {
		return err
	}

	log.Info().
		Str("schedule", s.cfg.Schedule).
		Str("policy", s.cfg.Policy.String()).
		Int("batch_size", s.cfg.BatchSize).
		Int("concurrency", s.cfg.Concurrency).
		Msg("Запуск проверки истёкших членств")

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()

	log.Info().Msg("Остановка проверки истёкших членств")
	return nil
}

// Sweep выполняет один проход: все активные членства с expiryDate < now
// переводятся в expired, при AutoRenewOnExpiry для них инициируется продление.
func (s *Sweeper) Sweep(ctx context.Context) (Report, error) {
	log := logger.FromContext(ctx)

	if !s.running.CompareAndSwap(false, true) {
		return Report{}, ErrAlreadyRunning
	}
	defer s.running.Store(false)

	if s.locker != nil {
		token, ok, err := s.locker.Acquire(ctx)
		if err != nil {
			return Report{}, err
		}
		if !ok {
			log.Info().Msg("Проверка выполняется другим экземпляром, пропускаем")
			return Report{}, ErrAlreadyRunning
		}
		defer func() {
			// Контекст запуска может быть уже отменён, аренду освобождаем отдельно
			relCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.locker.Release(relCtx, token); err != nil {
				log.Warn().Err(err).Msg("Не удалось освободить аренду")
			}
		}()
	}

	var (
		report Report
		mu     sync.Mutex
		after  string
	)
	now := s.now()
	started := time.Now()

	for {
		page, err := s.lister.ListExpiring(ctx, now, after, s.cfg.BatchSize)
		if err != nil {
			return report, err
		}
		if len(page) == 0 {
			break
		}

		var g errgroup.Group
		g.SetLimit(s.cfg.Concurrency)
		for _, m := range page {
			g.Go(func() error {
				outcome := s.process(ctx, m, now)
				mu.Lock()
				report.add(outcome)
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()

		after = page[len(page)-1].MemberID
		if len(page) < s.cfg.BatchSize || ctx.Err() != nil {
			break
		}
	}

	metrics.SweeperLastRun.SetToCurrentTime()
	log.Info().
		Int("scanned", report.Scanned).
		Int("expired", report.Expired).
		Int("renewed", report.Renewed).
		Int("failed", report.Failed).
		Dur("duration", time.Since(started)).
		Msg("Проверка истёкших членств завершена")

	return report, ctx.Err()
}

type outcome struct {
	expired bool
	renewed bool
	failed  bool
}

func (r *Report) add(o outcome) {
	r.Scanned++
	if o.expired {
		r.Expired++
	}
	if o.renewed {
		r.Renewed++
	}
	if o.failed {
		r.Failed++
	}
}

// process обрабатывает одно членство. Ошибки только логируются и учитываются.
func (s *Sweeper) process(ctx context.Context, m *domain.Membership, now time.Time) outcome {
	var o outcome
	if ctx.Err() != nil {
		o.failed = true
		return o
	}
	if !m.IsExpiredAt(now) {
		return o
	}
	log := logger.FromContext(ctx).With().Str("member_id", m.MemberID).Logger()

	ok, err := s.svc.ExpireMembership(ctx, m)
	if err != nil {
		log.Error().Err(err).Msg("Ошибка перевода членства в expired")
		metrics.SweeperRecordsTotal.WithLabelValues("failed").Inc()
		o.failed = true
		return o
	}
	if !ok {
		// Членство изменили параллельно (отмена, продление)
		return o
	}
	o.expired = true
	metrics.SweeperRecordsTotal.WithLabelValues("expired").Inc()

	if s.cfg.Policy != AutoRenewOnExpiry {
		return o
	}

	res, err := s.svc.Renew(ctx, service.RenewRequest{
		MemberID:       m.MemberID,
		Email:          m.Email,
		Phone:          m.Phone,
		Amount:         m.Fee,
		ValidityMonths: m.ValidityMonths,
	})
	if err != nil {
		log.Error().Err(err).Msg("Ошибка автоматического продления членства")
		metrics.SweeperRecordsTotal.WithLabelValues("failed").Inc()
		o.failed = true
		return o
	}
	log.Info().Str("transaction_id", res.TransactionID).Msg("Автоматическое продление инициировано")
	metrics.SweeperRecordsTotal.WithLabelValues("renewed").Inc()
	o.renewed = true
	return o
}
