// Package service содержит бизнес-логику Membership Service:
// инициацию платежей, обработку callback шлюза и жизненный цикл членства.
package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"example.com/membership-system/pkg/idgen"
	"example.com/membership-system/pkg/logger"
	"example.com/membership-system/services/membership/internal/domain"
	"example.com/membership-system/services/membership/internal/gateway"
	"example.com/membership-system/services/membership/internal/ledger"
	"example.com/membership-system/services/membership/internal/notification"
	"example.com/membership-system/services/membership/internal/repository"
)

// =============================================================================
// Запросы и результаты
// =============================================================================

// FeePaymentRequest — запрос на оплату членского взноса.
type FeePaymentRequest struct {
	Amount         decimal.Decimal
	ValidityMonths int
	Email          string
	Phone          string
	Type           string // тип членства (active, general, ...)
}

// PaymentInitiation — созданная платёжная сессия.
type PaymentInitiation struct {
	PaymentURL    string
	TransactionID string
	MemberID      string
}

// CallbackOutcome — итог обработки callback шлюза.
type CallbackOutcome struct {
	TransactionID string
	Type          domain.TransactionType
	Status        domain.PaymentStatus // pending, если шлюз ещё не знает итог
	Duplicate     bool                 // транзакция уже была обработана, ничего не изменено
	MemberID      string
}

// RenewRequest — запрос на продление истёкшего членства.
type RenewRequest struct {
	MemberID       string
	Email          string
	Phone          string
	Amount         decimal.Decimal
	ValidityMonths int
}

// RenewalResult — результат продления.
type RenewalResult struct {
	Membership    *domain.Membership
	PaymentURL    string
	TransactionID string
}

// CheckResult — результат сверки членства по (email, phone).
// Member заполнен только для активного членства.
type CheckResult struct {
	Status     domain.MembershipStatus
	Membership *domain.Membership
	Member     *domain.Member
}

// DonationRequest — запрос на пожертвование.
type DonationRequest struct {
	DonorName   string
	DonorEmail  string
	DonorPhone  string
	Amount      decimal.Decimal
	Purpose     string
	IsAnonymous bool
}

// DonationInitiation — созданная сессия оплаты пожертвования.
type DonationInitiation struct {
	PaymentURL    string
	TransactionID string
}

// =============================================================================
// Интерфейс сервиса
// =============================================================================

// PaymentGateway — операции платёжного шлюза, нужные сервису.
type PaymentGateway interface {
	Initiate(ctx context.Context, req gateway.InitiateRequest) (string, error)
	CheckStatus(ctx context.Context, transactionID string) (*gateway.ProviderStatus, error)
}

// MembershipService — интерфейс бизнес-логики членства.
type MembershipService interface {
	// InitiateFeePayment создаёт pending транзакцию и inactive членство и
	// возвращает адрес платёжной страницы. При сбое шлюза записи откатываются.
	InitiateFeePayment(ctx context.Context, req FeePaymentRequest) (*PaymentInitiation, error)

	// HandlePaymentCallback сверяет транзакцию со шлюзом. Идемпотентна:
	// повторный вызов для завершённой транзакции ничего не меняет.
	HandlePaymentCallback(ctx context.Context, transactionID string) (*CallbackOutcome, error)

	// Renew продлевает истёкшее членство новой транзакцией.
	Renew(ctx context.Context, req RenewRequest) (*RenewalResult, error)

	// Cancel отменяет активное членство. Отмена терминальна.
	Cancel(ctx context.Context, memberID string) (*domain.Membership, error)

	// CheckMembership сверяет членство с профилем участника.
	CheckMembership(ctx context.Context, email, phone string) (*CheckResult, error)

	// ExpireMembership переводит активное членство в expired.
	// false — членство уже не активно, ничего не изменено.
	ExpireMembership(ctx context.Context, m *domain.Membership) (bool, error)

	// InitiateDonation создаёт pending транзакцию пожертвования и платёжную сессию.
	InitiateDonation(ctx context.Context, req DonationRequest) (*DonationInitiation, error)

	GetTransaction(ctx context.Context, transactionID string) (*domain.Transaction, error)
	GetMembership(ctx context.Context, memberID string) (*domain.Membership, error)
}

// Config — адреса, которые сервис передаёт шлюзу.
type Config struct {
	// CallbackBaseURL — адрес callback для взносов, шлюз добавит /<transactionId>.
	CallbackBaseURL string

	// DonationCallbackBaseURL — адрес callback для пожертвований.
	DonationCallbackBaseURL string
}

// Option настраивает сервис.
type Option func(*membershipService)

// WithClock подменяет источник времени (используется в тестах).
func WithClock(now func() time.Time) Option {
	return func(s *membershipService) { s.now = now }
}

// =============================================================================
// Реализация сервиса
// =============================================================================

type membershipService struct {
	store   repository.Store
	ledger  *ledger.Ledger
	gateway PaymentGateway
	ids     idgen.Generator
	cfg     Config
	now     func() time.Time
}

// NewMembershipService создаёт сервис членства.
func NewMembershipService(store repository.Store, gw PaymentGateway, ids idgen.Generator, cfg Config, opts ...Option) MembershipService {
	s := &membershipService{
		store:   store,
		ledger:  ledger.New(ids),
		gateway: gw,
		ids:     ids,
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *membershipService) GetTransaction(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	return s.ledger.Find(ctx, s.store, transactionID)
}

func (s *membershipService) GetMembership(ctx context.Context, memberID string) (*domain.Membership, error) {
	return s.store.Memberships().GetByMemberID(ctx, memberID)
}

// emit пишет событие уведомления в outbox через st.
// Внутри Atomic событие фиксируется вместе с переходом состояния.
func (s *membershipService) emit(ctx context.Context, st repository.Store, e notification.Event) error {
	rec, err := notification.NewOutboxRecord(ctx, e)
	if err != nil {
		return err
	}
	return st.Outbox().Create(ctx, rec)
}

// emitBestEffort пишет событие вне транзакции. Ошибка только логируется:
// письмо не должно откатывать финансовое состояние.
func (s *membershipService) emitBestEffort(ctx context.Context, e notification.Event) {
	if err := s.emit(ctx, s.store, e); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("kind", string(e.Kind)).Msg("Не удалось поставить уведомление в очередь")
	}
}

// syncDirectory обновляет профиль участника в справочнике. Best effort:
// отсутствие профиля или ошибка справочника не откатывают членство.
func (s *membershipService) syncDirectory(ctx context.Context, m *domain.Membership) {
	log := logger.Ctx(ctx).With().Str("member_id", m.MemberID).Logger()

	member, err := s.store.Members().FindByEmailPhone(ctx, m.Email, m.Phone)
	if err != nil {
		log.Info().Err(err).Msg("Профиль участника не обновлён")
		return
	}
	if err := s.store.Members().UpdateStatus(ctx, member.ID, m.Status, m.MemberID); err != nil {
		log.Warn().Err(err).Msg("Ошибка обновления профиля участника")
		return
	}
	log.Debug().Str("status", string(m.Status)).Msg("Профиль участника обновлён")
}
