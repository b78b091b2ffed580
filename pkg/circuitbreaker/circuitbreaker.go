// Package circuitbreaker предоставляет Circuit Breaker для исходящих HTTP вызовов.
// Используется клиентом платёжного шлюза: при серии сбоев шлюза запросы
// отклоняются мгновенно, без ожидания таймаута.
//
// Состояния:
//   - Closed: нормальная работа, запросы проходят
//   - Open: шлюз недоступен, запросы отклоняются сразу
//   - Half-Open: пробный период, пропускаем часть запросов
//
// Использование:
//
//	cb := circuitbreaker.New("phonepe")
//	err := cb.Execute(ctx, func(ctx context.Context) error { ... })
package circuitbreaker

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"

	"example.com/membership-system/pkg/logger"
)

// ErrOpen возвращается, когда breaker отклоняет вызов без обращения к шлюзу.
var ErrOpen = errors.New("внешний сервис временно недоступен (circuit breaker open)")

// Settings — настройки Circuit Breaker.
type Settings struct {
	MaxRequests  uint32        // Макс. запросов в Half-Open состоянии
	Interval     time.Duration // Интервал сброса счётчика в Closed
	Timeout      time.Duration // Время в Open до перехода в Half-Open
	FailureRatio float64       // Доля ошибок для перехода в Open
	MinRequests  uint32        // Мин. запросов для расчёта ratio
}

// DefaultSettings возвращает настройки по умолчанию.
func DefaultSettings() Settings {
	return Settings{
		MaxRequests:  1,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		FailureRatio: 0.5,
		MinRequests:  5,
	}
}

// Breaker — обёртка над gobreaker с логированием смены состояния.
type Breaker struct {
	cb        *gobreaker.CircuitBreaker[struct{}]
	name      string
	isFailure func(error) bool
}

// New создаёт новый Circuit Breaker с настройками по умолчанию.
func New(name string) *Breaker {
	return NewWithSettings(name, DefaultSettings(), nil)
}

// NewWithSettings создаёт Circuit Breaker с пользовательскими настройками.
// isFailure решает, учитывается ли ошибка как сбой; nil — учитывается любая.
func NewWithSettings(name string, s Settings, isFailure func(error) bool) *Breaker {
	if isFailure == nil {
		isFailure = func(err error) bool { return err != nil }
	}

	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        name,
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout,

		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < s.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= s.FailureRatio
		},

		// Отмена контекста вызывающим — не сбой внешнего сервиса.
		IsSuccessful: func(err error) bool {
			if err == nil || errors.Is(err, context.Canceled) {
				return true
			}
			return !isFailure(err)
		},

		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log := logger.With().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Logger()

			switch to {
			case gobreaker.StateOpen:
				log.Warn().Msg("Circuit Breaker ОТКРЫТ — внешний сервис недоступен")
			case gobreaker.StateHalfOpen:
				log.Info().Msg("Circuit Breaker ПОЛУОТКРЫТ — пробуем восстановить")
			case gobreaker.StateClosed:
				log.Info().Msg("Circuit Breaker ЗАКРЫТ — сервис восстановлен")
			}
		},
	})

	return &Breaker{cb: cb, name: name, isFailure: isFailure}
}

// Execute выполняет fn через breaker.
// Если breaker открыт или в Half-Open исчерпан лимит, возвращает ErrOpen.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := b.cb.Execute(func() (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrOpen
	}
	return err
}

// State возвращает текущее состояние breaker.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

// Name возвращает имя breaker.
func (b *Breaker) Name() string {
	return b.name
}
