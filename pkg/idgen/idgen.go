// Package idgen генерирует человекочитаемые идентификаторы транзакций и участников.
//
// Уникальность не гарантируется самим генератором: её обеспечивает уникальный
// индекс в БД, а вызывающий код повторяет попытку с новым ID через Retry.
package idgen

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

const (
	// TransactionPrefix — префикс ID платёжной транзакции.
	TransactionPrefix = "TX"

	// MemberPrefix — префикс ID участника.
	MemberPrefix = "INL"

	// TransactionDigits даёт 9·10^15 комбинаций: первая цифра не ноль.
	TransactionDigits = 16

	// MemberDigits даёт 10^6 комбинаций.
	MemberDigits = 6

	// MaxAttempts — число попыток Retry до отказа.
	MaxAttempts = 5
)

// ErrExhausted — все попытки завершились конфликтом ключа.
var ErrExhausted = errors.New("не удалось получить уникальный идентификатор")

// Generator выдаёт новые идентификаторы. Интерфейс нужен для подмены в тестах.
type Generator interface {
	NewTransactionID() string
	NewMemberID() string
}

// Random — Generator на crypto/rand.
type Random struct{}

// NewTransactionID возвращает "TX" + 16 случайных цифр, первая из них 1-9.
func (Random) NewTransactionID() string {
	return TransactionPrefix + string(rune('1'+randInt(9))) + digits(TransactionDigits-1)
}

// NewMemberID возвращает "INL" + 6 случайных цифр.
func (Random) NewMemberID() string {
	return MemberPrefix + digits(MemberDigits)
}

// digits возвращает n случайных десятичных цифр.
func digits(n int) string {
	var sb strings.Builder
	sb.Grow(n)
	for i := 0; i < n; i++ {
		sb.WriteByte(byte('0' + randInt(10)))
	}
	return sb.String()
}

// randInt возвращает случайное число в [0, n).
func randInt(n int64) int64 {
	d, err := rand.Int(rand.Reader, big.NewInt(n))
	if err != nil {
		// crypto/rand в Linux не возвращает ошибок после инициализации
		panic(fmt.Sprintf("crypto/rand недоступен: %v", err))
	}
	return d.Int64()
}

// Retry вызывает try с новыми идентификаторами от gen, пока try возвращает
// ошибку, для которой isConflict == true. После MaxAttempts конфликтов
// возвращает ErrExhausted. Любая другая ошибка возвращается сразу.
func Retry(ctx context.Context, gen func() string, isConflict func(error) bool, try func(id string) error) (string, error) {
	var lastErr error
	for attempt := 0; attempt < MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		id := gen()
		err := try(id)
		if err == nil {
			return id, nil
		}
		if !isConflict(err) {
			return "", err
		}
		lastErr = err
	}
	return "", fmt.Errorf("%w после %d попыток: %v", ErrExhausted, MaxAttempts, lastErr)
}
