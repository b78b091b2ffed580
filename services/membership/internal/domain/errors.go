// Package domain содержит бизнес-сущности Membership Service.
package domain

import (
	"errors"
	"fmt"
)

// Доменные ошибки Membership Service.
var (
	// ErrValidation — некорректные входные данные, запрос отклонён до создания записей.
	ErrValidation = errors.New("некорректные входные данные")

	// ErrNotFound — базовая ошибка отсутствующей сущности.
	ErrNotFound = errors.New("не найдено")

	// ErrTransactionNotFound — транзакция не найдена.
	ErrTransactionNotFound = fmt.Errorf("транзакция %w", ErrNotFound)

	// ErrMembershipNotFound — членство не найдено.
	ErrMembershipNotFound = fmt.Errorf("членство %w", ErrNotFound)

	// ErrMemberNotFound — участник не найден в справочнике.
	ErrMemberNotFound = fmt.Errorf("участник %w", ErrNotFound)

	// ErrDonationNotFound — пожертвование не найдено.
	ErrDonationNotFound = fmt.Errorf("пожертвование %w", ErrNotFound)

	// ErrPreconditionFailed — операция вызвана из недопустимого состояния.
	ErrPreconditionFailed = errors.New("операция недопустима в текущем состоянии")

	// ErrInvalidTransition — недопустимый переход состояния.
	ErrInvalidTransition = errors.New("недопустимый переход состояния")

	// ErrGatewayTransport — сеть, таймаут или отказ платёжного шлюза.
	ErrGatewayTransport = errors.New("платёжный шлюз недоступен")

	// ErrTemporarilyUnavailable — исчерпаны попытки получить уникальный идентификатор.
	ErrTemporarilyUnavailable = errors.New("сервис временно недоступен, повторите позже")

	// ErrDuplicateTransactionID — транзакция с таким ID уже существует.
	ErrDuplicateTransactionID = errors.New("транзакция с таким идентификатором уже существует")

	// ErrDuplicateMemberID — членство с таким member_id уже существует.
	ErrDuplicateMemberID = errors.New("членство с таким идентификатором участника уже существует")
)

// ValidationError описывает ошибку конкретного поля запроса.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Is позволяет сравнивать через errors.Is(err, ErrValidation).
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NewValidationError создаёт ошибку валидации поля.
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// Precondition оборачивает ErrPreconditionFailed с пояснением для клиента.
func Precondition(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrPreconditionFailed, fmt.Sprintf(format, args...))
}

// IsDuplicateID сообщает, что ошибка вызвана конфликтом сгенерированного идентификатора.
func IsDuplicateID(err error) bool {
	return errors.Is(err, ErrDuplicateTransactionID) || errors.Is(err, ErrDuplicateMemberID)
}
