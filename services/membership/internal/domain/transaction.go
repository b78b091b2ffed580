package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType — назначение платежа.
type TransactionType string

const (
	TransactionTypeDonation          TransactionType = "donation"
	TransactionTypeMembershipFees    TransactionType = "membershipFees"
	TransactionTypeMembershipRenewal TransactionType = "membershipRenewal"
)

// Valid проверяет, что тип транзакции известен.
func (t TransactionType) Valid() bool {
	switch t {
	case TransactionTypeDonation, TransactionTypeMembershipFees, TransactionTypeMembershipRenewal:
		return true
	}
	return false
}

// IsMembership возвращает true для взносов и продлений.
func (t TransactionType) IsMembership() bool {
	return t == TransactionTypeMembershipFees || t == TransactionTypeMembershipRenewal
}

// PaymentStatus — статус платёжной попытки.
type PaymentStatus string

const (
	// PaymentStatusPending — транзакция создана, результат шлюза ещё не получен.
	PaymentStatusPending PaymentStatus = "pending"

	// PaymentStatusCompleted — шлюз подтвердил оплату.
	PaymentStatusCompleted PaymentStatus = "completed"

	// PaymentStatusFailed — шлюз сообщил об отказе или инициация не удалась.
	PaymentStatusFailed PaymentStatus = "failed"
)

// IsTerminal возвращает true, если статус больше не меняется.
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusCompleted || s == PaymentStatusFailed
}

// =============================================================================
// Допустимые переходы состояний транзакции
// =============================================================================

var allowedPaymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending: {PaymentStatusCompleted, PaymentStatusFailed},
	// completed и failed — терминальные
}

// =============================================================================
// Transaction — одна попытка провести деньги через шлюз
// =============================================================================

// Transaction — запись журнала платежей. TransactionID не меняется после создания.
type Transaction struct {
	TransactionID string
	MemberID      string
	Type          TransactionType
	PaymentStatus PaymentStatus
	Amount        decimal.Decimal
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewTransaction создаёт транзакцию в статусе pending.
func NewTransaction(id string, txType TransactionType, amount decimal.Decimal, memberID string) *Transaction {
	return &Transaction{
		TransactionID: id,
		MemberID:      memberID,
		Type:          txType,
		PaymentStatus: PaymentStatusPending,
		Amount:        amount,
	}
}

// CanTransitionTo проверяет, допустим ли переход в указанный статус.
func (t *Transaction) CanTransitionTo(next PaymentStatus) bool {
	for _, s := range allowedPaymentTransitions[t.PaymentStatus] {
		if s == next {
			return true
		}
	}
	return false
}

func (t *Transaction) transitionTo(next PaymentStatus) error {
	if !t.CanTransitionTo(next) {
		return ErrInvalidTransition
	}
	t.PaymentStatus = next
	t.UpdatedAt = time.Now().UTC()
	return nil
}

// Complete переводит транзакцию в completed.
func (t *Transaction) Complete() error {
	return t.transitionTo(PaymentStatusCompleted)
}

// Fail переводит транзакцию в failed.
func (t *Transaction) Fail() error {
	return t.transitionTo(PaymentStatusFailed)
}

// Validate проверяет корректность полей транзакции.
func (t *Transaction) Validate() error {
	if t.TransactionID == "" {
		return NewValidationError("transactionId", "обязателен")
	}
	if !t.Type.Valid() {
		return NewValidationError("transactionType", "неизвестный тип "+string(t.Type))
	}
	if !t.Amount.IsPositive() {
		return NewValidationError("amount", "должна быть больше нуля")
	}
	return nil
}
