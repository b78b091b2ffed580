package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MembershipStatus — статус членства.
type MembershipStatus string

const (
	// MembershipStatusInactive — ожидает подтверждения оплаты.
	MembershipStatusInactive MembershipStatus = "inactive"

	// MembershipStatusActive — оплата подтверждена, срок не истёк.
	MembershipStatusActive MembershipStatus = "active"

	// MembershipStatusExpired — срок действия истёк, доступно продление.
	MembershipStatusExpired MembershipStatus = "expired"

	// MembershipStatusCanceled — отменено администратором. Терминальный статус.
	MembershipStatusCanceled MembershipStatus = "canceled"
)

// Valid проверяет, что статус известен.
func (s MembershipStatus) Valid() bool {
	switch s {
	case MembershipStatusInactive, MembershipStatusActive, MembershipStatusExpired, MembershipStatusCanceled:
		return true
	}
	return false
}

// =============================================================================
// State Machine членства
// =============================================================================

// inactive -> active -> {expired, canceled}; expired -> inactive (продление).
var allowedMembershipTransitions = map[MembershipStatus][]MembershipStatus{
	MembershipStatusInactive: {MembershipStatusActive},
	MembershipStatusActive:   {MembershipStatusExpired, MembershipStatusCanceled},
	MembershipStatusExpired:  {MembershipStatusInactive},
}

// CanMembershipTransition проверяет переход между статусами членства.
func CanMembershipTransition(from, to MembershipStatus) bool {
	for _, s := range allowedMembershipTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// MaxValidityMonths ограничивает срок одного взноса (10 лет).
const MaxValidityMonths = 120

// ExpiryFor вычисляет дату окончания: start + months календарных месяцев.
// Результат детерминирован, поэтому повторное вычисление даёт ту же дату.
func ExpiryFor(start time.Time, months int) time.Time {
	return start.AddDate(0, months, 0)
}

// =============================================================================
// Membership — право на членство, привязанное к (email, phone)
// =============================================================================

// Membership — запись о членстве. TransactionID указывает на текущую попытку оплаты.
type Membership struct {
	ID                     string
	MemberID               string
	Email                  string
	Phone                  string
	TransactionID          string
	PreviousTransactionID  string // предыдущая транзакция, нужна для отката продления
	PreviousValidityMonths int
	Type                   string
	Fee                    decimal.Decimal
	ValidityMonths         int
	Status                 MembershipStatus
	StartDate              *time.Time
	ExpiryDate             *time.Time
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// TransitionTo выполняет переход в новое состояние.
func (m *Membership) TransitionTo(next MembershipStatus) error {
	if !CanMembershipTransition(m.Status, next) {
		return ErrInvalidTransition
	}
	m.Status = next
	m.UpdatedAt = time.Now().UTC()
	return nil
}

// Activate переводит членство в active и фиксирует период действия начиная с now.
func (m *Membership) Activate(now time.Time) error {
	if err := m.TransitionTo(MembershipStatusActive); err != nil {
		return err
	}
	start := now.UTC()
	m.StartDate = &start
	m.RecomputeExpiry()
	return nil
}

// RecomputeExpiry заново выводит ExpiryDate из StartDate и ValidityMonths.
// Без StartDate дата окончания не определена.
func (m *Membership) RecomputeExpiry() {
	if m.StartDate == nil {
		m.ExpiryDate = nil
		return
	}
	expiry := ExpiryFor(*m.StartDate, m.ValidityMonths)
	m.ExpiryDate = &expiry
}

// IsExpiredAt возвращает true для активного членства с истёкшим сроком.
func (m *Membership) IsExpiredAt(now time.Time) bool {
	return m.Status == MembershipStatusActive && m.ExpiryDate != nil && m.ExpiryDate.Before(now)
}

// AttachRenewal привязывает новую транзакцию продления и возвращает членство в inactive.
// Предыдущая транзакция запоминается для компенсации.
func (m *Membership) AttachRenewal(transactionID string, fee decimal.Decimal, validityMonths int) error {
	if m.Status != MembershipStatusExpired {
		return Precondition("продление возможно только для истёкшего членства, текущий статус %s", m.Status)
	}
	if err := m.TransitionTo(MembershipStatusInactive); err != nil {
		return err
	}
	m.PreviousTransactionID = m.TransactionID
	m.PreviousValidityMonths = m.ValidityMonths
	m.TransactionID = transactionID
	m.Fee = fee
	m.ValidityMonths = validityMonths
	return nil
}

// RevertRenewal отменяет AttachRenewal: членство снова expired с прежней
// транзакцией, взносом и сроком, поэтому дата окончания не меняется.
func (m *Membership) RevertRenewal(previousFee decimal.Decimal) error {
	if m.Status != MembershipStatusInactive || m.PreviousTransactionID == "" {
		return ErrInvalidTransition
	}
	m.Status = MembershipStatusExpired
	m.TransactionID = m.PreviousTransactionID
	m.PreviousTransactionID = ""
	m.ValidityMonths = m.PreviousValidityMonths
	m.PreviousValidityMonths = 0
	m.Fee = previousFee
	m.UpdatedAt = time.Now().UTC()
	return nil
}

// ValidateTerms проверяет сумму и срок взноса.
func ValidateTerms(fee decimal.Decimal, validityMonths int) error {
	if !fee.IsPositive() {
		return NewValidationError("amount", "должна быть больше нуля")
	}
	if validityMonths <= 0 || validityMonths > MaxValidityMonths {
		return NewValidationError("validity", "срок в месяцах должен быть от 1 до 120")
	}
	return nil
}
