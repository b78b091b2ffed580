package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Donation — пожертвование, оплачиваемое через тот же шлюз и журнал транзакций.
type Donation struct {
	ID            string
	DonorName     string
	DonorEmail    string
	DonorPhone    string
	Amount        decimal.Decimal
	Purpose       string
	IsAnonymous   bool
	TransactionID string
	PaymentStatus PaymentStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Validate проверяет поля пожертвования.
func (d *Donation) Validate() error {
	if !d.IsAnonymous && strings.TrimSpace(d.DonorName) == "" {
		return NewValidationError("donorName", "обязательно для неанонимного пожертвования")
	}
	if !d.Amount.IsPositive() {
		return NewValidationError("amount", "должна быть больше нуля")
	}
	return ValidateContact(d.DonorEmail, d.DonorPhone)
}
