package handler

import (
	"time"

	"github.com/shopspring/decimal"

	"example.com/membership-system/services/membership/internal/domain"
)

// === Request DTOs ===

// FeePaymentRequest — запрос на оплату членского взноса.
type FeePaymentRequest struct {
	Amount       decimal.Decimal `json:"amount"`
	Validity     int             `json:"validity"` // месяцы
	Email        string          `json:"email" binding:"required"`
	MobileNumber string          `json:"mobileNumber" binding:"required"`
	Type         string          `json:"type"`
}

// RenewRequest — запрос на продление истёкшего членства.
// Email и телефон должны совпадать с данными членства.
type RenewRequest struct {
	MemberID     string          `json:"memberId" binding:"required"`
	Email        string          `json:"email" binding:"required"`
	MobileNumber string          `json:"mobileNumber" binding:"required"`
	Amount       decimal.Decimal `json:"amount"`
	Validity     int             `json:"validity"`
}

// CancelRequest — запрос на отмену членства.
type CancelRequest struct {
	MemberID string `json:"memberId" binding:"required"`
}

// CheckMembershipRequest — сверка членства по контактам.
type CheckMembershipRequest struct {
	Email string `json:"email" binding:"required"`
	Phone string `json:"phone" binding:"required"`
}

// DonationRequest — запрос на пожертвование.
type DonationRequest struct {
	DonorName   string          `json:"donorName"`
	DonorEmail  string          `json:"donorEmail" binding:"required"`
	DonorPhone  string          `json:"donorPhone" binding:"required"`
	Amount      decimal.Decimal `json:"amount"`
	Purpose     string          `json:"purpose"`
	IsAnonymous bool            `json:"isAnonymous"`
}

// === Response DTOs ===

// PaymentInitiationResponse — ответ на инициацию взноса.
type PaymentInitiationResponse struct {
	PaymentPageURL string `json:"paymentPageUrl"`
	TransactionID  string `json:"transactionId"`
	MemberID       string `json:"memberId"`
}

// MembershipResponse — членство в ответе.
type MembershipResponse struct {
	MemberID      string     `json:"memberId"`
	Email         string     `json:"email"`
	Phone         string     `json:"phone"`
	Type          string     `json:"type"`
	Fee           string     `json:"fee"`
	Validity      int        `json:"validity"`
	Status        string     `json:"status"`
	TransactionID string     `json:"transactionId"`
	StartDate     *time.Time `json:"startDate,omitempty"`
	ExpiryDate    *time.Time `json:"expiryDate,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// RenewalResponse — ответ на продление.
type RenewalResponse struct {
	Membership     MembershipResponse `json:"membership"`
	PaymentPageURL string             `json:"paymentPageUrl"`
	TransactionID  string             `json:"transactionId"`
}

// MemberResponse — профиль участника в ответе.
type MemberResponse struct {
	ID               string `json:"id"`
	FullName         string `json:"fullName"`
	Email            string `json:"email"`
	Phone            string `json:"phone"`
	MembershipStatus string `json:"membershipStatus"`
	MemberID         string `json:"memberId,omitempty"`
}

// CheckMembershipResponse — результат сверки.
type CheckMembershipResponse struct {
	Status   string          `json:"status"`
	MemberID string          `json:"memberId"`
	Member   *MemberResponse `json:"member,omitempty"`
}

// DonationResponse — ответ на инициацию пожертвования.
type DonationResponse struct {
	PaymentURL    string `json:"paymentUrl"`
	TransactionID string `json:"transactionId"`
}

// TransactionResponse — запись журнала транзакций.
type TransactionResponse struct {
	TransactionID   string    `json:"transactionId"`
	MemberID        string    `json:"memberId,omitempty"`
	TransactionType string    `json:"transactionType"`
	PaymentStatus   string    `json:"paymentStatus"`
	Amount          string    `json:"amount"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// ReconcileResponse — итог ручной сверки транзакции.
type ReconcileResponse struct {
	TransactionID string `json:"transactionId"`
	Status        string `json:"status"`
	Duplicate     bool   `json:"duplicate"`
}

// SweepResponse — итог ручного запуска проверки истёкших членств.
type SweepResponse struct {
	Scanned int `json:"scanned"`
	Expired int `json:"expired"`
	Renewed int `json:"renewed"`
	Failed  int `json:"failed"`
}

func toMembershipResponse(m *domain.Membership) MembershipResponse {
	return MembershipResponse{
		MemberID:      m.MemberID,
		Email:         m.Email,
		Phone:         m.Phone,
		Type:          m.Type,
		Fee:           m.Fee.String(),
		Validity:      m.ValidityMonths,
		Status:        string(m.Status),
		TransactionID: m.TransactionID,
		StartDate:     m.StartDate,
		ExpiryDate:    m.ExpiryDate,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func toMemberResponse(m *domain.Member) *MemberResponse {
	return &MemberResponse{
		ID:               m.ID,
		FullName:         m.FullName,
		Email:            m.Email,
		Phone:            m.Phone,
		MembershipStatus: string(m.MembershipStatus),
		MemberID:         m.MemberID,
	}
}

func toTransactionResponse(t *domain.Transaction) TransactionResponse {
	return TransactionResponse{
		TransactionID:   t.TransactionID,
		MemberID:        t.MemberID,
		TransactionType: string(t.Type),
		PaymentStatus:   string(t.PaymentStatus),
		Amount:          t.Amount.String(),
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       t.UpdatedAt,
	}
}
