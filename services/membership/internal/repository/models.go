// Package repository содержит GORM реализацию хранилища Membership Service.
package repository

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"example.com/membership-system/services/membership/internal/domain"
)

// =============================================================================
// GORM модели
// =============================================================================

// TransactionModel — GORM модель для таблицы transactions.
type TransactionModel struct {
	TransactionID string          `gorm:"column:transaction_id;type:varchar(32);primaryKey"`
	MemberID      string          `gorm:"column:member_id;type:varchar(32);index"`
	Type          string          `gorm:"column:transaction_type;type:varchar(32);not null"`
	PaymentStatus string          `gorm:"column:payment_status;type:varchar(16);not null;index:idx_tx_status_created"`
	Amount        decimal.Decimal `gorm:"column:amount;type:decimal(12,2);not null"`
	CreatedAt     time.Time       `gorm:"column:created_at;autoCreateTime;index:idx_tx_status_created"`
	UpdatedAt     time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName возвращает имя таблицы в БД.
func (TransactionModel) TableName() string { return "transactions" }

func (m *TransactionModel) toDomain() *domain.Transaction {
	return &domain.Transaction{
		TransactionID: m.TransactionID,
		MemberID:      m.MemberID,
		Type:          domain.TransactionType(m.Type),
		PaymentStatus: domain.PaymentStatus(m.PaymentStatus),
		Amount:        m.Amount,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func transactionModelFromDomain(t *domain.Transaction) *TransactionModel {
	return &TransactionModel{
		TransactionID: t.TransactionID,
		MemberID:      t.MemberID,
		Type:          string(t.Type),
		PaymentStatus: string(t.PaymentStatus),
		Amount:        t.Amount,
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
	}
}

// MembershipModel — GORM модель для таблицы memberships.
type MembershipModel struct {
	ID                    string          `gorm:"column:id;type:varchar(36);primaryKey"`
	MemberID              string          `gorm:"column:member_id;type:varchar(32);not null;uniqueIndex"`
	Email                 string          `gorm:"column:email;type:varchar(255);not null;index:idx_membership_contact"`
	Phone                 string          `gorm:"column:phone;type:varchar(20);not null;index:idx_membership_contact"`
	TransactionID         string          `gorm:"column:transaction_id;type:varchar(32);not null;index"`
	PreviousTransactionID *string         `gorm:"column:previous_transaction_id;type:varchar(32)"`
	PreviousValidity      int             `gorm:"column:previous_validity_months;not null;default:0"`
	Type                  string          `gorm:"column:membership_type;type:varchar(64)"`
	Fee                   decimal.Decimal `gorm:"column:fee;type:decimal(12,2);not null"`
	ValidityMonths        int             `gorm:"column:validity_months;not null"`
	Status                string          `gorm:"column:status;type:varchar(16);not null;index:idx_membership_status_expiry"`
	StartDate             *time.Time      `gorm:"column:start_date"`
	ExpiryDate            *time.Time      `gorm:"column:expiry_date;index:idx_membership_status_expiry"`
	CreatedAt             time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName возвращает имя таблицы в БД.
func (MembershipModel) TableName() string { return "memberships" }

func (m *MembershipModel) toDomain() *domain.Membership {
	out := &domain.Membership{
		ID:                     m.ID,
		MemberID:               m.MemberID,
		Email:                  m.Email,
		Phone:                  m.Phone,
		TransactionID:          m.TransactionID,
		Type:                   m.Type,
		Fee:                    m.Fee,
		ValidityMonths:         m.ValidityMonths,
		PreviousValidityMonths: m.PreviousValidity,
		Status:                 domain.MembershipStatus(m.Status),
		StartDate:              m.StartDate,
		ExpiryDate:             m.ExpiryDate,
		CreatedAt:              m.CreatedAt,
		UpdatedAt:              m.UpdatedAt,
	}
	if m.PreviousTransactionID != nil {
		out.PreviousTransactionID = *m.PreviousTransactionID
	}
	return out
}

func membershipModelFromDomain(d *domain.Membership) *MembershipModel {
	m := &MembershipModel{
		ID:               d.ID,
		MemberID:         d.MemberID,
		Email:            d.Email,
		Phone:            d.Phone,
		TransactionID:    d.TransactionID,
		Type:             d.Type,
		Fee:              d.Fee,
		ValidityMonths:   d.ValidityMonths,
		PreviousValidity: d.PreviousValidityMonths,
		Status:           string(d.Status),
		StartDate:        d.StartDate,
		ExpiryDate:       d.ExpiryDate,
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
	}
	if d.PreviousTransactionID != "" {
		prev := d.PreviousTransactionID
		m.PreviousTransactionID = &prev
	}
	return m
}

// MemberModel — GORM модель для таблицы members (справочник участников).
type MemberModel struct {
	ID               string    `gorm:"column:id;type:varchar(36);primaryKey"`
	FullName         string    `gorm:"column:full_name;type:varchar(255)"`
	Email            string    `gorm:"column:email;type:varchar(255);not null;index:idx_member_contact"`
	Phone            string    `gorm:"column:phone;type:varchar(20);not null;index:idx_member_contact"`
	MembershipType   string    `gorm:"column:membership_type;type:varchar(64)"`
	MembershipStatus string    `gorm:"column:membership_status;type:varchar(16);not null;default:'inactive'"`
	MemberID         *string   `gorm:"column:member_id;type:varchar(32)"`
	CreatedAt        time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName возвращает имя таблицы в БД.
func (MemberModel) TableName() string { return "members" }

func (m *MemberModel) toDomain() *domain.Member {
	out := &domain.Member{
		ID:               m.ID,
		FullName:         m.FullName,
		Email:            m.Email,
		Phone:            m.Phone,
		MembershipType:   m.MembershipType,
		MembershipStatus: domain.MembershipStatus(m.MembershipStatus),
	}
	if m.MemberID != nil {
		out.MemberID = *m.MemberID
	}
	return out
}

// DonationModel — GORM модель для таблицы donations.
type DonationModel struct {
	ID            string          `gorm:"column:id;type:varchar(36);primaryKey"`
	DonorName     string          `gorm:"column:donor_name;type:varchar(255)"`
	DonorEmail    string          `gorm:"column:donor_email;type:varchar(255);not null"`
	DonorPhone    string          `gorm:"column:donor_phone;type:varchar(20);not null"`
	Amount        decimal.Decimal `gorm:"column:amount;type:decimal(12,2);not null"`
	Purpose       string          `gorm:"column:purpose;type:varchar(255)"`
	IsAnonymous   bool            `gorm:"column:is_anonymous;not null;default:false"`
	TransactionID string          `gorm:"column:transaction_id;type:varchar(32);not null;uniqueIndex"`
	PaymentStatus string          `gorm:"column:payment_status;type:varchar(16);not null"`
	CreatedAt     time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName возвращает имя таблицы в БД.
func (DonationModel) TableName() string { return "donations" }

func (m *DonationModel) toDomain() *domain.Donation {
	return &domain.Donation{
		ID:            m.ID,
		DonorName:     m.DonorName,
		DonorEmail:    m.DonorEmail,
		DonorPhone:    m.DonorPhone,
		Amount:        m.Amount,
		Purpose:       m.Purpose,
		IsAnonymous:   m.IsAnonymous,
		TransactionID: m.TransactionID,
		PaymentStatus: domain.PaymentStatus(m.PaymentStatus),
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

// CallbackLogModel — сырой ответ шлюза на запрос статуса.
type CallbackLogModel struct {
	ID            string         `gorm:"column:id;type:varchar(36);primaryKey"`
	TransactionID string         `gorm:"column:transaction_id;type:varchar(32);not null;index"`
	Success       bool           `gorm:"column:success;not null"`
	Code          string         `gorm:"column:code;type:varchar(64)"`
	Raw           datatypes.JSON `gorm:"column:raw"`
	CreatedAt     time.Time      `gorm:"column:created_at;autoCreateTime"`
}

// TableName возвращает имя таблицы в БД.
func (CallbackLogModel) TableName() string { return "payment_callback_logs" }
