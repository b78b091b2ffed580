package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"example.com/membership-system/services/membership/internal/domain"
)

// DonationRepository — пожертвования, оплачиваемые через журнал транзакций.
type DonationRepository interface {
	Create(ctx context.Context, d *domain.Donation) error
	GetByTransactionID(ctx context.Context, transactionID string) (*domain.Donation, error)

	// UpdateStatus меняет статус только из pending. false — статус уже терминальный.
	UpdateStatus(ctx context.Context, transactionID string, status domain.PaymentStatus) (bool, error)
}

type donationRepository struct {
	db *gorm.DB
}

// NewDonationRepository создаёт репозиторий пожертвований.
func NewDonationRepository(db *gorm.DB) DonationRepository {
	return &donationRepository{db: db}
}

func (r *donationRepository) Create(ctx context.Context, d *domain.Donation) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	d.PaymentStatus = domain.PaymentStatusPending
	model := &DonationModel{
		ID:            d.ID,
		DonorName:     d.DonorName,
		DonorEmail:    d.DonorEmail,
		DonorPhone:    d.DonorPhone,
		Amount:        d.Amount,
		Purpose:       d.Purpose,
		IsAnonymous:   d.IsAnonymous,
		TransactionID: d.TransactionID,
		PaymentStatus: string(d.PaymentStatus),
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	d.CreatedAt = model.CreatedAt
	d.UpdatedAt = model.UpdatedAt
	return nil
}

func (r *donationRepository) GetByTransactionID(ctx context.Context, transactionID string) (*domain.Donation, error) {
	var model DonationModel

	if err := r.db.WithContext(ctx).
		Where("transaction_id = ?", transactionID).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrDonationNotFound
		}
		return nil, err
	}

	return model.toDomain(), nil
}

func (r *donationRepository) UpdateStatus(ctx context.Context, transactionID string, status domain.PaymentStatus) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&DonationModel{}).
		Where("transaction_id = ? AND payment_status = ?", transactionID, string(domain.PaymentStatusPending)).
		Updates(map[string]interface{}{
			"payment_status": string(status),
			"updated_at":     time.Now().UTC(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}
