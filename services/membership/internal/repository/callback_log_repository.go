package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"example.com/membership-system/services/membership/internal/domain"
)

// CallbackLogRepository хранит ответы шлюза на запросы статуса.
type CallbackLogRepository interface {
	Create(ctx context.Context, log *domain.CallbackLog) error
	ListByTransactionID(ctx context.Context, transactionID string) ([]*domain.CallbackLog, error)
}

type callbackLogRepository struct {
	db *gorm.DB
}

func (r *callbackLogRepository) Create(ctx context.Context, l *domain.CallbackLog) error {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	model := &CallbackLogModel{
		ID:            l.ID,
		TransactionID: l.TransactionID,
		Success:       l.Success,
		Code:          l.Code,
		Raw:           datatypes.JSON(l.Raw),
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	l.CreatedAt = model.CreatedAt
	return nil
}

func (r *callbackLogRepository) ListByTransactionID(ctx context.Context, transactionID string) ([]*domain.CallbackLog, error) {
	var models []CallbackLogModel
	if err := r.db.WithContext(ctx).
		Where("transaction_id = ?", transactionID).
		Order("created_at ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}

	out := make([]*domain.CallbackLog, 0, len(models))
	for _, m := range models {
		out = append(out, &domain.CallbackLog{
			ID:            m.ID,
			TransactionID: m.TransactionID,
			Success:       m.Success,
			Code:          m.Code,
			Raw:           []byte(m.Raw),
			CreatedAt:     m.CreatedAt,
		})
	}
	return out, nil
}
