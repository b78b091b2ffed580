package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"example.com/membership-system/services/membership/internal/domain"
)

// TransactionRepository — журнал платёжных попыток.
type TransactionRepository interface {
	// Create сохраняет транзакцию в статусе pending.
	// Конфликт transaction_id возвращается как domain.ErrDuplicateTransactionID.
	Create(ctx context.Context, tx *domain.Transaction) error

	// GetByTransactionID возвращает транзакцию или domain.ErrTransactionNotFound.
	GetByTransactionID(ctx context.Context, transactionID string) (*domain.Transaction, error)

	// MarkCompleted переводит pending -> completed одним условным UPDATE.
	// false означает, что транзакция уже в терминальном статусе.
	MarkCompleted(ctx context.Context, transactionID string) (bool, error)

	// MarkFailed переводит pending -> failed одним условным UPDATE.
	MarkFailed(ctx context.Context, transactionID string) (bool, error)

	// ListStalePending возвращает pending транзакции, созданные раньше olderThan,
	// упорядоченные по transaction_id, начиная после afterID.
	ListStalePending(ctx context.Context, olderThan time.Time, afterID string, limit int) ([]*domain.Transaction, error)
}

type transactionRepository struct {
	db *gorm.DB
}

// NewTransactionRepository создаёт репозиторий транзакций.
func NewTransactionRepository(db *gorm.DB) TransactionRepository {
	return &transactionRepository{db: db}
}

func (r *transactionRepository) Create(ctx context.Context, tx *domain.Transaction) error {
	tx.PaymentStatus = domain.PaymentStatusPending
	model := transactionModelFromDomain(tx)

	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if isDuplicateKeyError(err) {
			return domain.ErrDuplicateTransactionID
		}
		return err
	}

	tx.CreatedAt = model.CreatedAt
	tx.UpdatedAt = model.UpdatedAt
	return nil
}

func (r *transactionRepository) GetByTransactionID(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	var model TransactionModel

	if err := r.db.WithContext(ctx).
		Where("transaction_id = ?", transactionID).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrTransactionNotFound
		}
		return nil, err
	}

	return model.toDomain(), nil
}

func (r *transactionRepository) MarkCompleted(ctx context.Context, transactionID string) (bool, error) {
	return r.finish(ctx, transactionID, domain.PaymentStatusCompleted)
}

func (r *transactionRepository) MarkFailed(ctx context.Context, transactionID string) (bool, error) {
	return r.finish(ctx, transactionID, domain.PaymentStatusFailed)
}

// finish выполняет условный переход из pending. Два параллельных callback'а
// не могут оба получить RowsAffected == 1.
func (r *transactionRepository) finish(ctx context.Context, transactionID string, to domain.PaymentStatus) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&TransactionModel{}).
		Where("transaction_id = ? AND payment_status = ?", transactionID, string(domain.PaymentStatusPending)).
		Updates(map[string]interface{}{
			"payment_status": string(to),
			"updated_at":     time.Now().UTC(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected == 1 {
		return true, nil
	}

	// Ничего не обновили: либо уже терминальная, либо не существует
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&TransactionModel{}).
		Where("transaction_id = ?", transactionID).
		Count(&count).Error; err != nil {
		return false, err
	}
	if count == 0 {
		return false, domain.ErrTransactionNotFound
	}
	return false, nil
}

func (r *transactionRepository) ListStalePending(ctx context.Context, olderThan time.Time, afterID string, limit int) ([]*domain.Transaction, error) {
	var models []TransactionModel

	if err := r.db.WithContext(ctx).
		Where("payment_status = ? AND created_at < ? AND transaction_id > ?",
			string(domain.PaymentStatusPending), olderThan, afterID).
		Order("transaction_id ASC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}

	txs := make([]*domain.Transaction, 0, len(models))
	for i := range models {
		txs = append(txs, models[i].toDomain())
	}
	return txs, nil
}
