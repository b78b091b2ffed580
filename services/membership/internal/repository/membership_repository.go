package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"example.com/membership-system/services/membership/internal/domain"
)

// MembershipRepository определяет интерфейс для работы с членствами в БД.
type MembershipRepository interface {
	// Create сохраняет новое членство. Конфликт member_id -> domain.ErrDuplicateMemberID.
	Create(ctx context.Context, m *domain.Membership) error

	GetByMemberID(ctx context.Context, memberID string) (*domain.Membership, error)
	GetByTransactionID(ctx context.Context, transactionID string) (*domain.Membership, error)

	// FindCurrentByEmailPhone возвращает действующее членство для пары (email, phone):
	// active, затем expired, затем самое позднее из остальных. Более новая
	// неоплаченная попытка не заслоняет оплаченное членство.
	FindCurrentByEmailPhone(ctx context.Context, email, phone string) (*domain.Membership, error)

	MemberIDExists(ctx context.Context, memberID string) (bool, error)

	// TransitionStatus сохраняет m (статус m.Status и связанные поля) только если
	// в БД членство всё ещё в статусе from. false — переход уже выполнен кем-то другим.
	TransitionStatus(ctx context.Context, m *domain.Membership, from domain.MembershipStatus) (bool, error)

	// ListExpiring возвращает активные членства с expiry_date < now,
	// упорядоченные по member_id, начиная после afterMemberID.
	ListExpiring(ctx context.Context, now time.Time, afterMemberID string, limit int) ([]*domain.Membership, error)

	// Delete удаляет членство. Используется только для компенсации неудачной инициации.
	Delete(ctx context.Context, memberID string) error
}

type membershipRepository struct {
	db *gorm.DB
}

// NewMembershipRepository создаёт репозиторий членств.
func NewMembershipRepository(db *gorm.DB) MembershipRepository {
	return &membershipRepository{db: db}
}

func (r *membershipRepository) Create(ctx context.Context, m *domain.Membership) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	m.RecomputeExpiry()
	model := membershipModelFromDomain(m)

	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if isDuplicateKeyError(err) {
			return domain.ErrDuplicateMemberID
		}
		return err
	}

	m.CreatedAt = model.CreatedAt
	m.UpdatedAt = model.UpdatedAt
	return nil
}

func (r *membershipRepository) first(ctx context.Context, query string, args ...interface{}) (*domain.Membership, error) {
	var model MembershipModel

	if err := r.db.WithContext(ctx).
		Where(query, args...).
		Order("created_at DESC").
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrMembershipNotFound
		}
		return nil, err
	}

	return model.toDomain(), nil
}

func (r *membershipRepository) GetByMemberID(ctx context.Context, memberID string) (*domain.Membership, error) {
	return r.first(ctx, "member_id = ?", memberID)
}

func (r *membershipRepository) GetByTransactionID(ctx context.Context, transactionID string) (*domain.Membership, error) {
	return r.first(ctx, "transaction_id = ?", transactionID)
}

// currentRank упорядочивает членства одной пары по старшинству статуса.
const currentRank = "CASE status WHEN 'active' THEN 0 WHEN 'expired' THEN 1 ELSE 2 END"

func (r *membershipRepository) FindCurrentByEmailPhone(ctx context.Context, email, phone string) (*domain.Membership, error) {
	var model MembershipModel

	if err := r.db.WithContext(ctx).
		Where("email = ? AND phone = ?", email, phone).
		Order(currentRank).
		Order("created_at DESC").
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrMembershipNotFound
		}
		return nil, err
	}

	return model.toDomain(), nil
}

func (r *membershipRepository) MemberIDExists(ctx context.Context, memberID string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&MembershipModel{}).
		Where("member_id = ?", memberID).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *membershipRepository) TransitionStatus(ctx context.Context, m *domain.Membership, from domain.MembershipStatus) (bool, error) {
	// expiry_date всегда выводится заново перед сохранением
	m.RecomputeExpiry()
	model := membershipModelFromDomain(m)
	now := time.Now().UTC()

	result := r.db.WithContext(ctx).
		Model(&MembershipModel{}).
		Where("member_id = ? AND status = ?", m.MemberID, string(from)).
		Updates(map[string]interface{}{
			"status":                   model.Status,
			"transaction_id":           model.TransactionID,
			"previous_transaction_id":  model.PreviousTransactionID,
			"fee":                      model.Fee,
			"validity_months":          model.ValidityMonths,
			"previous_validity_months": model.PreviousValidity,
			"start_date":               model.StartDate,
			"expiry_date":              model.ExpiryDate,
			"updated_at":               now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected == 0 {
		exists, err := r.MemberIDExists(ctx, m.MemberID)
		if err != nil {
			return false, err
		}
		if !exists {
			return false, domain.ErrMembershipNotFound
		}
		return false, nil
	}

	m.UpdatedAt = now
	return true, nil
}

func (r *membershipRepository) ListExpiring(ctx context.Context, now time.Time, afterMemberID string, limit int) ([]*domain.Membership, error) {
	var models []MembershipModel

	if err := r.db.WithContext(ctx).
		Where("status = ? AND expiry_date < ? AND member_id > ?", string(domain.MembershipStatusActive), now, afterMemberID).
		Order("member_id ASC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}

	out := make([]*domain.Membership, 0, len(models))
	for i := range models {
		out = append(out, models[i].toDomain())
	}
	return out, nil
}

func (r *membershipRepository) Delete(ctx context.Context, memberID string) error {
	result := r.db.WithContext(ctx).
		Where("member_id = ?", memberID).
		Delete(&MembershipModel{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrMembershipNotFound
	}
	return nil
}
